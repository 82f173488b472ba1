package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/geomag/pkg/storage"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// Storage stores samples in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	mu     sync.RWMutex
	series map[string]map[int64]float64

	puts   int
	writes int
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		series: make(map[string]map[int64]float64),
	}
}

// Get returns the requested channels padded to [start, end].
func (s *Storage) Get(ctx context.Context, start, end time.Time, sel storage.Selector, channels []string) (*timeseries.TimeSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := timeseries.New()
	for _, name := range channels {
		samples := s.series[sel.SeriesKey(name)]
		out.Add(storage.Fill(name, start, end, sel, func(t time.Time) (float64, bool) {
			v, ok := samples[t.UnixNano()]
			return v, ok
		}))
	}
	return out, nil
}

// Put stores the valid samples of the named channels.
func (s *Storage) Put(ctx context.Context, ts *timeseries.TimeSeries, sel storage.Selector, channels []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sel.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.puts++
	for _, c := range storage.PutChannels(ts, channels) {
		key := sel.SeriesKey(c.Name)
		samples, ok := s.series[key]
		if !ok {
			samples = make(map[int64]float64)
			s.series[key] = samples
		}
		for i, smp := range c.Samples {
			if !smp.Valid {
				continue
			}
			samples[c.TimeAt(i).UnixNano()] = smp.Value
			s.writes++
		}
	}
	return nil
}

// Puts returns the number of Put calls.
func (s *Storage) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// Writes returns the number of samples written by Put.
func (s *Storage) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{TotalSeries: uint64(len(s.series))}
	for _, samples := range s.series {
		stats.TotalSamples += uint64(len(samples))
	}
	// Rough size estimate (key + value)
	stats.SizeBytes = stats.TotalSamples * 16
	return stats, nil
}
