package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// Source is the narrow contract the pipeline needs from a data source or
// sink. Implementations: memory (testing), badger (local), remote (HTTP).
type Source interface {
	// Get returns every requested channel padded and trimmed to exactly
	// [start, end]. Absent samples and absent channels come back missing.
	Get(ctx context.Context, start, end time.Time, sel Selector, channels []string) (*timeseries.TimeSeries, error)

	// Put writes the valid samples of the named channels. Rewriting a
	// value is a no-op and a new value overwrites the old one. Missing
	// samples never erase stored data.
	Put(ctx context.Context, ts *timeseries.TimeSeries, sel Selector, channels []string) error
}

// Selector identifies the stream a request is about.
type Selector struct {
	// Observatory (station) code.
	Observatory string
	// Network code (optional).
	Network string
	// DataType such as "variation" or "adjusted".
	DataType string
	// Location code such as "R0".
	Location string
	// Period of the samples.
	Period time.Duration
}

// Validate checks the fields every backend needs.
func (s Selector) Validate() error {
	if s.Observatory == "" {
		return domain.NewConfigurationError("selector has no observatory")
	}
	if s.Period <= 0 {
		return domain.NewConfigurationError("selector for %s has no sample period", s.Observatory)
	}
	return nil
}

// SeriesKey returns a deterministic key for one channel of the stream.
func (s Selector) SeriesKey(channel string) string {
	return strings.Join([]string{
		s.Observatory,
		s.Network,
		channel,
		s.DataType,
		s.Location,
		fmt.Sprintf("%d", s.Period.Nanoseconds()),
	}, "/")
}

// Attrs returns the channel attributes the selector implies.
func (s Selector) Attrs() map[string]string {
	attrs := map[string]string{timeseries.AttrStation: s.Observatory}
	if s.Network != "" {
		attrs[timeseries.AttrNetwork] = s.Network
	}
	if s.DataType != "" {
		attrs[timeseries.AttrDataType] = s.DataType
	}
	if s.Location != "" {
		attrs[timeseries.AttrLocation] = s.Location
	}
	return attrs
}

// Stats provides storage health and usage info
type Stats struct {
	// Total samples stored
	TotalSamples uint64

	// Unique series (stream + channel combinations)
	TotalSeries uint64

	// Storage size in bytes
	SizeBytes uint64
}

// Fill builds the channel a Get returns: an all-missing channel over
// [start, end] on the selector's grid, with samples filled from lookup.
func Fill(name string, start, end time.Time, sel Selector, lookup func(t time.Time) (float64, bool)) *timeseries.Channel {
	c := timeseries.Empty(name, start, end, sel.Period, sel.Attrs())
	for i := range c.Samples {
		if v, ok := lookup(c.TimeAt(i)); ok {
			c.Samples[i] = timeseries.Value(v)
		}
	}
	return c
}

// PutChannels resolves the channels a Put writes: the named ones present in
// ts, or all channels when none are named.
func PutChannels(ts *timeseries.TimeSeries, channels []string) []*timeseries.Channel {
	return ts.Select(channels...).Channels()
}
