package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/geomag/pkg/storage"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// Storage implements storage.Source using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// 16 MB memtable unless told otherwise; below that flushes get excessive
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// DB exposes the database so state can share it.
func (s *Storage) DB() *badger.DB {
	return s.db
}

// Get reads the requested channels over [start, end].
// Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Get(ctx context.Context, start, end time.Time, sel storage.Selector, channels []string) (*timeseries.TimeSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	type getResult struct {
		ts  *timeseries.TimeSeries
		err error
	}
	done := make(chan getResult, 1)

	go func() {
		out := timeseries.New()
		err := s.db.View(func(txn *badger.Txn) error {
			for _, name := range channels {
				samples, err := scanSeries(ctx, txn, sel.SeriesKey(name), start, end)
				if err != nil {
					return err
				}
				out.Add(storage.Fill(name, start, end, sel, func(t time.Time) (float64, bool) {
					v, ok := samples[t.UnixNano()]
					return v, ok
				}))
			}
			return nil
		})
		done <- getResult{ts: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to read samples: %w", res.err)
		}
		return res.ts, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("get operation cancelled: %w", ctx.Err())
	}
}

// scanSeries seeks to the first key of the series at or after start and
// iterates until end.
func scanSeries(ctx context.Context, txn *badger.Txn, series string, start, end time.Time) (map[int64]float64, error) {
	prefix := seriesPrefix(series)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchSize = 100

	it := txn.NewIterator(opts)
	defer it.Close()

	samples := make(map[int64]float64)
	endKey := makeKey(series, end)
	var iterCount int
	for it.Seek(makeKey(series, start)); it.ValidForPrefix(prefix); it.Next() {
		iterCount++
		// Check for cancellation every 1000 iterations
		if iterCount%1000 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		item := it.Item()
		if bytes.Compare(item.Key(), endKey) > 0 {
			break
		}
		ts := parseKey(item.Key())
		if err := item.Value(func(val []byte) error {
			v, err := decodeValue(val)
			if err != nil {
				return err
			}
			samples[ts.UnixNano()] = v
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return samples, nil
}

// Put writes the valid samples of the named channels.
// Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Put(ctx context.Context, ts *timeseries.TimeSeries, sel storage.Selector, channels []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sel.Validate(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()

		var n int
		for _, c := range storage.PutChannels(ts, channels) {
			series := sel.SeriesKey(c.Name)
			for i, smp := range c.Samples {
				if !smp.Valid {
					continue
				}
				n++
				if n%100 == 0 {
					select {
					case <-ctx.Done():
						done <- ctx.Err()
						return
					default:
					}
				}
				if err := wb.Set(makeKey(series, c.TimeAt(i)), encodeValue(smp.Value)); err != nil {
					done <- fmt.Errorf("failed to write sample: %w", err)
					return
				}
			}
		}
		done <- wb.Flush()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("put operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &storage.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		seriesMap := make(map[uint64]bool)
		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
			key := it.Item().Key()
			if len(key) != keyLen {
				continue
			}
			stats.TotalSamples++
			seriesMap[binary.BigEndian.Uint64(key[0:8])] = true
		}
		stats.TotalSeries = uint64(len(seriesMap))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

const keyLen = 16

// seriesPrefix is the 8-byte hash of a series key.
func seriesPrefix(series string) []byte {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, xxhash.Sum64String(series))
	return prefix
}

// makeKey creates a sortable key: series_hash + timestamp
// Format: [series_hash (8 bytes)][timestamp (8 bytes)]
func makeKey(series string, ts time.Time) []byte {
	key := make([]byte, keyLen)
	copy(key, seriesPrefix(series))
	binary.BigEndian.PutUint64(key[8:16], uint64(ts.UnixNano()))
	return key
}

// parseKey extracts the timestamp from a storage key
func parseKey(key []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[8:16]))).UTC()
}

func encodeValue(v float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

func decodeValue(val []byte) (float64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("invalid sample value of %d bytes", len(val))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(val)), nil
}
