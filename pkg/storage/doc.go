/*
Package storage provides the pluggable data source abstraction the pipeline
reads raw samples from and writes results to.

# Source Interface

All backends implement Source:

	type Source interface {
	    Get(ctx context.Context, start, end time.Time, sel Selector, channels []string) (*timeseries.TimeSeries, error)
	    Put(ctx context.Context, ts *timeseries.TimeSeries, sel Selector, channels []string) error
	}

Backends:
  - memory: maps in process memory, for tests and dry runs
  - badger: BadgerDB (LSM tree + Snappy compression) on local disk
  - remote: HTTP client for a service speaking the pkg/server wire format

# Get Semantics

Get never returns a shorter array than asked for. Every requested channel
comes back on the selector's grid covering [start, end], with missing
samples wherever nothing is stored. A channel that does not exist at all is
an all-missing channel, not an error, so gap detection works the same way
on every backend.

# Put Semantics

Put is idempotent at the sample level. Only valid samples are written:
rewriting a value is a no-op and a new value overwrites the old one, while
missing samples leave stored data alone.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	sel := storage.Selector{Observatory: "BOU", DataType: "variation", Location: "R0", Period: time.Minute}
	ts, err := store.Get(ctx, start, end, sel, []string{"H", "E", "Z", "F"})

# See Also

  - memory.New() for in-memory storage
  - badger.New() for persistent BadgerDB storage
  - remote.New() for the HTTP client
*/
package storage
