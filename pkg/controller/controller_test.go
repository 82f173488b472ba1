package controller

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/geomag/pkg/algorithm"
	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/state"
	"github.com/nicktill/geomag/pkg/storage"
	"github.com/nicktill/geomag/pkg/storage/memory"
	"github.com/nicktill/geomag/pkg/timeseries"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

var (
	inSel  = storage.Selector{Observatory: "BOU", DataType: "variation", Location: "R0", Period: time.Minute}
	outSel = storage.Selector{Observatory: "BOU", DataType: "variation", Location: "R1", Period: time.Minute}
)

func minutes(n int) time.Time { return t0.Add(time.Duration(n) * time.Minute) }

// seed writes n minutes of H and E starting at t0, with NaN at the given
// indexes.
func seed(t *testing.T, src storage.Source, sel storage.Selector, n int, holes ...int) {
	t.Helper()
	h := make([]float64, n)
	e := make([]float64, n)
	for i := range h {
		h[i] = 20000 + float64(i)
		e[i] = float64(i)
	}
	for _, i := range holes {
		h[i] = math.NaN()
		e[i] = math.NaN()
	}
	ts := timeseries.New(
		timeseries.FromValues("H", t0, time.Minute, h),
		timeseries.FromValues("E", t0, time.Minute, e),
	)
	require.NoError(t, src.Put(context.Background(), ts, sel, nil))
}

func newController(t *testing.T, in, out storage.Source, tr algorithm.Transform, mutate ...func(*Config)) *Controller {
	t.Helper()
	cfg := Config{
		Input:          in,
		Output:         out,
		Transform:      tr,
		InputSelector:  inSel,
		OutputSelector: outSel,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

// lookback is an identity transform that asks for five extra minutes on
// both sides.
type lookback struct {
	*algorithm.Identity
}

func (l lookback) InputInterval(start, end time.Time) (time.Time, time.Time) {
	return start.Add(-5 * time.Minute), end.Add(5 * time.Minute)
}

// recorder keeps the last series handed to Put.
type recorder struct {
	*memory.Storage
	last *timeseries.TimeSeries
}

func (r *recorder) Put(ctx context.Context, ts *timeseries.TimeSeries, sel storage.Selector, channels []string) error {
	r.last = ts
	return r.Storage.Put(ctx, ts, sel, channels)
}

type failing struct{}

func (failing) Get(context.Context, time.Time, time.Time, storage.Selector, []string) (*timeseries.TimeSeries, error) {
	return nil, domain.NewDataUnavailableError("get", errors.New("connection refused"))
}

func (failing) Put(context.Context, *timeseries.TimeSeries, storage.Selector, []string) error {
	return domain.NewDataUnavailableError("put", errors.New("connection refused"))
}

func TestNew_Validation(t *testing.T) {
	in := memory.New()
	tr := algorithm.NewIdentity([]string{"H"})

	_, err := New(Config{Output: in, Transform: tr, InputSelector: inSel, OutputSelector: outSel})
	assert.Error(t, err)
	_, err = New(Config{Input: in, Output: in, InputSelector: inSel, OutputSelector: outSel})
	assert.Error(t, err)
	_, err = New(Config{Input: in, Output: in, Transform: tr, InputSelector: storage.Selector{Period: time.Minute}, OutputSelector: outSel})
	assert.True(t, domain.IsConfiguration(err))

	c := newController(t, in, in, tr, func(cfg *Config) { cfg.Rename = map[string]string{"H": "X"} })
	assert.Equal(t, []string{"X"}, c.OutputChannels())
}

func TestRun_WritesOnlyRequestedWindow(t *testing.T) {
	ctx := context.Background()
	in, out := memory.New(), memory.New()
	seed(t, in, inSel, 60)

	c := newController(t, in, out, lookback{algorithm.NewIdentity([]string{"H", "E"})})
	require.NoError(t, c.Run(ctx, minutes(10), minutes(20)))

	assert.Equal(t, 1, out.Puts())
	assert.Equal(t, 22, out.Writes())

	got, err := out.Get(ctx, minutes(0), minutes(30), outSel, []string{"H"})
	require.NoError(t, err)
	h, _ := got.Get("H")
	for i, s := range h.Samples {
		if i >= 10 && i <= 20 {
			assert.True(t, s.Valid, "minute %d", i)
			assert.Equal(t, 20000+float64(i), s.Value)
		} else {
			assert.False(t, s.Valid, "minute %d written outside window", i)
		}
	}
}

func TestRun_RenameAndMetadata(t *testing.T) {
	ctx := context.Background()
	in := memory.New()
	out := &recorder{Storage: memory.New()}
	seed(t, in, inSel, 10)

	c := newController(t, in, out, algorithm.NewIdentity([]string{"H", "E"}), func(cfg *Config) {
		cfg.Rename = map[string]string{"H": "X"}
		cfg.Metadata = map[string]string{"agency": "USGS"}
	})
	require.NoError(t, c.Run(ctx, minutes(0), minutes(9)))

	require.NotNil(t, out.last)
	assert.Equal(t, []string{"X", "E"}, out.last.Names())
	x, _ := out.last.Get("X")
	assert.Equal(t, "USGS", x.Attr("agency"))
	assert.Equal(t, 20000.0, x.Samples[0].Value)

	got, err := out.Get(ctx, minutes(0), minutes(9), outSel, []string{"X", "H"})
	require.NoError(t, err)
	gx, _ := got.Get("X")
	gh, _ := got.Get("H")
	assert.Equal(t, 10, gx.ValidCount())
	assert.Equal(t, 0, gh.ValidCount())
}

func TestRun_NoInputSkipsWrite(t *testing.T) {
	in, out := memory.New(), memory.New()
	c := newController(t, in, out, algorithm.NewIdentity([]string{"H"}))
	require.NoError(t, c.Run(context.Background(), minutes(0), minutes(10)))
	assert.Equal(t, 0, out.Puts())

	assert.Error(t, c.Run(context.Background(), minutes(10), minutes(0)))
}

func TestRun_SourceFailure(t *testing.T) {
	c := newController(t, failing{}, memory.New(), algorithm.NewIdentity([]string{"H"}))
	err := c.Run(context.Background(), minutes(0), minutes(10))
	require.Error(t, err)
	assert.True(t, domain.IsDataUnavailable(err))

	in := memory.New()
	seed(t, in, inSel, 11)
	c = newController(t, in, failing{}, algorithm.NewIdentity([]string{"H"}))
	err = c.Run(context.Background(), minutes(0), minutes(10))
	assert.True(t, domain.IsDataUnavailable(err))
}

func TestRunAsUpdate_Idempotent(t *testing.T) {
	ctx := context.Background()
	in, out := memory.New(), memory.New()
	seed(t, in, inSel, 61)
	c := newController(t, in, out, algorithm.NewIdentity([]string{"H", "E"}))
	opts := UpdateOptions{Now: minutes(60).Add(20 * time.Second), Realtime: time.Hour, UpdateLimit: 10}

	res, err := c.RunAsUpdate(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, t0, res.Start)
	assert.Equal(t, minutes(60), res.End)
	assert.Equal(t, 1, res.Gaps)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 122, res.Samples)

	puts, writes := out.Puts(), out.Writes()
	res, err = c.RunAsUpdate(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Gaps)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, puts, out.Puts())
	assert.Equal(t, writes, out.Writes(), "second update must not write")
}

func TestRunAsUpdate_Bounded(t *testing.T) {
	ctx := context.Background()
	in, out := memory.New(), memory.New()
	seed(t, in, inSel, 61)
	seed(t, out, outSel, 61, 5, 15, 25, 35, 45)

	c := newController(t, in, out, algorithm.NewIdentity([]string{"H", "E"}))
	opts := UpdateOptions{Now: minutes(60), Realtime: time.Hour, UpdateLimit: 2}

	for _, want := range []struct{ gaps, processed, remaining int }{
		{5, 2, 3},
		{3, 2, 1},
		{1, 1, 0},
		{0, 0, 0},
	} {
		res, err := c.RunAsUpdate(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, want.gaps, res.Gaps)
		assert.Equal(t, want.processed, res.Processed)
		assert.Equal(t, want.remaining, res.Remaining)
	}

	got, err := out.Get(ctx, t0, minutes(60), outSel, []string{"H", "E"})
	require.NoError(t, err)
	for _, ch := range got.Channels() {
		assert.Equal(t, 61, ch.ValidCount(), ch.Name)
	}
}

func TestRunAsUpdate_OldestFirst(t *testing.T) {
	ctx := context.Background()
	in, out := memory.New(), memory.New()
	seed(t, in, inSel, 61)
	seed(t, out, outSel, 61, 40, 10, 30)

	c := newController(t, in, out, algorithm.NewIdentity([]string{"H", "E"}))
	res, err := c.RunAsUpdate(ctx, UpdateOptions{Now: minutes(60), Realtime: time.Hour, UpdateLimit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	got, err := out.Get(ctx, t0, minutes(60), outSel, []string{"H"})
	require.NoError(t, err)
	h, _ := got.Get("H")
	assert.True(t, h.Samples[10].Valid)
	assert.False(t, h.Samples[30].Valid)
	assert.False(t, h.Samples[40].Valid)
}

func TestRunAsUpdate_UnfillableGapStays(t *testing.T) {
	ctx := context.Background()
	in, out := memory.New(), memory.New()
	seed(t, in, inSel, 61, 20)
	seed(t, out, outSel, 61, 20)

	c := newController(t, in, out, algorithm.NewIdentity([]string{"H", "E"}))
	puts := out.Puts()
	res, err := c.RunAsUpdate(ctx, UpdateOptions{Now: minutes(60), Realtime: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Gaps)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Samples)
	assert.Equal(t, puts, out.Puts())
}

func TestRunAsUpdate_InvalidOptions(t *testing.T) {
	c := newController(t, memory.New(), memory.New(), algorithm.NewIdentity([]string{"H"}))
	_, err := c.RunAsUpdate(context.Background(), UpdateOptions{})
	assert.Error(t, err)
	_, err = c.RunAsUpdate(context.Background(), UpdateOptions{Realtime: time.Hour, UpdateLimit: -1})
	assert.Error(t, err)
}

func TestRun_Continuity(t *testing.T) {
	ctx := context.Background()
	in, out := memory.New(), memory.New()
	seed(t, in, inSel, 61)
	store := state.NewMemoryStore()

	sq, err := algorithm.NewSqDist(algorithm.SqDistOptions{
		Channel: "H", Alpha: 0.1, Gamma: 0.1, M: 4, Store: store, StateKey: "bou-sqdist",
	})
	require.NoError(t, err)
	c := newController(t, in, out, sq)
	assert.Equal(t, []string{"H_Dist", "H_SQ", "H_SV", "H_Sigma"}, c.OutputChannels())

	// fresh state reads warm-up history and accepts the chunk
	require.NoError(t, c.Run(ctx, minutes(0), minutes(30)))
	assert.Equal(t, 1, store.Saves)
	saved, err := store.Load(ctx, "bou-sqdist")
	require.NoError(t, err)
	assert.True(t, saved.Expects("BOU", "H", minutes(31)))
	writes := out.Writes()
	assert.Greater(t, writes, 0)

	// the next contiguous window continues the state
	require.NoError(t, c.Run(ctx, minutes(31), minutes(40)))
	assert.Equal(t, 2, store.Saves)

	// skipping ahead reads a warm-up window that does not continue the state
	err = c.Run(ctx, minutes(50), minutes(60))
	require.Error(t, err)
	assert.True(t, domain.IsContinuityViolation(err))
	assert.Equal(t, 2, store.Saves)

	saved, err = store.Load(ctx, "bou-sqdist")
	require.NoError(t, err)
	assert.True(t, saved.Expects("BOU", "H", minutes(41)), "violation must not advance state")
}

func TestRealtimeInterval(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 34, 56, 0, time.UTC)
	start, end := RealtimeInterval(now, 600*time.Second, time.Minute)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 34, 0, 0, time.UTC), end)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 24, 0, 0, time.UTC), start)

	start, end = RealtimeInterval(now, time.Hour, 0)
	assert.Equal(t, now, end)
	assert.Equal(t, now.Add(-time.Hour), start)
}
