package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/geomag/pkg/algorithm"
	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/server"
	badgerstate "github.com/nicktill/geomag/pkg/state/badger"
	"github.com/nicktill/geomag/pkg/storage"
	badgerstore "github.com/nicktill/geomag/pkg/storage/badger"
	"github.com/nicktill/geomag/pkg/storage/memory"
	"github.com/nicktill/geomag/pkg/timeseries"
)

var (
	t0    = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	input = storage.Selector{Observatory: "BOU", DataType: "variation", Location: "R0", Period: time.Minute}
)

// newService serves store over the timeseries endpoint.
func newService(t *testing.T, store *memory.Storage) string {
	t.Helper()
	router := mux.NewRouter()
	server.SetupRoutes(router, server.Routes{Handler: server.NewHandler(store)})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL
}

// seed writes minutes [from, to) of H = 20000+i.
func seed(t *testing.T, store *memory.Storage, from, to time.Time) {
	t.Helper()
	var values []float64
	for ts := from; ts.Before(to); ts = ts.Add(time.Minute) {
		values = append(values, 20000+float64(len(values)))
	}
	ts := timeseries.New(timeseries.FromValues("H", from, time.Minute, values))
	require.NoError(t, store.Put(context.Background(), ts, input, nil))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func remoteArgs(url string) []string {
	return []string{
		"--config", filepath.Join(os.TempDir(), "geomag-missing-job.toml"),
		"--observatory", "bou",
		"--input-kind", "remote", "--input-url", url, "--input-channels", "H",
		"--output-kind", "remote", "--output-url", url, "--output-type", "provisional",
	}
}

func TestRunCommand(t *testing.T) {
	store := memory.New()
	url := newService(t, store)
	seed(t, store, t0, t0.Add(time.Hour))

	args := append([]string{"run"}, remoteArgs(url)...)
	args = append(args,
		"--start", t0.Add(10*time.Minute).Format(time.RFC3339),
		"--end", t0.Add(19*time.Minute).Format(time.RFC3339),
		"--rename", "H=X",
		"--metadata", "comment=test",
	)
	_, err := execute(t, args...)
	require.NoError(t, err)

	out := input
	out.DataType = "provisional"
	got, err := store.Get(context.Background(), t0, t0.Add(time.Hour), out, []string{"X", "H"})
	require.NoError(t, err)

	x, _ := got.Get("X")
	assert.Equal(t, 10, x.ValidCount())
	v, ok := x.IndexOf(t0.Add(10 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, timeseries.Value(20010), x.Samples[v])

	h, _ := got.Get("H")
	assert.Zero(t, h.ValidCount(), "written under the renamed channel only")
}

func TestUpdateCommand_Idempotent(t *testing.T) {
	store := memory.New()
	url := newService(t, store)
	now := t0.Add(2 * time.Hour)
	seed(t, store, t0, now.Add(time.Minute))

	args := append([]string{"update"}, remoteArgs(url)...)
	args = append(args, "--end", now.Format(time.RFC3339), "--realtime", "600")

	stdout, err := execute(t, args...)
	require.NoError(t, err)
	assert.Equal(t, "gaps=1 processed=1 remaining=0 samples=11\n", stdout)
	puts := store.Puts()

	stdout, err = execute(t, args...)
	require.NoError(t, err)
	assert.Equal(t, "gaps=0 processed=0 remaining=0 samples=0\n", stdout)
	assert.Equal(t, puts, store.Puts())
}

func TestBadgerPipeline(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := badgerstore.New(badgerstore.Config{Path: dir})
	require.NoError(t, err)
	var channels []*timeseries.Channel
	for i, name := range []string{"H", "E", "Z", "F"} {
		values := make([]float64, 60)
		for j := range values {
			values[j] = float64(20000*(i+1) + j)
		}
		channels = append(channels, timeseries.FromValues(name, t0, time.Minute, values))
	}
	require.NoError(t, store.Put(ctx, timeseries.New(channels...), input, nil))
	require.NoError(t, store.Close())

	base := []string{
		"--config", filepath.Join(dir, "missing.toml"),
		"--observatory", "bou",
		"--transform", "adjusted",
		"--input-kind", "badger", "--input-path", dir,
		"--output-kind", "badger", "--output-path", dir,
		"--output-type", "adjusted", "--output-location", "A0",
		"--state-kind", "badger", "--state-path", dir,
	}

	_, err = execute(t, append(append([]string{"run"}, base...),
		"--start", t0.Format(time.RFC3339),
		"--end", t0.Add(9*time.Minute).Format(time.RFC3339))...)
	require.NoError(t, err)

	update := append(append([]string{"update"}, base...),
		"--end", t0.Add(19*time.Minute).Format(time.RFC3339), "--realtime", "600")
	stdout, err := execute(t, update...)
	require.NoError(t, err)
	assert.Equal(t, "gaps=1 processed=1 remaining=0 samples=40\n", stdout)

	stdout, err = execute(t, update...)
	require.NoError(t, err)
	assert.Equal(t, "gaps=0 processed=0 remaining=0 samples=0\n", stdout)

	store, err = badgerstore.New(badgerstore.Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	out := input
	out.DataType = "adjusted"
	out.Location = "A0"
	got, err := store.Get(ctx, t0, t0.Add(19*time.Minute), out, []string{"X", "Y", "Z", "F"})
	require.NoError(t, err)
	for _, name := range []string{"X", "Y", "Z", "F"} {
		c, ok := got.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, 20, c.ValidCount(), name)
	}
	x, _ := got.Get("X")
	assert.Equal(t, timeseries.Value(20010), x.Samples[10], "identity calibration")

	// state lives in the sample database
	saved, err := badgerstate.Wrap(store.DB()).Load(ctx, "bou_adjusted_hezf")
	require.NoError(t, err)
	assert.Len(t, saved.Field(algorithm.FieldMatrix), 16)
}

func TestRunCommand_JobFile(t *testing.T) {
	store := memory.New()
	url := newService(t, store)
	seed(t, store, t0, t0.Add(time.Hour))

	path := filepath.Join(t.TempDir(), "job.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[job]
observatory = "BOU"
start = "2024-06-01T00:00:00Z"
end = "2024-06-01T00:04:00Z"

[input]
kind = "remote"
url = "`+url+`"
channels = ["H"]

[output]
kind = "remote"
url = "`+url+`"
type = "definitive"

[[observatory]]
code = "BOU"
name = "Boulder"
latitude = 40.137
longitude = 254.763
`), 0o644))

	// flags win over the file
	_, err := execute(t, "run", "--config", path, "--output-type", "quasi-definitive")
	require.NoError(t, err)

	out := input
	out.DataType = "quasi-definitive"
	got, err := store.Get(context.Background(), t0, t0.Add(4*time.Minute), out, []string{"H"})
	require.NoError(t, err)
	h, _ := got.Get("H")
	assert.Equal(t, 5, h.ValidCount())

	out.DataType = "definitive"
	got, err = store.Get(context.Background(), t0, t0.Add(4*time.Minute), out, []string{"H"})
	require.NoError(t, err)
	h, _ = got.Get("H")
	assert.Zero(t, h.ValidCount())
}

func TestCommandErrors(t *testing.T) {
	store := memory.New()
	url := newService(t, store)
	base := remoteArgs(url)

	args := func(cmd string, extra ...string) []string {
		return append(append([]string{cmd}, base...), extra...)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"run without start", args("run", "--end", t0.Format(time.RFC3339))},
		{"bad start", args("run", "--start", "noon", "--end", t0.Format(time.RFC3339))},
		{"unknown transform", args("update", "--transform", "magic")},
		{"unknown source", args("update", "--input-kind", "ftp")},
		{"negative update limit", args("update", "--update-limit", "-1")},
		{"sqdist with two channels", args("update", "--transform", "sqdist", "--state-kind", "sqlite",
			"--state-path", filepath.Join(t.TempDir(), "state.db"), "--input-channels", "E")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.True(t, domain.IsConfiguration(err), "got %v", err)
		})
	}

	t.Run("no observatory", func(t *testing.T) {
		_, err := execute(t, "update", "--config", filepath.Join(t.TempDir(), "none.toml"))
		assert.True(t, domain.IsConfiguration(err))
	})

	assert.Zero(t, store.Puts())
}
