package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/geomag/pkg/state"
)

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "geomag.db")
	store, err := Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	got, err := store.Load(ctx, "adjusted-BOU")
	require.NoError(t, err)
	assert.False(t, got.HasPosition())

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	first := state.State{}.Advance("BOU", "H", time.Minute, start)
	require.NoError(t, store.Save(ctx, "adjusted-BOU", first))

	second := first.Advance("BOU", "H", time.Minute, start.Add(time.Hour)).WithField("pier_correction", 3.5)
	require.NoError(t, store.Save(ctx, "adjusted-BOU", second))
	require.NoError(t, store.Close())

	// reopen to make sure the upsert was persisted
	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	got, err = store.Load(ctx, "adjusted-BOU")
	require.NoError(t, err)
	assert.True(t, got.Expects("BOU", "H", start.Add(time.Hour)))
	assert.Equal(t, 3.5, got.Scalar("pier_correction", 0))
}
