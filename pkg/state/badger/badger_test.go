package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/geomag/pkg/state"
)

func TestStore(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	got, err := store.Load(ctx, "sqdist-BOU-H")
	require.NoError(t, err)
	assert.False(t, got.HasPosition())

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s := state.State{}.Advance("BOU", "H", time.Minute, start).WithField("level", 21000.5)
	require.NoError(t, store.Save(ctx, "sqdist-BOU-H", s))

	got, err = store.Load(ctx, "sqdist-BOU-H")
	require.NoError(t, err)
	assert.True(t, got.Expects("BOU", "H", start))
	assert.Equal(t, 21000.5, got.Scalar("level", 0))
}

func TestStore_CancelledContext(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Load(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Save(ctx, "k", state.State{}), context.Canceled)
}
