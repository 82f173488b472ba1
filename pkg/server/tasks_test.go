package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/geomag/pkg/controller"
	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/server/monitor"
)

var fastRetry = RetryPolicy{
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
	MaxElapsedTime:  time.Second,
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient errors", func(t *testing.T) {
		attempts := 0
		err := Retry(ctx, fastRetry, "test", func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return domain.NewDataUnavailableError("get", errors.New("timeout"))
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("configuration error is permanent", func(t *testing.T) {
		attempts := 0
		err := Retry(ctx, fastRetry, "test", func(ctx context.Context) error {
			attempts++
			return domain.NewConfigurationError("bad channel")
		})
		require.Error(t, err)
		assert.True(t, domain.IsConfiguration(err))
		assert.Equal(t, 1, attempts)
	})

	t.Run("continuity violation is permanent", func(t *testing.T) {
		attempts := 0
		err := Retry(ctx, fastRetry, "test", func(ctx context.Context) error {
			attempts++
			return domain.NewContinuityViolationError("gap in state")
		})
		require.Error(t, err)
		assert.True(t, domain.IsContinuityViolation(err))
		assert.Equal(t, 1, attempts)
	})

	t.Run("gives up", func(t *testing.T) {
		policy := fastRetry
		policy.MaxElapsedTime = 20 * time.Millisecond
		err := Retry(ctx, policy, "test", func(ctx context.Context) error {
			return errors.New("still down")
		})
		require.EqualError(t, err, "still down")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		err := Retry(ctx, fastRetry, "test", func(ctx context.Context) error {
			return errors.New("still down")
		})
		require.Error(t, err)
	})
}

type fakeUpdater struct {
	calls   atomic.Int32
	failFor int32
	opts    controller.UpdateOptions
	mu      sync.Mutex
}

func (f *fakeUpdater) RunAsUpdate(ctx context.Context, opts controller.UpdateOptions) (controller.UpdateResult, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()
	if n <= f.failFor {
		return controller.UpdateResult{}, errors.New("input unavailable")
	}
	return controller.UpdateResult{Gaps: 2, Processed: 2}, nil
}

func TestRunUpdates(t *testing.T) {
	updater := &fakeUpdater{failFor: 1}
	updates := &monitor.UpdateMonitor{}
	task := UpdateTask{
		Updater: updater,
		Options: controller.UpdateOptions{Realtime: 10 * time.Minute, UpdateLimit: 5},
		Every:   10 * time.Millisecond,
		Retry:   fastRetry,
		Monitor: updates,
	}

	stop := make(chan bool)
	var wg sync.WaitGroup
	wg.Add(1)
	go RunUpdates(context.Background(), task, stop, &wg)

	require.Eventually(t, func() bool {
		return updater.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	close(stop)
	wg.Wait()

	status := updates.Status()
	assert.True(t, status.Healthy)
	assert.Zero(t, status.ConsecutiveErrors)
	assert.GreaterOrEqual(t, status.GapsProcessed, 4)

	updater.mu.Lock()
	defer updater.mu.Unlock()
	assert.Equal(t, 5, updater.opts.UpdateLimit)
}

type permanentUpdater struct{ calls atomic.Int32 }

func (p *permanentUpdater) RunAsUpdate(ctx context.Context, opts controller.UpdateOptions) (controller.UpdateResult, error) {
	p.calls.Add(1)
	return controller.UpdateResult{}, domain.NewConfigurationError("unknown channel")
}

func TestRunUpdates_RecordsFailures(t *testing.T) {
	updater := &permanentUpdater{}
	updates := &monitor.UpdateMonitor{}
	task := UpdateTask{Updater: updater, Every: 5 * time.Millisecond, Retry: fastRetry, Monitor: updates}

	stop := make(chan bool)
	var wg sync.WaitGroup
	wg.Add(1)
	go RunUpdates(context.Background(), task, stop, &wg)

	require.Eventually(t, func() bool {
		return updates.Status().ConsecutiveErrors >= 2
	}, 2*time.Second, 5*time.Millisecond)
	close(stop)
	wg.Wait()

	status := updates.Status()
	assert.False(t, status.Healthy)
	assert.Contains(t, status.LastError, "unknown channel")
	// configuration errors are not retried within a tick
	assert.LessOrEqual(t, updater.calls.Load(), int32(status.ConsecutiveErrors)+1)
}

type fakeGC struct{ runs atomic.Int32 }

func (g *fakeGC) RunGC(discardRatio float64) error {
	if g.runs.Add(1)%2 == 0 {
		return errors.New("nothing to rewrite")
	}
	return nil
}

func TestRunBadgerGC(t *testing.T) {
	gc := &fakeGC{}
	stop := make(chan bool)
	var wg sync.WaitGroup
	wg.Add(1)
	go RunBadgerGC(context.Background(), gc, 5*time.Millisecond, stop, &wg)

	require.Eventually(t, func() bool {
		return gc.runs.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestDefaultRetry(t *testing.T) {
	p := DefaultRetry()
	assert.Equal(t, time.Second, p.InitialInterval)
	assert.Greater(t, p.MaxElapsedTime, p.MaxInterval)
}
