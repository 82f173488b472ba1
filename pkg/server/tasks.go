package server

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nicktill/geomag/pkg/config"
	"github.com/nicktill/geomag/pkg/controller"
	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/log"
	"github.com/nicktill/geomag/pkg/server/monitor"
)

// Updater is what the update scheduler drives.
type Updater interface {
	RunAsUpdate(ctx context.Context, opts controller.UpdateOptions) (controller.UpdateResult, error)
}

// RetryPolicy bounds the retries of one scheduled invocation.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetry is the retry policy of scheduled invocations.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{
		InitialInterval: config.RetryInitialInterval,
		MaxInterval:     config.RetryMaxInterval,
		MaxElapsedTime:  config.RetryMaxElapsed,
	}
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime
	return backoff.WithContext(b, ctx)
}

// Retry runs op until it succeeds, fails permanently or the policy gives
// up. Configuration errors and continuity violations are never retried.
func Retry(ctx context.Context, p RetryPolicy, name string, op func(ctx context.Context) error) error {
	lg := log.Get(ctx)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if domain.IsConfiguration(err) || domain.IsContinuityViolation(err) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, p.backoff(ctx), func(err error, wait time.Duration) {
		lg.Warn().Err(err).Str("task", name).Int("attempt", attempt).Dur("retry_in", wait).Msg("retrying")
	})
}

// UpdateTask is a scheduled RunAsUpdate.
type UpdateTask struct {
	Updater Updater
	Options controller.UpdateOptions
	Every   time.Duration
	Retry   RetryPolicy
	Monitor *monitor.UpdateMonitor
}

// RunUpdates runs the task once at start and then on every tick until stop
// is closed.
func RunUpdates(ctx context.Context, task UpdateTask, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	lg := log.Get(ctx)
	every := task.Every
	if every <= 0 {
		every = config.DefaultScheduleEvery
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	runOnce := func() {
		start := time.Now()
		var res controller.UpdateResult
		err := Retry(ctx, task.Retry, "update", func(ctx context.Context) error {
			var err error
			res, err = task.Updater.RunAsUpdate(ctx, task.Options)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if task.Monitor != nil {
				task.Monitor.RecordFailure(err)
			}
			lg.Error().Err(err).Msg("update failed, will retry on next schedule")
			if task.Monitor != nil {
				if status := task.Monitor.Status(); status.ConsecutiveErrors > 3 {
					lg.Error().Int("consecutive_errors", status.ConsecutiveErrors).Msg("updates keep failing")
				}
			}
			return
		}
		if task.Monitor != nil {
			task.Monitor.RecordSuccess(res.Processed, res.Remaining)
		}
		lg.Debug().
			Int("processed", res.Processed).
			Int("remaining", res.Remaining).
			Dur("took", time.Since(start).Round(time.Millisecond)).
			Msg("scheduled update done")
	}

	lg.Info().Dur("every", every).Msg("update scheduler started")
	runOnce()
	for {
		select {
		case <-ticker.C:
			runOnce()
		case <-ctx.Done():
			lg.Info().Msg("stopping update scheduler")
			return
		}
	}
}

// GarbageCollector is a store with value log garbage collection.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// RunBadgerGC runs value log garbage collection periodically to reclaim
// disk space until stop is closed.
func RunBadgerGC(ctx context.Context, store GarbageCollector, every time.Duration, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	lg := log.Get(ctx)
	if every <= 0 {
		every = config.BadgerGCInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	lg.Info().Dur("every", every).Msg("badger GC scheduler started")
	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// an error means nothing was rewritten
			if err := store.RunGC(0.5); err != nil {
				lg.Debug().Dur("took", time.Since(start).Round(time.Millisecond)).Msg("GC found nothing to rewrite")
			} else {
				lg.Info().Dur("took", time.Since(start).Round(time.Millisecond)).Msg("GC reclaimed disk space")
			}
		case <-stop:
			lg.Info().Msg("stopping badger GC scheduler")
			return
		case <-ctx.Done():
			return
		}
	}
}
