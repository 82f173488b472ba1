// Package controller drives transforms between an input and an output data
// source, either over one window or as a gap-bounded update over a rolling
// realtime window.
//
// Each invocation is synchronous: get, process, put. Invocations sharing a
// state key must be serialized by the caller.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nicktill/geomag/pkg/algorithm"
	"github.com/nicktill/geomag/pkg/gaps"
	"github.com/nicktill/geomag/pkg/log"
	"github.com/nicktill/geomag/pkg/storage"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// Run modes used as metric labels.
const (
	ModeRun    = "run"
	ModeUpdate = "update"
)

// Config wires a controller.
type Config struct {
	Input     storage.Source
	Output    storage.Source
	Transform algorithm.Transform

	InputSelector  storage.Selector
	OutputSelector storage.Selector

	// InputChannels default to the transform's inputs. OutputChannels are
	// names after renaming and default to the renamed transform outputs.
	InputChannels  []string
	OutputChannels []string

	// Rename maps transform output names to written names.
	Rename map[string]string
	// Metadata is stamped on every written channel's attributes.
	Metadata map[string]string
}

// Controller runs one configured job.
type Controller struct {
	cfg Config
}

// New validates cfg and fills channel defaults.
func New(cfg Config) (*Controller, error) {
	if cfg.Input == nil || cfg.Output == nil {
		return nil, errors.New("controller needs an input and an output source")
	}
	if cfg.Transform == nil {
		return nil, errors.New("controller needs a transform")
	}
	if err := cfg.InputSelector.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input selector: %w", err)
	}
	if err := cfg.OutputSelector.Validate(); err != nil {
		return nil, fmt.Errorf("invalid output selector: %w", err)
	}
	if len(cfg.InputChannels) == 0 {
		cfg.InputChannels = cfg.Transform.InputChannels()
	}
	if len(cfg.OutputChannels) == 0 {
		for _, name := range cfg.Transform.OutputChannels() {
			if to, ok := cfg.Rename[name]; ok && to != "" {
				name = to
			}
			cfg.OutputChannels = append(cfg.OutputChannels, name)
		}
	}
	return &Controller{cfg: cfg}, nil
}

// OutputChannels returns the channels the controller writes.
func (c *Controller) OutputChannels() []string {
	return append([]string(nil), c.cfg.OutputChannels...)
}

// Run processes [start, end] once and writes only that window.
func (c *Controller) Run(ctx context.Context, start, end time.Time) (err error) {
	ctx, lg := c.logger(ctx, ModeRun)
	defer c.observe(ModeRun, time.Now(), &err)

	if end.Before(start) {
		return fmt.Errorf("invalid window: end %s before start %s", end, start)
	}
	if err := c.loadState(ctx); err != nil {
		return err
	}
	written, err := c.cycle(ctx, start, end)
	if err != nil {
		lg.Error().Err(err).Time("start", start).Time("end", end).Msg("run failed")
		return err
	}
	lg.Info().Time("start", start).Time("end", end).Int("samples", written).Msg("run complete")
	return nil
}

// UpdateOptions configure RunAsUpdate.
type UpdateOptions struct {
	// Now defaults to the current time.
	Now time.Time
	// Realtime is the trailing window re-examined each invocation.
	Realtime time.Duration
	// UpdateLimit caps gaps processed per invocation; 0 means no cap.
	UpdateLimit int
}

// UpdateResult reports what one update invocation did.
type UpdateResult struct {
	Start, End time.Time
	Gaps       int
	Processed  int
	Remaining  int
	Samples    int
}

// RunAsUpdate reads back the output over the realtime window, finds the
// merged gaps of the output channels and reprocesses them oldest first, at
// most UpdateLimit per call. Gaps beyond the limit are left for the next
// call. With no gaps nothing is fetched or written.
func (c *Controller) RunAsUpdate(ctx context.Context, opts UpdateOptions) (res UpdateResult, err error) {
	ctx, lg := c.logger(ctx, ModeUpdate)
	defer c.observe(ModeUpdate, time.Now(), &err)

	if opts.Realtime <= 0 {
		return res, fmt.Errorf("invalid realtime window %v", opts.Realtime)
	}
	if opts.UpdateLimit < 0 {
		return res, fmt.Errorf("invalid update limit %d", opts.UpdateLimit)
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	res.Start, res.End = RealtimeInterval(now, opts.Realtime, c.cfg.OutputSelector.Period)

	existing, err := c.cfg.Output.Get(ctx, res.Start, res.End, c.cfg.OutputSelector, c.cfg.OutputChannels)
	if err != nil {
		return res, fmt.Errorf("failed to read output: %w", err)
	}
	found := gaps.Find(existing, c.cfg.OutputChannels)
	res.Gaps = len(found)
	if len(found) == 0 {
		lg.Debug().Time("start", res.Start).Time("end", res.End).Msg("no gaps")
		return res, nil
	}

	todo := found
	if opts.UpdateLimit > 0 && len(todo) > opts.UpdateLimit {
		todo = todo[:opts.UpdateLimit]
	}
	res.Remaining = len(found) - len(todo)

	if err := c.loadState(ctx); err != nil {
		return res, err
	}
	for _, g := range todo {
		written, err := c.cycle(ctx, g.Start, g.End)
		if err != nil {
			lg.Error().Err(err).Time("gap_start", g.Start).Time("gap_end", g.End).Msg("gap failed")
			res.Remaining += len(todo) - res.Processed
			GapsDeferred.Add(float64(res.Remaining))
			return res, err
		}
		res.Processed++
		res.Samples += written
		GapsProcessed.Inc()
	}
	GapsDeferred.Add(float64(res.Remaining))

	lg.Info().
		Int("gaps", res.Gaps).
		Int("processed", res.Processed).
		Int("remaining", res.Remaining).
		Int("samples", res.Samples).
		Msg("update complete")
	return res, nil
}

// RealtimeInterval returns [now-window, now] with now floored to period.
func RealtimeInterval(now time.Time, window, period time.Duration) (time.Time, time.Time) {
	end := now.UTC()
	if period > 0 {
		end = timeseries.FloorTime(end, period)
	}
	return end.Add(-window), end
}

// cycle is the shared get, process, put step over one output window. It
// returns the number of valid samples written.
func (c *Controller) cycle(ctx context.Context, start, end time.Time) (int, error) {
	lg := log.Get(ctx)
	tr := c.cfg.Transform

	inStart, inEnd := tr.InputInterval(start, end)
	in, err := c.cfg.Input.Get(ctx, inStart, inEnd, c.cfg.InputSelector, c.cfg.InputChannels)
	if err != nil {
		return 0, fmt.Errorf("failed to read input: %w", err)
	}
	if !tr.CanProduce(inStart, inEnd, in) {
		lg.Warn().Time("start", inStart).Time("end", inEnd).Msg("input has no data, skipping")
		return 0, nil
	}

	out, err := tr.Process(ctx, in)
	if err != nil {
		return 0, fmt.Errorf("failed to process %s to %s: %w",
			start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), err)
	}
	if st, ok := tr.(algorithm.Stateful); ok {
		if err := st.SaveState(ctx); err != nil {
			return 0, err
		}
	}

	if len(c.cfg.Rename) > 0 {
		out = out.Rename(c.cfg.Rename)
	}
	out = out.Select(c.cfg.OutputChannels...).Trim(start, end)

	written := 0
	for _, ch := range out.Channels() {
		for k, v := range c.cfg.Metadata {
			ch.SetAttr(k, v)
		}
		written += ch.ValidCount()
	}
	if written == 0 {
		lg.Debug().Time("start", start).Time("end", end).Msg("nothing to write")
		return 0, nil
	}
	if err := c.cfg.Output.Put(ctx, out, c.cfg.OutputSelector, c.cfg.OutputChannels); err != nil {
		return 0, fmt.Errorf("failed to write output: %w", err)
	}
	if first, last, ok := out.Span(); ok {
		lg.Debug().Time("first", first).Time("last", last).Int("samples", written).Msg("output written")
	}
	SamplesWritten.Add(float64(written))
	return written, nil
}

func (c *Controller) loadState(ctx context.Context) error {
	st, ok := c.cfg.Transform.(algorithm.Stateful)
	if !ok {
		return nil
	}
	return st.LoadState(ctx)
}

// logger tags the context logger with a run id and the job's stream.
func (c *Controller) logger(ctx context.Context, mode string) (context.Context, *zerolog.Logger) {
	lg := log.Get(ctx).With().
		Str("run_id", uuid.NewString()).
		Str("mode", mode).
		Str("observatory", c.cfg.InputSelector.Observatory).
		Str("output_type", c.cfg.OutputSelector.DataType).
		Logger()
	return log.Set(ctx, &lg), &lg
}

func (c *Controller) observe(mode string, start time.Time, err *error) {
	result := "ok"
	if *err != nil {
		result = "error"
	}
	Runs.WithLabelValues(mode, result).Inc()
	RunDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
