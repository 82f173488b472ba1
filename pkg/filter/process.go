package filter

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/log"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// ProcessChannel runs one step over a channel.
//
// The first output is placed at the first multiple of the step's output
// period for which the channel holds the whole window; leading samples
// before that window are skipped. A channel that cannot fill one window
// yields an insufficient data warning and no channel.
func ProcessChannel(c *timeseries.Channel, s Step, allowedBad float64) (*timeseries.Channel, error) {
	if c.Period != s.InputPeriod {
		return nil, domain.NewConfigurationError("channel %s has period %v, step %q expects %v",
			c.Name, c.Period, s.Name, s.InputPeriod)
	}
	if !timeseries.IsAligned(c.Start, c.Period) {
		return nil, domain.NewConfigurationError("channel %s start %v is not aligned to its period %v",
			c.Name, c.Start, c.Period)
	}

	offset := s.leadOffset()
	first := timeseries.CeilTime(c.Start.Add(offset), s.OutputPeriod)
	skip := int(first.Add(-offset).Sub(c.Start) / c.Period)

	have := c.Len() - skip
	if have < s.Taps() {
		if have < 0 {
			have = 0
		}
		return nil, domain.NewInsufficientDataWarning(c.Name, have, s.Taps())
	}

	samples := Convolve(c.Samples[skip:], s.Window, s.Decimation(), allowedBad)
	out := timeseries.NewChannel(c.Name, first, s.OutputPeriod, samples)
	for k, v := range c.Attrs {
		out.Attrs[k] = v
	}
	return out, nil
}

// Process runs the steps in order over every channel of ts. Channels are
// filtered concurrently within a step. Channels too short for a step are
// dropped from the result with a warning.
func Process(ctx context.Context, ts *timeseries.TimeSeries, steps []Step, allowedBad float64) (*timeseries.TimeSeries, error) {
	current := ts
	for _, s := range steps {
		next, err := processStep(ctx, current, s, allowedBad)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

func processStep(ctx context.Context, ts *timeseries.TimeSeries, s Step, allowedBad float64) (*timeseries.TimeSeries, error) {
	channels := ts.Channels()
	results := make([]*timeseries.Channel, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range channels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := ProcessChannel(c, s, allowedBad)
			if domain.IsInsufficientData(err) {
				log.Get(ctx).Warn().
					Str("channel", c.Name).
					Str("step", s.Name).
					Err(err).
					Msg("skipping channel")
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := timeseries.New()
	for _, c := range results {
		if c != nil {
			out.Add(c)
		}
	}
	return out, nil
}
