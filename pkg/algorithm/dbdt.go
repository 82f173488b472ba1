package algorithm

import (
	"context"
	"math"
	"time"

	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// SuffixDT names the output of DbDt for each input channel.
const SuffixDT = "_DT"

// DbDt emits the first difference of each input channel: the output
// <ch>_DT at t is x(t) - x(t-period). A missing sample on either side
// gives a missing output.
type DbDt struct {
	Base
	period time.Duration
}

// NewDbDt creates a DbDt over channels sampled every period.
func NewDbDt(channels []string, period time.Duration) (*DbDt, error) {
	if len(channels) == 0 {
		return nil, domain.NewConfigurationError("dbdt needs at least one input channel")
	}
	if period <= 0 {
		return nil, domain.NewConfigurationError("dbdt needs a positive sample period, got %v", period)
	}
	outputs := make([]string, len(channels))
	for i, ch := range channels {
		outputs[i] = ch + SuffixDT
	}
	return &DbDt{
		Base:   Base{Inputs: append([]string(nil), channels...), Outputs: outputs},
		period: period,
	}, nil
}

// InputInterval reads one extra sample before start.
func (a *DbDt) InputInterval(start, end time.Time) (time.Time, time.Time) {
	return start.Add(-a.period), end
}

// Process differences each input channel. Outputs start one period after
// their input.
func (a *DbDt) Process(ctx context.Context, ts *timeseries.TimeSeries) (*timeseries.TimeSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := timeseries.New()
	for i, name := range a.Inputs {
		c, ok := ts.Get(name)
		if !ok {
			return nil, domain.NewConfigurationError("dbdt: input channel %s missing", name)
		}
		n := c.Len() - 1
		if n < 0 {
			n = 0
		}
		samples := make([]timeseries.Sample, n)
		for j := 0; j < n; j++ {
			prev, next := c.Samples[j], c.Samples[j+1]
			if prev.Valid && next.Valid {
				samples[j] = timeseries.Value(math.Round((next.Value-prev.Value)*1e6) / 1e6)
			}
		}
		oc := timeseries.NewChannel(a.Outputs[i], c.Start.Add(c.Period), c.Period, samples)
		for k, v := range c.Attrs {
			oc.Attrs[k] = v
		}
		out.Add(oc)
	}
	return out, nil
}
