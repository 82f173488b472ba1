package algorithm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/state"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// WarmUp is the history SqDist reads when its state does not continue the
// requested window.
const WarmUp = 90 * 24 * time.Hour

// State field names used by SqDist.
const (
	FieldLevel    = "level"
	FieldTrend    = "trend"
	FieldSeasonal = "seasonal"
	FieldSigma    = "sigma"
)

// Output channel suffixes of SqDist.
const (
	SuffixDist  = "_Dist"
	SuffixSQ    = "_SQ"
	SuffixSV    = "_SV"
	SuffixSigma = "_Sigma"
)

// SqDistOptions configures SqDist.
type SqDistOptions struct {
	Channel  string
	Store    state.Store
	StateKey string

	// Smoothing parameters: level, trend and seasonal gains, trend damping,
	// number of seasonal slots and the z-score above which an observation
	// only updates sigma. Alpha must be set; the others have defaults.
	Alpha   float64
	Beta    float64
	Gamma   float64
	Phi     float64
	M       int
	ZThresh float64
}

// SqDist separates one channel into solar quiet (SQ), secular variation
// (SV) and disturbance (Dist) with additive Holt-Winters smoothing. It
// keeps its smoothing state between invocations and only accepts chunks
// that continue that state exactly.
type SqDist struct {
	Base
	opts  SqDistOptions
	store state.Store
	key   string
	state state.State
}

// NewSqDist validates the parameters.
func NewSqDist(opts SqDistOptions) (*SqDist, error) {
	if opts.Channel == "" {
		return nil, domain.NewConfigurationError("sqdist needs exactly one input channel")
	}
	if opts.Alpha == 0 {
		return nil, domain.NewConfigurationError("sqdist alpha is required")
	}
	if opts.M <= 0 {
		opts.M = 1
	}
	if opts.Phi == 0 {
		opts.Phi = 1
	}
	if opts.ZThresh == 0 {
		opts.ZThresh = 6
	}
	for name, v := range map[string]float64{"alpha": opts.Alpha, "beta": opts.Beta, "gamma": opts.Gamma, "phi": opts.Phi} {
		if v < 0 || v > 1 {
			return nil, domain.NewConfigurationError("sqdist %s %v outside [0, 1]", name, v)
		}
	}
	ch := opts.Channel
	return &SqDist{
		Base: Base{
			Inputs:  []string{ch},
			Outputs: []string{ch + SuffixDist, ch + SuffixSQ, ch + SuffixSV, ch + SuffixSigma},
		},
		opts:  opts,
		store: opts.Store,
		key:   opts.StateKey,
	}, nil
}

// State returns a copy of the in-memory state.
func (a *SqDist) State() state.State {
	return a.state.Clone()
}

// LoadState reads the state from the store.
func (a *SqDist) LoadState(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	s, err := a.store.Load(ctx, a.key)
	if err != nil {
		return fmt.Errorf("failed to load sqdist state: %w", err)
	}
	if seasonal := s.Field(FieldSeasonal); seasonal != nil && len(seasonal) != a.opts.M {
		return domain.NewConfigurationError("sqdist state has %d seasonal slots, want %d", len(seasonal), a.opts.M)
	}
	a.state = s
	return nil
}

// SaveState writes the state to the store.
func (a *SqDist) SaveState(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Save(ctx, a.key, a.state); err != nil {
		return fmt.Errorf("failed to save sqdist state: %w", err)
	}
	return nil
}

// InputInterval is [start, end] when the state continues at start, and
// adds the warm-up history otherwise.
func (a *SqDist) InputInterval(start, end time.Time) (time.Time, time.Time) {
	if a.state.NextStartTime != nil && a.state.LastChannel == a.opts.Channel && a.state.NextStartTime.Equal(start) {
		return start, end
	}
	return start.Add(-WarmUp), end
}

// Process smooths the channel. A chunk that does not continue the state is
// a continuity violation and leaves the state untouched.
func (a *SqDist) Process(ctx context.Context, ts *timeseries.TimeSeries) (*timeseries.TimeSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := ts.Get(a.opts.Channel)
	if !ok {
		return nil, domain.NewConfigurationError("sqdist: input channel %s missing", a.opts.Channel)
	}
	station := c.Attr(timeseries.AttrStation)
	if err := a.state.CheckContinuity(station, c.Name, c.Period, c.Start); err != nil {
		return nil, err
	}

	init := hwState{
		level:    a.state.Field(FieldLevel),
		trend:    a.state.Field(FieldTrend),
		seasonal: a.state.Field(FieldSeasonal),
		sigma:    a.state.Field(FieldSigma),
	}
	res, next := additive(c.Samples, hwParams{
		alpha:   a.opts.Alpha,
		beta:    a.opts.Beta,
		gamma:   a.opts.Gamma,
		phi:     a.opts.Phi,
		m:       a.opts.M,
		zthresh: a.opts.ZThresh,
	}, init)

	a.state = a.state.
		Advance(station, c.Name, c.Period, c.TimeAt(c.Len())).
		WithField(FieldLevel, next.level...).
		WithField(FieldTrend, next.trend...).
		WithField(FieldSeasonal, next.seasonal...).
		WithField(FieldSigma, next.sigma...)

	n := c.Len()
	dist := make([]timeseries.Sample, n)
	sq := make([]timeseries.Sample, n)
	sv := make([]timeseries.Sample, n)
	sigma := make([]timeseries.Sample, n)
	for i := 0; i < n; i++ {
		if c.Samples[i].Valid {
			dist[i] = timeseries.Value(c.Samples[i].Value - res.yhat[i])
		}
		sq[i] = timeseries.Value(res.shat[i])
		sv[i] = timeseries.Value(res.yhat[i] - res.shat[i])
		sigma[i] = timeseries.Value(res.sigma[i])
	}

	out := timeseries.New()
	for i, samples := range [][]timeseries.Sample{dist, sq, sv, sigma} {
		oc := timeseries.NewChannel(a.Outputs[i], c.Start, c.Period, samples)
		for k, v := range c.Attrs {
			oc.Attrs[k] = v
		}
		out.Add(oc)
	}
	return out, nil
}

type hwParams struct {
	alpha, beta, gamma, phi, zthresh float64
	m                                int
}

// hwState holds the smoothing state as state fields: level, trend and
// sigma have one value, seasonal has m. Nil fields are initialized from
// the data.
type hwState struct {
	level, trend, seasonal, sigma []float64
}

type hwResult struct {
	yhat, shat, sigma []float64
}

// additive runs one-step-ahead additive Holt-Winters smoothing with a
// damped trend. Observations further than zthresh sigmas from the
// prediction only update sigma; missing observations grow sigma like a
// prediction interval.
func additive(y []timeseries.Sample, p hwParams, init hwState) (hwResult, hwState) {
	n, m := len(y), p.m

	l := 0.0
	if len(init.level) > 0 {
		l = init.level[0]
	} else if mu, ok := nanMean(y[:min(m, n)]); ok {
		l = mu
	}
	b := 0.0
	if len(init.trend) > 0 {
		b = init.trend[0]
	}
	s := make([]float64, m+n)
	copy(s, init.seasonal)
	sig := make([]float64, n+1)
	if len(init.sigma) > 0 {
		sig[0] = init.sigma[0]
	} else {
		sig[0] = nanStd(y)
	}

	r := make([]float64, n+1)
	r[0], _ = mean(s[:m])

	yhat := make([]float64, n)
	sumc2, phiJ := 1.0, 0.0
	jstep := 0
	var sigma2 float64
	for i := 0; i < n; i++ {
		if jstep == 0 {
			sigma2 = sig[i] * sig[i]
		}
		sig[i+1] = math.Sqrt(sigma2 * sumc2)
		yhat[i] = l + s[i]

		et := y[i].Value - yhat[i]
		if !y[i].Valid || math.Abs(et) > p.zthresh*sig[i] {
			r[i+1] = r[i]
			s[i+m] = s[i]
			l += p.phi * b
			b *= p.phi
			if !y[i].Valid {
				phiJ += math.Pow(p.phi, float64(jstep))
				jstep++
				g := 0.0
				if jstep%m == 0 {
					g = p.gamma
				}
				c := p.alpha*(1+phiJ*p.beta) + g
				sumc2 += c * c
			} else {
				sig[i+1] = p.alpha*math.Abs(et) + (1-p.alpha)*sig[i]
				jstep = 0
			}
			continue
		}

		r[i+1] = p.gamma*(1-p.alpha)*et/float64(m) + r[i]
		s[i+m] = s[i] + p.gamma*(1-p.alpha)*et
		l += p.phi*b + p.alpha*et
		b = p.phi*b + p.alpha*p.beta*et
		sig[i+1] = p.alpha*math.Abs(et) + (1-p.alpha)*sig[i]
		sumc2, phiJ, jstep = 1, 0, 0
	}

	next := hwState{
		level:    []float64{l + r[n]},
		trend:    []float64{b},
		seasonal: make([]float64, m),
		sigma:    []float64{sig[n]},
	}
	for j := 0; j < m; j++ {
		next.seasonal[j] = s[n+j] - r[n]
	}

	res := hwResult{yhat: yhat, shat: make([]float64, n), sigma: sig[1:]}
	for i := 0; i < n; i++ {
		res.shat[i] = s[i] - r[i]
	}
	return res, next
}

func mean(v []float64) (float64, bool) {
	if len(v) == 0 {
		return 0, false
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v)), true
}

func nanMean(y []timeseries.Sample) (float64, bool) {
	var sum float64
	var n int
	for _, s := range y {
		if s.Valid {
			sum += s.Value
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// nanStd is the population standard deviation of the valid samples, or 0.
func nanStd(y []timeseries.Sample) float64 {
	mu, ok := nanMean(y)
	if !ok {
		return 0
	}
	var ss float64
	var n int
	for _, s := range y {
		if s.Valid {
			d := s.Value - mu
			ss += d * d
			n++
		}
	}
	return math.Sqrt(ss / float64(n))
}
