package algorithm

import (
	"context"
	"time"

	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/filter"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// FilterOptions configures a Filter.
type FilterOptions struct {
	Channels     []string
	InputPeriod  time.Duration
	OutputPeriod time.Duration

	// Steps overrides the built-in cascade. When empty, CoefficientFile is
	// loaded if set, otherwise steps are selected from the built-in cascade.
	Steps           []filter.Step
	CoefficientFile string

	// AllowedBadFraction is the share of window weight that may be
	// missing per output sample. Nil means filter.DefaultAllowedBadFraction;
	// a pointer to 0 means strict.
	AllowedBadFraction *float64

	// DataType and Location are stamped on outputs when set.
	DataType string
	Location string
}

// Filter decimates channels through a filter cascade.
type Filter struct {
	Base
	steps      []filter.Step
	allowedBad float64
	dataType   string
	location   string
}

// NewFilter resolves and validates the steps.
func NewFilter(opts FilterOptions) (*Filter, error) {
	allowedBad := filter.DefaultAllowedBadFraction
	if opts.AllowedBadFraction != nil {
		allowedBad = *opts.AllowedBadFraction
	}
	if allowedBad < 0 || allowedBad >= 1 {
		return nil, domain.NewConfigurationError("allowed bad fraction %v outside [0, 1)", allowedBad)
	}

	steps := opts.Steps
	if len(steps) == 0 && opts.CoefficientFile != "" {
		loaded, err := filter.LoadStepsFile(opts.CoefficientFile)
		if err != nil {
			return nil, err
		}
		steps = loaded
	}

	if len(steps) == 0 {
		selected, err := filter.SelectSteps(filter.DefaultSteps(), opts.InputPeriod, opts.OutputPeriod)
		if err != nil {
			return nil, err
		}
		steps = selected
	} else if err := filter.ValidateSteps(steps, opts.InputPeriod, opts.OutputPeriod); err != nil {
		return nil, err
	}

	return &Filter{
		Base:       Base{Inputs: opts.Channels},
		steps:      steps,
		allowedBad: allowedBad,
		dataType:   opts.DataType,
		location:   opts.Location,
	}, nil
}

// Steps returns the resolved cascade.
func (a *Filter) Steps() []filter.Step {
	return append([]filter.Step(nil), a.steps...)
}

// InputInterval widens the window by the cascade's lookback and lookahead.
func (a *Filter) InputInterval(start, end time.Time) (time.Time, time.Time) {
	return filter.InputInterval(a.steps, start, end)
}

// Process filters the input channels.
func (a *Filter) Process(ctx context.Context, ts *timeseries.TimeSeries) (*timeseries.TimeSeries, error) {
	in := ts
	if len(a.Inputs) > 0 {
		in = ts.Select(a.Inputs...)
	}
	out, err := filter.Process(ctx, in, a.steps, a.allowedBad)
	if err != nil {
		return nil, err
	}
	for _, c := range out.Channels() {
		if a.dataType != "" {
			c.SetAttr(timeseries.AttrDataType, a.dataType)
		}
		if a.location != "" {
			c.SetAttr(timeseries.AttrLocation, a.location)
		}
	}
	return out, nil
}
