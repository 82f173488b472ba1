package algorithm

import (
	"context"

	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// Identity copies its input channels unchanged.
type Identity struct {
	Base
}

// NewIdentity creates an identity transform over channels.
func NewIdentity(channels []string) *Identity {
	return &Identity{Base: Base{Inputs: channels}}
}

// Process copies the inputs.
func (a *Identity) Process(ctx context.Context, ts *timeseries.TimeSeries) (*timeseries.TimeSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(a.Inputs) == 0 {
		return ts.Copy(), nil
	}
	for _, name := range a.Inputs {
		if _, ok := ts.Get(name); !ok {
			return nil, domain.NewConfigurationError("identity: input channel %s missing", name)
		}
	}
	return ts.Select(a.Inputs...).Copy(), nil
}
