package algorithm

import (
	"context"
	"fmt"

	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/state"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// State field names used by Adjusted.
const (
	FieldMatrix         = "matrix"
	FieldPierCorrection = "pier_correction"
)

// AdjustedOptions configures an Adjusted transform.
type AdjustedOptions struct {
	Store    state.Store
	StateKey string
	// DataType and Location stamped on outputs (default adjusted / A0).
	DataType string
	Location string
}

// Adjusted applies a 4x4 calibration matrix to [H E Z 1], giving X Y Z,
// and adds a pier correction to F. The matrix and correction come from
// state and default to identity and zero.
type Adjusted struct {
	Base
	store    state.Store
	key      string
	dataType string
	location string

	state  state.State
	matrix [4][4]float64
	pier   float64
}

// NewAdjusted creates an Adjusted transform with identity calibration.
func NewAdjusted(opts AdjustedOptions) *Adjusted {
	a := &Adjusted{
		Base:     Base{Inputs: []string{"H", "E", "Z", "F"}, Outputs: []string{"X", "Y", "Z", "F"}},
		store:    opts.Store,
		key:      opts.StateKey,
		dataType: opts.DataType,
		location: opts.Location,
	}
	if a.dataType == "" {
		a.dataType = "adjusted"
	}
	if a.location == "" {
		a.location = "A0"
	}
	a.setCalibration(state.State{})
	return a
}

// LoadState reads the calibration from the store.
func (a *Adjusted) LoadState(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	s, err := a.store.Load(ctx, a.key)
	if err != nil {
		return fmt.Errorf("failed to load adjusted state: %w", err)
	}
	if m := s.Field(FieldMatrix); m != nil && len(m) != 16 {
		return domain.NewConfigurationError("adjusted state matrix has %d values, want 16", len(m))
	}
	a.setCalibration(s)
	return nil
}

// SaveState writes the calibration back to the store.
func (a *Adjusted) SaveState(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	flat := make([]float64, 0, 16)
	for _, row := range a.matrix {
		flat = append(flat, row[:]...)
	}
	s := a.state.WithField(FieldMatrix, flat...).WithField(FieldPierCorrection, a.pier)
	if err := a.store.Save(ctx, a.key, s); err != nil {
		return fmt.Errorf("failed to save adjusted state: %w", err)
	}
	a.state = s
	return nil
}

func (a *Adjusted) setCalibration(s state.State) {
	a.state = s
	a.matrix = [4][4]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	if m := s.Field(FieldMatrix); len(m) == 16 {
		for i := 0; i < 16; i++ {
			a.matrix[i/4][i%4] = m[i]
		}
	}
	a.pier = s.Scalar(FieldPierCorrection, 0)
}

// Process applies the calibration. Any missing input of H, E or Z makes
// X, Y and Z missing at that sample.
func (a *Adjusted) Process(ctx context.Context, ts *timeseries.TimeSeries) (*timeseries.TimeSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := make([]*timeseries.Channel, 4)
	for i, name := range a.Inputs {
		c, ok := ts.Get(name)
		if !ok {
			return nil, domain.NewConfigurationError("adjusted: input channel %s missing", name)
		}
		in[i] = c
	}
	h, e, z, f := in[0], in[1], in[2], in[3]
	for _, c := range in[1:] {
		if !c.Start.Equal(h.Start) || c.Period != h.Period || c.Len() != h.Len() {
			return nil, domain.NewConfigurationError("adjusted: channel %s is not aligned with H", c.Name)
		}
	}

	n := h.Len()
	outX := make([]timeseries.Sample, n)
	outY := make([]timeseries.Sample, n)
	outZ := make([]timeseries.Sample, n)
	outF := make([]timeseries.Sample, n)
	for i := 0; i < n; i++ {
		if h.Samples[i].Valid && e.Samples[i].Valid && z.Samples[i].Valid {
			raw := [4]float64{h.Samples[i].Value, e.Samples[i].Value, z.Samples[i].Value, 1}
			var adj [3]float64
			for r := 0; r < 3; r++ {
				for c := 0; c < 4; c++ {
					adj[r] += a.matrix[r][c] * raw[c]
				}
			}
			outX[i] = timeseries.Value(adj[0])
			outY[i] = timeseries.Value(adj[1])
			outZ[i] = timeseries.Value(adj[2])
		}
		if f.Samples[i].Valid {
			outF[i] = timeseries.Value(f.Samples[i].Value + a.pier)
		}
	}

	out := timeseries.New()
	for i, samples := range [][]timeseries.Sample{outX, outY, outZ, outF} {
		c := timeseries.NewChannel(a.Outputs[i], h.Start, h.Period, samples)
		for k, v := range in[i].Attrs {
			c.Attrs[k] = v
		}
		c.SetAttr(timeseries.AttrDataType, a.dataType)
		c.SetAttr(timeseries.AttrLocation, a.location)
		out.Add(c)
	}
	return out, nil
}
