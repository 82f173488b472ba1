// Package algorithm defines the transform contract the controller drives
// and the transforms built on it.
package algorithm

import (
	"context"
	"time"

	"github.com/nicktill/geomag/pkg/gaps"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// Transform turns input channels into output channels.
type Transform interface {
	// InputChannels are the channels Process needs.
	InputChannels() []string
	// OutputChannels are the channels Process produces.
	OutputChannels() []string
	// InputInterval widens [start, end] to the input window needed to
	// produce output over it.
	InputInterval(start, end time.Time) (time.Time, time.Time)
	// CanProduce reports whether ts holds enough input to produce
	// anything over [start, end].
	CanProduce(start, end time.Time, ts *timeseries.TimeSeries) bool
	// Process runs the transform.
	Process(ctx context.Context, ts *timeseries.TimeSeries) (*timeseries.TimeSeries, error)
}

// Stateful is a transform that keeps state between invocations. Process
// updates the in-memory state after every success; SaveState persists it.
// A crash before SaveState reprocesses the same chunk next time.
type Stateful interface {
	Transform
	LoadState(ctx context.Context) error
	SaveState(ctx context.Context) error
}

// Base provides the default channel lists, identity input interval and
// gap-based CanProduce.
type Base struct {
	Inputs  []string
	Outputs []string
}

// InputChannels returns the configured inputs.
func (b Base) InputChannels() []string {
	return append([]string(nil), b.Inputs...)
}

// OutputChannels returns the configured outputs, or the inputs when no
// outputs are configured.
func (b Base) OutputChannels() []string {
	if len(b.Outputs) == 0 {
		return b.InputChannels()
	}
	return append([]string(nil), b.Outputs...)
}

// InputInterval returns [start, end] unchanged.
func (b Base) InputInterval(start, end time.Time) (time.Time, time.Time) {
	return start, end
}

// CanProduce is false only when one merged gap over the input channels
// covers all of [start, end]. Gaps touching an edge do not block.
func (b Base) CanProduce(start, end time.Time, ts *timeseries.TimeSeries) bool {
	return canProduce(start, end, ts, b.Inputs)
}

func canProduce(start, end time.Time, ts *timeseries.TimeSeries, channels []string) bool {
	for _, g := range gaps.Find(ts, channels) {
		if g.Covers(start, end) {
			return false
		}
	}
	return true
}
