// Package filter implements the cascaded decimation filter: weighted-window
// (FIR) and bucket-average steps that turn a high-rate channel into a
// lower-rate, phase-aligned one while tolerating missing samples.
package filter

import (
	"time"

	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// Kind tags how a step places its output relative to its window.
type Kind string

const (
	// WeightedWindow centers the window on the output timestamp.
	WeightedWindow Kind = "weighted-window"
	// BucketAverage stamps the output at the start of its bucket.
	BucketAverage Kind = "bucket-average"
)

// Step is one rate-changing stage of a cascade. Steps are values and are
// never mutated after construction.
type Step struct {
	Name         string
	Kind         Kind
	InputPeriod  time.Duration
	OutputPeriod time.Duration
	Window       []float64
}

// Validate checks periods, window and kind.
func (s Step) Validate() error {
	if s.InputPeriod <= 0 || s.OutputPeriod <= 0 {
		return domain.NewConfigurationError("step %q: periods must be positive", s.Name)
	}
	if s.OutputPeriod%s.InputPeriod != 0 {
		return domain.NewConfigurationError("step %q: output period %v is not a multiple of input period %v",
			s.Name, s.OutputPeriod, s.InputPeriod)
	}
	if len(s.Window) == 0 {
		return domain.NewConfigurationError("step %q: empty window", s.Name)
	}
	if weightSum(s.Window) <= 0 {
		return domain.NewConfigurationError("step %q: window weights must have a positive sum", s.Name)
	}
	switch s.Kind {
	case WeightedWindow:
		if len(s.Window)%2 == 0 {
			return domain.NewConfigurationError("step %q: weighted window needs an odd tap count, got %d",
				s.Name, len(s.Window))
		}
	case BucketAverage:
	default:
		return domain.NewConfigurationError("step %q: unknown kind %q", s.Name, s.Kind)
	}
	return nil
}

// Taps returns the window length.
func (s Step) Taps() int {
	return len(s.Window)
}

// Decimation returns OutputPeriod / InputPeriod.
func (s Step) Decimation() int {
	return int(s.OutputPeriod / s.InputPeriod)
}

// HalfWidth is the time from the window's first sample to its center.
func (s Step) HalfWidth() time.Duration {
	return time.Duration(s.Taps()-1) * s.InputPeriod / 2
}

// Bounds describes one output position of a step.
type Bounds struct {
	// Time is the output timestamp.
	Time time.Time
	// Center is the filter center.
	Center time.Time
	// DataStart and DataEnd are the first and last input samples used.
	DataStart time.Time
	DataEnd   time.Time
}

// Nearest returns the output position nearest to t. With left set the
// position at or before t is returned, otherwise the one at or after t.
func (s Step) Nearest(t time.Time, left bool) Bounds {
	interval := timeseries.FloorTime(t, s.OutputPeriod)
	if !left && interval.Before(t) {
		interval = interval.Add(s.OutputPeriod)
	}
	half := s.HalfWidth()

	if s.Kind == BucketAverage {
		return Bounds{
			Time:      interval,
			Center:    interval.Add(half),
			DataStart: interval,
			DataEnd:   interval.Add(s.OutputPeriod - s.InputPeriod),
		}
	}
	return Bounds{
		Time:      interval,
		Center:    interval,
		DataStart: interval.Add(-half),
		DataEnd:   interval.Add(half),
	}
}

// leadOffset is the distance from a step's first input sample to its
// output timestamp.
func (s Step) leadOffset() time.Duration {
	if s.Kind == BucketAverage {
		return 0
	}
	return s.HalfWidth()
}

func weightSum(w []float64) float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}
