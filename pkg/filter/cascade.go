package filter

import (
	"math"
	"time"

	"github.com/nicktill/geomag/pkg/domain"
)

// Built-in step names.
const (
	StepTenHertz  = "10Hz"
	StepOneMinute = "Intermagnet One Minute"
	StepOneHour   = "One Hour"
	StepOneDay    = "One Day"
)

// DefaultSteps returns the built-in cascade:
//
//	0.1s -> 1s      123-tap Blackman windowed-sinc, 0.25 Hz cutoff
//	1s   -> 60s     91-tap Gaussian, std 15.8734 samples
//	60s  -> 3600s   hourly bucket average
//	60s  -> 86400s  daily bucket average
func DefaultSteps() []Step {
	return []Step{
		{
			Name:         StepTenHertz,
			Kind:         WeightedWindow,
			InputPeriod:  100 * time.Millisecond,
			OutputPeriod: time.Second,
			Window:       LowPass(123, 0.25, 10),
		},
		{
			Name:         StepOneMinute,
			Kind:         WeightedWindow,
			InputPeriod:  time.Second,
			OutputPeriod: time.Minute,
			Window:       Gaussian(91, 15.8734),
		},
		{
			Name:         StepOneHour,
			Kind:         BucketAverage,
			InputPeriod:  time.Minute,
			OutputPeriod: time.Hour,
			Window:       Boxcar(60),
		},
		{
			Name:         StepOneDay,
			Kind:         BucketAverage,
			InputPeriod:  time.Minute,
			OutputPeriod: 24 * time.Hour,
			Window:       Boxcar(1440),
		},
	}
}

// SelectSteps picks the steps of cascade that take input to output.
// A step is eligible when its input period is at least the requested input
// period and its output period does not pass the target. Bucket-average
// steps are only taken when they land exactly on the target, since their
// output cannot feed another step of the cascade.
//
// The chosen steps must chain from input to output; anything else is a
// configuration error.
func SelectSteps(cascade []Step, input, output time.Duration) ([]Step, error) {
	var chosen []Step
	for _, s := range cascade {
		if s.InputPeriod < input || s.OutputPeriod > output {
			continue
		}
		if s.Kind == BucketAverage && s.OutputPeriod != output {
			continue
		}
		chosen = append(chosen, s)
	}
	if len(chosen) == 0 {
		return nil, domain.NewConfigurationError("no filter steps from %v to %v", input, output)
	}
	if err := checkChain(chosen, input, output); err != nil {
		return nil, err
	}
	return chosen, nil
}

// ValidateSteps validates each step and checks that they chain.
func ValidateSteps(steps []Step, input, output time.Duration) error {
	if len(steps) == 0 {
		return domain.NewConfigurationError("no filter steps from %v to %v", input, output)
	}
	for _, s := range steps {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return checkChain(steps, input, output)
}

func checkChain(steps []Step, input, output time.Duration) error {
	current := input
	for _, s := range steps {
		if s.InputPeriod != current {
			return domain.NewConfigurationError("step %q expects input period %v, cascade is at %v",
				s.Name, s.InputPeriod, current)
		}
		current = s.OutputPeriod
	}
	if current != output {
		return domain.NewConfigurationError("filter steps end at %v, want %v", current, output)
	}
	return nil
}

// InputInterval returns the raw input window needed to produce output over
// [start, end]. The cascade is walked from the last step to the first,
// widening start to the data start of the left-bound output and end to the
// data end of the right-bound output.
func InputInterval(steps []Step, start, end time.Time) (time.Time, time.Time) {
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		start = s.Nearest(start, true).DataStart
		end = s.Nearest(end, false).DataEnd
	}
	return start, end
}

// LowPass returns a windowed-sinc low pass filter with a Blackman window,
// scaled to unity gain at DC. cutoff and fs are in Hz.
func LowPass(taps int, cutoff, fs float64) []float64 {
	c := cutoff / (fs / 2)
	alpha := float64(taps-1) / 2
	w := make([]float64, taps)
	for n := range w {
		m := float64(n) - alpha
		w[n] = c * sinc(c*m) * blackman(n, taps)
	}
	return normalize(w)
}

// Gaussian returns a Gaussian window of std samples, scaled to sum 1.
func Gaussian(taps int, std float64) []float64 {
	center := float64(taps-1) / 2
	w := make([]float64, taps)
	for n := range w {
		x := (float64(n) - center) / std
		w[n] = math.Exp(-0.5 * x * x)
	}
	return normalize(w)
}

// Boxcar returns n unit weights.
func Boxcar(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func blackman(n, taps int) float64 {
	if taps == 1 {
		return 1
	}
	x := float64(n) / float64(taps-1)
	return 0.42 - 0.5*math.Cos(2*math.Pi*x) + 0.08*math.Cos(4*math.Pi*x)
}

func normalize(w []float64) []float64 {
	sum := weightSum(w)
	if sum == 0 {
		return w
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}
