package filter

import "github.com/nicktill/geomag/pkg/timeseries"

// DefaultAllowedBadFraction is the share of window weight that may be
// missing before an output sample is marked missing.
const DefaultAllowedBadFraction = 0.1

// weightTolerance absorbs float rounding when comparing valid weight to the
// threshold, so that exactly (1-allowedBad) of the weight still counts.
const weightTolerance = 1e-9

// Convolve slides window across samples, emitting one output every
// decimation samples starting at samples[0].
//
// Missing samples are left out of the weighted sum and out of the valid
// weight. An output is missing when the valid weight falls below
// (1-allowedBad) of the full weight; otherwise it is the weighted sum
// normalized by the valid weight.
func Convolve(samples []timeseries.Sample, window []float64, decimation int, allowedBad float64) []timeseries.Sample {
	taps := len(window)
	if taps == 0 || decimation <= 0 || len(samples) < taps {
		return nil
	}
	full := weightSum(window)
	threshold := (1 - allowedBad) * full * (1 - weightTolerance)

	count := (len(samples)-taps)/decimation + 1
	out := make([]timeseries.Sample, count)
	for k := range out {
		off := k * decimation
		var sum, valid float64
		for j, w := range window {
			s := samples[off+j]
			if !s.Valid {
				continue
			}
			sum += w * s.Value
			valid += w
		}
		if valid <= 0 || valid < threshold {
			continue
		}
		out[k] = timeseries.Value(sum / valid)
	}
	return out
}
