// Package gaps detects runs of missing samples and merges them across
// channels.
package gaps

import (
	"sort"
	"time"

	"github.com/nicktill/geomag/pkg/timeseries"
)

// Gap is one contiguous run of missing samples.
//
// Start is the first missing sample, End the last missing sample and Next
// the first valid sample after the run. A run reaching the end of a channel
// is a terminal gap: Next is where one more sample would have been, and
// callers must treat it as open-ended.
type Gap struct {
	Start time.Time
	End   time.Time
	Next  time.Time
}

// Covers reports whether the gap spans the whole of [start, end].
// A gap that only touches one edge does not cover the range.
func (g Gap) Covers(start, end time.Time) bool {
	return !start.Before(g.Start) && !start.After(g.End) && end.Before(g.Next)
}

// Detect scans a channel for gaps.
func Detect(c *timeseries.Channel) []Gap {
	var out []Gap
	inGap := false
	var gapStart time.Time

	for i, s := range c.Samples {
		if !s.Valid {
			if !inGap {
				inGap = true
				gapStart = c.TimeAt(i)
			}
			continue
		}
		if inGap {
			out = append(out, Gap{Start: gapStart, End: c.TimeAt(i - 1), Next: c.TimeAt(i)})
			inGap = false
		}
	}
	if inGap {
		n := len(c.Samples)
		out = append(out, Gap{Start: gapStart, End: c.TimeAt(n - 1), Next: c.TimeAt(n)})
	}
	return out
}

// DetectAll runs Detect on the named channels of ts, or every channel when
// no names are given. Named channels absent from ts are skipped.
func DetectAll(ts *timeseries.TimeSeries, channels []string) map[string][]Gap {
	out := make(map[string][]Gap)
	for _, c := range ts.Select(channels...).Channels() {
		out[c.Name] = Detect(c)
	}
	return out
}

// Merge flattens per-channel gaps into the minimal sorted set of
// non-overlapping gaps covering their union.
func Merge(byChannel map[string][]Gap) []Gap {
	var all []Gap
	for _, gs := range byChannel {
		all = append(all, gs...)
	}
	if len(all) == 0 {
		return nil
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Start.Equal(all[j].Start) {
			if all[i].End.Equal(all[j].End) {
				return all[i].Next.Before(all[j].Next)
			}
			return all[i].End.Before(all[j].End)
		}
		return all[i].Start.Before(all[j].Start)
	})

	merged := make([]Gap, 0, len(all))
	acc := all[0]
	for _, g := range all[1:] {
		if g.Start.After(acc.Next) {
			merged = append(merged, acc)
			acc = g
			continue
		}
		if g.End.After(acc.End) {
			acc.End = g.End
			acc.Next = g.Next
		}
	}
	return append(merged, acc)
}

// Find is DetectAll followed by Merge.
func Find(ts *timeseries.TimeSeries, channels []string) []Gap {
	return Merge(DetectAll(ts, channels))
}
