package timeseries

import (
	"math"
	"time"
)

// Well-known channel attribute keys. The core treats attributes as opaque.
const (
	AttrStation  = "station"
	AttrNetwork  = "network"
	AttrDataType = "data_type"
	AttrLocation = "location"
)

// Sample is one value of a channel, or a missing marker.
type Sample struct {
	Value float64
	Valid bool
}

// Value returns a valid sample.
func Value(v float64) Sample {
	return Sample{Value: v, Valid: true}
}

// Missing returns the missing marker.
func Missing() Sample {
	return Sample{}
}

// Channel is a named, fixed-period sequence of samples.
type Channel struct {
	Name    string
	Start   time.Time
	Period  time.Duration
	Samples []Sample
	Attrs   map[string]string
}

// NewChannel creates a channel. Start is normalized to UTC.
func NewChannel(name string, start time.Time, period time.Duration, samples []Sample) *Channel {
	return &Channel{
		Name:    name,
		Start:   start.UTC(),
		Period:  period,
		Samples: samples,
		Attrs:   make(map[string]string),
	}
}

// FromValues builds a channel from plain floats; NaN becomes missing.
func FromValues(name string, start time.Time, period time.Duration, values []float64) *Channel {
	samples := make([]Sample, len(values))
	for i, v := range values {
		if !math.IsNaN(v) {
			samples[i] = Value(v)
		}
	}
	return NewChannel(name, start, period, samples)
}

// Empty creates an all-missing channel covering [start, end]. The first
// sample is the first multiple of period at or after start.
func Empty(name string, start, end time.Time, period time.Duration, attrs map[string]string) *Channel {
	first := CeilTime(start, period)
	n := 0
	if period > 0 && !end.Before(first) {
		n = int(end.Sub(first)/period) + 1
	}
	c := NewChannel(name, first, period, make([]Sample, n))
	for k, v := range attrs {
		c.Attrs[k] = v
	}
	return c
}

// Len returns the number of samples.
func (c *Channel) Len() int {
	return len(c.Samples)
}

// TimeAt returns the timestamp of sample i.
func (c *Channel) TimeAt(i int) time.Time {
	return c.Start.Add(time.Duration(i) * c.Period)
}

// End returns the time of the last sample. An empty channel ends one
// period before it starts.
func (c *Channel) End() time.Time {
	return c.TimeAt(len(c.Samples) - 1)
}

// IndexOf returns the index of the sample at exactly t.
func (c *Channel) IndexOf(t time.Time) (int, bool) {
	d := t.Sub(c.Start)
	if d < 0 || c.Period <= 0 || d%c.Period != 0 {
		return 0, false
	}
	i := int(d / c.Period)
	if i >= len(c.Samples) {
		return 0, false
	}
	return i, true
}

// ValidCount returns the number of non-missing samples.
func (c *Channel) ValidCount() int {
	n := 0
	for _, s := range c.Samples {
		if s.Valid {
			n++
		}
	}
	return n
}

// Attr returns an attribute or "".
func (c *Channel) Attr(key string) string {
	if c.Attrs == nil {
		return ""
	}
	return c.Attrs[key]
}

// SetAttr sets an attribute.
func (c *Channel) SetAttr(key, value string) {
	if c.Attrs == nil {
		c.Attrs = make(map[string]string)
	}
	c.Attrs[key] = value
}

// Copy returns a deep copy.
func (c *Channel) Copy() *Channel {
	samples := make([]Sample, len(c.Samples))
	copy(samples, c.Samples)
	out := NewChannel(c.Name, c.Start, c.Period, samples)
	for k, v := range c.Attrs {
		out.Attrs[k] = v
	}
	return out
}

// Slice returns a copy holding only the samples inside [start, end].
func (c *Channel) Slice(start, end time.Time) *Channel {
	out := c.Copy()
	first := 0
	if start.After(c.Start) {
		first = ceilDiv(start.Sub(c.Start), c.Period)
	}
	last := len(c.Samples) - 1
	if end.Before(c.End()) {
		last = int(floorDiv(end.Sub(c.Start), c.Period))
	}
	if first > len(c.Samples) {
		first = len(c.Samples)
	}
	if last < first-1 {
		last = first - 1
	}
	out.Samples = out.Samples[first : last+1]
	out.Start = c.TimeAt(first)
	return out
}

// PadTrim returns a copy of c whose first and last samples are the grid
// points of c nearest to start and end from the inside. Samples outside the
// range are dropped and missing samples are inserted to fill it.
func PadTrim(c *Channel, start, end time.Time) *Channel {
	if c.Period <= 0 {
		return c.Copy()
	}
	if len(c.Samples) == 0 {
		return Empty(c.Name, start, end, c.Period, c.Attrs)
	}
	out := c.Copy()
	d := out.Period

	if out.Start.Before(start) {
		cnt := ceilDiv(start.Sub(out.Start), d)
		drop := cnt
		if drop > len(out.Samples) {
			drop = len(out.Samples)
		}
		out.Samples = out.Samples[drop:]
		out.Start = out.Start.Add(time.Duration(cnt) * d)
	} else if out.Start.After(start) {
		cnt := int(out.Start.Sub(start) / d)
		if cnt > 0 {
			out.Samples = append(make([]Sample, cnt), out.Samples...)
			out.Start = out.Start.Add(-time.Duration(cnt) * d)
		}
	}

	outEnd := out.End()
	if outEnd.After(end) {
		cnt := ceilDiv(outEnd.Sub(end), d)
		if cnt > len(out.Samples) {
			cnt = len(out.Samples)
		}
		out.Samples = out.Samples[:len(out.Samples)-cnt]
	} else if outEnd.Before(end) {
		cnt := int(end.Sub(outEnd) / d)
		if cnt > 0 {
			out.Samples = append(out.Samples, make([]Sample, cnt)...)
		}
	}
	return out
}

// FloorTime rounds t down to a multiple of period since the Unix epoch.
func FloorTime(t time.Time, period time.Duration) time.Time {
	if period <= 0 {
		return t.UTC()
	}
	ns := t.UnixNano()
	r := ns % int64(period)
	if r < 0 {
		r += int64(period)
	}
	return time.Unix(0, ns-r).UTC()
}

// CeilTime rounds t up to a multiple of period since the Unix epoch.
func CeilTime(t time.Time, period time.Duration) time.Time {
	f := FloorTime(t, period)
	if f.Before(t) {
		f = f.Add(period)
	}
	return f
}

// IsAligned reports whether t is a multiple of period.
func IsAligned(t time.Time, period time.Duration) bool {
	return FloorTime(t, period).Equal(t)
}

func ceilDiv(d, p time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + p - 1) / p)
}

func floorDiv(d, p time.Duration) int64 {
	q := d / p
	if d%p != 0 && d < 0 {
		q--
	}
	return int64(q)
}
