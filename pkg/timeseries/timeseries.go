// Package timeseries provides the fixed-rate, multi-channel container the
// pipeline passes between data sources and transforms.
//
// A TimeSeries is a set of channels keyed by name. Channels produced by one
// stage nominally share start and period, but nothing here enforces it;
// callers select channels by name and validate alignment where they need it.
package timeseries

import "time"

// TimeSeries is a collection of channels with unique names, kept in
// insertion order.
type TimeSeries struct {
	channels map[string]*Channel
	order    []string
}

// New creates a series from channels. Later channels replace earlier ones
// with the same name.
func New(channels ...*Channel) *TimeSeries {
	ts := &TimeSeries{channels: make(map[string]*Channel, len(channels))}
	for _, c := range channels {
		ts.Add(c)
	}
	return ts
}

// Add inserts or replaces a channel.
func (ts *TimeSeries) Add(c *Channel) {
	if ts.channels == nil {
		ts.channels = make(map[string]*Channel)
	}
	if _, exists := ts.channels[c.Name]; !exists {
		ts.order = append(ts.order, c.Name)
	}
	ts.channels[c.Name] = c
}

// Get returns the named channel.
func (ts *TimeSeries) Get(name string) (*Channel, bool) {
	c, ok := ts.channels[name]
	return c, ok
}

// Names returns the channel names in insertion order.
func (ts *TimeSeries) Names() []string {
	out := make([]string, len(ts.order))
	copy(out, ts.order)
	return out
}

// Channels returns the channels in insertion order.
func (ts *TimeSeries) Channels() []*Channel {
	out := make([]*Channel, 0, len(ts.order))
	for _, name := range ts.order {
		out = append(out, ts.channels[name])
	}
	return out
}

// Len returns the number of channels.
func (ts *TimeSeries) Len() int {
	return len(ts.order)
}

// Select returns a series holding the named channels that exist, in the
// order given. Channels are shared, not copied. With no names it selects all.
func (ts *TimeSeries) Select(names ...string) *TimeSeries {
	if len(names) == 0 {
		return New(ts.Channels()...)
	}
	out := New()
	for _, name := range names {
		if c, ok := ts.channels[name]; ok {
			out.Add(c)
		}
	}
	return out
}

// Copy returns a deep copy.
func (ts *TimeSeries) Copy() *TimeSeries {
	out := New()
	for _, c := range ts.Channels() {
		out.Add(c.Copy())
	}
	return out
}

// Rename returns a copy with channels renamed by the mapping. Unmapped
// channels keep their names.
func (ts *TimeSeries) Rename(mapping map[string]string) *TimeSeries {
	out := New()
	for _, c := range ts.Channels() {
		cp := c.Copy()
		if to, ok := mapping[c.Name]; ok && to != "" {
			cp.Name = to
		}
		out.Add(cp)
	}
	return out
}

// Trim returns a copy with every channel restricted to [start, end].
func (ts *TimeSeries) Trim(start, end time.Time) *TimeSeries {
	out := New()
	for _, c := range ts.Channels() {
		out.Add(c.Slice(start, end))
	}
	return out
}

// PadTrim returns a copy with every channel padded and trimmed to [start, end].
func (ts *TimeSeries) PadTrim(start, end time.Time) *TimeSeries {
	out := New()
	for _, c := range ts.Channels() {
		out.Add(PadTrim(c, start, end))
	}
	return out
}

// Span returns the earliest start and latest end over all non-empty channels.
func (ts *TimeSeries) Span() (start, end time.Time, ok bool) {
	for _, c := range ts.Channels() {
		if c.Len() == 0 {
			continue
		}
		if !ok || c.Start.Before(start) {
			start = c.Start
		}
		if !ok || c.End().After(end) {
			end = c.End()
		}
		ok = true
	}
	return start, end, ok
}
