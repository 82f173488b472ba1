package storage

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/timeseries"
)

// WireSelector is the JSON form of a Selector. Period is in seconds.
type WireSelector struct {
	Observatory string  `json:"observatory"`
	Network     string  `json:"network,omitempty"`
	DataType    string  `json:"type,omitempty"`
	Location    string  `json:"location,omitempty"`
	Period      float64 `json:"period"`
}

// WireChannel is one channel on the wire. Missing samples are null.
type WireChannel struct {
	Name   string     `json:"name"`
	Start  time.Time  `json:"start"`
	Values []*float64 `json:"values"`
}

// WireSeries is the request and response body of the timeseries endpoint.
type WireSeries struct {
	Selector WireSelector  `json:"selector"`
	Channels []WireChannel `json:"channels"`
}

// ToWire converts a selector.
func (s Selector) ToWire() WireSelector {
	return WireSelector{
		Observatory: s.Observatory,
		Network:     s.Network,
		DataType:    s.DataType,
		Location:    s.Location,
		Period:      s.Period.Seconds(),
	}
}

// Selector converts back to a Selector.
func (w WireSelector) Selector() Selector {
	return Selector{
		Observatory: w.Observatory,
		Network:     w.Network,
		DataType:    w.DataType,
		Location:    w.Location,
		Period:      time.Duration(math.Round(w.Period*1e6)) * time.Microsecond,
	}
}

// Encode converts the named channels of ts (all when none are named).
func Encode(ts *timeseries.TimeSeries, sel Selector, channels []string) WireSeries {
	out := WireSeries{Selector: sel.ToWire()}
	for _, c := range PutChannels(ts, channels) {
		wc := WireChannel{Name: c.Name, Start: c.Start, Values: make([]*float64, len(c.Samples))}
		for i, s := range c.Samples {
			if s.Valid {
				v := s.Value
				wc.Values[i] = &v
			}
		}
		out.Channels = append(out.Channels, wc)
	}
	return out
}

// Decode converts a wire series into a TimeSeries on the selector's period.
func Decode(w WireSeries) (*timeseries.TimeSeries, Selector, error) {
	sel := w.Selector.Selector()
	if err := sel.Validate(); err != nil {
		return nil, sel, err
	}
	ts := timeseries.New()
	for _, wc := range w.Channels {
		if wc.Name == "" {
			return nil, sel, domain.NewConfigurationError("channel without a name")
		}
		samples := make([]timeseries.Sample, len(wc.Values))
		for i, v := range wc.Values {
			if v != nil {
				samples[i] = timeseries.Value(*v)
			}
		}
		c := timeseries.NewChannel(wc.Name, wc.Start, sel.Period, samples)
		for k, v := range sel.Attrs() {
			c.Attrs[k] = v
		}
		ts.Add(c)
	}
	return ts, sel, nil
}

// Query parameter names of the timeseries GET endpoint.
const (
	ParamObservatory = "observatory"
	ParamNetwork     = "network"
	ParamType        = "type"
	ParamLocation    = "location"
	ParamPeriod      = "period"
	ParamStart       = "start"
	ParamEnd         = "end"
	ParamChannels    = "channels"
)

// EncodeQuery builds the GET query for a request.
func EncodeQuery(start, end time.Time, sel Selector, channels []string) url.Values {
	q := url.Values{}
	q.Set(ParamObservatory, sel.Observatory)
	if sel.Network != "" {
		q.Set(ParamNetwork, sel.Network)
	}
	if sel.DataType != "" {
		q.Set(ParamType, sel.DataType)
	}
	if sel.Location != "" {
		q.Set(ParamLocation, sel.Location)
	}
	q.Set(ParamPeriod, strconv.FormatFloat(sel.Period.Seconds(), 'f', -1, 64))
	q.Set(ParamStart, start.UTC().Format(time.RFC3339Nano))
	q.Set(ParamEnd, end.UTC().Format(time.RFC3339Nano))
	q.Set(ParamChannels, strings.Join(channels, ","))
	return q
}

// DecodeQuery parses a GET query.
func DecodeQuery(q url.Values) (start, end time.Time, sel Selector, channels []string, err error) {
	period, perr := strconv.ParseFloat(q.Get(ParamPeriod), 64)
	if perr != nil {
		return start, end, sel, nil, domain.NewConfigurationError("invalid period %q", q.Get(ParamPeriod))
	}
	sel = WireSelector{
		Observatory: q.Get(ParamObservatory),
		Network:     q.Get(ParamNetwork),
		DataType:    q.Get(ParamType),
		Location:    q.Get(ParamLocation),
		Period:      period,
	}.Selector()
	if err = sel.Validate(); err != nil {
		return start, end, sel, nil, err
	}

	if start, err = time.Parse(time.RFC3339Nano, q.Get(ParamStart)); err != nil {
		return start, end, sel, nil, domain.NewConfigurationError("invalid start %q", q.Get(ParamStart))
	}
	if end, err = time.Parse(time.RFC3339Nano, q.Get(ParamEnd)); err != nil {
		return start, end, sel, nil, domain.NewConfigurationError("invalid end %q", q.Get(ParamEnd))
	}
	if end.Before(start) {
		return start, end, sel, nil, domain.NewConfigurationError("end %v is before start %v", end, start)
	}
	for _, c := range strings.Split(q.Get(ParamChannels), ",") {
		if c = strings.TrimSpace(c); c != "" {
			channels = append(channels, c)
		}
	}
	if len(channels) == 0 {
		return start, end, sel, nil, domain.NewConfigurationError("no channels requested")
	}
	return start.UTC(), end.UTC(), sel, channels, nil
}
