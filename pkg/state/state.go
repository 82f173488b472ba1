// Package state holds the persisted continuity and calibration data of
// stateful transforms, and the stores that keep it between invocations.
//
// A state key has exactly one writer at a time. Stores do no key locking;
// callers serialize invocations that share a key.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nicktill/geomag/pkg/domain"
)

// Version is the current state document version.
const Version = 1

// State is the document a stateful transform persists. The bookkeeping
// fields identify the next chunk the transform expects; Fields carries
// transform-specific numbers such as a calibration matrix or smoothing
// components.
type State struct {
	Version          int                  `json:"version"`
	LastStation      string               `json:"last_station,omitempty"`
	LastChannel      string               `json:"last_channel,omitempty"`
	LastSamplePeriod float64              `json:"last_sample_period,omitempty"` // seconds
	NextStartTime    *time.Time           `json:"next_start_time,omitempty"`
	Fields           map[string][]float64 `json:"fields,omitempty"`
}

// Store loads and saves state documents by key. Load of an unknown key
// returns an empty state and no error.
type Store interface {
	Load(ctx context.Context, key string) (State, error)
	Save(ctx context.Context, key string, s State) error
}

// HasPosition reports whether any bookkeeping field is set.
func (s State) HasPosition() bool {
	return s.LastStation != "" || s.LastChannel != "" || s.LastSamplePeriod != 0 || s.NextStartTime != nil
}

// Period returns LastSamplePeriod as a duration.
func (s State) Period() time.Duration {
	return time.Duration(math.Round(s.LastSamplePeriod*1e6)) * time.Microsecond
}

// Expects reports whether a chunk starting at start continues the state.
func (s State) Expects(station, channel string, start time.Time) bool {
	return s.NextStartTime != nil &&
		s.LastStation == station &&
		s.LastChannel == channel &&
		s.NextStartTime.Equal(start)
}

// CheckContinuity returns a continuity violation when the state has a
// position and the chunk does not continue it exactly. An empty state
// accepts any chunk.
func (s State) CheckContinuity(station, channel string, period time.Duration, start time.Time) error {
	if !s.HasPosition() {
		return nil
	}
	if s.Expects(station, channel, start) && s.Period() == period {
		return nil
	}
	var next string
	if s.NextStartTime != nil {
		next = s.NextStartTime.UTC().Format(time.RFC3339Nano)
	}
	return domain.NewContinuityViolationError("chunk (%s, %s, %v, %s) does not continue state (%s, %s, %v, %s)",
		station, channel, period, start.UTC().Format(time.RFC3339Nano),
		s.LastStation, s.LastChannel, s.Period(), next)
}

// Advance returns a copy of s positioned after a processed chunk.
func (s State) Advance(station, channel string, period time.Duration, next time.Time) State {
	out := s.Clone()
	out.Version = Version
	out.LastStation = station
	out.LastChannel = channel
	out.LastSamplePeriod = period.Seconds()
	n := next.UTC()
	out.NextStartTime = &n
	return out
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	if s.NextStartTime != nil {
		n := *s.NextStartTime
		out.NextStartTime = &n
	}
	if s.Fields != nil {
		out.Fields = make(map[string][]float64, len(s.Fields))
		for k, v := range s.Fields {
			out.Fields[k] = append([]float64(nil), v...)
		}
	}
	return out
}

// Field returns a named field, or nil.
func (s State) Field(name string) []float64 {
	return s.Fields[name]
}

// Scalar returns the first value of a field, or def when it is absent.
func (s State) Scalar(name string, def float64) float64 {
	if v := s.Fields[name]; len(v) > 0 {
		return v[0]
	}
	return def
}

// WithField returns a copy of s with a field set.
func (s State) WithField(name string, values ...float64) State {
	out := s.Clone()
	if out.Fields == nil {
		out.Fields = make(map[string][]float64)
	}
	out.Fields[name] = append([]float64(nil), values...)
	return out
}

// Marshal encodes the state document.
func Marshal(s State) ([]byte, error) {
	if s.Version == 0 {
		s.Version = Version
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a state document. Empty input is an empty state.
func Unmarshal(data []byte) (State, error) {
	var s State
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, domain.NewConfigurationError("invalid state document: %v", err)
	}
	if s.Version > Version {
		return State{}, domain.NewConfigurationError("state document version %d is newer than %d", s.Version, Version)
	}
	return s, nil
}
