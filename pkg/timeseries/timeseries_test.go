package timeseries

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPadTrim(t *testing.T) {
	tests := []struct {
		name      string
		start     time.Time
		n         int
		reqStart  time.Time
		reqEnd    time.Time
		wantStart time.Time
		wantLen   int
		wantValid int
	}{
		{
			name:      "exact",
			start:     t0,
			n:         10,
			reqStart:  t0,
			reqEnd:    t0.Add(9 * time.Second),
			wantStart: t0,
			wantLen:   10,
			wantValid: 10,
		},
		{
			name:      "pad both sides",
			start:     t0.Add(5 * time.Second),
			n:         5,
			reqStart:  t0,
			reqEnd:    t0.Add(19 * time.Second),
			wantStart: t0,
			wantLen:   20,
			wantValid: 5,
		},
		{
			name:      "trim both sides",
			start:     t0,
			n:         20,
			reqStart:  t0.Add(5 * time.Second),
			reqEnd:    t0.Add(9 * time.Second),
			wantStart: t0.Add(5 * time.Second),
			wantLen:   5,
			wantValid: 5,
		},
		{
			name:      "channel entirely before range",
			start:     t0,
			n:         3,
			reqStart:  t0.Add(10 * time.Second),
			reqEnd:    t0.Add(20 * time.Second),
			wantStart: t0.Add(10 * time.Second),
			wantLen:   11,
			wantValid: 0,
		},
		{
			name:      "channel entirely after range",
			start:     t0.Add(30 * time.Second),
			n:         3,
			reqStart:  t0.Add(10 * time.Second),
			reqEnd:    t0.Add(20 * time.Second),
			wantStart: t0.Add(10 * time.Second),
			wantLen:   11,
			wantValid: 0,
		},
		{
			name:      "non-integer shift snaps inside range",
			start:     t0.Add(500 * time.Millisecond),
			n:         5,
			reqStart:  t0,
			reqEnd:    t0.Add(10 * time.Second),
			wantStart: t0.Add(500 * time.Millisecond),
			wantLen:   10,
			wantValid: 5,
		},
		{
			name:      "non-integer trim rounds toward the requested edge",
			start:     t0,
			n:         10,
			reqStart:  t0.Add(1500 * time.Millisecond),
			reqEnd:    t0.Add(7500 * time.Millisecond),
			wantStart: t0.Add(2 * time.Second),
			wantLen:   6,
			wantValid: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := make([]float64, tt.n)
			for i := range values {
				values[i] = float64(i)
			}
			c := FromValues("H", tt.start, time.Second, values)
			got := PadTrim(c, tt.reqStart, tt.reqEnd)

			assert.True(t, got.Start.Equal(tt.wantStart), "start = %v, want %v", got.Start, tt.wantStart)
			assert.Equal(t, tt.wantLen, got.Len())
			assert.Equal(t, tt.wantValid, got.ValidCount())
			assert.False(t, got.Start.Before(tt.reqStart))
			assert.False(t, got.End().After(tt.reqEnd))
			// original is untouched
			assert.Equal(t, tt.n, c.Len())
		})
	}
}

func TestPadTrim_EmptyChannel(t *testing.T) {
	c := NewChannel("Z", t0, time.Minute, nil)
	got := PadTrim(c, t0.Add(30*time.Second), t0.Add(10*time.Minute))

	require.Equal(t, 10, got.Len())
	assert.True(t, got.Start.Equal(t0.Add(time.Minute)))
	assert.Equal(t, 0, got.ValidCount())
}

func TestEmpty(t *testing.T) {
	c := Empty("F", t0.Add(100*time.Millisecond), t0.Add(5*time.Second), time.Second, map[string]string{AttrStation: "BOU"})

	require.Equal(t, 5, c.Len())
	assert.True(t, c.Start.Equal(t0.Add(time.Second)))
	assert.Equal(t, "BOU", c.Attr(AttrStation))
	assert.Equal(t, 0, c.ValidCount())
}

func TestChannel_FromValuesAndIndex(t *testing.T) {
	c := FromValues("H", t0, time.Second, []float64{1, math.NaN(), 3})

	assert.Equal(t, 2, c.ValidCount())
	assert.False(t, c.Samples[1].Valid)

	i, ok := c.IndexOf(t0.Add(2 * time.Second))
	require.True(t, ok)
	assert.Equal(t, 2, i)

	_, ok = c.IndexOf(t0.Add(1500 * time.Millisecond))
	assert.False(t, ok)
	_, ok = c.IndexOf(t0.Add(3 * time.Second))
	assert.False(t, ok)

	assert.False(t, c.Samples[1].Valid)
	assert.Equal(t, Value(3), c.Samples[2])
}

func TestChannel_Slice(t *testing.T) {
	c := FromValues("H", t0, time.Second, []float64{0, 1, 2, 3, 4, 5})

	s := c.Slice(t0.Add(1500*time.Millisecond), t0.Add(4*time.Second))
	require.Equal(t, 3, s.Len())
	assert.True(t, s.Start.Equal(t0.Add(2*time.Second)))
	assert.Equal(t, 2.0, s.Samples[0].Value)

	none := c.Slice(t0.Add(time.Hour), t0.Add(2*time.Hour))
	assert.Equal(t, 0, none.Len())
}

func TestTimeSeries_SelectRenameTrim(t *testing.T) {
	h := FromValues("H", t0, time.Second, []float64{1, 2, 3})
	e := FromValues("E", t0, time.Second, []float64{4, 5, 6})
	ts := New(h, e)

	assert.Equal(t, []string{"H", "E"}, ts.Names())
	assert.Equal(t, []string{"E"}, ts.Select("E", "missing").Names())

	renamed := ts.Rename(map[string]string{"H": "X"})
	assert.Equal(t, []string{"X", "E"}, renamed.Names())
	_, ok := ts.Get("X")
	assert.False(t, ok, "rename must not mutate the source series")

	trimmed := ts.Trim(t0.Add(time.Second), t0.Add(time.Second))
	c, ok := trimmed.Get("E")
	require.True(t, ok)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 5.0, c.Samples[0].Value)

	start, end, ok := ts.Span()
	require.True(t, ok)
	assert.True(t, start.Equal(t0))
	assert.True(t, end.Equal(t0.Add(2*time.Second)))
}

func TestFloorCeilTime(t *testing.T) {
	tm := t0.Add(90 * time.Second)
	assert.True(t, FloorTime(tm, time.Minute).Equal(t0.Add(time.Minute)))
	assert.True(t, CeilTime(tm, time.Minute).Equal(t0.Add(2*time.Minute)))
	assert.True(t, CeilTime(t0, time.Minute).Equal(t0))
	assert.True(t, IsAligned(t0.Add(100*time.Millisecond), 100*time.Millisecond))
	assert.False(t, IsAligned(t0.Add(150*time.Millisecond), 100*time.Millisecond))
}
