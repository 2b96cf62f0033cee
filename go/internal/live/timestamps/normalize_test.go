package timestamps

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	now := time.UnixMilli(1_750_000_000_123)
	n := NewNormalizer(clockwork.NewFakeClockAt(now))

	cases := []struct {
		name string
		in   any
		want int64
	}{
		{"nil falls back to now", nil, now.UnixMilli()},
		{"string falls back to now", "1700000000", now.UnixMilli()},
		{"bool falls back to now", true, now.UnixMilli()},
		{"NaN falls back to now", math.NaN(), now.UnixMilli()},
		{"infinity falls back to now", math.Inf(1), now.UnixMilli()},
		{"zero falls back to now", float64(0), now.UnixMilli()},
		{"negative falls back to now", float64(-5), now.UnixMilli()},
		{"seconds are scaled", float64(1_700_000_000), 1_700_000_000_000},
		{"fractional seconds round", 1_700_000_000.2346, 1_700_000_000_235},
		{"milliseconds pass through", float64(1_700_000_000_000), 1_700_000_000_000},
		{"fractional milliseconds round", 1_700_000_000_000.6, 1_700_000_000_001},
		{"int seconds", 1_700_000_000, 1_700_000_000_000},
		{"int64 milliseconds", int64(1_700_000_000_000), 1_700_000_000_000},
		{"json number", json.Number("1700000000"), 1_700_000_000_000},
		{"bad json number", json.Number("x"), now.UnixMilli()},
		{"threshold itself is seconds", float64(MillisecondThreshold), MillisecondThreshold * 1000},
		{"beyond int64 falls back to now", 1e19, now.UnixMilli()},
		{"2^63 falls back to now", float64(1 << 63), now.UnixMilli()},
		{"huge falls back to now", 1e300, now.UnixMilli()},
		{"uint64 max falls back to now", uint64(math.MaxUint64), now.UnixMilli()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, n.Normalize(tc.in))
		})
	}
}

func TestNormalizeIsPositiveForAllScales(t *testing.T) {
	for _, in := range []any{
		nil, float64(1_700_000_000), float64(1_700_000_000_000),
		1e19, float64(1 << 63), 1e300, math.MaxFloat64,
	} {
		got := Normalize(in)
		assert.Positive(t, got)
		assert.Greater(t, got, int64(MillisecondThreshold), "normalized value should be in the millisecond range")
	}
}

func TestZeroValueNormalizerUsesRealClock(t *testing.T) {
	before := time.Now().UnixMilli()
	got := Normalizer{}.Normalize(nil)
	assert.GreaterOrEqual(t, got, before)
}
