// Package timestamps converts wire timestamps into millisecond epochs.
//
// The live servers emit float seconds while clients emit milliseconds, so
// every timestamp crossing the wire goes through the same scale heuristic.
package timestamps

import (
	"encoding/json"
	"math"

	"github.com/jonboulle/clockwork"
)

// MillisecondThreshold separates the two scales: anything above it is
// already milliseconds. Second-scale values only cross it in the year 2286.
const MillisecondThreshold = 10_000_000_000

// Normalizer maps arbitrary decoded JSON values onto ms epochs.
type Normalizer struct {
	clock clockwork.Clock
}

// NewNormalizer returns a Normalizer whose fallback is clock.Now().
func NewNormalizer(clock clockwork.Clock) Normalizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return Normalizer{clock: clock}
}

// Normalize returns v as a millisecond epoch. Missing, non-numeric, non-finite,
// non-positive or out-of-range values fall back to the current time so a
// malformed payload moves state forward instead of backward.
func (n Normalizer) Normalize(v any) int64 {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return n.now()
	}
	ms := f
	if f <= MillisecondThreshold {
		ms = f * 1000
	}
	ms = math.Round(ms)
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold
	if ms >= float64(math.MaxInt64) {
		return n.now()
	}
	return int64(ms)
}

// Now returns the fallback clock reading in ms.
func (n Normalizer) Now() int64 {
	return n.now()
}

func (n Normalizer) now() int64 {
	if n.clock == nil {
		return clockwork.NewRealClock().Now().UnixMilli()
	}
	return n.clock.Now().UnixMilli()
}

// Normalize uses the real clock as fallback.
func Normalize(v any) int64 {
	return Normalizer{}.Normalize(v)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
