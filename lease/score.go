package lease

import (
	"math"
	"time"
)

// The index maps cache keys to numeric expiry scores. One monotonic,
// order-preserving encoding is shared by the writer and the sweeper:
// milliseconds since the Unix epoch, truncated. Pre-epoch instants map to
// negative scores and keep their ordering.

// Score encodes t as an index score.
func Score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// TimeOf decodes an index score back to a timestamp, at millisecond
// resolution.
func TimeOf(score float64) time.Time {
	return time.UnixMilli(int64(score))
}

// pinScore marks a key as never sweep-eligible while readers hold it.
var pinScore = math.MaxFloat64

// negInf is the lower bound used when popping expired index entries.
var negInf = math.Inf(-1)
