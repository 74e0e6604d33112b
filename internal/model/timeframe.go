package model

import "time"

// Timeframe decides how a series buckets market events into bars.
// Exactly one field is non-zero: Secs for wall-clock bars aligned to the
// Unix epoch (midnight UTC), Ticks for bars closed after N trades.
// Value-typed and comparable, so it can be used inside map keys.
type Timeframe struct {
	Secs  int `json:"secs,omitempty"`
	Ticks int `json:"ticks,omitempty"`
}

// Seconds returns a duration timeframe of n seconds.
func Seconds(n int) Timeframe { return Timeframe{Secs: n} }

// Minutes returns a duration timeframe of n minutes.
func Minutes(n int) Timeframe { return Timeframe{Secs: n * 60} }

// Hours returns a duration timeframe of n hours.
func Hours(n int) Timeframe { return Timeframe{Secs: n * 3600} }

// TickCount returns a timeframe that closes a bar every n trades.
func TickCount(n int) Timeframe { return Timeframe{Ticks: n} }

// ByTicks reports whether bars close on trade count rather than wall clock.
func (tf Timeframe) ByTicks() bool { return tf.Ticks > 0 }

// Valid reports whether exactly one bucketing rule is set.
func (tf Timeframe) Valid() bool {
	return (tf.Secs > 0) != (tf.Ticks > 0)
}

// BucketStart returns the start of the epoch-aligned duration bucket
// containing ts. Only meaningful for duration timeframes.
func (tf Timeframe) BucketStart(ts time.Time) time.Time {
	u := ts.Unix()
	u -= u % int64(tf.Secs)
	return time.Unix(u, 0).UTC()
}

// BucketEnd returns the exclusive end of the bucket containing ts.
func (tf Timeframe) BucketEnd(ts time.Time) time.Time {
	return tf.BucketStart(ts).Add(time.Duration(tf.Secs) * time.Second)
}

// String renders "60s" or "100t". Used in stream keys, so it avoids fmt.
func (tf Timeframe) String() string {
	if tf.ByTicks() {
		return Itoa(tf.Ticks) + "t"
	}
	return Itoa(tf.Secs) + "s"
}
