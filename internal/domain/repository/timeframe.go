package repository

import "time"

// Timeframe identifies the bar width of a candle stream.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TF1m, TF5m, TF15m, TF1h, TF4h, TF1d:
		return true
	default:
		return false
	}
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF1m }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}

// Duration returns the bar width. Zero for unknown timeframes.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// TruncateTo floors ts to the start of the bucket containing it.
// Buckets are aligned to the Unix epoch in UTC, which lines up with
// session boundaries for the intraday timeframes.
func (tf Timeframe) TruncateTo(ts time.Time) time.Time {
	d := tf.Duration()
	if d <= 0 {
		return ts
	}
	return ts.UTC().Truncate(d)
}

// BucketsPer reports how many bars of tf fit in one bar of coarser.
// Zero when coarser is not an integer multiple of tf.
func (tf Timeframe) BucketsPer(coarser Timeframe) int {
	fine, wide := tf.Duration(), coarser.Duration()
	if fine <= 0 || wide <= 0 || wide%fine != 0 {
		return 0
	}
	return int(wide / fine)
}

// AllTimeframes lists supported timeframes from finest to coarsest.
func AllTimeframes() []Timeframe {
	return []Timeframe{TF1m, TF5m, TF15m, TF1h, TF4h, TF1d}
}
