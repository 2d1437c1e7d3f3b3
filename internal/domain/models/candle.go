package models

import "time"

// Candle is one OHLCV bar of a (symbol, timeframe) stream. The triple
// (symbol, timeframe, ts) is the primary key everywhere; writing the same
// key twice is an upsert, never a duplicate.
type Candle struct {
	Symbol     string
	Timeframe  string
	TS         time.Time // bucket start, UTC
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	VWAP       float64
	TradeCount int64
	Source     string // provider tag, e.g. "massive"
	Adjusted   bool
}

// Symbol is a tracked instrument. Unique by (Ticker, Exchange); created on
// first observation, LastSeen bumped on every ingested bar.
type Symbol struct {
	Ticker    string
	Exchange  string
	AssetType string // "equity", "etf", "crypto"
	Currency  string
	FirstSeen time.Time
	LastSeen  time.Time
}

// Quote is an optional top-of-book snapshot attached to a bar at detection
// time. Zero Bid/Ask means no quote was available.
type Quote struct {
	Bid float64
	Ask float64
}

// SpreadBps returns the bid/ask spread in basis points of the midpoint,
// or 0 when the quote is missing or crossed.
func (q Quote) SpreadBps() float64 {
	if q.Bid <= 0 || q.Ask <= 0 || q.Ask < q.Bid {
		return 0
	}
	mid := (q.Bid + q.Ask) / 2
	if mid == 0 {
		return 0
	}
	return (q.Ask - q.Bid) / mid * 10000
}

// Session flags stamped on signals.
const (
	SessionPre     = 0
	SessionRegular = 1
	SessionAfter   = 2
)

// SessionFlag classifies ts against the regular US equity session
// (13:30-20:00 UTC).
func SessionFlag(ts time.Time) int {
	u := ts.UTC()
	mins := u.Hour()*60 + u.Minute()
	switch {
	case mins < 13*60+30:
		return SessionPre
	case mins >= 20*60:
		return SessionAfter
	default:
		return SessionRegular
	}
}
