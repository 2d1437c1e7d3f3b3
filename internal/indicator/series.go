package indicator

import (
	"math"

	"FinScan/internal/domain/models"
)

// Series helpers for batch computations over stored bars. Used by the
// scoring request builder and by replays that warm a Stream from history.

// LogReturns computes r_t = ln(C_t / C_{t-1}) over a bar slice.
// Returns a slice of length len(bars)-1, or nil if insufficient data.
func LogReturns(bars []models.Candle) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		cur := bars[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility computes annualized realized volatility over the last
// window returns using the given bars-per-year scale.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sum := 0.0
	sum2 := 0.0
	for i := len(logReturns) - window; i < len(logReturns); i++ {
		r := logReturns[i]
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * barsPerYear)
}

// BarsPerYear returns the approximate bar count per year for a timeframe.
func BarsPerYear(tf string) float64 {
	switch tf {
	case "1m":
		return 365 * 24 * 60
	case "5m":
		return 365 * 24 * 12
	case "15m":
		return 365 * 24 * 4
	case "1h":
		return 365 * 24
	case "4h":
		return 365 * 6
	case "1d":
		return 365
	default:
		return 365 * 24 * 60
	}
}

// Replay feeds an ordered bar slice through a fresh Stream and returns it.
// Out-of-order bars in the input are skipped rather than poisoning state.
func Replay(bars []models.Candle) *Stream {
	st := NewStream()
	for _, b := range bars {
		_ = st.Update(b)
	}
	return st
}
