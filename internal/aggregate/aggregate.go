package aggregate

import (
	"fmt"
	"sort"
	"time"

	"FinScan/internal/domain/models"
	"FinScan/internal/domain/repository"
)

// Derive computes higher-timeframe bars from finer source bars by flooring
// each source timestamp into buckets of the target width. src must be
// ascending by timestamp. Only closed buckets are returned: a bucket is
// closed once its end boundary has fully elapsed relative to the data the
// latest source bar covers. Partially filled open buckets are never
// emitted, and gaps in the source produce gaps in the output.
func Derive(src []models.Candle, srcTF, dstTF repository.Timeframe) ([]models.Candle, error) {
	if n := srcTF.BucketsPer(dstTF); n < 2 {
		return nil, fmt.Errorf("cannot derive %s from %s", dstTF, srcTF)
	}
	if len(src) == 0 {
		return nil, nil
	}

	srcW := srcTF.Duration()
	dstW := dstTF.Duration()

	type acc struct {
		start time.Time
		bar   models.Candle
		pv    float64 // sum vwap*volume for the volume-weighted vwap
		n     int
	}
	buckets := make(map[time.Time]*acc)
	order := make([]time.Time, 0)
	latest := src[0].TS

	for _, b := range src {
		if b.TS.After(latest) {
			latest = b.TS
		}
		start := dstTF.TruncateTo(b.TS)
		a, ok := buckets[start]
		if !ok {
			a = &acc{start: start, bar: models.Candle{
				Symbol:    b.Symbol,
				Timeframe: string(dstTF),
				TS:        start,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Source:    b.Source,
				Adjusted:  b.Adjusted,
			}}
			buckets[start] = a
			order = append(order, start)
		}
		if b.High > a.bar.High {
			a.bar.High = b.High
		}
		if b.Low < a.bar.Low {
			a.bar.Low = b.Low
		}
		a.bar.Close = b.Close
		a.bar.Volume += b.Volume
		a.bar.TradeCount += b.TradeCount
		vwap := b.VWAP
		if vwap <= 0 {
			vwap = (b.High + b.Low + b.Close) / 3
		}
		a.pv += vwap * b.Volume
		a.n++
	}

	// The latest source bar covers [latest, latest+srcW); nothing after
	// that boundary is known yet.
	available := latest.Add(srcW)

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	out := make([]models.Candle, 0, len(order))
	for _, start := range order {
		if start.Add(dstW).After(available) {
			continue // bucket still open
		}
		a := buckets[start]
		if a.bar.Volume > 0 {
			a.bar.VWAP = a.pv / a.bar.Volume
		} else {
			a.bar.VWAP = a.bar.Close
		}
		out = append(out, a.bar)
	}
	return out, nil
}
