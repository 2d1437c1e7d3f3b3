package indicator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"FinScan/internal/domain/models"
)

// Stream is the incremental indicator state machine for one
// (symbol, timeframe) pair. Updates must arrive in strictly increasing
// timestamp order; the caller owns that ordering (single writer per
// stream). Every indicator advances in O(1) amortized per bar.
type Stream struct {
	lastTS   time.Time
	lastBar  models.Candle
	barCount int

	prevClose     float64
	closePrevFeat float64

	gains  *wilder
	losses *wilder
	rsi    float64
	rsiOK  bool
	rsiMin *monoDeque
	rsiMax *monoDeque
	stoch  float64
	stokOK bool

	emaFast    *ema
	emaSlow    *ema
	sigEMA     *ema
	macdLine   float64
	macdOK     bool
	macdSig    float64
	sigOK      bool
	hist       float64
	histOK     bool
	histPrev   float64
	histPrevOK bool

	sma20  *rollWindow
	sma50  *rollWindow
	sma200 *rollWindow
	ema20  *ema
	ema50  *ema
	ema200 *ema

	atr *wilder

	bbWidth  float64
	bbPctB   float64
	bbPctBOK bool
	bbOK     bool
	bbWidths *rollWindow
	bbPctile float64
	bbPctOK  bool

	hhvDeque     *monoDeque
	hhvCur       float64
	hhvCurOK     bool
	hhvPrev      float64
	hhvPrevOK    bool
	vol10        *rollWindow
	vol20        *rollWindow
	relVol10     float64
	relVol10OK   bool
	relVol10Pr   float64
	relVol10PrOK bool
	relVol20     float64
	relVol20OK   bool

	sessionDay string
	cumPV      float64
	cumV       float64
	vwapDist   float64
	vwapOK     bool
}

// NewStream returns an empty state machine with the standard window set:
// RSI(14), MACD(12,26,9), SMA/EMA 20/50/200, ATR(14), Bollinger(20,2),
// StochRSI(14), HHV(10), relative volume over 10 and 20 bars.
func NewStream() *Stream {
	return &Stream{
		gains:    newWilder(14),
		losses:   newWilder(14),
		rsiMin:   newMinDeque(14),
		rsiMax:   newMaxDeque(14),
		emaFast:  newEMA(12),
		emaSlow:  newEMA(26),
		sigEMA:   newEMA(9),
		sma20:    newRollWindow(20),
		sma50:    newRollWindow(50),
		sma200:   newRollWindow(200),
		ema20:    newEMA(20),
		ema50:    newEMA(50),
		ema200:   newEMA(200),
		atr:      newWilder(14),
		bbWidths: newRollWindow(60),
		hhvDeque: newMaxDeque(10),
		vol10:    newRollWindow(10),
		vol20:    newRollWindow(20),
	}
}

// Update advances every indicator by one closed bar.
func (s *Stream) Update(bar models.Candle) error {
	if s.barCount > 0 && !bar.TS.After(s.lastTS) {
		return fmt.Errorf("out of order bar: %s not after %s",
			bar.TS.UTC().Format(time.RFC3339), s.lastTS.UTC().Format(time.RFC3339))
	}
	s.barCount++

	// Previous-bar derived values, kept for edge-triggered entries.
	s.hhvPrev, s.hhvPrevOK = s.hhvCur, s.hhvCurOK
	s.relVol10Pr, s.relVol10PrOK = s.relVol10, s.relVol10OK
	s.closePrevFeat = s.prevClose

	// HHV and trailing volume averages exclude the current bar: read the
	// window first, then push.
	s.hhvCurOK = s.hhvDeque.Ready()
	if s.hhvCurOK {
		s.hhvCur = s.hhvDeque.Value()
	}
	s.hhvDeque.Push(bar.High)

	s.relVol10OK = false
	if s.vol10.Ready() {
		if avg := s.vol10.Mean(); avg > 0 {
			s.relVol10 = bar.Volume / avg
			s.relVol10OK = true
		}
	}
	s.relVol20OK = false
	if s.vol20.Ready() {
		if avg := s.vol20.Mean(); avg > 0 {
			s.relVol20 = bar.Volume / avg
			s.relVol20OK = true
		}
	}
	s.vol10.Push(bar.Volume)
	s.vol20.Push(bar.Volume)

	// RSI and ATR need a previous close.
	if s.barCount > 1 {
		delta := bar.Close - s.prevClose
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		s.gains.Push(gain)
		s.losses.Push(loss)
		if s.gains.Ready() {
			if al := s.losses.Value(); al == 0 {
				s.rsi = 100
			} else {
				rs := s.gains.Value() / al
				s.rsi = 100 - 100/(1+rs)
			}
			s.rsiOK = true
			s.rsiMin.Push(s.rsi)
			s.rsiMax.Push(s.rsi)
			if s.rsiMin.Ready() {
				lo, hi := s.rsiMin.Value(), s.rsiMax.Value()
				if hi > lo {
					s.stoch = (s.rsi - lo) / (hi - lo)
					s.stokOK = true
				} else {
					s.stokOK = false
				}
			}
		}

		tr := bar.High - bar.Low
		if v := math.Abs(bar.High - s.prevClose); v > tr {
			tr = v
		}
		if v := math.Abs(bar.Low - s.prevClose); v > tr {
			tr = v
		}
		s.atr.Push(tr)
	}

	// MACD over closes.
	s.emaFast.Push(bar.Close)
	s.emaSlow.Push(bar.Close)
	if s.emaSlow.Ready() {
		line := s.emaFast.Value() - s.emaSlow.Value()
		s.macdLine, s.macdOK = line, true
		s.sigEMA.Push(line)
		if s.sigEMA.Ready() {
			s.histPrev, s.histPrevOK = s.hist, s.histOK
			s.macdSig, s.sigOK = s.sigEMA.Value(), true
			s.hist, s.histOK = line-s.macdSig, true
		}
	}

	// Moving averages over closes.
	s.sma20.Push(bar.Close)
	s.sma50.Push(bar.Close)
	s.sma200.Push(bar.Close)
	s.ema20.Push(bar.Close)
	s.ema50.Push(bar.Close)
	s.ema200.Push(bar.Close)

	// Bollinger from the 20-bar window just updated.
	s.bbOK = false
	s.bbPctBOK = false
	if s.sma20.Ready() {
		mid := s.sma20.Mean()
		sd := s.sma20.StdDev()
		if mid > 0 {
			upper, lower := mid+2*sd, mid-2*sd
			s.bbWidth = (upper - lower) / mid
			s.bbOK = true
			if upper > lower {
				s.bbPctB = (bar.Close - lower) / (upper - lower)
				s.bbPctBOK = true
			}
			s.bbWidths.Push(s.bbWidth)
			s.bbPctOK = s.bbWidths.Ready()
			if s.bbPctOK {
				s.bbPctile = percentileRank(s.bbWidths.Values(), s.bbWidth)
			}
		}
	}

	// Session VWAP distance; the cumulative resets at the UTC date
	// boundary, which never splits a US equity session.
	day := bar.TS.UTC().Format("2006-01-02")
	if day != s.sessionDay {
		s.sessionDay = day
		s.cumPV, s.cumV = 0, 0
	}
	px := bar.VWAP
	if px <= 0 {
		px = (bar.High + bar.Low + bar.Close) / 3
	}
	s.cumPV += px * bar.Volume
	s.cumV += bar.Volume
	s.vwapOK = false
	if s.cumV > 0 {
		if sess := s.cumPV / s.cumV; sess > 0 {
			s.vwapDist = (bar.Close - sess) / sess
			s.vwapOK = true
		}
	}

	s.prevClose = bar.Close
	s.lastTS = bar.TS
	s.lastBar = bar
	return nil
}

// Snapshot returns the point-in-time feature vector. Keys are present only
// once their indicator has warmed up; consumers must treat absent keys as
// not evaluable.
func (s *Stream) Snapshot() models.FeatureVector {
	fv := models.NewFeatureVector()
	if s.barCount == 0 {
		return fv
	}
	put := func(ok bool, key string, v float64) {
		if ok {
			fv.Values[key] = v
		}
	}
	fv.Values[models.FeatClose] = s.lastBar.Close
	fv.Values[models.FeatVolume] = s.lastBar.Volume
	put(s.barCount > 1, models.FeatClosePrev, s.closePrevFeat)
	put(s.rsiOK, models.FeatRSI14, s.rsi)
	put(s.macdOK, models.FeatMACDLine, s.macdLine)
	put(s.sigOK, models.FeatMACDSignal, s.macdSig)
	put(s.histOK, models.FeatMACDHist, s.hist)
	put(s.histPrevOK, models.FeatMACDHistPrev, s.histPrev)
	put(s.sma20.Ready(), models.FeatSMA20, s.sma20.Mean())
	put(s.sma50.Ready(), models.FeatSMA50, s.sma50.Mean())
	put(s.sma200.Ready(), models.FeatSMA200, s.sma200.Mean())
	put(s.ema20.Ready(), models.FeatEMA20, s.ema20.Value())
	put(s.ema50.Ready(), models.FeatEMA50, s.ema50.Value())
	put(s.ema200.Ready(), models.FeatEMA200, s.ema200.Value())
	put(s.atr.Ready(), models.FeatATR14, s.atr.Value())
	put(s.bbOK, models.FeatBBWidth, s.bbWidth)
	put(s.bbPctBOK, models.FeatBBPctB, s.bbPctB)
	put(s.bbPctOK, models.FeatBBWidthPctile, s.bbPctile)
	put(s.stokOK, models.FeatStochRSI, s.stoch)
	put(s.relVol10OK, models.FeatRelVol10, s.relVol10)
	put(s.relVol10PrOK, models.FeatRelVol10Prev, s.relVol10Pr)
	put(s.relVol20OK, models.FeatRelVol20, s.relVol20)
	put(s.vwapOK, models.FeatVWAPDist, s.vwapDist)
	put(s.hhvCurOK, models.FeatHHV10, s.hhvCur)
	put(s.hhvPrevOK, models.FeatHHV10Prev, s.hhvPrev)
	return fv
}

// LastTS returns the timestamp of the last applied bar.
func (s *Stream) LastTS() (time.Time, bool) { return s.lastTS, s.barCount > 0 }

// Count returns how many bars the stream has absorbed.
func (s *Stream) Count() int { return s.barCount }

func percentileRank(values []float64, v float64) float64 {
	if len(values) == 0 {
		return 0
	}
	le := 0
	for _, x := range values {
		if x <= v {
			le++
		}
	}
	return float64(le) / float64(len(values)) * 100
}

// Engine routes bars to per-stream state machines. Stream creation is
// guarded; per-stream mutation relies on the single-writer discipline
// enforced by the runner's shard assignment.
type Engine struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

func NewEngine() *Engine {
	return &Engine{streams: make(map[string]*Stream)}
}

func streamKey(symbol, tf string) string { return symbol + "|" + tf }

// Stream returns the state machine for a pair, creating it on first use.
func (e *Engine) Stream(symbol, tf string) *Stream {
	key := streamKey(symbol, tf)
	e.mu.RLock()
	st, ok := e.streams[key]
	e.mu.RUnlock()
	if ok {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.streams[key]; ok {
		return st
	}
	st = NewStream()
	e.streams[key] = st
	return st
}

// Update applies a closed bar to its stream.
func (e *Engine) Update(bar models.Candle) error {
	return e.Stream(bar.Symbol, bar.Timeframe).Update(bar)
}

// Snapshot returns the feature vector for a pair, if the stream exists.
func (e *Engine) Snapshot(symbol, tf string) (models.FeatureVector, bool) {
	key := streamKey(symbol, tf)
	e.mu.RLock()
	st, ok := e.streams[key]
	e.mu.RUnlock()
	if !ok {
		return models.FeatureVector{}, false
	}
	return st.Snapshot(), true
}

// LastTS returns the last applied timestamp for a pair.
func (e *Engine) LastTS(symbol, tf string) (time.Time, bool) {
	key := streamKey(symbol, tf)
	e.mu.RLock()
	st, ok := e.streams[key]
	e.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	return st.LastTS()
}
