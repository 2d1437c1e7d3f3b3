package detector

import (
	"context"
	"fmt"

	"FinScan/internal/domain/models"
	"FinScan/internal/domain/service"
)

// BreakoutID is the rule detector id matched from configuration.
const BreakoutID = "breakout20"

// breakoutParams is the parsed parameter bag. Gate bounds follow the
// original breakout20 calibration; the momentum/trend/risk filters can be
// disabled per detector version.
type breakoutParams struct {
	lookback     int
	volMult      float64
	momentumGate bool
	trendGate    bool
	riskGate     bool
	rsiMin       float64
	rsiMax       float64
	vwapMinPct   float64
	vwapMaxPct   float64
	sma20MinPct  float64
	sma20MaxPct  float64
	bbPctileMin  float64
	bbPctileMax  float64
}

// Breakout fires when the close newly exceeds the maximum high of the
// preceding lookback bars with a confirming volume spike. The entry is
// edge-triggered: a bar that merely stays in breakout state after the
// crossing bar does not fire again.
type Breakout struct {
	spec models.DetectorSpec
	p    breakoutParams
}

func NewBreakout(spec models.DetectorSpec) (*Breakout, error) {
	p := breakoutParams{
		lookback:     10,
		volMult:      1.5,
		momentumGate: true,
		trendGate:    true,
		riskGate:     true,
		rsiMin:       55,
		rsiMax:       85,
		vwapMinPct:   -1,
		vwapMaxPct:   5,
		sma20MinPct:  2,
		sma20MaxPct:  12,
		bbPctileMin:  3,
		bbPctileMax:  75,
	}
	get := func(key string, def float64) float64 {
		if v, ok := spec.Params[key]; ok {
			return v
		}
		return def
	}
	p.lookback = int(get("lookback", float64(p.lookback)))
	p.volMult = get("vol_mult", p.volMult)
	p.momentumGate = get("momentum_gate", 1) != 0
	p.trendGate = get("trend_gate", 1) != 0
	p.riskGate = get("risk_gate", 1) != 0
	p.rsiMin = get("rsi_min", p.rsiMin)
	p.rsiMax = get("rsi_max", p.rsiMax)
	p.vwapMinPct = get("vwap_min_pct", p.vwapMinPct)
	p.vwapMaxPct = get("vwap_max_pct", p.vwapMaxPct)
	p.sma20MinPct = get("sma20_min_pct", p.sma20MinPct)
	p.sma20MaxPct = get("sma20_max_pct", p.sma20MaxPct)
	p.bbPctileMin = get("bb_pctile_min", p.bbPctileMin)
	p.bbPctileMax = get("bb_pctile_max", p.bbPctileMax)

	if p.lookback != 10 {
		return nil, &models.ConfigValidationError{
			Field: "detectors." + spec.ID,
			Msg:   fmt.Sprintf("lookback %d unsupported, the indicator window is 10", p.lookback),
		}
	}
	if p.volMult <= 0 {
		return nil, &models.ConfigValidationError{Field: "detectors." + spec.ID, Msg: "vol_mult must be positive"}
	}
	if p.rsiMin >= p.rsiMax || p.sma20MinPct >= p.sma20MaxPct || p.bbPctileMin >= p.bbPctileMax {
		return nil, &models.ConfigValidationError{Field: "detectors." + spec.ID, Msg: "gate bounds inverted"}
	}
	return &Breakout{spec: spec, p: p}, nil
}

func (b *Breakout) Spec() models.DetectorSpec { return b.spec }

func (b *Breakout) Evaluate(_ context.Context, in service.EvalInput) (*models.SignalCandidate, error) {
	fv := in.Features

	closePx, okC := fv.Get(models.FeatClose)
	hhv, okH := fv.Get(models.FeatHHV10)
	relVol, okV := fv.Get(models.FeatRelVol10)
	if !okC || !okH || !okV {
		return nil, nil // not evaluable yet
	}
	if !(closePx > hhv && relVol >= b.p.volMult) {
		return nil, nil
	}

	// Non-repeat: only the first crossing fires. If the previous bar
	// already satisfied the core entry against its own trailing window,
	// this bar is a continuation, not a new breakout.
	prevClose, okPC := fv.Get(models.FeatClosePrev)
	prevHHV, okPH := fv.Get(models.FeatHHV10Prev)
	prevVol, okPV := fv.Get(models.FeatRelVol10Prev)
	if okPC && okPH && okPV && prevClose > prevHHV && prevVol >= b.p.volMult {
		return nil, nil
	}

	if b.p.momentumGate {
		rsi, ok := fv.Get(models.FeatRSI14)
		if !ok || rsi < b.p.rsiMin || rsi > b.p.rsiMax {
			return nil, nil
		}
		hist, ok1 := fv.Get(models.FeatMACDHist)
		histPrev, ok2 := fv.Get(models.FeatMACDHistPrev)
		if !ok1 || !ok2 || hist <= 0 || hist-histPrev <= 0 {
			return nil, nil
		}
	}
	if b.p.trendGate {
		vwapDist, ok := fv.Get(models.FeatVWAPDist)
		if !ok {
			return nil, nil
		}
		if pct := vwapDist * 100; pct < b.p.vwapMinPct || pct > b.p.vwapMaxPct {
			return nil, nil
		}
		sma20, ok1 := fv.Get(models.FeatSMA20)
		sma50, ok2 := fv.Get(models.FeatSMA50)
		if !ok1 || !ok2 || sma20 <= 0 || sma50 <= 0 {
			return nil, nil
		}
		pct20 := (closePx/sma20 - 1) * 100
		if pct20 < b.p.sma20MinPct || pct20 > b.p.sma20MaxPct {
			return nil, nil
		}
		if (closePx/sma50-1)*100 < 0 {
			return nil, nil
		}
	}
	if b.p.riskGate {
		pctile, ok := fv.Get(models.FeatBBWidthPctile)
		if !ok || pctile < b.p.bbPctileMin || pctile > b.p.bbPctileMax {
			return nil, nil
		}
	}

	return &models.SignalCandidate{
		Side:  models.SideLong,
		Score: b.score(closePx, hhv, relVol, fv, in.HigherTF),
	}, nil
}

// score blends breakout strength, volume, momentum, multi-timeframe
// confirmation and risk placement into a 0-100 value. Components whose
// inputs are still warming up contribute zero.
func (b *Breakout) score(closePx, hhv, relVol float64, fv models.FeatureVector, higher map[string]models.FeatureVector) float64 {
	clamp01 := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}

	breakout := 0.0
	if hhv > 0 {
		breakout = closePx/hhv - 1
	}
	score := clamp01(breakout/0.02) * 40
	score += clamp01(relVol-1) * 25

	var bitSum float64
	if rsi, ok := fv.Get(models.FeatRSI14); ok {
		bitSum += clamp01((rsi - 50) / 35)
	}
	if hist, ok := fv.Get(models.FeatMACDHist); ok && hist > 0 {
		bitSum++
	}
	if pctB, ok := fv.Get(models.FeatBBPctB); ok && pctB >= 0.3 && pctB <= 0.8 {
		bitSum++
	}
	score += bitSum / 3 * 20

	if confirmHigherTF(higher) {
		score += 10
	}

	if atr, ok := fv.Get(models.FeatATR14); ok && closePx > 0 {
		atrp := atr / closePx * 100
		score += (1 - clamp01(atrp/5)) * 5
	}
	return score
}

// confirmHigherTF checks trend alignment on the coarser streams: 15m close
// above SMA20 and SMA50, 1h close above SMA20, 4h close at or above SMA20.
// Any missing stream or cold indicator counts as no confirmation.
func confirmHigherTF(higher map[string]models.FeatureVector) bool {
	fv15, ok := higher["15m"]
	if !ok {
		return false
	}
	c15, ok1 := fv15.Get(models.FeatClose)
	s20, ok2 := fv15.Get(models.FeatSMA20)
	s50, ok3 := fv15.Get(models.FeatSMA50)
	if !ok1 || !ok2 || !ok3 || c15 <= s20 || c15 <= s50 {
		return false
	}

	fv1h, ok := higher["1h"]
	if !ok {
		return false
	}
	c1h, ok1 := fv1h.Get(models.FeatClose)
	s1h, ok2 := fv1h.Get(models.FeatSMA20)
	if !ok1 || !ok2 || c1h <= s1h {
		return false
	}

	fv4h, ok := higher["4h"]
	if !ok {
		return false
	}
	c4h, ok1 := fv4h.Get(models.FeatClose)
	s4h, ok2 := fv4h.Get(models.FeatSMA20)
	if !ok1 || !ok2 || c4h < s4h {
		return false
	}
	return true
}
