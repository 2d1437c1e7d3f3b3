package labeler

import (
	"math"
	"testing"
	"time"

	"FinScan/internal/domain/models"
)

var windowStart = time.Date(2025, 6, 2, 13, 50, 0, 0, time.UTC)

func fwdBar(i int, high, low, closePx float64) models.Candle {
	return models.Candle{
		Symbol:    "AAPL",
		Timeframe: "5m",
		TS:        windowStart.Add(time.Duration(i) * 5 * time.Minute),
		Open:      closePx,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    10000,
	}
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestComputeOutcomeLong(t *testing.T) {
	window := []models.Candle{
		fwdBar(0, 100.5, 99.5, 100.2),
		fwdBar(1, 101.2, 99.0, 101.0),
		fwdBar(2, 102.0, 100.0, 101.5),
		fwdBar(3, 104.0, 101.0, 103.5),
		fwdBar(4, 103.8, 102.0, 103.0),
	}
	grid := models.TargetSet{Targets: []float64{0.01, 0.05}, Stop: 0.02, SameBar: models.SameBarStopFirst}

	out := computeOutcome(models.SideLong, 100, window, grid)

	approx(t, "ret_close", out.RetClose, 0.03)
	approx(t, "max_run_up", out.MaxRunUp, 0.04)
	approx(t, "max_drawdown", out.MaxDrawdown, -0.01)
	if !out.Targets[0].Hit || out.Targets[0].BarIndex != 2 {
		t.Errorf("tp1 = %+v, want hit on bar 2", out.Targets[0])
	}
	if out.Targets[1].Hit {
		t.Errorf("tp2 = %+v, want unhit", out.Targets[1])
	}
	if out.Stop.Hit {
		t.Errorf("stop = %+v, want unhit", out.Stop)
	}
}

func TestComputeOutcomeSameBarPolicy(t *testing.T) {
	// One wide bar crosses the 1% target and the 1% stop together.
	window := []models.Candle{fwdBar(0, 101.5, 98.5, 100.0)}
	grid := models.TargetSet{Targets: []float64{0.01}, Stop: 0.01}

	grid.SameBar = models.SameBarStopFirst
	out := computeOutcome(models.SideLong, 100, window, grid)
	if !out.Stop.Hit || out.Stop.BarIndex != 1 {
		t.Errorf("stop-first: stop = %+v, want hit on bar 1", out.Stop)
	}
	if out.Targets[0].Hit {
		t.Errorf("stop-first: tp = %+v, want unhit", out.Targets[0])
	}

	grid.SameBar = models.SameBarTargetFirst
	out = computeOutcome(models.SideLong, 100, window, grid)
	if !out.Targets[0].Hit || out.Targets[0].BarIndex != 1 {
		t.Errorf("target-first: tp = %+v, want hit on bar 1", out.Targets[0])
	}
	if !out.Stop.Hit || out.Stop.BarIndex != 1 {
		t.Errorf("target-first: stop = %+v, want hit on bar 1", out.Stop)
	}
}

func TestComputeOutcomeStopEndsCrediting(t *testing.T) {
	// Stop is struck alone on bar 1; the target level trades on bar 2 but
	// the position is already out.
	window := []models.Candle{
		fwdBar(0, 100.1, 98.9, 99.0),
		fwdBar(1, 102.0, 99.0, 101.8),
	}
	grid := models.TargetSet{Targets: []float64{0.015}, Stop: 0.01, SameBar: models.SameBarStopFirst}

	out := computeOutcome(models.SideLong, 100, window, grid)
	if !out.Stop.Hit || out.Stop.BarIndex != 1 {
		t.Errorf("stop = %+v, want hit on bar 1", out.Stop)
	}
	if out.Targets[0].Hit {
		t.Errorf("tp = %+v, want uncredited after the stop", out.Targets[0])
	}

	// Excursion stats still span the whole window.
	approx(t, "max_run_up", out.MaxRunUp, 0.02)
	approx(t, "max_drawdown", out.MaxDrawdown, -0.011)
}

func TestComputeOutcomeShortSide(t *testing.T) {
	window := []models.Candle{
		fwdBar(0, 100.4, 99.0, 99.2),
		fwdBar(1, 102.1, 99.5, 102.0),
	}
	grid := models.TargetSet{Targets: []float64{0.01}, Stop: 0.02, SameBar: models.SameBarStopFirst}

	out := computeOutcome(models.SideShort, 100, window, grid)

	approx(t, "ret_close", out.RetClose, -0.02)
	approx(t, "max_run_up", out.MaxRunUp, 0.01)
	approx(t, "max_drawdown", out.MaxDrawdown, -0.021)
	if !out.Targets[0].Hit || out.Targets[0].BarIndex != 1 {
		t.Errorf("tp = %+v, want hit on bar 1 (price traded down to 99)", out.Targets[0])
	}
	if !out.Stop.Hit || out.Stop.BarIndex != 2 {
		t.Errorf("stop = %+v, want hit on bar 2 (price squeezed to 102.1)", out.Stop)
	}
}

func TestComputeOutcomeNoStopConfigured(t *testing.T) {
	window := []models.Candle{
		fwdBar(0, 99.0, 95.0, 96.0), // would blow through any stop
		fwdBar(1, 101.5, 96.0, 101.0),
	}
	grid := models.TargetSet{Targets: []float64{0.01}}

	out := computeOutcome(models.SideLong, 100, window, grid)
	if out.Stop.Hit {
		t.Errorf("stop = %+v, want untracked without a configured stop", out.Stop)
	}
	if !out.Targets[0].Hit || out.Targets[0].BarIndex != 2 {
		t.Errorf("tp = %+v, want hit on bar 2", out.Targets[0])
	}
}
