package labeler

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"FinScan/internal/domain/models"
	"FinScan/internal/repository"
	"FinScan/pkg/logger"
	"FinScan/pkg/metrics"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

type fixture struct {
	candles  *repository.MemoryCandleStore
	outcomes *repository.MemoryOutcomeStore
	signals  *repository.MemorySignalStore
}

func newFixture() fixture {
	outcomes := repository.NewMemoryOutcomeStore()
	return fixture{
		candles:  repository.NewMemoryCandleStore(),
		outcomes: outcomes,
		signals:  repository.NewMemorySignalStore(outcomes),
	}
}

var firedAt = time.Date(2025, 6, 2, 13, 45, 0, 0, time.UTC)

func testSignal(t *testing.T, f fixture, tf string) models.Signal {
	t.Helper()
	sig := models.Signal{
		ID:              uuid.NewString(),
		Symbol:          "AAPL",
		Timeframe:       tf,
		FiredAt:         firedAt,
		DetectorID:      "breakout20",
		DetectorVersion: "1",
		Side:            models.SideLong,
		Score:           70,
		EntryPrice:      100,
		Features:        models.NewFeatureVector(),
	}
	stored, created, err := f.signals.Record(context.Background(), sig)
	if err != nil || !created {
		t.Fatalf("record signal: created=%v err=%v", created, err)
	}
	return stored
}

func put5m(t *testing.T, f fixture, i int, high, low, closePx float64) {
	t.Helper()
	bar := fwdBar(i, high, low, closePx)
	if err := f.candles.PutBar(context.Background(), bar); err != nil {
		t.Fatalf("put bar: %v", err)
	}
}

func TestLabelerIgnoresBarsBeyondWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sig := testSignal(t, f, "5m")

	// A monster bar at fired_at itself and another beyond the window must
	// both stay invisible: the window is strictly-after and exactly 3 bars.
	spike := models.Candle{
		Symbol: "AAPL", Timeframe: "5m", TS: firedAt,
		Open: 100, High: 150, Low: 50, Close: 100, Volume: 10000,
	}
	if err := f.candles.PutBar(ctx, spike); err != nil {
		t.Fatalf("put bar: %v", err)
	}
	put5m(t, f, 0, 100.5, 99.8, 100.2)
	put5m(t, f, 1, 100.4, 99.9, 100.1)
	put5m(t, f, 2, 100.6, 100.0, 100.3)
	put5m(t, f, 3, 200.0, 1.0, 180.0) // beyond the 3-bar horizon

	lab := New(f.candles, f.signals, f.outcomes, metrics.Nop{}, testLogger(t),
		WithHorizons(models.Horizon{Timeframe: "5m", Bars: 3}),
		WithTargets(models.TargetSet{Targets: []float64{0.05}, Stop: 0.05, SameBar: models.SameBarStopFirst}),
		WithClock(fixedClock{t: firedAt.Add(time.Hour)}),
	)
	computed, pending, err := lab.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if computed != 1 || pending != 0 {
		t.Fatalf("computed=%d pending=%d, want 1/0", computed, pending)
	}

	rows, err := f.outcomes.BySignal(ctx, sig.ID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("outcomes: rows=%d err=%v", len(rows), err)
	}
	out := rows[0]
	approx(t, "ret_close", out.RetClose, 0.003)
	approx(t, "max_run_up", out.MaxRunUp, 0.006)
	approx(t, "max_drawdown", out.MaxDrawdown, -0.002)
	if out.Targets[0].Hit || out.Stop.Hit {
		t.Fatalf("future bar leaked into labels: %+v", out)
	}
}

func TestLabelerPendingUntilWindowCloses(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sig := testSignal(t, f, "5m")
	put5m(t, f, 0, 100.5, 99.8, 100.2)
	put5m(t, f, 1, 100.4, 99.9, 100.1)
	put5m(t, f, 2, 100.6, 100.0, 100.3)

	lab := New(f.candles, f.signals, f.outcomes, metrics.Nop{}, testLogger(t),
		WithHorizons(models.Horizon{Timeframe: "5m", Bars: 5}),
	)

	computed, pending, err := lab.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if computed != 0 || pending != 1 {
		t.Fatalf("computed=%d pending=%d, want 0/1", computed, pending)
	}
	if rows, _ := f.outcomes.BySignal(ctx, sig.ID); len(rows) != 0 {
		t.Fatalf("premature outcome rows: %d", len(rows))
	}

	// The window closes; the retry completes the label.
	put5m(t, f, 3, 100.7, 100.1, 100.5)
	put5m(t, f, 4, 100.9, 100.2, 100.8)
	computed, pending, err = lab.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if computed != 1 || pending != 0 {
		t.Fatalf("computed=%d pending=%d, want 1/0", computed, pending)
	}

	// Labeled pairs are final; the next sweep does nothing.
	computed, pending, err = lab.Sweep(ctx)
	if err != nil {
		t.Fatalf("third sweep: %v", err)
	}
	if computed != 0 || pending != 0 {
		t.Fatalf("computed=%d pending=%d after completion, want 0/0", computed, pending)
	}
}

func TestLabelerDeterministic(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock{t: firedAt.Add(2 * time.Hour)}
	horizon := models.Horizon{Timeframe: "5m", Bars: 4}
	grid := models.TargetSet{Targets: []float64{0.01, 0.02}, Stop: 0.01, SameBar: models.SameBarStopFirst}

	var got []models.Outcome
	for run := 0; run < 2; run++ {
		f := newFixture()
		sig := testSignal(t, f, "5m")
		put5m(t, f, 0, 101.2, 99.9, 101.0)
		put5m(t, f, 1, 101.8, 100.5, 101.5)
		put5m(t, f, 2, 102.3, 101.0, 102.1)
		put5m(t, f, 3, 102.0, 101.2, 101.7)

		lab := New(f.candles, f.signals, f.outcomes, metrics.Nop{}, testLogger(t),
			WithHorizons(horizon), WithTargets(grid), WithClock(clock))
		if _, _, err := lab.Sweep(ctx); err != nil {
			t.Fatalf("sweep: %v", err)
		}
		rows, err := f.outcomes.BySignal(ctx, sig.ID)
		if err != nil || len(rows) != 1 {
			t.Fatalf("rows=%d err=%v", len(rows), err)
		}
		rows[0].SignalID = "" // ids differ per run by construction
		got = append(got, rows[0])
	}
	if !reflect.DeepEqual(got[0], got[1]) {
		t.Fatalf("labels differ across identical runs:\n%+v\n%+v", got[0], got[1])
	}
}

func TestLabelerNewVersionRelabelsWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sig := testSignal(t, f, "5m")
	put5m(t, f, 0, 101.2, 99.9, 101.0)
	put5m(t, f, 1, 101.8, 100.5, 101.5)

	horizon := models.Horizon{Timeframe: "5m", Bars: 2}
	v1 := New(f.candles, f.signals, f.outcomes, metrics.Nop{}, testLogger(t),
		WithHorizons(horizon), WithLabelVersion(1))
	if _, _, err := v1.Sweep(ctx); err != nil {
		t.Fatalf("v1 sweep: %v", err)
	}

	// A stricter target grid under a new version: both rows must coexist.
	v2 := New(f.candles, f.signals, f.outcomes, metrics.Nop{}, testLogger(t),
		WithHorizons(horizon), WithLabelVersion(2),
		WithTargets(models.TargetSet{Targets: []float64{0.03}, Stop: 0.05, SameBar: models.SameBarStopFirst}))
	if _, _, err := v2.Sweep(ctx); err != nil {
		t.Fatalf("v2 sweep: %v", err)
	}

	rows, err := f.outcomes.BySignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want one per label version", len(rows))
	}
	if rows[0].LabelVersion != 1 || rows[1].LabelVersion != 2 {
		t.Fatalf("versions = %d/%d, want 1/2", rows[0].LabelVersion, rows[1].LabelVersion)
	}
	if rows[0].Targets[0].Hit == rows[1].Targets[0].Hit {
		t.Fatal("v2 grid should label differently from v1")
	}
}

func TestLabelerCrossTimeframeHorizon(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sig := testSignal(t, f, "1m")

	for i, ts := range []time.Time{
		time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 2, 14, 15, 0, 0, time.UTC),
	} {
		bar := models.Candle{
			Symbol: "AAPL", Timeframe: "15m", TS: ts,
			Open: 100, High: 101 + float64(i), Low: 99, Close: 100.5 + float64(i), Volume: 150000,
		}
		if err := f.candles.PutBar(ctx, bar); err != nil {
			t.Fatalf("put 15m bar: %v", err)
		}
	}

	lab := New(f.candles, f.signals, f.outcomes, metrics.Nop{}, testLogger(t),
		WithHorizons(models.Horizon{Timeframe: "15m", Bars: 2}))
	computed, pending, err := lab.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if computed != 1 || pending != 0 {
		t.Fatalf("computed=%d pending=%d, want 1/0", computed, pending)
	}
	rows, _ := f.outcomes.BySignal(ctx, sig.ID)
	if len(rows) != 1 || rows[0].HorizonTF != "15m" || rows[0].HorizonBars != 2 {
		t.Fatalf("outcome rows = %+v", rows)
	}
}

func TestLabelSignalSingle(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sig := testSignal(t, f, "5m")
	put5m(t, f, 0, 101.2, 99.9, 101.0)

	lab := New(f.candles, f.signals, f.outcomes, metrics.Nop{}, testLogger(t),
		WithHorizons(
			models.Horizon{Timeframe: "5m", Bars: 1},
			models.Horizon{Timeframe: "5m", Bars: 6},
		))
	computed, pending, err := lab.LabelSignal(ctx, sig)
	if err != nil {
		t.Fatalf("label signal: %v", err)
	}
	if computed != 1 || pending != 1 {
		t.Fatalf("computed=%d pending=%d, want one closed and one pending horizon", computed, pending)
	}
}
