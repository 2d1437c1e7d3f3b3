package detector

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/domain/service"
	"FinScan/internal/indicator"
	"FinScan/internal/repository"
	"FinScan/pkg/logger"
	"FinScan/pkg/metrics"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func gatesOffRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Build([]models.DetectorSpec{
		{ID: BreakoutID, Version: "1", Kind: models.DetectorRule, Params: gatesOff()},
	}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return reg
}

func seedFlat(t *testing.T, candles *repository.MemoryCandleStore, from, to int) {
	t.Helper()
	ctx := context.Background()
	for i := from; i <= to; i++ {
		if err := candles.PutBar(ctx, minuteBar(i, 100, 100, 10000)); err != nil {
			t.Fatalf("seed bar %d: %v", i, err)
		}
	}
}

type stubPublisher struct {
	mu   sync.Mutex
	sigs []models.Signal
}

func (p *stubPublisher) Publish(ctx context.Context, sig models.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sigs = append(p.sigs, sig)
	return nil
}

func TestRunnerEmitsAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	candles := repository.NewMemoryCandleStore()
	outcomes := repository.NewMemoryOutcomeStore()
	signals := repository.NewMemorySignalStore(outcomes)
	seedFlat(t, candles, 0, 14)

	pub := &stubPublisher{}
	var hooked []models.Signal
	run := NewRunner(gatesOffRegistry(t), indicator.NewEngine(), candles, signals, metrics.Nop{}, testLogger(t),
		WithAlerts(pub),
		WithOnSignal(func(sig models.Signal) { hooked = append(hooked, sig) }),
		WithQuotes(func(ctx context.Context, symbol string) (models.Quote, bool) {
			return models.Quote{Bid: 100.9, Ask: 101.1}, true
		}),
	)

	// Cold start warms on history and evaluates only the newest bar.
	sum, err := run.Sweep(ctx, []string{"AAPL"}, domrepo.TF1m)
	if err != nil {
		t.Fatalf("cold sweep: %v", err)
	}
	if sum.StreamsProcessed != 1 || sum.BarsIngested != 15 || sum.SignalsEmitted != 0 {
		t.Fatalf("cold sweep summary: %+v", sum)
	}

	// A volume-spike breakout bar lands; the next sweep fires exactly once.
	if err := candles.PutBar(ctx, minuteBar(15, 101, 101, 50000)); err != nil {
		t.Fatalf("put spike bar: %v", err)
	}
	sum, err = run.Sweep(ctx, []string{"AAPL"}, domrepo.TF1m)
	if err != nil {
		t.Fatalf("live sweep: %v", err)
	}
	if sum.SignalsEmitted != 1 || sum.SignalsDuplicate != 0 {
		t.Fatalf("live sweep summary: %+v", sum)
	}

	got, err := signals.Query(ctx, "AAPL", domrepo.TF1m, time.Time{}, 10)
	if err != nil {
		t.Fatalf("query signals: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("stored %d signals, want 1", len(got))
	}
	sig := got[0]
	if want := sessionOpen.Add(15 * time.Minute); !sig.FiredAt.Equal(want) {
		t.Errorf("fired_at = %s, want %s", sig.FiredAt, want)
	}
	if sig.DetectorID != BreakoutID || sig.DetectorVersion != "1" {
		t.Errorf("detector identity = %s@%s", sig.DetectorID, sig.DetectorVersion)
	}
	if sig.EntryPrice != 101 {
		t.Errorf("entry_price = %v, want the bar close", sig.EntryPrice)
	}
	if sig.SessionFlag != models.SessionRegular {
		t.Errorf("session_flag = %d, want regular", sig.SessionFlag)
	}
	if math.Abs(sig.RelVolume-5) > 1e-9 {
		t.Errorf("rel_volume = %v, want 5", sig.RelVolume)
	}
	if sig.Bid != 100.9 || sig.Ask != 101.1 || sig.SpreadBps <= 0 {
		t.Errorf("quote context missing: bid=%v ask=%v spread=%v", sig.Bid, sig.Ask, sig.SpreadBps)
	}
	if len(sig.Features.Values) == 0 {
		t.Error("feature snapshot not attached")
	}
	if len(pub.sigs) != 1 {
		t.Errorf("published %d alerts, want 1", len(pub.sigs))
	}
	if len(hooked) != 1 {
		t.Errorf("hook fired %d times, want 1", len(hooked))
	}

	// Nothing new in the store, nothing new out of the sweep.
	sum, err = run.Sweep(ctx, []string{"AAPL"}, domrepo.TF1m)
	if err != nil {
		t.Fatalf("idle sweep: %v", err)
	}
	if sum.BarsIngested != 0 || sum.SignalsEmitted != 0 {
		t.Fatalf("idle sweep summary: %+v", sum)
	}

	// A fresh process over the same stores re-evaluates the newest bar and
	// collides on the natural key instead of double-recording.
	rerun := NewRunner(gatesOffRegistry(t), indicator.NewEngine(), candles, signals, metrics.Nop{}, testLogger(t))
	sum, err = rerun.Sweep(ctx, []string{"AAPL"}, domrepo.TF1m)
	if err != nil {
		t.Fatalf("rerun sweep: %v", err)
	}
	if sum.SignalsEmitted != 0 || sum.SignalsDuplicate != 1 {
		t.Fatalf("rerun summary: %+v", sum)
	}
	got, err = signals.Query(ctx, "AAPL", domrepo.TF1m, time.Time{}, 10)
	if err != nil {
		t.Fatalf("query signals: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("store grew to %d signals after rerun, want 1", len(got))
	}
}

func TestRunnerColdStartSkipsHistoricalSignals(t *testing.T) {
	ctx := context.Background()
	candles := repository.NewMemoryCandleStore()
	outcomes := repository.NewMemoryOutcomeStore()
	signals := repository.NewMemorySignalStore(outcomes)

	// Two separate breakout bars in history; only the newest one may fire.
	seedFlat(t, candles, 0, 10)
	if err := candles.PutBar(ctx, minuteBar(11, 101, 101, 50000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	seedFlat(t, candles, 12, 15)
	if err := candles.PutBar(ctx, minuteBar(16, 102, 102, 60000)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	run := NewRunner(gatesOffRegistry(t), indicator.NewEngine(), candles, signals, metrics.Nop{}, testLogger(t))
	sum, err := run.Sweep(ctx, []string{"AAPL"}, domrepo.TF1m)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sum.SignalsEmitted != 1 {
		t.Fatalf("emitted %d signals from history, want 1", sum.SignalsEmitted)
	}
	got, err := signals.Query(ctx, "AAPL", domrepo.TF1m, time.Time{}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if want := sessionOpen.Add(16 * time.Minute); !got[0].FiredAt.Equal(want) {
		t.Fatalf("fired_at = %s, want the newest breakout bar %s", got[0].FiredAt, want)
	}
}

type panicky struct{ spec models.DetectorSpec }

func (p panicky) Spec() models.DetectorSpec { return p.spec }

func (p panicky) Evaluate(ctx context.Context, in service.EvalInput) (*models.SignalCandidate, error) {
	panic("synthetic detector failure")
}

func TestRunnerIsolatesPanickingDetector(t *testing.T) {
	ctx := context.Background()
	candles := repository.NewMemoryCandleStore()
	outcomes := repository.NewMemoryOutcomeStore()
	signals := repository.NewMemorySignalStore(outcomes)
	seedFlat(t, candles, 0, 14)
	if err := candles.PutBar(ctx, minuteBar(15, 101, 101, 50000)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reg := NewRegistry()
	if err := reg.Register(panicky{spec: models.DetectorSpec{ID: "crash", Version: "1", Kind: models.DetectorRule}}); err != nil {
		t.Fatalf("register panicky: %v", err)
	}
	breakout, err := NewBreakout(models.DetectorSpec{ID: BreakoutID, Version: "1", Kind: models.DetectorRule, Params: gatesOff()})
	if err != nil {
		t.Fatalf("NewBreakout: %v", err)
	}
	if err := reg.Register(breakout); err != nil {
		t.Fatalf("register breakout: %v", err)
	}

	run := NewRunner(reg, indicator.NewEngine(), candles, signals, metrics.Nop{}, testLogger(t))
	sum, err := run.Sweep(ctx, []string{"AAPL"}, domrepo.TF1m)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sum.SignalsEmitted != 1 {
		t.Fatalf("healthy detector starved: %+v", sum)
	}
	if len(sum.Skipped) != 1 || !strings.Contains(sum.Skipped[0].Reason, "panic") {
		t.Fatalf("skipped = %+v, want one panic record", sum.Skipped)
	}
	if !strings.Contains(sum.Skipped[0].Reason, "crash@1") {
		t.Fatalf("skip reason %q does not name the failing detector", sum.Skipped[0].Reason)
	}
}

type stalled struct{ spec models.DetectorSpec }

func (d stalled) Spec() models.DetectorSpec { return d.spec }

func (d stalled) Evaluate(ctx context.Context, in service.EvalInput) (*models.SignalCandidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunnerTimesOutStalledDetector(t *testing.T) {
	ctx := context.Background()
	candles := repository.NewMemoryCandleStore()
	outcomes := repository.NewMemoryOutcomeStore()
	signals := repository.NewMemorySignalStore(outcomes)
	seedFlat(t, candles, 0, 2)

	reg := NewRegistry()
	if err := reg.Register(stalled{spec: models.DetectorSpec{ID: "stall", Version: "1", Kind: models.DetectorRule}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	run := NewRunner(reg, indicator.NewEngine(), candles, signals, metrics.Nop{}, testLogger(t),
		WithDetectorTimeout(30*time.Millisecond))
	start := time.Now()
	sum, err := run.Sweep(ctx, []string{"AAPL"}, domrepo.TF1m)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("sweep blocked %s on a stalled detector", elapsed)
	}
	if len(sum.Skipped) != 1 || !strings.Contains(sum.Skipped[0].Reason, "context deadline exceeded") {
		t.Fatalf("skipped = %+v, want one timeout record", sum.Skipped)
	}
}

type capture struct {
	spec   models.DetectorSpec
	mu     sync.Mutex
	inputs []service.EvalInput
}

func (c *capture) Spec() models.DetectorSpec { return c.spec }

func (c *capture) Evaluate(ctx context.Context, in service.EvalInput) (*models.SignalCandidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, in)
	return nil, nil
}

func TestRunnerSuppliesHigherTimeframeSnapshots(t *testing.T) {
	ctx := context.Background()
	candles := repository.NewMemoryCandleStore()
	outcomes := repository.NewMemoryOutcomeStore()
	signals := repository.NewMemorySignalStore(outcomes)
	seedFlat(t, candles, 0, 3)
	fifteen := models.Candle{
		Symbol: "AAPL", Timeframe: "15m", TS: sessionOpen,
		Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 150000,
	}
	if err := candles.PutBar(ctx, fifteen); err != nil {
		t.Fatalf("seed 15m: %v", err)
	}

	probe := &capture{spec: models.DetectorSpec{ID: "probe", Version: "1", Kind: models.DetectorRule}}
	reg := NewRegistry()
	if err := reg.Register(probe); err != nil {
		t.Fatalf("register: %v", err)
	}

	run := NewRunner(reg, indicator.NewEngine(), candles, signals, metrics.Nop{}, testLogger(t))
	if _, err := run.Sweep(ctx, []string{"AAPL"}, domrepo.TF1m); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	probe.mu.Lock()
	defer probe.mu.Unlock()
	if len(probe.inputs) != 1 {
		t.Fatalf("detector saw %d bars, want the newest only", len(probe.inputs))
	}
	in := probe.inputs[0]
	if _, ok := in.Features.Get(models.FeatClose); !ok {
		t.Error("base feature snapshot missing")
	}
	snap, ok := in.HigherTF["15m"]
	if !ok {
		t.Fatal("15m confirmation snapshot not supplied")
	}
	if closePx, _ := snap.Get(models.FeatClose); closePx != 100.5 {
		t.Errorf("15m close = %v, want 100.5", closePx)
	}
	if _, ok := in.HigherTF["4h"]; ok {
		t.Error("cold 4h stream should not appear in the confirmation set")
	}
}
