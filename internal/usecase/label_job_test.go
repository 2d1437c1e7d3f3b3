package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"FinScan/internal/domain/models"
	"FinScan/internal/labeler"
	"FinScan/internal/repository"
	"FinScan/pkg/metrics"
)

var jobOpen = time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC)

func newLabelJobFixture(t *testing.T) (*LabelSignalJob, *repository.MemoryCandleStore, *repository.MemorySignalStore, *repository.MemoryOutcomeStore) {
	t.Helper()

	candles := repository.NewMemoryCandleStore()
	outs := repository.NewMemoryOutcomeStore()
	signals := repository.NewMemorySignalStore(outs)
	baseline := repository.NewMemoryBaselineStore()
	log := testLogger(t)

	lab := labeler.New(candles, signals, outs, metrics.Nop{}, log,
		labeler.WithHorizons(models.Horizon{Timeframe: "5m", Bars: 3}),
	)
	sampler := labeler.NewSampler(candles, signals, baseline, metrics.Nop{}, log)
	uc := NewLabelUseCase(lab, sampler, metrics.Nop{}, log)

	return NewLabelSignalJob(uc, log), candles, signals, outs
}

func seedLabelWindow(t *testing.T, candles *repository.MemoryCandleStore, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		price := 100.0 + float64(i)
		bar := models.Candle{
			Symbol:    "AAPL",
			Timeframe: "5m",
			TS:        jobOpen.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.5,
			Volume:    1000,
		}
		if err := candles.PutBar(context.Background(), bar); err != nil {
			t.Fatalf("put bar: %v", err)
		}
	}
}

func jobSignal() models.Signal {
	return models.Signal{
		Symbol:          "AAPL",
		Timeframe:       "5m",
		FiredAt:         jobOpen,
		DetectorID:      "breakout20",
		DetectorVersion: "1",
		Side:            models.SideLong,
		Score:           61.5,
		EntryPrice:      100,
	}
}

func TestLabelJobLabelsSignalFromValuePayload(t *testing.T) {
	job, candles, signals, outs := newLabelJobFixture(t)
	seedLabelWindow(t, candles, 3)

	sig, _, err := signals.Record(context.Background(), jobSignal())
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := job.Handle(context.Background(), sig); err != nil {
		t.Fatalf("handle: %v", err)
	}

	h := models.Horizon{Timeframe: "5m", Bars: 3}
	has, err := outs.Has(context.Background(), sig.ID, h, 1)
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if !has {
		t.Fatalf("expected outcome row for %s after handle", sig.ID)
	}

	// Re-delivery of the same message must be a no-op, not a failure.
	if err := job.Handle(context.Background(), sig); err != nil {
		t.Fatalf("redelivered handle: %v", err)
	}
}

func TestLabelJobDecodesRawJSONPayload(t *testing.T) {
	job, candles, signals, outs := newLabelJobFixture(t)
	seedLabelWindow(t, candles, 3)

	sig, _, err := signals.Record(context.Background(), jobSignal())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	raw, err := json.Marshal(sig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := job.Handle(context.Background(), json.RawMessage(raw)); err != nil {
		t.Fatalf("handle raw: %v", err)
	}

	got, err := outs.BySignal(context.Background(), sig.ID)
	if err != nil {
		t.Fatalf("by signal: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(got))
	}
	if got[0].HorizonBars != 3 || got[0].HorizonTF != "5m" {
		t.Fatalf("horizon = %s:%d, want 5m:3", got[0].HorizonTF, got[0].HorizonBars)
	}
}

func TestLabelJobLeavesOpenWindowPending(t *testing.T) {
	job, candles, signals, outs := newLabelJobFixture(t)
	seedLabelWindow(t, candles, 1)

	sig, _, err := signals.Record(context.Background(), jobSignal())
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := job.Handle(context.Background(), sig); err != nil {
		t.Fatalf("handle: %v", err)
	}

	h := models.Horizon{Timeframe: "5m", Bars: 3}
	has, err := outs.Has(context.Background(), sig.ID, h, 1)
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if has {
		t.Fatalf("open window must not produce an outcome row")
	}
}

func TestLabelJobRejectsGarbagePayload(t *testing.T) {
	job, _, _, _ := newLabelJobFixture(t)

	if err := job.Handle(context.Background(), 42); err == nil {
		t.Fatalf("expected error for unsupported payload type")
	}
}
