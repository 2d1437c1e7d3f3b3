package usecase

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/repository"
)

func seedSignals(t *testing.T, store *repository.MemorySignalStore, n int) []models.Signal {
	t.Helper()
	out := make([]models.Signal, 0, n)
	for i := 0; i < n; i++ {
		sig := models.Signal{
			ID:              "sig-" + strconv.Itoa(i),
			Symbol:          "AAPL",
			Timeframe:       "1m",
			FiredAt:         ingestOpen.Add(time.Duration(i) * time.Minute),
			DetectorID:      "breakout20",
			DetectorVersion: "1",
			Side:            models.SideLong,
			Score:           50,
			EntryPrice:      100,
			CreatedAt:       ingestOpen,
		}
		stored, created, err := store.Record(context.Background(), sig)
		if err != nil || !created {
			t.Fatalf("seed signal %d: created=%v err=%v", i, created, err)
		}
		out = append(out, stored)
	}
	return out
}

func TestGetSignalsFiltersAndOrders(t *testing.T) {
	outcomes := repository.NewMemoryOutcomeStore()
	signals := repository.NewMemorySignalStore(outcomes)
	seedSignals(t, signals, 5)

	uc := NewSignalsUseCase(signals, outcomes)

	res, err := uc.GetSignals(context.Background(), GetSignalsParams{Symbol: "AAPL"})
	if err != nil {
		t.Fatalf("get signals: %v", err)
	}
	if res.Count != 5 {
		t.Fatalf("count = %d, want 5", res.Count)
	}
	// newest first
	for i := 1; i < len(res.Signals); i++ {
		if res.Signals[i].FiredAt.After(res.Signals[i-1].FiredAt) {
			t.Fatalf("signals not newest-first at %d", i)
		}
	}

	res, err = uc.GetSignals(context.Background(), GetSignalsParams{Since: ingestOpen.Add(3 * time.Minute)})
	if err != nil {
		t.Fatalf("get signals since: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("since filter count = %d, want 2", res.Count)
	}

	res, err = uc.GetSignals(context.Background(), GetSignalsParams{Symbol: "MSFT"})
	if err != nil {
		t.Fatalf("get signals other symbol: %v", err)
	}
	if res.Count != 0 {
		t.Fatalf("other symbol count = %d, want 0", res.Count)
	}

	if _, err := uc.GetSignals(context.Background(), GetSignalsParams{Timeframe: "3m"}); err == nil {
		t.Fatal("invalid timeframe should error")
	}
}

func TestGetOutcomesJoinsSignal(t *testing.T) {
	outcomes := repository.NewMemoryOutcomeStore()
	signals := repository.NewMemorySignalStore(outcomes)
	seeded := seedSignals(t, signals, 1)

	for _, h := range []models.Horizon{{Timeframe: "5m", Bars: 12}, {Timeframe: "15m", Bars: 20}} {
		err := outcomes.Put(context.Background(), models.Outcome{
			SignalID:     seeded[0].ID,
			HorizonTF:    h.Timeframe,
			HorizonBars:  h.Bars,
			LabelVersion: 1,
			RetClose:     0.01,
			ComputedAt:   ingestOpen.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("put outcome %s: %v", h.Key(), err)
		}
	}

	uc := NewSignalsUseCase(signals, outcomes)
	res, err := uc.GetOutcomes(context.Background(), seeded[0].ID)
	if err != nil {
		t.Fatalf("get outcomes: %v", err)
	}
	if res.Signal.ID != seeded[0].ID {
		t.Fatalf("signal id = %s, want %s", res.Signal.ID, seeded[0].ID)
	}
	if len(res.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(res.Outcomes))
	}

	if _, err := uc.GetOutcomes(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown signal err = %v, want ErrNotFound", err)
	}
	if _, err := uc.GetOutcomes(context.Background(), ""); err == nil {
		t.Fatal("empty signal_id should error")
	}
}

func TestGetCandlesLatestAndRange(t *testing.T) {
	candles := repository.NewMemoryCandleStore()
	if _, err := candles.PutBars(context.Background(), minuteBars(20)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	uc := NewCandlesUseCase(candles)

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{Symbol: "AAPL", Timeframe: domrepo.TF1m})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if res.Count != 20 {
		t.Fatalf("latest count = %d, want 20", res.Count)
	}

	res, err = uc.GetCandles(context.Background(), GetCandlesParams{
		Symbol:    "AAPL",
		Timeframe: domrepo.TF1m,
		From:      ingestOpen.Add(5 * time.Minute),
		To:        ingestOpen.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if res.Count != 5 {
		t.Fatalf("range count = %d, want 5", res.Count)
	}
	if !res.Candles[0].TS.Equal(ingestOpen.Add(5 * time.Minute)) {
		t.Fatalf("range start = %s", res.Candles[0].TS)
	}

	res, err = uc.GetCandles(context.Background(), GetCandlesParams{
		Symbol:    "AAPL",
		Timeframe: domrepo.TF1m,
		From:      ingestOpen,
		To:        ingestOpen.Add(20 * time.Minute),
		Limit:     3,
	})
	if err != nil {
		t.Fatalf("range limit: %v", err)
	}
	if res.Count != 3 {
		t.Fatalf("limited count = %d, want 3", res.Count)
	}
	// limit keeps the newest tail of the range
	if !res.Candles[0].TS.Equal(ingestOpen.Add(17 * time.Minute)) {
		t.Fatalf("limited start = %s", res.Candles[0].TS)
	}

	if _, err := uc.GetCandles(context.Background(), GetCandlesParams{Timeframe: domrepo.TF1m}); err == nil {
		t.Fatal("missing symbol should error")
	}
	if _, err := uc.GetCandles(context.Background(), GetCandlesParams{
		Symbol: "AAPL",
		From:   ingestOpen.Add(time.Hour),
		To:     ingestOpen,
	}); err == nil {
		t.Fatal("from after to should error")
	}
}
