package usecase

import (
	"context"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
)

// SignalsUseCase serves the read side of the signal store.
type SignalsUseCase struct {
	signals  domrepo.SignalStore
	outcomes domrepo.OutcomeStore
}

func NewSignalsUseCase(signals domrepo.SignalStore, outcomes domrepo.OutcomeStore) *SignalsUseCase {
	return &SignalsUseCase{signals: signals, outcomes: outcomes}
}

type GetSignalsParams struct {
	Symbol    string
	Timeframe domrepo.Timeframe
	Since     time.Time
	Limit     int
}

type GetSignalsResult struct {
	Count   int
	Signals []models.Signal
}

func (uc *SignalsUseCase) GetSignals(ctx context.Context, p GetSignalsParams) (*GetSignalsResult, error) {
	if p.Timeframe != "" && !domrepo.IsValidTimeframe(p.Timeframe) {
		return nil, fmt.Errorf("invalid timeframe: %s", p.Timeframe)
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}
	sigs, err := uc.signals.Query(ctx, p.Symbol, p.Timeframe, p.Since, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	return &GetSignalsResult{Count: len(sigs), Signals: sigs}, nil
}

type GetOutcomesResult struct {
	Signal   models.Signal
	Outcomes []models.Outcome
}

// GetOutcomes returns one signal with every outcome row labeled for it so
// far. An unknown signal id is ErrNotFound, not an empty result.
func (uc *SignalsUseCase) GetOutcomes(ctx context.Context, signalID string) (*GetOutcomesResult, error) {
	if signalID == "" {
		return nil, fmt.Errorf("signal_id required")
	}
	sig, ok, err := uc.signals.Get(ctx, signalID)
	if err != nil {
		return nil, fmt.Errorf("get signal: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("signal %s: %w", signalID, models.ErrNotFound)
	}
	outcomes, err := uc.outcomes.BySignal(ctx, signalID)
	if err != nil {
		return nil, fmt.Errorf("get outcomes: %w", err)
	}
	return &GetOutcomesResult{Signal: sig, Outcomes: outcomes}, nil
}

// CandlesUseCase serves the supporting candle read endpoint.
type CandlesUseCase struct {
	candles domrepo.CandleStore
}

func NewCandlesUseCase(candles domrepo.CandleStore) *CandlesUseCase {
	return &CandlesUseCase{candles: candles}
}

type GetCandlesParams struct {
	Symbol    string
	Timeframe domrepo.Timeframe
	From      time.Time
	To        time.Time
	Limit     int
}

type GetCandlesResult struct {
	Symbol    string
	Timeframe string
	Count     int
	Candles   []models.Candle
}

func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	tf := domrepo.NormalizeTimeframe(string(p.Timeframe))
	if p.Limit <= 0 {
		p.Limit = 500
	}
	if p.Limit > 5000 {
		p.Limit = 5000
	}

	var (
		candles []models.Candle
		err     error
	)
	if p.From.IsZero() && p.To.IsZero() {
		candles, err = uc.candles.Latest(ctx, p.Symbol, tf, p.Limit)
	} else {
		if p.To.IsZero() {
			p.To = time.Now().UTC()
		}
		if p.From.After(p.To) {
			return nil, fmt.Errorf("from must be <= to")
		}
		candles, err = uc.candles.Range(ctx, p.Symbol, tf, p.From, p.To)
	}
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	if len(candles) > p.Limit {
		candles = candles[len(candles)-p.Limit:]
	}
	return &GetCandlesResult{Symbol: p.Symbol, Timeframe: string(tf), Count: len(candles), Candles: candles}, nil
}
