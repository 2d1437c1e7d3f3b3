package usecase

import (
	"context"
	"fmt"
	"time"

	"FinScan/internal/aggregate"
	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	applogger "FinScan/pkg/logger"
)

// IngestUseCase pulls bars from the provider, stores the base stream, and
// derives the coarser streams through the same idempotent write path.
type IngestUseCase struct {
	provider domrepo.BarProvider
	candles  domrepo.CandleStore
	symbols  domrepo.SymbolStore
	metrics  domrepo.Metrics
	l        *applogger.Logger
}

func NewIngestUseCase(
	provider domrepo.BarProvider,
	candles domrepo.CandleStore,
	symbols domrepo.SymbolStore,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *IngestUseCase {
	return &IngestUseCase{provider: provider, candles: candles, symbols: symbols, metrics: metrics, l: l}
}

type IngestParams struct {
	Symbol   string
	Exchange string // defaults to "US"
	From     time.Time
	To       time.Time
	BaseTF   domrepo.Timeframe   // defaults to 1m
	DeriveTF []domrepo.Timeframe // defaults to every coarser timeframe
}

type IngestResult struct {
	Symbol      string
	BarsFetched int
	BarsStored  int
	Derived     map[string]int // per derived timeframe
}

// IngestRange fetches [From, To) of the base stream, upserts it, then
// re-reads the aligned source window and derives each coarser stream.
// Re-running the same range is a no-op by construction. An empty fetch
// comes back as a *models.DataGapError; bars are never synthesized to
// fill the hole.
func (uc *IngestUseCase) IngestRange(ctx context.Context, p IngestParams) (*IngestResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if p.Exchange == "" {
		p.Exchange = "US"
	}
	if p.BaseTF == "" {
		p.BaseTF = domrepo.DefaultTimeframe()
	}
	if !domrepo.IsValidTimeframe(p.BaseTF) {
		return nil, fmt.Errorf("invalid base timeframe: %s", p.BaseTF)
	}
	if p.DeriveTF == nil {
		p.DeriveTF = coarserThan(p.BaseTF)
	}

	start := time.Now()
	bars, err := uc.provider.FetchBars(ctx, p.Symbol, p.BaseTF, p.From, p.To)
	if err != nil {
		uc.metrics.RecordError("ingest_fetch")
		return nil, fmt.Errorf("fetch bars: %w", err)
	}

	if len(bars) == 0 {
		return nil, &models.DataGapError{Symbol: p.Symbol, TF: string(p.BaseTF), From: p.From, To: p.To}
	}

	res := &IngestResult{Symbol: p.Symbol, BarsFetched: len(bars), Derived: make(map[string]int, len(p.DeriveTF))}
	stored, err := uc.candles.PutBars(ctx, bars)
	if err != nil {
		uc.metrics.RecordError("ingest_store")
		return nil, fmt.Errorf("store bars: %w", err)
	}
	res.BarsStored = stored
	for range bars {
		uc.metrics.RecordBarIngested(p.Symbol, string(p.BaseTF))
	}

	if err := uc.touchSymbol(ctx, p, bars); err != nil {
		// Registry maintenance is best-effort; the bars are already in.
		uc.l.Warn("symbol registry update failed",
			applogger.String("symbol", p.Symbol),
			applogger.Error(err),
		)
	}

	for _, dst := range p.DeriveTF {
		n, err := uc.derive(ctx, p.Symbol, p.BaseTF, dst, p.From, p.To)
		if err != nil {
			return res, fmt.Errorf("derive %s: %w", dst, err)
		}
		res.Derived[string(dst)] = n
	}

	uc.metrics.RecordLatency("ingest", time.Since(start).Seconds())
	uc.l.Info("ingest range ok",
		applogger.String("symbol", p.Symbol),
		applogger.String("tf", string(p.BaseTF)),
		applogger.Int("fetched", res.BarsFetched),
		applogger.Int("stored", res.BarsStored),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return res, nil
}

// derive re-reads the source stream from the destination bucket boundary so
// buckets straddling a previous ingest close correctly, then upserts every
// closed destination bar.
func (uc *IngestUseCase) derive(ctx context.Context, symbol string, srcTF, dstTF domrepo.Timeframe, from, to time.Time) (int, error) {
	src, err := uc.candles.Range(ctx, symbol, srcTF, dstTF.TruncateTo(from), to)
	if err != nil {
		return 0, fmt.Errorf("read source: %w", err)
	}
	derived, err := aggregate.Derive(src, srcTF, dstTF)
	if err != nil {
		return 0, err
	}
	if len(derived) == 0 {
		return 0, nil
	}
	stored, err := uc.candles.PutBars(ctx, derived)
	if err != nil {
		return 0, fmt.Errorf("store derived: %w", err)
	}
	for range derived {
		uc.metrics.RecordBucketEmitted(string(dstTF))
	}
	return stored, nil
}

func (uc *IngestUseCase) touchSymbol(ctx context.Context, p IngestParams, bars []models.Candle) error {
	first, last := bars[0].TS, bars[len(bars)-1].TS
	if _, err := uc.symbols.GetOrCreate(ctx, models.Symbol{
		Ticker:    p.Symbol,
		Exchange:  p.Exchange,
		AssetType: "equity",
		Currency:  "USD",
		FirstSeen: first,
		LastSeen:  last,
	}); err != nil {
		return err
	}
	return uc.symbols.Touch(ctx, p.Symbol, p.Exchange, last)
}

// coarserThan lists every supported timeframe wider than tf that tf divides
// evenly, in order.
func coarserThan(tf domrepo.Timeframe) []domrepo.Timeframe {
	all := domrepo.AllTimeframes()
	out := make([]domrepo.Timeframe, 0, len(all))
	for _, t := range all {
		if t.Duration() > tf.Duration() && tf.BucketsPer(t) > 0 {
			out = append(out, t)
		}
	}
	return out
}
