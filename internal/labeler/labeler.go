package labeler

import (
	"context"
	"fmt"

	"FinScan/internal/domain/models"
	"FinScan/internal/domain/repository"
	"FinScan/internal/domain/service"
	"FinScan/pkg/logger"
)

type labelerConfig struct {
	horizons     []models.Horizon
	grid         models.TargetSet
	labelVersion int
	batchSize    int
	clock        service.Clock
}

type Option func(*labelerConfig)

// WithHorizons sets the forward windows every signal is labeled against.
func WithHorizons(hs ...models.Horizon) Option {
	return func(c *labelerConfig) {
		if len(hs) > 0 {
			c.horizons = hs
		}
	}
}

// WithTargets sets the exit grid (targets, stop, same-bar policy).
func WithTargets(grid models.TargetSet) Option {
	return func(c *labelerConfig) { c.grid = grid }
}

// WithLabelVersion pins the version new outcome rows are written under.
// Bumping it relabels everything without touching existing rows.
func WithLabelVersion(v int) Option {
	return func(c *labelerConfig) {
		if v > 0 {
			c.labelVersion = v
		}
	}
}

// WithBatchSize caps how many unlabeled signals one sweep pulls per horizon.
func WithBatchSize(n int) Option {
	return func(c *labelerConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithClock injects the time source for computed_at stamps.
func WithClock(clk service.Clock) Option {
	return func(c *labelerConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// Labeler computes forward outcome rows for recorded signals. A signal
// whose horizon window is not closed yet stays pending and is retried on
// the next sweep; nothing is ever labeled from an incomplete window.
type Labeler struct {
	candles  repository.CandleStore
	signals  repository.SignalStore
	outcomes repository.OutcomeStore
	metrics  repository.Metrics
	log      *logger.Logger
	cfg      labelerConfig
}

var _ service.Labeler = (*Labeler)(nil)

func New(
	candles repository.CandleStore,
	signals repository.SignalStore,
	outcomes repository.OutcomeStore,
	metrics repository.Metrics,
	log *logger.Logger,
	opts ...Option,
) *Labeler {
	cfg := labelerConfig{
		horizons:     []models.Horizon{{Timeframe: "5m", Bars: 12}},
		grid:         models.TargetSet{Targets: []float64{0.01, 0.02}, Stop: 0.01, SameBar: models.SameBarStopFirst},
		labelVersion: 1,
		batchSize:    200,
		clock:        service.SystemClock{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Labeler{
		candles:  candles,
		signals:  signals,
		outcomes: outcomes,
		metrics:  metrics,
		log:      log,
		cfg:      cfg,
	}
}

// LabelSignal labels one signal across every configured horizon.
func (l *Labeler) LabelSignal(ctx context.Context, sig models.Signal) (int, int, error) {
	computed, pending := 0, 0
	for _, h := range l.cfg.horizons {
		done, pend, err := l.labelOne(ctx, sig, h)
		if err != nil {
			return computed, pending, err
		}
		if done {
			computed++
		}
		if pend {
			pending++
		}
	}
	return computed, pending, nil
}

// Sweep labels every unlabeled signal it can. Per-signal failures are
// logged and skipped; the sweep keeps going.
func (l *Labeler) Sweep(ctx context.Context) (int, int, error) {
	computed, pending := 0, 0
	for _, h := range l.cfg.horizons {
		sigs, err := l.signals.Unlabeled(ctx, h, l.cfg.labelVersion, l.cfg.batchSize)
		if err != nil {
			return computed, pending, fmt.Errorf("list unlabeled %s: %w", h.Key(), err)
		}
		for _, sig := range sigs {
			if err := ctx.Err(); err != nil {
				return computed, pending, err
			}
			done, pend, err := l.labelOne(ctx, sig, h)
			if err != nil {
				l.metrics.RecordError("label")
				l.log.Warn("label signal",
					logger.String("signal_id", sig.ID),
					logger.String("horizon", h.Key()),
					logger.Error(err))
				continue
			}
			if done {
				computed++
			}
			if pend {
				pending++
			}
		}
	}
	return computed, pending, nil
}

// labelOne returns (computed, pending, err). Already-labeled pairs come
// back (false, false, nil).
func (l *Labeler) labelOne(ctx context.Context, sig models.Signal, h models.Horizon) (bool, bool, error) {
	has, err := l.outcomes.Has(ctx, sig.ID, h, l.cfg.labelVersion)
	if err != nil {
		return false, false, fmt.Errorf("check outcome: %w", err)
	}
	if has {
		return false, false, nil
	}
	if sig.EntryPrice <= 0 {
		return false, false, fmt.Errorf("signal %s has no entry price", sig.ID)
	}

	window, err := l.candles.After(ctx, sig.Symbol, repository.Timeframe(h.Timeframe), sig.FiredAt, h.Bars)
	if err != nil {
		return false, false, fmt.Errorf("load window: %w", err)
	}
	if len(window) < h.Bars {
		l.metrics.RecordOutcomePending(h.Key())
		return false, true, nil
	}

	o := computeOutcome(sig.Side, sig.EntryPrice, window, l.cfg.grid)
	o.SignalID = sig.ID
	o.HorizonTF = h.Timeframe
	o.HorizonBars = h.Bars
	o.LabelVersion = l.cfg.labelVersion
	o.ComputedAt = l.cfg.clock.Now()

	if err := l.outcomes.Put(ctx, o); err != nil {
		return false, false, fmt.Errorf("store outcome: %w", err)
	}
	l.metrics.RecordOutcomeComputed(h.Key())
	return true, false, nil
}
