package usecase

import (
	"context"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/labeler"
	applogger "FinScan/pkg/logger"
)

// LabelUseCase runs labeling and baseline sampling sweeps. It never shares
// state with detection; a slow labeling pass cannot stall a scan.
type LabelUseCase struct {
	labeler *labeler.Labeler
	sampler *labeler.Sampler
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewLabelUseCase(
	lab *labeler.Labeler,
	sampler *labeler.Sampler,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *LabelUseCase {
	return &LabelUseCase{labeler: lab, sampler: sampler, metrics: metrics, l: l}
}

type LabelResult struct {
	OutcomesComputed int
	OutcomesPending  int
	BaselineRows     int
}

// Label sweeps unlabeled signals across every configured horizon. Pending
// horizons stay pending and are retried on the next sweep.
func (uc *LabelUseCase) Label(ctx context.Context) (*LabelResult, error) {
	start := time.Now()
	computed, pending, err := uc.labeler.Sweep(ctx)
	uc.metrics.RecordLatency("label", time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError("label_sweep")
		return nil, fmt.Errorf("label sweep: %w", err)
	}
	uc.l.Info("label sweep ok",
		applogger.Int("computed", computed),
		applogger.Int("pending", pending),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return &LabelResult{OutcomesComputed: computed, OutcomesPending: pending}, nil
}

// Baseline samples negative feature rows for symbols on one timeframe.
func (uc *LabelUseCase) Baseline(ctx context.Context, symbols []string, tf domrepo.Timeframe) (int, error) {
	if len(symbols) == 0 {
		return 0, nil
	}
	if !domrepo.IsValidTimeframe(tf) {
		return 0, fmt.Errorf("invalid timeframe: %s", tf)
	}
	start := time.Now()
	kept, err := uc.sampler.Sweep(ctx, symbols, tf)
	uc.metrics.RecordLatency("baseline", time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError("baseline_sweep")
		return kept, fmt.Errorf("baseline sweep: %w", err)
	}
	uc.l.Info("baseline sweep ok",
		applogger.String("tf", string(tf)),
		applogger.Int("kept", kept),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return kept, nil
}

// LabelOne labels a single signal, used by the queue worker path.
func (uc *LabelUseCase) LabelOne(ctx context.Context, sig models.Signal) (computed, pending int, err error) {
	return uc.labeler.LabelSignal(ctx, sig)
}
