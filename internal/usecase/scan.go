package usecase

import (
	"context"
	"fmt"
	"time"

	"FinScan/internal/detector"
	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	applogger "FinScan/pkg/logger"
)

// ScanUseCase drives detector sweeps over the watchlist and keeps the
// detector registry persisted for signal reproducibility.
type ScanUseCase struct {
	runner    *detector.Runner
	registry  *detector.Registry
	detectors domrepo.DetectorStore
	metrics   domrepo.Metrics
	l         *applogger.Logger
}

func NewScanUseCase(
	runner *detector.Runner,
	registry *detector.Registry,
	detectors domrepo.DetectorStore,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *ScanUseCase {
	return &ScanUseCase{runner: runner, registry: registry, detectors: detectors, metrics: metrics, l: l}
}

// EnsureDetectors persists every registered spec. Specs are immutable, so a
// re-run is a no-op; a historical signal can always be traced back to the
// exact parameters that produced it.
func (uc *ScanUseCase) EnsureDetectors(ctx context.Context) error {
	for _, spec := range uc.registry.Specs() {
		if err := uc.detectors.Ensure(ctx, spec); err != nil {
			return fmt.Errorf("ensure detector %s: %w", spec.Key(), err)
		}
	}
	return nil
}

// Scan runs one detection sweep over symbols on one timeframe.
func (uc *ScanUseCase) Scan(ctx context.Context, symbols []string, tf domrepo.Timeframe) (models.CycleSummary, error) {
	if len(symbols) == 0 {
		return models.CycleSummary{}, fmt.Errorf("symbols required")
	}
	if !domrepo.IsValidTimeframe(tf) {
		return models.CycleSummary{}, fmt.Errorf("invalid timeframe: %s", tf)
	}
	start := time.Now()
	summary, err := uc.runner.Sweep(ctx, symbols, tf)
	uc.metrics.RecordLatency("scan", time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError("scan")
		return summary, fmt.Errorf("scan sweep: %w", err)
	}
	uc.l.Info("scan sweep ok",
		applogger.String("tf", string(tf)),
		applogger.Int("streams", summary.StreamsProcessed),
		applogger.Int("bars", summary.BarsIngested),
		applogger.Int("signals", summary.SignalsEmitted),
		applogger.Int("skipped", len(summary.Skipped)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return summary, nil
}
