package usecase

import (
	"context"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
)

// BarPublisher pushes closed bars onto the bars topic for the consumer path.
type BarPublisher interface {
	PublishBar(ctx context.Context, bar *models.Candle) error
	Close() error
}

// BarProcessor routes streamed bars to the configured backend: straight into
// the candle store, or onto Kafka for the at-least-once consumer to land.
type BarProcessor struct {
	pub     BarPublisher
	candles domrepo.CandleStore
	metrics domrepo.Metrics
	backend string
}

func NewBarProcessor(pub BarPublisher, candles domrepo.CandleStore, metrics domrepo.Metrics, backend string) *BarProcessor {
	return &BarProcessor{pub: pub, candles: candles, metrics: metrics, backend: backend}
}

// Process routes a single closed bar.
func (p *BarProcessor) Process(ctx context.Context, bar *models.Candle) error {
	if bar == nil {
		return fmt.Errorf("bar is nil")
	}

	start := time.Now()
	var err error
	switch p.backend {
	case "kafka":
		err = p.pub.PublishBar(ctx, bar)
	case "clickhouse", "memory":
		err = p.candles.PutBar(ctx, *bar)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}
	if err != nil {
		p.metrics.RecordError("process_bar")
		return fmt.Errorf("process bar: %w", err)
	}

	p.metrics.RecordBarIngested(bar.Symbol, bar.Timeframe)
	p.metrics.RecordLatency("process_bar", time.Since(start).Seconds())
	return nil
}

// Close closes underlying resources if available.
func (p *BarProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.candles != nil {
		_ = p.candles.Close()
	}
}
