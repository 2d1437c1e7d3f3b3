package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
)

// Proc is the minimal downstream interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, bar *models.Candle) error
}

// BarPipeline sits between the market stream and the ingest path. It
// validates, throttles per symbol, optionally transforms, and buffers bars
// when the downstream is unavailable.
type BarPipeline struct {
	proc     Proc
	metrics  domrepo.Metrics
	maxRPS   int
	bufSize  int
	bufCh    chan *models.Candle
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last accepted time

	transform func(*models.Candle) *models.Candle
}

type PipelineOption func(*BarPipeline)

// WithMaxRPS sets the max accepted bars per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *BarPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the holding buffer size for downstream outages.
func WithBufferSize(n int) PipelineOption {
	return func(p *BarPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a hook to rewrite bars before validation downstream.
func WithTransform(fn func(*models.Candle) *models.Candle) PipelineOption {
	return func(p *BarPipeline) { p.transform = fn }
}

func NewBarPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *BarPipeline {
	p := &BarPipeline{
		proc:     proc,
		metrics:  metrics,
		maxRPS:   20,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Candle, p.bufSize)
	return p
}

// Start launches background flushing of buffered bars.
func (p *BarPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case bar := <-p.bufCh:
				if bar == nil {
					continue
				}
				if err := p.proc.Process(ctx, bar); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- bar:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *BarPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates, throttles, and forwards one bar, buffering on
// downstream errors.
func (p *BarPipeline) Process(ctx context.Context, bar *models.Candle) error {
	start := time.Now()
	if err := validateBar(bar); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		bar = p.transform(bar)
		if err := validateBar(bar); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if !p.allow(bar.Symbol, start) {
		// throttled; count and drop
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, bar); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- bar:
			p.metrics.RecordQueueDepth("pipeline_buffer", len(p.bufCh))
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateBar(bar *models.Candle) error {
	if bar == nil {
		return fmt.Errorf("bar nil")
	}
	if bar.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if bar.TS.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	if bar.Timeframe == "" {
		return fmt.Errorf("timeframe empty")
	}
	if bar.Volume < 0 || bar.Open < 0 || bar.Close < 0 {
		return fmt.Errorf("negative price/volume")
	}
	if bar.High < bar.Low {
		return fmt.Errorf("high below low")
	}
	return nil
}

func (p *BarPipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if last.IsZero() {
		p.lastSeen[symbol] = now
		return true
	}
	if now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
