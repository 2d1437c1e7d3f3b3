package detector

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"FinScan/internal/domain/models"
	"FinScan/internal/domain/repository"
	"FinScan/internal/domain/service"
	"FinScan/internal/indicator"
	"FinScan/pkg/logger"
)

// QuoteFunc resolves a best-effort top-of-book quote at emission time.
// ok=false records the signal without spread context.
type QuoteFunc func(ctx context.Context, symbol string) (models.Quote, bool)

type runnerConfig struct {
	shards          int
	detectorTimeout time.Duration
	warmupBars      int
	batchSize       int
	confirmTFs      []repository.Timeframe
	clock           service.Clock
	alerts          repository.AlertPublisher
	quotes          QuoteFunc
	onSignal        func(models.Signal)
}

type RunnerOption func(*runnerConfig)

// WithShards sets how many goroutines the sweep fans symbols across.
func WithShards(n int) RunnerOption {
	return func(c *runnerConfig) {
		if n > 0 {
			c.shards = n
		}
	}
}

// WithDetectorTimeout bounds a single detector evaluation.
func WithDetectorTimeout(d time.Duration) RunnerOption {
	return func(c *runnerConfig) {
		if d > 0 {
			c.detectorTimeout = d
		}
	}
}

// WithWarmupBars sets how much history a cold stream replays before its
// first live evaluation.
func WithWarmupBars(n int) RunnerOption {
	return func(c *runnerConfig) {
		if n > 0 {
			c.warmupBars = n
		}
	}
}

// WithBatchSize caps how many stored bars one stream advance reads at a
// time.
func WithBatchSize(n int) RunnerOption {
	return func(c *runnerConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConfirmTimeframes overrides which coarser timeframes are advanced and
// snapshotted for multi-timeframe confirmation.
func WithConfirmTimeframes(tfs ...repository.Timeframe) RunnerOption {
	return func(c *runnerConfig) { c.confirmTFs = tfs }
}

// WithClock injects the time source used for created_at stamps.
func WithClock(clk service.Clock) RunnerOption {
	return func(c *runnerConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithAlerts attaches a downstream publisher for newly recorded signals.
func WithAlerts(p repository.AlertPublisher) RunnerOption {
	return func(c *runnerConfig) { c.alerts = p }
}

// WithQuotes attaches a top-of-book quote source.
func WithQuotes(q QuoteFunc) RunnerOption {
	return func(c *runnerConfig) { c.quotes = q }
}

// WithOnSignal registers a hook invoked after a signal is durably recorded.
func WithOnSignal(fn func(models.Signal)) RunnerOption {
	return func(c *runnerConfig) { c.onSignal = fn }
}

// Runner sweeps newly closed bars through every registered detector.
// Symbols are sharded by hash so all timeframes of one symbol stay on one
// goroutine; base-bar evaluation can read sibling-timeframe snapshots
// without racing their writers.
type Runner struct {
	reg     *Registry
	engine  *indicator.Engine
	candles repository.CandleStore
	signals repository.SignalStore
	metrics repository.Metrics
	log     *logger.Logger
	cfg     runnerConfig

	mu      sync.Mutex
	cursors map[string]time.Time
}

func NewRunner(
	reg *Registry,
	eng *indicator.Engine,
	candles repository.CandleStore,
	signals repository.SignalStore,
	metrics repository.Metrics,
	log *logger.Logger,
	opts ...RunnerOption,
) *Runner {
	cfg := runnerConfig{
		shards:          4,
		detectorTimeout: 2 * time.Second,
		warmupBars:      300,
		batchSize:       500,
		confirmTFs:      []repository.Timeframe{repository.TF15m, repository.TF1h, repository.TF4h},
		clock:           service.SystemClock{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runner{
		reg:     reg,
		engine:  eng,
		candles: candles,
		signals: signals,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		cursors: make(map[string]time.Time),
	}
}

// sweepPartial is one shard's share of the cycle summary, merged after the
// pool drains.
type sweepPartial struct {
	streams int
	bars    int
	emitted int
	dups    int
	skipped []models.SkippedItem
}

// Sweep advances every symbol's streams to the newest closed bar in the
// store and evaluates all detectors on each newly applied base-timeframe
// bar. Per-stream failures land in Skipped; only a dead context fails the
// whole sweep.
func (r *Runner) Sweep(ctx context.Context, symbols []string, tf repository.Timeframe) (models.CycleSummary, error) {
	sum := models.CycleSummary{StartedAt: r.cfg.clock.Now()}
	if len(symbols) == 0 || r.reg.Len() == 0 {
		sum.FinishedAt = r.cfg.clock.Now()
		return sum, nil
	}

	shards := r.cfg.shards
	if shards > len(symbols) {
		shards = len(symbols)
	}
	buckets := make([][]string, shards)
	for _, sym := range symbols {
		i := shardIndex(sym, shards)
		buckets[i] = append(buckets[i], sym)
	}

	partials := make([]sweepPartial, shards)
	var wg sync.WaitGroup
	for i := 0; i < shards; i++ {
		if len(buckets[i]) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for _, sym := range buckets[i] {
				if ctx.Err() != nil {
					return
				}
				r.sweepSymbol(ctx, sym, tf, &partials[i])
			}
		}(i)
	}
	wg.Wait()

	for _, p := range partials {
		sum.StreamsProcessed += p.streams
		sum.BarsIngested += p.bars
		sum.SignalsEmitted += p.emitted
		sum.SignalsDuplicate += p.dups
		sum.Skipped = append(sum.Skipped, p.skipped...)
	}
	sum.FinishedAt = r.cfg.clock.Now()
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("sweep interrupted: %w", err)
	}
	return sum, nil
}

func (r *Runner) sweepSymbol(ctx context.Context, symbol string, tf repository.Timeframe, p *sweepPartial) {
	// Confirmation streams advance first so the base bars see current
	// higher-timeframe state. A cold or failing confirmation stream
	// degrades the input, it does not block the base sweep.
	for _, ctf := range r.cfg.confirmTFs {
		if ctf == tf {
			continue
		}
		if _, err := r.advance(ctx, symbol, ctf, nil); err != nil {
			r.log.Warn("confirmation stream lagging",
				logger.String("symbol", symbol),
				logger.String("timeframe", string(ctf)),
				logger.Error(err))
		}
	}

	n, err := r.advance(ctx, symbol, tf, func(bar models.Candle) {
		r.evalBar(ctx, symbol, tf, bar, p)
	})
	p.streams++
	p.bars += n
	if err != nil {
		r.metrics.RecordError("sweep_stream")
		p.skipped = append(p.skipped, models.SkippedItem{
			Symbol: symbol, Timeframe: string(tf), Reason: err.Error(),
		})
	}
}

// advance feeds the engine every stored bar newer than the stream cursor.
// A cold stream warms silently on trailing history and applies onBar only
// to its newest bar, so a process restart does not replay old signals.
func (r *Runner) advance(ctx context.Context, symbol string, tf repository.Timeframe, onBar func(models.Candle)) (int, error) {
	key := symbol + "|" + string(tf)
	cursor, warm := r.cursor(key)
	applied := 0
	defer func() {
		if applied > 0 {
			r.setCursor(key, cursor)
		}
	}()

	if !warm {
		history, err := r.candles.Latest(ctx, symbol, tf, r.cfg.warmupBars)
		if err != nil {
			return 0, fmt.Errorf("load history %s %s: %w", symbol, tf, err)
		}
		for i, bar := range history {
			if err := r.engine.Update(bar); err != nil {
				return applied, fmt.Errorf("warm %s %s: %w", symbol, tf, err)
			}
			cursor = bar.TS
			applied++
			if onBar != nil && i == len(history)-1 {
				onBar(bar)
			}
		}
		return applied, nil
	}

	for {
		bars, err := r.candles.After(ctx, symbol, tf, cursor, r.cfg.batchSize)
		if err != nil {
			return applied, fmt.Errorf("load bars %s %s: %w", symbol, tf, err)
		}
		for _, bar := range bars {
			if err := r.engine.Update(bar); err != nil {
				return applied, fmt.Errorf("apply %s %s: %w", symbol, tf, err)
			}
			cursor = bar.TS
			applied++
			if onBar != nil {
				onBar(bar)
			}
		}
		if len(bars) < r.cfg.batchSize {
			return applied, nil
		}
	}
}

func (r *Runner) evalBar(ctx context.Context, symbol string, tf repository.Timeframe, bar models.Candle, p *sweepPartial) {
	snap, ok := r.engine.Snapshot(symbol, string(tf))
	if !ok {
		return
	}
	in := service.EvalInput{
		Symbol:    symbol,
		Timeframe: string(tf),
		Bar:       bar,
		Features:  snap,
		HigherTF:  r.confirmSnapshots(symbol, tf),
	}
	if r.cfg.quotes != nil {
		if q, ok := r.cfg.quotes(ctx, symbol); ok {
			in.Quote = q
		}
	}

	for _, det := range r.reg.Detectors() {
		spec := det.Spec()
		start := time.Now()
		cand, err := r.evalOne(ctx, det, in)
		r.metrics.RecordDetectorEval(spec.Key(), time.Since(start).Seconds())
		if err != nil {
			derr := &models.DetectorError{
				DetectorID: spec.ID, Version: spec.Version,
				Symbol: symbol, TF: string(tf), Err: err,
			}
			r.metrics.RecordDetectorError(spec.Key())
			r.log.Warn("detector evaluation failed",
				logger.String("detector", spec.Key()),
				logger.String("symbol", symbol),
				logger.Error(derr))
			p.skipped = append(p.skipped, models.SkippedItem{
				Symbol: symbol, Timeframe: string(tf),
				Reason: derr.Error(),
			})
			continue
		}
		if cand == nil {
			continue
		}
		r.emit(ctx, spec, in, *cand, p)
	}
}

func (r *Runner) confirmSnapshots(symbol string, base repository.Timeframe) map[string]models.FeatureVector {
	out := make(map[string]models.FeatureVector, len(r.cfg.confirmTFs))
	for _, tf := range r.cfg.confirmTFs {
		if tf == base {
			continue
		}
		if snap, ok := r.engine.Snapshot(symbol, string(tf)); ok {
			out[string(tf)] = snap
		}
	}
	return out
}

type evalResult struct {
	cand *models.SignalCandidate
	err  error
}

// evalOne isolates a single detector call: a panic or a blown deadline in
// one detector must not take down the sweep.
func (r *Runner) evalOne(ctx context.Context, det service.Detector, in service.EvalInput) (*models.SignalCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.detectorTimeout)
	defer cancel()

	done := make(chan evalResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- evalResult{err: fmt.Errorf("detector panic: %v", rec)}
			}
		}()
		cand, err := det.Evaluate(ctx, in)
		done <- evalResult{cand: cand, err: err}
	}()

	select {
	case res := <-done:
		return res.cand, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("detector timed out after %s: %w", r.cfg.detectorTimeout, ctx.Err())
	}
}

func (r *Runner) emit(ctx context.Context, spec models.DetectorSpec, in service.EvalInput, cand models.SignalCandidate, p *sweepPartial) {
	relVol, ok := in.Features.Get(models.FeatRelVol20)
	if !ok {
		relVol, _ = in.Features.Get(models.FeatRelVol10)
	}
	sig := models.Signal{
		ID:              uuid.NewString(),
		Symbol:          in.Symbol,
		Timeframe:       in.Timeframe,
		FiredAt:         in.Bar.TS,
		DetectorID:      spec.ID,
		DetectorVersion: spec.Version,
		Side:            cand.Side,
		Score:           cand.Score,
		EntryPrice:      in.Bar.Close,
		Bid:             in.Quote.Bid,
		Ask:             in.Quote.Ask,
		SpreadBps:       in.Quote.SpreadBps(),
		RelVolume:       relVol,
		SessionFlag:     models.SessionFlag(in.Bar.TS),
		TargetReturn:    cand.TargetReturn,
		ModelVersion:    cand.ModelVersion,
		Features:        in.Features.Clone(),
		CreatedAt:       r.cfg.clock.Now(),
	}

	stored, created, err := r.signals.Record(ctx, sig)
	if err != nil {
		r.metrics.RecordError("signal_record")
		r.log.Error("record signal",
			logger.String("detector", spec.Key()),
			logger.String("symbol", in.Symbol),
			logger.Error(err))
		p.skipped = append(p.skipped, models.SkippedItem{
			Symbol: in.Symbol, Timeframe: in.Timeframe,
			Reason: "record: " + err.Error(),
		})
		return
	}
	if !created {
		r.metrics.RecordSignalDuplicate(spec.Key())
		p.dups++
		return
	}
	p.emitted++
	r.metrics.RecordSignalEmitted(spec.Key(), in.Symbol)
	r.log.Info("signal emitted",
		logger.String("detector", spec.Key()),
		logger.String("symbol", in.Symbol),
		logger.String("timeframe", in.Timeframe),
		logger.String("fired_at", in.Bar.TS.UTC().Format(time.RFC3339)),
		logger.Any("score", stored.Score))

	if r.cfg.alerts != nil {
		if err := r.cfg.alerts.Publish(ctx, stored); err != nil {
			r.metrics.RecordError("alert_publish")
			r.log.Warn("publish alert", logger.String("signal_id", stored.ID), logger.Error(err))
		}
	}
	if r.cfg.onSignal != nil {
		r.cfg.onSignal(stored)
	}
}

func (r *Runner) cursor(key string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.cursors[key]
	return ts, ok
}

func (r *Runner) setCursor(key string, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[key] = ts
}

func shardIndex(symbol string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(shards))
}
