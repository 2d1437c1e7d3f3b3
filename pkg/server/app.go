package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/handler/api"
	"FinScan/internal/usecase"
	pkgcache "FinScan/pkg/cache"
	pkgch "FinScan/pkg/clickhouse"
	"FinScan/pkg/config"
	xhttp "FinScan/pkg/http"
	pkgkafka "FinScan/pkg/kafka"
	applogger "FinScan/pkg/logger"
	pkgqueue "FinScan/pkg/queue"
)

// ErrPartial marks a once-mode cycle that finished but skipped streams.
// Callers map it to a distinct exit status so schedulers can tell a
// degraded pass from a failed one.
var ErrPartial = errors.New("cycle completed with skipped streams")

// Deps carries every component Run may start. Optional components are nil
// when their config block is disabled; Run checks before touching them.
type Deps struct {
	Ingest      *usecase.IngestUseCase
	Scan        *usecase.ScanUseCase
	Label       *usecase.LabelUseCase
	Handler     *api.Handler
	Collector   *usecase.BarCollector
	Consumer    *pkgkafka.Consumer
	BarsHandler *usecase.KafkaBarsHandler
	Queue       *pkgqueue.RedisQueue
	Producer    *pkgkafka.Producer
	Cache       pkgcache.Service
	Redis       *pkgcache.RedisCache
	CH          *pkgch.Client
	Metrics     domrepo.Metrics
}

// App composes the detection pipeline and runs it in the configured mode:
// a single batch cycle, or a long-lived server with periodic sweeps.
type App struct {
	cfg  *config.Config
	l    *applogger.Logger
	deps Deps

	httpServer *xhttp.Server
	shipping   bool
}

func New(cfg *config.Config, l *applogger.Logger, deps Deps) *App {
	return &App{cfg: cfg, l: l, deps: deps}
}

// Run blocks until the pass completes (once mode) or a shutdown signal
// arrives (serve mode).
func (a *App) Run() error {
	if a.cfg.Mode == "once" {
		return a.runOnce()
	}
	return a.runServe()
}

// runOnce performs one full cycle: ingest the watchlist, scan every
// configured timeframe, label, sample baselines, and report. Per-stream
// failures degrade the cycle instead of aborting it.
func (a *App) runOnce() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.startLogShipping()
	defer a.stopLogShipping()
	defer a.closeClients()

	if err := a.ensureDetectors(ctx); err != nil {
		return err
	}

	watch := a.cfg.Universe.Watchlist
	tfs := a.timeframes()
	sum := models.CycleSummary{StartedAt: time.Now().UTC()}

	a.ingestWatchlist(ctx, watch, tfs, &sum)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cycle interrupted: %w", err)
	}

	for _, tf := range tfs {
		s, err := a.deps.Scan.Scan(ctx, watch, tf)
		mergeSummary(&sum, s)
		if err != nil {
			return err
		}
	}

	res, err := a.deps.Label.Label(ctx)
	if err != nil {
		return err
	}
	sum.OutcomesComputed = res.OutcomesComputed
	sum.OutcomesPending = res.OutcomesPending

	for _, tf := range tfs {
		kept, err := a.deps.Label.Baseline(ctx, watch, tf)
		sum.BaselineRows += kept
		if err != nil {
			return err
		}
	}

	sum.FinishedAt = time.Now().UTC()
	a.logCycle(sum)

	if n := len(sum.Skipped); n > 0 {
		return fmt.Errorf("%d of %d streams skipped: %w", n, len(watch)*len(tfs), ErrPartial)
	}
	return nil
}

// runServe starts the query API and the periodic sweeps, plus whichever
// intake paths the config enables, then waits for SIGINT/SIGTERM.
func (a *App) runServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.startLogShipping()

	if err := a.ensureDetectors(ctx); err != nil {
		a.stopLogShipping()
		a.closeClients()
		return err
	}

	a.httpServer = xhttp.NewServer(a.deps.Handler,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(a.cfg.Server.CORS),
		xhttp.WithLogger(a.l),
	)
	_ = a.httpServer.Start()

	if a.deps.Consumer != nil && a.deps.BarsHandler != nil {
		a.deps.Consumer.RegisterHandler(a.deps.BarsHandler)
		if err := a.deps.Consumer.Start(); err != nil {
			a.shutdown()
			return fmt.Errorf("bars consumer: %w", err)
		}
		a.l.Info("bars consumer started", applogger.String("topic", a.deps.BarsHandler.Topic()))
	}

	if a.deps.Collector != nil {
		if err := a.deps.Collector.Start(ctx); err != nil {
			a.shutdown()
			return fmt.Errorf("market stream: %w", err)
		}
		a.l.Info("market stream collector started")
	}

	if a.deps.Queue != nil {
		if err := a.deps.Queue.Start(); err != nil {
			a.shutdown()
			return fmt.Errorf("labeling queue: %w", err)
		}
		go a.pollQueueDepth(ctx)
	}

	go a.scanLoop(ctx)
	go a.labelLoop(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	a.l.Info("shutdown signal received")
	cancel()
	a.shutdown()
	return nil
}

func (a *App) ensureDetectors(ctx context.Context) error {
	ectx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.deps.Scan.EnsureDetectors(ectx); err != nil {
		return fmt.Errorf("persist detector specs: %w", err)
	}
	return nil
}

// ingestWatchlist pulls provider history for every symbol and derives the
// coarser universe streams. Without a configured provider the pass scans
// whatever the store already holds.
func (a *App) ingestWatchlist(ctx context.Context, watch []string, tfs []domrepo.Timeframe, sum *models.CycleSummary) {
	if a.deps.Ingest == nil {
		a.l.Info("no provider configured, scanning stored bars")
		return
	}

	base := domrepo.Timeframe(a.cfg.Universe.BaseTF)
	derive := make([]domrepo.Timeframe, 0, len(tfs))
	slowest := base
	for _, tf := range tfs {
		if tf.Duration() > slowest.Duration() {
			slowest = tf
		}
		if tf != base && tf.Duration() > base.Duration() {
			derive = append(derive, tf)
		}
	}

	// Enough base history to fully warm the slowest stream's indicators.
	to := time.Now().UTC()
	from := to.Add(-time.Duration(a.cfg.Scan.WarmupBars) * slowest.Duration())

	for _, sym := range watch {
		if ctx.Err() != nil {
			return
		}
		res, err := a.deps.Ingest.IngestRange(ctx, usecase.IngestParams{
			Symbol:   sym,
			Exchange: a.cfg.Universe.Exchange,
			From:     from,
			To:       to,
			BaseTF:   base,
			DeriveTF: derive,
		})
		var gap *models.DataGapError
		if errors.As(err, &gap) {
			// No bars for the window. Scan whatever history the store
			// holds, but surface the hole in the cycle summary.
			a.l.Warn("provider returned no bars", applogger.Error(gap))
			sum.Skipped = append(sum.Skipped, models.SkippedItem{
				Symbol:    sym,
				Timeframe: string(base),
				Reason:    gap.Error(),
			})
			continue
		}
		if err != nil {
			sum.Skipped = append(sum.Skipped, models.SkippedItem{
				Symbol:    sym,
				Timeframe: string(base),
				Reason:    fmt.Sprintf("ingest: %v", err),
			})
			continue
		}
		a.l.Debug("symbol ingested",
			applogger.String("symbol", sym),
			applogger.Int("fetched", res.BarsFetched),
			applogger.Int("stored", res.BarsStored),
		)
	}
}

// scanLoop sweeps every universe timeframe on the scan interval. The first
// sweep runs immediately so a fresh process starts emitting without
// waiting out a full interval.
func (a *App) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Scan.Interval)
	defer ticker.Stop()

	a.scanAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.scanAll(ctx)
		}
	}
}

func (a *App) scanAll(ctx context.Context) {
	for _, tf := range a.timeframes() {
		if ctx.Err() != nil {
			return
		}
		if _, err := a.deps.Scan.Scan(ctx, a.cfg.Universe.Watchlist, tf); err != nil {
			a.l.Error("scan sweep failed",
				applogger.String("tf", string(tf)),
				applogger.Error(err),
			)
		}
	}
}

// labelLoop runs labeling and baseline sweeps on their own cadence so a
// slow labeling pass never stalls detection.
func (a *App) labelLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Labeling.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.deps.Label.Label(ctx); err != nil {
				a.l.Error("label sweep failed", applogger.Error(err))
				continue
			}
			for _, tf := range a.timeframes() {
				if ctx.Err() != nil {
					return
				}
				if _, err := a.deps.Label.Baseline(ctx, a.cfg.Universe.Watchlist, tf); err != nil {
					a.l.Error("baseline sweep failed",
						applogger.String("tf", string(tf)),
						applogger.Error(err),
					)
				}
			}
		}
	}
}

func (a *App) pollQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := a.deps.Queue.Depth(ctx)
			if err != nil {
				continue
			}
			a.deps.Metrics.RecordQueueDepth("labeling", int(depth))
		}
	}
}

// shutdown tears the serve-mode components down intake first, so nothing
// new enters while the sinks drain.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.deps.Collector != nil {
		if err := a.deps.Collector.Shutdown(ctx); err != nil {
			a.l.Error("market stream shutdown", applogger.Error(err))
		}
	}
	if a.deps.Consumer != nil {
		if err := a.deps.Consumer.Stop(ctx); err != nil {
			a.l.Error("bars consumer shutdown", applogger.Error(err))
		}
	}
	if a.deps.Queue != nil {
		if err := a.deps.Queue.Stop(ctx); err != nil {
			a.l.Error("labeling queue shutdown", applogger.Error(err))
		}
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Error("http server shutdown", applogger.Error(err))
		}
	}

	a.stopLogShipping()
	a.closeClients()
	a.l.Info("shutdown complete")
}

// closeClients releases shared connections after every user is stopped.
func (a *App) closeClients() {
	if a.deps.Producer != nil {
		if err := a.deps.Producer.Close(); err != nil {
			a.l.Error("kafka producer close", applogger.Error(err))
		}
	}
	if a.deps.Cache != nil {
		if c, ok := a.deps.Cache.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	// The layered cache owns the redis handle when it is the backend;
	// otherwise the handle only serves the queue and is closed here.
	if a.deps.Redis != nil && a.cfg.Server.CacheBackend != "redis" {
		_ = a.deps.Redis.Close()
	}
	if a.deps.CH != nil {
		if err := a.deps.CH.Close(); err != nil {
			a.l.Error("clickhouse close", applogger.Error(err))
		}
	}
}

// producerPublisher adapts the Kafka producer to the log collector's
// publisher contract.
type producerPublisher struct {
	p *pkgkafka.Producer
}

func (pp producerPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return pp.p.Publish(ctx, topic, nil, payload)
}

// startLogShipping aggregates warn/error logs onto the logs topic when a
// producer is available.
func (a *App) startLogShipping() {
	if a.deps.Producer == nil || a.cfg.Kafka.LogsTopic == "" {
		return
	}
	a.l.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          a.cfg.Kafka.LogsTopic,
		Publisher:      producerPublisher{p: a.deps.Producer},
	})
	a.shipping = true
}

func (a *App) stopLogShipping() {
	if !a.shipping {
		return
	}
	a.l.RemoveCollector()
	a.shipping = false
}

func (a *App) timeframes() []domrepo.Timeframe {
	out := make([]domrepo.Timeframe, 0, len(a.cfg.Universe.Timeframes))
	for _, s := range a.cfg.Universe.Timeframes {
		out = append(out, domrepo.Timeframe(s))
	}
	return out
}

func mergeSummary(dst *models.CycleSummary, s models.CycleSummary) {
	dst.StreamsProcessed += s.StreamsProcessed
	dst.BarsIngested += s.BarsIngested
	dst.SignalsEmitted += s.SignalsEmitted
	dst.SignalsDuplicate += s.SignalsDuplicate
	dst.Skipped = append(dst.Skipped, s.Skipped...)
}

func (a *App) logCycle(sum models.CycleSummary) {
	a.l.Info("cycle complete",
		applogger.Int("streams", sum.StreamsProcessed),
		applogger.Int("bars", sum.BarsIngested),
		applogger.Int("signals", sum.SignalsEmitted),
		applogger.Int("duplicates", sum.SignalsDuplicate),
		applogger.Int("outcomes", sum.OutcomesComputed),
		applogger.Int("pending", sum.OutcomesPending),
		applogger.Int("baseline_rows", sum.BaselineRows),
		applogger.Int("skipped", len(sum.Skipped)),
		applogger.Duration("duration_ms", sum.FinishedAt.Sub(sum.StartedAt)),
	)
	for _, sk := range sum.Skipped {
		a.l.Warn("stream skipped",
			applogger.String("symbol", sk.Symbol),
			applogger.String("tf", sk.Timeframe),
			applogger.String("reason", sk.Reason),
		)
	}
}
