package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"FinScan/internal/detector"
	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/domain/service"
	"FinScan/internal/handler/api"
	"FinScan/internal/indicator"
	"FinScan/internal/labeler"
	mid "FinScan/internal/middleware"
	internalrepo "FinScan/internal/repository"
	"FinScan/internal/service/provider"
	"FinScan/internal/service/ratelimit"
	"FinScan/internal/service/scoring"
	"FinScan/internal/usecase"
	pkgcache "FinScan/pkg/cache"
	pkgch "FinScan/pkg/clickhouse"
	"FinScan/pkg/config"
	pkgkafka "FinScan/pkg/kafka"
	applogger "FinScan/pkg/logger"
	"FinScan/pkg/metrics"
	pkgqueue "FinScan/pkg/queue"
	"FinScan/pkg/server"
)

// Stores bundles the persistence backends the config picked. Either every
// store is ClickHouse-backed or every store is in-memory; mixing backends
// would break the cross-store natural-key invariants.
type Stores struct {
	Candles   domrepo.CandleStore
	Symbols   domrepo.SymbolStore
	Signals   domrepo.SignalStore
	Outcomes  domrepo.OutcomeStore
	Baselines domrepo.BaselineStore
	Detectors domrepo.DetectorStore
}

// ProvideLogger creates the structured logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates the ClickHouse client and initializes
// the schema. Returns nil for the memory backend.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Backend != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := internalrepo.InitSchema(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideStores picks the store implementations for the configured
// backend.
func ProvideStores(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) *Stores {
	if cfg.Backend == "clickhouse" && ch != nil {
		return &Stores{
			Candles:   internalrepo.NewCHCandleStore(ch, l),
			Symbols:   internalrepo.NewCHSymbolStore(ch, l),
			Signals:   internalrepo.NewCHSignalStore(ch, l),
			Outcomes:  internalrepo.NewCHOutcomeStore(ch, l),
			Baselines: internalrepo.NewCHBaselineStore(ch, l),
			Detectors: internalrepo.NewCHDetectorStore(ch, l),
		}
	}
	outcomes := internalrepo.NewMemoryOutcomeStore()
	return &Stores{
		Candles:   internalrepo.NewMemoryCandleStore(),
		Symbols:   internalrepo.NewMemorySymbolStore(),
		Signals:   internalrepo.NewMemorySignalStore(outcomes),
		Outcomes:  outcomes,
		Baselines: internalrepo.NewMemoryBaselineStore(),
		Detectors: internalrepo.NewMemoryDetectorStore(),
	}
}

// ProvideScorer creates the external scoring client when an endpoint is
// configured. Model detectors refuse to build without one.
func ProvideScorer(cfg *config.Config, l *applogger.Logger) service.Scorer {
	if cfg.Scoring.URL == "" {
		return nil
	}
	return scoring.NewHTTPScorer(cfg.Scoring.URL, l,
		scoring.WithTimeout(cfg.Scoring.Timeout),
		scoring.WithAttempts(cfg.Scoring.Attempts),
	)
}

// ProvideRegistry builds the detector registry from the configured specs.
func ProvideRegistry(cfg *config.Config, scorer service.Scorer) (*detector.Registry, error) {
	reg, err := detector.Build(cfg.DetectorSpecs(), scorer)
	if err != nil {
		return nil, fmt.Errorf("build detectors: %w", err)
	}
	return reg, nil
}

// ProvideEngine creates the shared indicator engine.
func ProvideEngine() *indicator.Engine {
	return indicator.NewEngine()
}

// ProvideKafkaProducer creates the Kafka producer, or nil when Kafka is
// disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideAlertPublisher delivers recorded signals onto the alerts topic.
func ProvideAlertPublisher(cfg *config.Config, producer *pkgkafka.Producer) domrepo.AlertPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaAlertPublisher(producer, cfg.Kafka.AlertsTopic)
}

// ProvideKafkaConsumer creates the bars consumer, or nil when Kafka is
// disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.AutoOffsetReset),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.NewTracingHook(l)))
	return consumer, nil
}

// ProvideBarsHandler lands bars from the bars topic in the candle store.
func ProvideBarsHandler(cfg *config.Config, stores *Stores, m domrepo.Metrics) *usecase.KafkaBarsHandler {
	if !cfg.Kafka.Enabled {
		return nil
	}
	return usecase.NewKafkaBarsHandler(cfg.Kafka.BarsTopic, stores.Candles, m)
}

// ProvideRedisCache creates the shared redis handle when redis is
// enabled. Both the response cache and the labeling queue ride on it.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	host, port := splitHostPort(cfg.Redis.Addr)
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCacheService picks the response cache for the query API.
func ProvideCacheService(cfg *config.Config, rc *pkgcache.RedisCache) pkgcache.Service {
	switch cfg.Server.CacheBackend {
	case "redis":
		if rc == nil {
			return nil
		}
		return pkgcache.NewLayeredCache(rc)
	case "memory":
		return pkgcache.NewMemoryCache()
	default:
		return nil
	}
}

// ProvideHTTPProvider creates the pull-side market data client, or nil
// when no endpoint is configured.
func ProvideHTTPProvider(cfg *config.Config, m domrepo.Metrics, l *applogger.Logger) *provider.HTTPProvider {
	if cfg.Provider.BaseURL == "" {
		return nil
	}
	return provider.NewHTTPProvider(cfg.Provider.BaseURL, cfg.Provider.APIKey, m, l,
		provider.WithTimeout(cfg.Provider.Timeout),
		provider.WithMaxAttempts(cfg.Provider.MaxAttempts),
		provider.WithBackoff(cfg.Provider.Backoff),
	)
}

// ProvideBarProvider exposes the HTTP provider behind the domain
// interface.
func ProvideBarProvider(hp *provider.HTTPProvider) domrepo.BarProvider {
	if hp == nil {
		return nil
	}
	return hp
}

// ProvideLabeler creates the outcome labeler from the labeling config.
func ProvideLabeler(cfg *config.Config, stores *Stores, m domrepo.Metrics, l *applogger.Logger) *labeler.Labeler {
	return labeler.New(stores.Candles, stores.Signals, stores.Outcomes, m, l,
		labeler.WithHorizons(cfg.Horizons()...),
		labeler.WithTargets(cfg.TargetGrid()),
		labeler.WithLabelVersion(cfg.Labeling.LabelVersion),
		labeler.WithBatchSize(cfg.Labeling.BatchSize),
	)
}

// ProvideSampler creates the baseline sampler.
func ProvideSampler(cfg *config.Config, stores *Stores, m domrepo.Metrics, l *applogger.Logger) *labeler.Sampler {
	return labeler.NewSampler(stores.Candles, stores.Signals, stores.Baselines, m, l,
		labeler.WithSampleRate(cfg.Baseline.Rate),
		labeler.WithMinSpacing(cfg.Baseline.MinSpacing),
		labeler.WithLookback(cfg.Baseline.Lookback),
		labeler.WithSamplerLabelVersion(cfg.Labeling.LabelVersion),
		labeler.WithSeed(cfg.Baseline.Seed),
	)
}

// ProvideLabelUseCase creates the labeling and baseline use case.
func ProvideLabelUseCase(lab *labeler.Labeler, sampler *labeler.Sampler, m domrepo.Metrics, l *applogger.Logger) *usecase.LabelUseCase {
	return usecase.NewLabelUseCase(lab, sampler, m, l)
}

// ProvideLabelQueue creates the redis-backed labeling queue with the
// label job registered, or nil when the queue is disabled.
func ProvideLabelQueue(cfg *config.Config, l *applogger.Logger, rc *pkgcache.RedisCache, labelUC *usecase.LabelUseCase) *pkgqueue.RedisQueue {
	if !cfg.Labeling.Queue.Enabled || rc == nil {
		return nil
	}
	q := pkgqueue.NewRedis(l, &pkgqueue.Config{
		Workers:    cfg.Labeling.Queue.Workers,
		RetryLimit: 3,
		RetryDelay: 30 * time.Second,
	}, rc.Client(), pkgqueue.WithKeyPrefix(cfg.Labeling.Queue.Name))
	q.RegisterJob(usecase.NewLabelSignalJob(labelUC, l))
	return q
}

// ProvideRunner creates the detector runner with every configured
// emission path attached: alerts, quotes, and the labeling queue hook.
func ProvideRunner(
	cfg *config.Config,
	reg *detector.Registry,
	eng *indicator.Engine,
	stores *Stores,
	m domrepo.Metrics,
	l *applogger.Logger,
	alerts domrepo.AlertPublisher,
	q *pkgqueue.RedisQueue,
	hp *provider.HTTPProvider,
) *detector.Runner {
	confirm := make([]domrepo.Timeframe, 0, len(cfg.Scan.ConfirmTFs))
	for _, s := range cfg.Scan.ConfirmTFs {
		confirm = append(confirm, domrepo.Timeframe(s))
	}

	opts := []detector.RunnerOption{
		detector.WithShards(cfg.Scan.Shards),
		detector.WithWarmupBars(cfg.Scan.WarmupBars),
		detector.WithBatchSize(cfg.Scan.BatchSize),
		detector.WithDetectorTimeout(cfg.Scan.DetectorTimeout),
		detector.WithConfirmTimeframes(confirm...),
	}
	if alerts != nil {
		opts = append(opts, detector.WithAlerts(alerts))
	}
	if hp != nil {
		opts = append(opts, detector.WithQuotes(func(ctx context.Context, symbol string) (models.Quote, bool) {
			qu, err := hp.LatestQuote(ctx, symbol)
			if err != nil || (qu.Bid <= 0 && qu.Ask <= 0) {
				return models.Quote{}, false
			}
			return qu, true
		}))
	}
	if cfg.Mode == "serve" && q != nil {
		opts = append(opts, detector.WithOnSignal(func(sig models.Signal) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := q.Publish(ctx, usecase.LabelSignalType, sig); err != nil {
				l.Warn("enqueue label job",
					applogger.String("signal_id", sig.ID),
					applogger.Error(err),
				)
			}
		}))
	}
	return detector.NewRunner(reg, eng, stores.Candles, stores.Signals, m, l, opts...)
}

// ProvideScanUseCase creates the detection sweep use case.
func ProvideScanUseCase(
	runner *detector.Runner,
	reg *detector.Registry,
	stores *Stores,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.ScanUseCase {
	return usecase.NewScanUseCase(runner, reg, stores.Detectors, m, l)
}

// ProvideIngestUseCase creates the provider-pull ingest use case, or nil
// when no provider is configured.
func ProvideIngestUseCase(bp domrepo.BarProvider, stores *Stores, m domrepo.Metrics, l *applogger.Logger) *usecase.IngestUseCase {
	if bp == nil {
		return nil
	}
	return usecase.NewIngestUseCase(bp, stores.Candles, stores.Symbols, m, l)
}

// ProvideMarketStream creates the websocket bar stream, or nil when
// streaming is disabled.
func ProvideMarketStream(cfg *config.Config, l *applogger.Logger) domrepo.MarketStream {
	if !cfg.Provider.Stream || cfg.Provider.WebSocketURL == "" {
		return nil
	}
	return provider.NewStream(
		cfg.Provider.APIKey,
		cfg.Provider.WebSocketURL,
		cfg.Universe.Watchlist,
		cfg.Provider.ReconnectDelay,
		cfg.Provider.PingInterval,
		l,
	)
}

// ProvideBarCollector attaches the stream to the ingest path through the
// pipeline middleware. Streamed bars route through Kafka when it is
// enabled so the at-least-once consumer lands them; otherwise they go
// straight to the store.
func ProvideBarCollector(
	cfg *config.Config,
	stream domrepo.MarketStream,
	producer *pkgkafka.Producer,
	stores *Stores,
	m domrepo.Metrics,
) *usecase.BarCollector {
	if stream == nil {
		return nil
	}
	var pub usecase.BarPublisher
	backend := cfg.Backend
	if cfg.Kafka.Enabled && producer != nil {
		pub = internalrepo.NewKafkaBarPublisher(producer, cfg.Kafka.BarsTopic)
		backend = "kafka"
	}
	proc := usecase.NewBarProcessor(pub, stores.Candles, m, backend)
	pipe := mid.NewBarPipeline(proc, m,
		mid.WithMaxRPS(50),
		mid.WithBufferSize(2000),
	)
	return usecase.NewBarCollector(stream, proc, m, pipe)
}

// ProvideAPIHandler creates the query API handler with its cache, rate
// limiter, and health probe attached.
func ProvideAPIHandler(
	cfg *config.Config,
	stores *Stores,
	cacheSvc pkgcache.Service,
	ch *pkgch.Client,
	l *applogger.Logger,
) *api.Handler {
	h := api.NewHandler(
		usecase.NewSignalsUseCase(stores.Signals, stores.Outcomes),
		usecase.NewCandlesUseCase(stores.Candles),
		l,
	)
	if cacheSvc != nil {
		h.SetCache(cacheSvc)
	}
	h.SetRateLimiter(ratelimit.New(cfg.Server.RateCapacity, cfg.Server.RateRefill))
	if ch != nil {
		h.SetHealthCheck(ch.Health)
	}
	return h
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	ingest *usecase.IngestUseCase,
	scan *usecase.ScanUseCase,
	label *usecase.LabelUseCase,
	handler *api.Handler,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	barsHandler *usecase.KafkaBarsHandler,
	q *pkgqueue.RedisQueue,
	producer *pkgkafka.Producer,
	cacheSvc pkgcache.Service,
	rc *pkgcache.RedisCache,
	ch *pkgch.Client,
	m domrepo.Metrics,
) *server.App {
	return server.New(cfg, l, server.Deps{
		Ingest:      ingest,
		Scan:        scan,
		Label:       label,
		Handler:     handler,
		Collector:   collector,
		Consumer:    consumer,
		BarsHandler: barsHandler,
		Queue:       q,
		Producer:    producer,
		Cache:       cacheSvc,
		Redis:       rc,
		CH:          ch,
		Metrics:     m,
	})
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6379
	}
	return host, port
}
