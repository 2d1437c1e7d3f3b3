package repository

import (
	"context"
	"time"

	"FinScan/internal/domain/models"
)

// CandleStore is durable time-ordered bar storage. All writes are
// idempotent upserts on (symbol, timeframe, ts).
type CandleStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	PutBar(ctx context.Context, bar models.Candle) error
	PutBars(ctx context.Context, bars []models.Candle) (int, error)
	// Range returns bars with from <= ts < to, ascending.
	Range(ctx context.Context, symbol string, tf Timeframe, from, to time.Time) ([]models.Candle, error)
	// Latest returns up to n most recent bars, ascending.
	Latest(ctx context.Context, symbol string, tf Timeframe, n int) ([]models.Candle, error)
	// After returns up to n bars with ts strictly greater than after, ascending.
	After(ctx context.Context, symbol string, tf Timeframe, after time.Time, n int) ([]models.Candle, error)
	LatestTS(ctx context.Context, symbol string, tf Timeframe) (time.Time, bool, error)
	Close() error
}

// SymbolStore tracks instruments. GetOrCreate is keyed (ticker, exchange);
// Touch bumps last_seen.
type SymbolStore interface {
	GetOrCreate(ctx context.Context, sym models.Symbol) (models.Symbol, error)
	Touch(ctx context.Context, ticker, exchange string, seen time.Time) error
}

// SignalStore is append-mostly: Record returns the stored signal and
// created=false when the natural key already exists. No update path.
type SignalStore interface {
	Init(ctx context.Context) error
	Record(ctx context.Context, sig models.Signal) (models.Signal, bool, error)
	Get(ctx context.Context, id string) (models.Signal, bool, error)
	// Query filters are optional: empty symbol/tf and zero since mean "any".
	Query(ctx context.Context, symbol string, tf Timeframe, since time.Time, limit int) ([]models.Signal, error)
	// FiredAtSet returns the set of fired_at timestamps for a stream,
	// used by the baseline sampler exclusion rule.
	FiredAtSet(ctx context.Context, symbol string, tf Timeframe) (map[time.Time]struct{}, error)
	// Unlabeled returns signals missing an outcome row for the given
	// horizon under the given label version.
	Unlabeled(ctx context.Context, horizon models.Horizon, labelVersion int, limit int) ([]models.Signal, error)
	Close() error
}

// OutcomeStore is append-only; (signal, horizon, label_version) rows are
// never overwritten.
type OutcomeStore interface {
	Init(ctx context.Context) error
	// Put writes one outcome atomically; a key collision is a no-op.
	Put(ctx context.Context, o models.Outcome) error
	BySignal(ctx context.Context, signalID string) ([]models.Outcome, error)
	Has(ctx context.Context, signalID string, h models.Horizon, labelVersion int) (bool, error)
	Close() error
}

// BaselineStore persists negative feature samples.
type BaselineStore interface {
	Init(ctx context.Context) error
	Put(ctx context.Context, b models.BaselineSample) error
	Query(ctx context.Context, symbol string, tf Timeframe, limit int) ([]models.BaselineSample, error)
	Close() error
}

// DetectorStore persists detector specs for reproducibility of historical
// signals. Insert-if-absent; specs are immutable.
type DetectorStore interface {
	Init(ctx context.Context) error
	Ensure(ctx context.Context, spec models.DetectorSpec) error
	List(ctx context.Context) ([]models.DetectorSpec, error)
	Close() error
}

// AlertPublisher delivers newly recorded signals to downstream consumers.
// The underlying transport is shared and closed by its owner, not here.
type AlertPublisher interface {
	Publish(ctx context.Context, sig models.Signal) error
}

// MarketStream is a push source of closed bars (websocket provider).
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Candle, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// BarProvider is the pull side of the market-data collaborator.
// Bars come back ascending; gaps are never fabricated.
type BarProvider interface {
	FetchBars(ctx context.Context, symbol string, tf Timeframe, from, to time.Time) ([]models.Candle, error)
}

// Metrics is the pipeline instrumentation surface.
type Metrics interface {
	RecordBarIngested(symbol, tf string)
	RecordBucketEmitted(tf string)
	RecordDetectorEval(detector string, seconds float64)
	RecordDetectorError(detector string)
	RecordSignalEmitted(detector, symbol string)
	RecordSignalDuplicate(detector string)
	RecordOutcomeComputed(horizon string)
	RecordOutcomePending(horizon string)
	RecordBaselineSample(symbol string)
	RecordProviderRetry(op string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordQueueDepth(queue string, depth int)
}
