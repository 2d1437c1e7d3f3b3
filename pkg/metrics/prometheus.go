package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FinScan/internal/domain/repository"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	barsIngested     *prometheus.CounterVec
	bucketsEmitted   *prometheus.CounterVec
	detectorEval     *prometheus.HistogramVec
	detectorErrors   *prometheus.CounterVec
	signalsEmitted   *prometheus.CounterVec
	signalsDuplicate *prometheus.CounterVec
	outcomesComputed *prometheus.CounterVec
	outcomesPending  *prometheus.CounterVec
	baselineSamples  *prometheus.CounterVec
	providerRetries  *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec
}

var _ repository.Metrics = (*Recorder)(nil)

// New creates a new Prometheus metrics recorder. Call once per process:
// collectors register against the default registry.
func New() *Recorder {
	return &Recorder{
		barsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_bars_ingested_total",
				Help: "Closed bars upserted into the candle store",
			},
			[]string{"symbol", "timeframe"},
		),
		bucketsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_buckets_emitted_total",
				Help: "Higher-timeframe buckets derived from finer bars",
			},
			[]string{"timeframe"},
		),
		detectorEval: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finscan_detector_eval_duration_seconds",
				Help:    "Duration of a single detector evaluation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"detector"},
		),
		detectorErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_detector_errors_total",
				Help: "Detector evaluations that errored, panicked or timed out",
			},
			[]string{"detector"},
		),
		signalsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_signals_emitted_total",
				Help: "Newly recorded signals",
			},
			[]string{"detector", "symbol"},
		),
		signalsDuplicate: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_signals_duplicate_total",
				Help: "Signal emissions suppressed by the natural-key collision rule",
			},
			[]string{"detector"},
		),
		outcomesComputed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_outcomes_computed_total",
				Help: "Outcome rows written by the labeler",
			},
			[]string{"horizon"},
		),
		outcomesPending: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_outcomes_pending_total",
				Help: "Signal-horizon pairs skipped because the window is not full yet",
			},
			[]string{"horizon"},
		),
		baselineSamples: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_baseline_samples_total",
				Help: "Baseline feature rows sampled",
			},
			[]string{"symbol"},
		),
		providerRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_provider_retries_total",
				Help: "Market-data provider calls that were retried",
			},
			[]string{"operation"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finscan_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finscan_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finscan_queue_depth",
				Help: "Current depth of an internal work queue",
			},
			[]string{"queue"},
		),
	}
}

func (r *Recorder) RecordBarIngested(symbol, tf string) {
	r.barsIngested.WithLabelValues(symbol, tf).Inc()
}

func (r *Recorder) RecordBucketEmitted(tf string) {
	r.bucketsEmitted.WithLabelValues(tf).Inc()
}

func (r *Recorder) RecordDetectorEval(detector string, seconds float64) {
	r.detectorEval.WithLabelValues(detector).Observe(seconds)
}

func (r *Recorder) RecordDetectorError(detector string) {
	r.detectorErrors.WithLabelValues(detector).Inc()
}

func (r *Recorder) RecordSignalEmitted(detector, symbol string) {
	r.signalsEmitted.WithLabelValues(detector, symbol).Inc()
}

func (r *Recorder) RecordSignalDuplicate(detector string) {
	r.signalsDuplicate.WithLabelValues(detector).Inc()
}

func (r *Recorder) RecordOutcomeComputed(horizon string) {
	r.outcomesComputed.WithLabelValues(horizon).Inc()
}

func (r *Recorder) RecordOutcomePending(horizon string) {
	r.outcomesPending.WithLabelValues(horizon).Inc()
}

func (r *Recorder) RecordBaselineSample(symbol string) {
	r.baselineSamples.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordProviderRetry(op string) {
	r.providerRetries.WithLabelValues(op).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordQueueDepth(queue string, depth int) {
	r.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// Nop is a do-nothing Metrics for tests and one-shot tooling.
type Nop struct{}

var _ repository.Metrics = Nop{}

func (Nop) RecordBarIngested(symbol, tf string)           {}
func (Nop) RecordBucketEmitted(tf string)                 {}
func (Nop) RecordDetectorEval(detector string, s float64) {}
func (Nop) RecordDetectorError(detector string)           {}
func (Nop) RecordSignalEmitted(detector, symbol string)   {}
func (Nop) RecordSignalDuplicate(detector string)         {}
func (Nop) RecordOutcomeComputed(horizon string)          {}
func (Nop) RecordOutcomePending(horizon string)           {}
func (Nop) RecordBaselineSample(symbol string)            {}
func (Nop) RecordProviderRetry(op string)                 {}
func (Nop) RecordError(kind string)                       {}
func (Nop) RecordLatency(op string, s float64)            {}
func (Nop) RecordQueueDepth(queue string, depth int)      {}
