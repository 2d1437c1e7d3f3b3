package labeler

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/google/uuid"

	"FinScan/internal/domain/models"
	"FinScan/internal/domain/repository"
	"FinScan/internal/domain/service"
	"FinScan/internal/indicator"
	"FinScan/pkg/logger"
)

type samplerConfig struct {
	rate         float64
	minSpacing   int
	lookbackBars int
	labelVersion int
	seed         int64
	clock        service.Clock
}

type SamplerOption func(*samplerConfig)

// WithSampleRate sets the keep probability per eligible bar.
func WithSampleRate(rate float64) SamplerOption {
	return func(c *samplerConfig) {
		if rate > 0 && rate <= 1 {
			c.rate = rate
		}
	}
}

// WithMinSpacing sets the minimum bar distance between kept samples of one
// stream.
func WithMinSpacing(bars int) SamplerOption {
	return func(c *samplerConfig) {
		if bars > 0 {
			c.minSpacing = bars
		}
	}
}

// WithLookback bounds how much trailing history one sampling pass covers.
func WithLookback(bars int) SamplerOption {
	return func(c *samplerConfig) {
		if bars > 0 {
			c.lookbackBars = bars
		}
	}
}

// WithSamplerLabelVersion pins the version sampled rows are written under.
func WithSamplerLabelVersion(v int) SamplerOption {
	return func(c *samplerConfig) {
		if v > 0 {
			c.labelVersion = v
		}
	}
}

// WithSeed makes sampling reproducible. The per-stream source mixes the
// seed with the stream key, so streams stay decorrelated while runs repeat.
func WithSeed(seed int64) SamplerOption {
	return func(c *samplerConfig) { c.seed = seed }
}

// WithSamplerClock injects the time source for created_at stamps.
func WithSamplerClock(clk service.Clock) SamplerOption {
	return func(c *samplerConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// Sampler draws negative feature examples: bars where no signal fired, with
// the same feature snapshot shape signals carry. Bars whose timestamp
// collides with a real signal's fired_at are never eligible.
type Sampler struct {
	candles  repository.CandleStore
	signals  repository.SignalStore
	baseline repository.BaselineStore
	metrics  repository.Metrics
	log      *logger.Logger
	cfg      samplerConfig
}

func NewSampler(
	candles repository.CandleStore,
	signals repository.SignalStore,
	baseline repository.BaselineStore,
	metrics repository.Metrics,
	log *logger.Logger,
	opts ...SamplerOption,
) *Sampler {
	cfg := samplerConfig{
		rate:         0.02,
		minSpacing:   20,
		lookbackBars: 500,
		labelVersion: 1,
		seed:         1,
		clock:        service.SystemClock{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Sampler{
		candles:  candles,
		signals:  signals,
		baseline: baseline,
		metrics:  metrics,
		log:      log,
		cfg:      cfg,
	}
}

// SampleStream draws samples for one (symbol, timeframe) and returns how
// many rows it kept.
func (s *Sampler) SampleStream(ctx context.Context, symbol string, tf repository.Timeframe) (int, error) {
	bars, err := s.candles.Latest(ctx, symbol, tf, s.cfg.lookbackBars)
	if err != nil {
		return 0, fmt.Errorf("load bars %s %s: %w", symbol, tf, err)
	}
	if len(bars) == 0 {
		return 0, nil
	}
	fired, err := s.signals.FiredAtSet(ctx, symbol, tf)
	if err != nil {
		return 0, fmt.Errorf("load fired set %s %s: %w", symbol, tf, err)
	}

	rng := rand.New(rand.NewSource(s.streamSeed(symbol, tf)))
	st := indicator.NewStream()
	kept := 0
	lastKept := -s.cfg.minSpacing // first eligible bar may be kept

	for i, bar := range bars {
		if err := st.Update(bar); err != nil {
			return kept, fmt.Errorf("replay %s %s: %w", symbol, tf, err)
		}
		snap := st.Snapshot()
		// Only bars a detector could have evaluated are candidates.
		if !snap.Has(models.FeatHHV10, models.FeatRelVol10) {
			continue
		}
		if _, hit := fired[bar.TS.UTC()]; hit {
			continue
		}
		if i-lastKept < s.cfg.minSpacing {
			continue
		}
		if rng.Float64() >= s.cfg.rate {
			continue
		}

		sample := models.BaselineSample{
			ID:           uuid.NewString(),
			Symbol:       symbol,
			Timeframe:    string(tf),
			TS:           bar.TS,
			LabelVersion: s.cfg.labelVersion,
			Features:     snap,
			CreatedAt:    s.cfg.clock.Now(),
		}
		if err := s.baseline.Put(ctx, sample); err != nil {
			return kept, fmt.Errorf("store sample: %w", err)
		}
		s.metrics.RecordBaselineSample(symbol)
		kept++
		lastKept = i
	}
	return kept, nil
}

// Sweep samples every watchlist stream. Per-stream failures are logged and
// skipped.
func (s *Sampler) Sweep(ctx context.Context, symbols []string, tf repository.Timeframe) (int, error) {
	total := 0
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.SampleStream(ctx, symbol, tf)
		total += n
		if err != nil {
			s.metrics.RecordError("baseline")
			s.log.Warn("baseline sampling",
				logger.String("symbol", symbol),
				logger.String("timeframe", string(tf)),
				logger.Error(err))
		}
	}
	return total, nil
}

func (s *Sampler) streamSeed(symbol string, tf repository.Timeframe) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte{'|'})
	h.Write([]byte(tf))
	return s.cfg.seed ^ int64(h.Sum64())
}
