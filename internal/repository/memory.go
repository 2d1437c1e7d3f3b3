package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
)

// Memory-backed stores for the "memory" storage backend and for tests.
// They honor the same contracts as the ClickHouse implementations:
// idempotent candle upserts, collision-aware signal records, append-only
// outcomes.

func streamKey(symbol string, tf domrepo.Timeframe) string {
	return symbol + "|" + string(tf)
}

// MemoryCandleStore keeps bars per stream in ascending timestamp order.
type MemoryCandleStore struct {
	mu      sync.RWMutex
	streams map[string][]models.Candle
}

var _ domrepo.CandleStore = (*MemoryCandleStore)(nil)

func NewMemoryCandleStore() *MemoryCandleStore {
	return &MemoryCandleStore{streams: make(map[string][]models.Candle)}
}

func (s *MemoryCandleStore) Init(ctx context.Context) error { return nil }

func (s *MemoryCandleStore) PutBar(ctx context.Context, bar models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(bar)
	return nil
}

func (s *MemoryCandleStore) PutBars(ctx context.Context, bars []models.Candle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, bar := range bars {
		if bar.Symbol == "" || bar.TS.IsZero() {
			continue
		}
		s.put(bar)
		n++
	}
	return n, nil
}

// put inserts or replaces in place, keeping the stream sorted. Re-upserting
// an existing (symbol, timeframe, ts) overwrites the old row.
func (s *MemoryCandleStore) put(bar models.Candle) {
	key := streamKey(bar.Symbol, domrepo.Timeframe(bar.Timeframe))
	bars := s.streams[key]
	i := sort.Search(len(bars), func(i int) bool { return !bars[i].TS.Before(bar.TS) })
	if i < len(bars) && bars[i].TS.Equal(bar.TS) {
		bars[i] = bar
		return
	}
	bars = append(bars, models.Candle{})
	copy(bars[i+1:], bars[i:])
	bars[i] = bar
	s.streams[key] = bars
}

func (s *MemoryCandleStore) Range(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Candle
	for _, bar := range s.streams[streamKey(symbol, tf)] {
		if bar.TS.Before(from) || !bar.TS.Before(to) {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

func (s *MemoryCandleStore) Latest(ctx context.Context, symbol string, tf domrepo.Timeframe, n int) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bars := s.streams[streamKey(symbol, tf)]
	if n <= 0 || len(bars) == 0 {
		return nil, nil
	}
	if n > len(bars) {
		n = len(bars)
	}
	out := make([]models.Candle, n)
	copy(out, bars[len(bars)-n:])
	return out, nil
}

func (s *MemoryCandleStore) After(ctx context.Context, symbol string, tf domrepo.Timeframe, after time.Time, n int) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bars := s.streams[streamKey(symbol, tf)]
	i := sort.Search(len(bars), func(i int) bool { return bars[i].TS.After(after) })
	if i == len(bars) || n <= 0 {
		return nil, nil
	}
	end := i + n
	if end > len(bars) {
		end = len(bars)
	}
	out := make([]models.Candle, end-i)
	copy(out, bars[i:end])
	return out, nil
}

func (s *MemoryCandleStore) LatestTS(ctx context.Context, symbol string, tf domrepo.Timeframe) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bars := s.streams[streamKey(symbol, tf)]
	if len(bars) == 0 {
		return time.Time{}, false, nil
	}
	return bars[len(bars)-1].TS, true, nil
}

func (s *MemoryCandleStore) Close() error { return nil }

// MemoryOutcomeStore is append-only: a (signal, horizon, label_version)
// collision is silently kept as the first row written.
type MemoryOutcomeStore struct {
	mu   sync.RWMutex
	rows map[string]models.Outcome
}

var _ domrepo.OutcomeStore = (*MemoryOutcomeStore)(nil)

func NewMemoryOutcomeStore() *MemoryOutcomeStore {
	return &MemoryOutcomeStore{rows: make(map[string]models.Outcome)}
}

func outcomeKey(signalID string, h models.Horizon, version int) string {
	return signalID + "|" + h.Key() + "|v" + strconv.Itoa(version)
}

func (s *MemoryOutcomeStore) Init(ctx context.Context) error { return nil }

func (s *MemoryOutcomeStore) Put(ctx context.Context, o models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := outcomeKey(o.SignalID, models.Horizon{Timeframe: o.HorizonTF, Bars: o.HorizonBars}, o.LabelVersion)
	if _, exists := s.rows[key]; exists {
		return nil
	}
	s.rows[key] = o
	return nil
}

func (s *MemoryOutcomeStore) BySignal(ctx context.Context, signalID string) ([]models.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Outcome
	for _, o := range s.rows {
		if o.SignalID == signalID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HorizonBars != out[j].HorizonBars {
			return out[i].HorizonBars < out[j].HorizonBars
		}
		return out[i].LabelVersion < out[j].LabelVersion
	})
	return out, nil
}

func (s *MemoryOutcomeStore) Has(ctx context.Context, signalID string, h models.Horizon, labelVersion int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[outcomeKey(signalID, h, labelVersion)]
	return ok, nil
}

func (s *MemoryOutcomeStore) Close() error { return nil }

// MemorySignalStore resolves Unlabeled against the outcome store it is
// constructed with, mirroring the anti-join the ClickHouse store runs.
type MemorySignalStore struct {
	mu       sync.RWMutex
	byID     map[string]models.Signal
	byKey    map[string]string
	order    []string
	outcomes *MemoryOutcomeStore
}

var _ domrepo.SignalStore = (*MemorySignalStore)(nil)

func NewMemorySignalStore(outcomes *MemoryOutcomeStore) *MemorySignalStore {
	return &MemorySignalStore{
		byID:     make(map[string]models.Signal),
		byKey:    make(map[string]string),
		outcomes: outcomes,
	}
}

func (s *MemorySignalStore) Init(ctx context.Context) error { return nil }

func (s *MemorySignalStore) Record(ctx context.Context, sig models.Signal) (models.Signal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sig.Key()
	if id, ok := s.byKey[key]; ok {
		return s.byID[id], false, nil
	}
	s.byID[sig.ID] = sig
	s.byKey[key] = sig.ID
	s.order = append(s.order, sig.ID)
	return sig, true, nil
}

func (s *MemorySignalStore) Get(ctx context.Context, id string) (models.Signal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.byID[id]
	return sig, ok, nil
}

// Query returns newest-first by fired_at.
func (s *MemorySignalStore) Query(ctx context.Context, symbol string, tf domrepo.Timeframe, since time.Time, limit int) ([]models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Signal
	for _, id := range s.order {
		sig := s.byID[id]
		if symbol != "" && sig.Symbol != symbol {
			continue
		}
		if tf != "" && sig.Timeframe != string(tf) {
			continue
		}
		if !since.IsZero() && sig.FiredAt.Before(since) {
			continue
		}
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemorySignalStore) FiredAtSet(ctx context.Context, symbol string, tf domrepo.Timeframe) (map[time.Time]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[time.Time]struct{})
	for _, sig := range s.byID {
		if sig.Symbol == symbol && sig.Timeframe == string(tf) {
			out[sig.FiredAt.UTC()] = struct{}{}
		}
	}
	return out, nil
}

func (s *MemorySignalStore) Unlabeled(ctx context.Context, h models.Horizon, labelVersion int, limit int) ([]models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Signal
	for _, id := range s.order {
		sig := s.byID[id]
		ok, err := s.outcomes.Has(ctx, sig.ID, h, labelVersion)
		if err != nil {
			return nil, err
		}
		if ok {
			continue
		}
		out = append(out, sig)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemorySignalStore) Close() error { return nil }

// MemoryBaselineStore collects negative samples in insertion order.
type MemoryBaselineStore struct {
	mu   sync.RWMutex
	rows []models.BaselineSample
}

var _ domrepo.BaselineStore = (*MemoryBaselineStore)(nil)

func NewMemoryBaselineStore() *MemoryBaselineStore { return &MemoryBaselineStore{} }

func (s *MemoryBaselineStore) Init(ctx context.Context) error { return nil }

func (s *MemoryBaselineStore) Put(ctx context.Context, b models.BaselineSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, b)
	return nil
}

func (s *MemoryBaselineStore) Query(ctx context.Context, symbol string, tf domrepo.Timeframe, limit int) ([]models.BaselineSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.BaselineSample
	for _, b := range s.rows {
		if symbol != "" && b.Symbol != symbol {
			continue
		}
		if tf != "" && b.Timeframe != string(tf) {
			continue
		}
		out = append(out, b)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryBaselineStore) Close() error { return nil }

// MemorySymbolStore tracks instruments keyed (ticker, exchange).
type MemorySymbolStore struct {
	mu   sync.Mutex
	rows map[string]models.Symbol
}

var _ domrepo.SymbolStore = (*MemorySymbolStore)(nil)

func NewMemorySymbolStore() *MemorySymbolStore {
	return &MemorySymbolStore{rows: make(map[string]models.Symbol)}
}

func symbolKey(ticker, exchange string) string { return ticker + "|" + exchange }

func (s *MemorySymbolStore) GetOrCreate(ctx context.Context, sym models.Symbol) (models.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := symbolKey(sym.Ticker, sym.Exchange)
	if existing, ok := s.rows[key]; ok {
		return existing, nil
	}
	s.rows[key] = sym
	return sym, nil
}

func (s *MemorySymbolStore) Touch(ctx context.Context, ticker, exchange string, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := symbolKey(ticker, exchange)
	sym, ok := s.rows[key]
	if !ok {
		return nil
	}
	if seen.After(sym.LastSeen) {
		sym.LastSeen = seen
		s.rows[key] = sym
	}
	return nil
}

// MemoryDetectorStore keeps immutable detector specs, insert-if-absent.
type MemoryDetectorStore struct {
	mu   sync.RWMutex
	rows map[string]models.DetectorSpec
}

var _ domrepo.DetectorStore = (*MemoryDetectorStore)(nil)

func NewMemoryDetectorStore() *MemoryDetectorStore {
	return &MemoryDetectorStore{rows: make(map[string]models.DetectorSpec)}
}

func (s *MemoryDetectorStore) Init(ctx context.Context) error { return nil }

func (s *MemoryDetectorStore) Ensure(ctx context.Context, spec models.DetectorSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := spec.Key()
	if _, ok := s.rows[key]; !ok {
		s.rows[key] = spec
	}
	return nil
}

func (s *MemoryDetectorStore) List(ctx context.Context) ([]models.DetectorSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DetectorSpec, 0, len(s.rows))
	for _, spec := range s.rows {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *MemoryDetectorStore) Close() error { return nil }
