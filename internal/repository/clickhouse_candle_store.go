package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	pkgch "FinScan/pkg/clickhouse"
	applogger "FinScan/pkg/logger"
)

const candleCols = "symbol, timeframe, ts, open, high, low, close, volume, vwap, trade_count, source, adjusted"

// CHCandleStore implements CandleStore backed by ClickHouse. Writes go to a
// ReplacingMergeTree keyed (symbol, timeframe, ts); reads use FINAL so a
// re-ingested bar never shows up twice.
type CHCandleStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.CandleStore = (*CHCandleStore)(nil)

func NewCHCandleStore(ch *pkgch.Client, l *applogger.Logger) *CHCandleStore {
	return &CHCandleStore{db: ch.DB(), l: l}
}

func (s *CHCandleStore) Init(ctx context.Context) error {
	for _, stmt := range []string{ddlDatabase, ddlCandles, ddlSymbols} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("candle schema: %w", err)
		}
	}
	return s.db.PingContext(ctx)
}

func (s *CHCandleStore) PutBar(ctx context.Context, bar models.Candle) error {
	if bar.Symbol == "" || bar.TS.IsZero() {
		return fmt.Errorf("put bar: missing symbol or ts")
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", tableCandles, candleCols)
	_, err := s.db.ExecContext(ctx, q,
		bar.Symbol,
		bar.Timeframe,
		bar.TS.UTC(),
		bar.Open,
		bar.High,
		bar.Low,
		bar.Close,
		bar.Volume,
		bar.VWAP,
		bar.TradeCount,
		bar.Source,
		boolToUint8(bar.Adjusted),
	)
	if err != nil {
		return fmt.Errorf("put bar: %w", err)
	}
	return nil
}

func (s *CHCandleStore) PutBars(ctx context.Context, bars []models.Candle) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	// Multi-row VALUES insert, chunked to bound statement size.
	const chunkSize = 2000
	start := time.Now()
	stored := 0
	for lo := 0; lo < len(bars); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(bars) {
			hi = len(bars)
		}
		values := make([]string, 0, hi-lo)
		args := make([]interface{}, 0, (hi-lo)*12)
		for _, b := range bars[lo:hi] {
			if b.Symbol == "" || b.TS.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				b.Symbol, b.Timeframe, b.TS.UTC(),
				b.Open, b.High, b.Low, b.Close,
				b.Volume, b.VWAP, b.TradeCount,
				b.Source, boolToUint8(b.Adjusted),
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", tableCandles, candleCols, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse put_bars insert error",
				applogger.Int("rows", len(values)),
				applogger.Error(err),
			)
			return stored, fmt.Errorf("put bars: %w", err)
		}
		stored += len(values)
	}
	s.l.Debug("clickhouse put_bars ok",
		applogger.Int("rows", stored),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return stored, nil
}

func (s *CHCandleStore) Range(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time) ([]models.Candle, error) {
	q := fmt.Sprintf(`
        SELECT %s FROM %s FINAL
        WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts < ?
        ORDER BY ts ASC
    `, candleCols, tableCandles)
	rows, err := s.db.QueryContext(ctx, q, symbol, string(tf), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("range candles: %w", err)
	}
	defer rows.Close()
	return s.scanCandles(rows, symbol, tf)
}

func (s *CHCandleStore) Latest(ctx context.Context, symbol string, tf domrepo.Timeframe, n int) ([]models.Candle, error) {
	if n <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`
        SELECT %s FROM %s FINAL
        WHERE symbol = ? AND timeframe = ?
        ORDER BY ts DESC
        LIMIT ?
    `, candleCols, tableCandles)
	rows, err := s.db.QueryContext(ctx, q, symbol, string(tf), n)
	if err != nil {
		return nil, fmt.Errorf("latest candles: %w", err)
	}
	defer rows.Close()
	out, err := s.scanCandles(rows, symbol, tf)
	if err != nil {
		return nil, err
	}
	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CHCandleStore) After(ctx context.Context, symbol string, tf domrepo.Timeframe, after time.Time, n int) ([]models.Candle, error) {
	if n <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`
        SELECT %s FROM %s FINAL
        WHERE symbol = ? AND timeframe = ? AND ts > ?
        ORDER BY ts ASC
        LIMIT ?
    `, candleCols, tableCandles)
	rows, err := s.db.QueryContext(ctx, q, symbol, string(tf), after.UTC(), n)
	if err != nil {
		return nil, fmt.Errorf("candles after: %w", err)
	}
	defer rows.Close()
	return s.scanCandles(rows, symbol, tf)
}

func (s *CHCandleStore) LatestTS(ctx context.Context, symbol string, tf domrepo.Timeframe) (time.Time, bool, error) {
	q := fmt.Sprintf("SELECT ts FROM %s WHERE symbol = ? AND timeframe = ? ORDER BY ts DESC LIMIT 1", tableCandles)
	var ts time.Time
	err := s.db.QueryRowContext(ctx, q, symbol, string(tf)).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest ts: %w", err)
	}
	return ts.UTC(), true, nil
}

func (s *CHCandleStore) Close() error {
	return nil // pool owned by pkg/clickhouse client
}

func (s *CHCandleStore) scanCandles(rows *sql.Rows, symbol string, tf domrepo.Timeframe) ([]models.Candle, error) {
	out := make([]models.Candle, 0, 512)
	for rows.Next() {
		var (
			c        models.Candle
			adjusted uint8
		)
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.TS, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.VWAP, &c.TradeCount, &c.Source, &adjusted); err != nil {
			s.l.Error("clickhouse candle scan error",
				applogger.String("symbol", symbol),
				applogger.String("tf", string(tf)),
				applogger.Error(err),
			)
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.TS = c.TS.UTC()
		c.Adjusted = adjusted != 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// CHSymbolStore implements SymbolStore on the same ReplacingMergeTree
// pattern: Touch inserts a fresh row under (ticker, exchange) and the merge
// keeps the one with the newest last_seen.
type CHSymbolStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.SymbolStore = (*CHSymbolStore)(nil)

func NewCHSymbolStore(ch *pkgch.Client, l *applogger.Logger) *CHSymbolStore {
	return &CHSymbolStore{db: ch.DB(), l: l}
}

func (s *CHSymbolStore) GetOrCreate(ctx context.Context, sym models.Symbol) (models.Symbol, error) {
	existing, ok, err := s.get(ctx, sym.Ticker, sym.Exchange)
	if err != nil {
		return models.Symbol{}, err
	}
	if ok {
		return existing, nil
	}
	q := fmt.Sprintf("INSERT INTO %s (ticker, exchange, asset_type, currency, first_seen, last_seen) VALUES (?, ?, ?, ?, ?, ?)", tableSymbols)
	if _, err := s.db.ExecContext(ctx, q,
		sym.Ticker, sym.Exchange, sym.AssetType, sym.Currency,
		sym.FirstSeen.UTC(), sym.LastSeen.UTC(),
	); err != nil {
		return models.Symbol{}, fmt.Errorf("create symbol: %w", err)
	}
	return sym, nil
}

func (s *CHSymbolStore) Touch(ctx context.Context, ticker, exchange string, seen time.Time) error {
	existing, ok, err := s.get(ctx, ticker, exchange)
	if err != nil {
		return err
	}
	if !ok || !seen.After(existing.LastSeen) {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (ticker, exchange, asset_type, currency, first_seen, last_seen) VALUES (?, ?, ?, ?, ?, ?)", tableSymbols)
	if _, err := s.db.ExecContext(ctx, q,
		existing.Ticker, existing.Exchange, existing.AssetType, existing.Currency,
		existing.FirstSeen.UTC(), seen.UTC(),
	); err != nil {
		return fmt.Errorf("touch symbol: %w", err)
	}
	return nil
}

func (s *CHSymbolStore) get(ctx context.Context, ticker, exchange string) (models.Symbol, bool, error) {
	q := fmt.Sprintf("SELECT ticker, exchange, asset_type, currency, first_seen, last_seen FROM %s FINAL WHERE ticker = ? AND exchange = ? LIMIT 1", tableSymbols)
	var sym models.Symbol
	err := s.db.QueryRowContext(ctx, q, ticker, exchange).Scan(
		&sym.Ticker, &sym.Exchange, &sym.AssetType, &sym.Currency, &sym.FirstSeen, &sym.LastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Symbol{}, false, nil
	}
	if err != nil {
		return models.Symbol{}, false, fmt.Errorf("get symbol: %w", err)
	}
	sym.FirstSeen = sym.FirstSeen.UTC()
	sym.LastSeen = sym.LastSeen.UTC()
	return sym, true, nil
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
