package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	pkgch "FinScan/pkg/clickhouse"
	applogger "FinScan/pkg/logger"
)

const signalCols = "id, symbol, timeframe, fired_at, detector_id, detector_version, side, score, " +
	"entry_price, bid, ask, spread_bps, rel_volume, session_flag, target_return, model_version, " +
	"feature_schema, features, created_at"

// CHSignalStore implements SignalStore backed by ClickHouse. Dedup is an
// existence check on the natural key before insert; the ReplacingMergeTree
// key collapses the rare racing double-insert.
type CHSignalStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.SignalStore = (*CHSignalStore)(nil)

func NewCHSignalStore(ch *pkgch.Client, l *applogger.Logger) *CHSignalStore {
	return &CHSignalStore{db: ch.DB(), l: l}
}

func (s *CHSignalStore) Init(ctx context.Context) error {
	for _, stmt := range []string{ddlDatabase, ddlSignals} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("signal schema: %w", err)
		}
	}
	return nil
}

func (s *CHSignalStore) Record(ctx context.Context, sig models.Signal) (models.Signal, bool, error) {
	q := fmt.Sprintf(`
        SELECT %s FROM %s FINAL
        WHERE symbol = ? AND timeframe = ? AND fired_at = ? AND detector_id = ? AND detector_version = ?
        LIMIT 1
    `, signalCols, tableSignals)
	row := s.db.QueryRowContext(ctx, q, sig.Symbol, sig.Timeframe, sig.FiredAt.UTC(), sig.DetectorID, sig.DetectorVersion)
	existing, err := scanSignalRow(row)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Signal{}, false, fmt.Errorf("signal lookup: %w", err)
	}

	features, err := json.Marshal(sig.Features.Values)
	if err != nil {
		return models.Signal{}, false, fmt.Errorf("marshal features: %w", err)
	}
	ins := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", tableSignals, signalCols)
	if _, err := s.db.ExecContext(ctx, ins,
		sig.ID, sig.Symbol, sig.Timeframe, sig.FiredAt.UTC(),
		sig.DetectorID, sig.DetectorVersion, string(sig.Side), sig.Score,
		sig.EntryPrice, sig.Bid, sig.Ask, sig.SpreadBps,
		sig.RelVolume, int32(sig.SessionFlag), sig.TargetReturn, sig.ModelVersion,
		sig.Features.SchemaVersion, string(features), sig.CreatedAt.UTC(),
	); err != nil {
		s.l.Error("clickhouse signal insert error",
			applogger.String("symbol", sig.Symbol),
			applogger.String("detector", sig.DetectorID+"@"+sig.DetectorVersion),
			applogger.Error(err),
		)
		return models.Signal{}, false, fmt.Errorf("record signal: %w", err)
	}
	return sig, true, nil
}

func (s *CHSignalStore) Get(ctx context.Context, id string) (models.Signal, bool, error) {
	q := fmt.Sprintf("SELECT %s FROM %s FINAL WHERE id = ? LIMIT 1", signalCols, tableSignals)
	sig, err := scanSignalRow(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Signal{}, false, nil
	}
	if err != nil {
		return models.Signal{}, false, fmt.Errorf("get signal: %w", err)
	}
	return sig, true, nil
}

func (s *CHSignalStore) Query(ctx context.Context, symbol string, tf domrepo.Timeframe, since time.Time, limit int) ([]models.Signal, error) {
	conds := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)
	if symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, symbol)
	}
	if tf != "" {
		conds = append(conds, "timeframe = ?")
		args = append(args, string(tf))
	}
	if !since.IsZero() {
		conds = append(conds, "fired_at >= ?")
		args = append(args, since.UTC())
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	q := fmt.Sprintf("SELECT %s FROM %s FINAL %s ORDER BY fired_at DESC", signalCols, tableSignals, where)
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

func (s *CHSignalStore) FiredAtSet(ctx context.Context, symbol string, tf domrepo.Timeframe) (map[time.Time]struct{}, error) {
	// No FINAL: duplicate rows collapse into the set anyway.
	q := fmt.Sprintf("SELECT DISTINCT fired_at FROM %s WHERE symbol = ? AND timeframe = ?", tableSignals)
	rows, err := s.db.QueryContext(ctx, q, symbol, string(tf))
	if err != nil {
		return nil, fmt.Errorf("fired_at set: %w", err)
	}
	defer rows.Close()
	out := make(map[time.Time]struct{})
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan fired_at: %w", err)
		}
		out[ts.UTC()] = struct{}{}
	}
	return out, rows.Err()
}

func (s *CHSignalStore) Unlabeled(ctx context.Context, horizon models.Horizon, labelVersion int, limit int) ([]models.Signal, error) {
	q := fmt.Sprintf(`
        SELECT %s FROM %s FINAL
        WHERE id NOT IN (
            SELECT signal_id FROM %s
            WHERE horizon_tf = ? AND horizon_bars = ? AND label_version = ?
        )
        ORDER BY fired_at ASC
    `, signalCols, tableSignals, tableOutcomes)
	args := []interface{}{horizon.Timeframe, int32(horizon.Bars), int32(labelVersion)}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse unlabeled query error",
			applogger.String("horizon", horizon.Key()),
			applogger.Int("label_version", labelVersion),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("unlabeled signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

func (s *CHSignalStore) Close() error {
	return nil // pool owned by pkg/clickhouse client
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSignalRow(row rowScanner) (models.Signal, error) {
	var (
		sig      models.Signal
		side     string
		session  int32
		schema   string
		features string
	)
	err := row.Scan(
		&sig.ID, &sig.Symbol, &sig.Timeframe, &sig.FiredAt,
		&sig.DetectorID, &sig.DetectorVersion, &side, &sig.Score,
		&sig.EntryPrice, &sig.Bid, &sig.Ask, &sig.SpreadBps,
		&sig.RelVolume, &session, &sig.TargetReturn, &sig.ModelVersion,
		&schema, &features, &sig.CreatedAt,
	)
	if err != nil {
		return models.Signal{}, err
	}
	sig.FiredAt = sig.FiredAt.UTC()
	sig.CreatedAt = sig.CreatedAt.UTC()
	sig.Side = models.Side(side)
	sig.SessionFlag = int(session)
	vals := make(map[string]float64)
	if features != "" {
		if err := json.Unmarshal([]byte(features), &vals); err != nil {
			return models.Signal{}, fmt.Errorf("unmarshal features: %w", err)
		}
	}
	sig.Features = models.FeatureVector{SchemaVersion: schema, Values: vals}
	return sig, nil
}

func scanSignals(rows *sql.Rows) ([]models.Signal, error) {
	out := make([]models.Signal, 0, 64)
	for rows.Next() {
		sig, err := scanSignalRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
