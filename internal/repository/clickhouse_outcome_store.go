package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	pkgch "FinScan/pkg/clickhouse"
	applogger "FinScan/pkg/logger"
)

const outcomeCols = "signal_id, horizon_tf, horizon_bars, label_version, ret_close, max_run_up, max_drawdown, targets, stop_hit, stop_bar, computed_at"

// CHOutcomeStore implements the append-only OutcomeStore on ClickHouse.
// A (signal, horizon, label_version) collision is a no-op: labels are
// ground truth and never rewritten.
type CHOutcomeStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.OutcomeStore = (*CHOutcomeStore)(nil)

func NewCHOutcomeStore(ch *pkgch.Client, l *applogger.Logger) *CHOutcomeStore {
	return &CHOutcomeStore{db: ch.DB(), l: l}
}

func (s *CHOutcomeStore) Init(ctx context.Context) error {
	for _, stmt := range []string{ddlDatabase, ddlOutcomes} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("outcome schema: %w", err)
		}
	}
	return nil
}

func (s *CHOutcomeStore) Put(ctx context.Context, o models.Outcome) error {
	exists, err := s.Has(ctx, o.SignalID, models.Horizon{Timeframe: o.HorizonTF, Bars: o.HorizonBars}, o.LabelVersion)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	targets, err := marshalHits(o.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", tableOutcomes, outcomeCols)
	if _, err := s.db.ExecContext(ctx, q,
		o.SignalID, o.HorizonTF, int32(o.HorizonBars), int32(o.LabelVersion),
		o.RetClose, o.MaxRunUp, o.MaxDrawdown,
		targets, boolToUint8(o.Stop.Hit), int32(o.Stop.BarIndex),
		o.ComputedAt.UTC(),
	); err != nil {
		s.l.Error("clickhouse outcome insert error",
			applogger.String("signal_id", o.SignalID),
			applogger.String("horizon", o.HorizonTF),
			applogger.Int("bars", o.HorizonBars),
			applogger.Error(err),
		)
		return fmt.Errorf("put outcome: %w", err)
	}
	return nil
}

func (s *CHOutcomeStore) BySignal(ctx context.Context, signalID string) ([]models.Outcome, error) {
	q := fmt.Sprintf(`
        SELECT %s FROM %s FINAL
        WHERE signal_id = ?
        ORDER BY horizon_bars ASC, label_version ASC
    `, outcomeCols, tableOutcomes)
	rows, err := s.db.QueryContext(ctx, q, signalID)
	if err != nil {
		return nil, fmt.Errorf("outcomes by signal: %w", err)
	}
	defer rows.Close()

	out := make([]models.Outcome, 0, 4)
	for rows.Next() {
		var (
			o       models.Outcome
			hBars   int32
			version int32
			targets string
			stopHit uint8
			stopBar int32
		)
		if err := rows.Scan(
			&o.SignalID, &o.HorizonTF, &hBars, &version,
			&o.RetClose, &o.MaxRunUp, &o.MaxDrawdown,
			&targets, &stopHit, &stopBar, &o.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.HorizonBars = int(hBars)
		o.LabelVersion = int(version)
		o.Stop = models.LevelHit{Hit: stopHit != 0, BarIndex: int(stopBar)}
		o.ComputedAt = o.ComputedAt.UTC()
		if o.Targets, err = unmarshalHits(targets); err != nil {
			return nil, fmt.Errorf("unmarshal targets: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *CHOutcomeStore) Has(ctx context.Context, signalID string, h models.Horizon, labelVersion int) (bool, error) {
	q := fmt.Sprintf("SELECT count() FROM %s WHERE signal_id = ? AND horizon_tf = ? AND horizon_bars = ? AND label_version = ?", tableOutcomes)
	var n uint64
	if err := s.db.QueryRowContext(ctx, q, signalID, h.Timeframe, int32(h.Bars), int32(labelVersion)).Scan(&n); err != nil {
		return false, fmt.Errorf("outcome exists: %w", err)
	}
	return n > 0, nil
}

func (s *CHOutcomeStore) Close() error {
	return nil // pool owned by pkg/clickhouse client
}

// levelHitRow is the storage shape of a LevelHit.
type levelHitRow struct {
	Hit      bool `json:"hit"`
	BarIndex int  `json:"bar_index"`
}

func marshalHits(hits []models.LevelHit) (string, error) {
	rows := make([]levelHitRow, len(hits))
	for i, h := range hits {
		rows[i] = levelHitRow{Hit: h.Hit, BarIndex: h.BarIndex}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalHits(s string) ([]models.LevelHit, error) {
	if s == "" {
		return nil, nil
	}
	var rows []levelHitRow
	if err := json.Unmarshal([]byte(s), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	hits := make([]models.LevelHit, len(rows))
	for i, r := range rows {
		hits[i] = models.LevelHit{Hit: r.Hit, BarIndex: r.BarIndex}
	}
	return hits, nil
}
