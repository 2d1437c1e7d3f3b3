package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	pkgch "FinScan/pkg/clickhouse"
	applogger "FinScan/pkg/logger"
)

const baselineCols = "id, symbol, timeframe, ts, label_version, feature_schema, features, created_at"

// CHBaselineStore persists negative feature samples. The table key
// (symbol, timeframe, ts, label_version) makes a re-run of the sampler an
// upsert rather than a duplicate.
type CHBaselineStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.BaselineStore = (*CHBaselineStore)(nil)

func NewCHBaselineStore(ch *pkgch.Client, l *applogger.Logger) *CHBaselineStore {
	return &CHBaselineStore{db: ch.DB(), l: l}
}

func (s *CHBaselineStore) Init(ctx context.Context) error {
	for _, stmt := range []string{ddlDatabase, ddlBaselines} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("baseline schema: %w", err)
		}
	}
	return nil
}

func (s *CHBaselineStore) Put(ctx context.Context, b models.BaselineSample) error {
	features, err := json.Marshal(b.Features.Values)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", tableBaselines, baselineCols)
	if _, err := s.db.ExecContext(ctx, q,
		b.ID, b.Symbol, b.Timeframe, b.TS.UTC(),
		int32(b.LabelVersion), b.Features.SchemaVersion, string(features), b.CreatedAt.UTC(),
	); err != nil {
		s.l.Error("clickhouse baseline insert error",
			applogger.String("symbol", b.Symbol),
			applogger.String("tf", b.Timeframe),
			applogger.Error(err),
		)
		return fmt.Errorf("put baseline: %w", err)
	}
	return nil
}

func (s *CHBaselineStore) Query(ctx context.Context, symbol string, tf domrepo.Timeframe, limit int) ([]models.BaselineSample, error) {
	conds := make([]string, 0, 2)
	args := make([]interface{}, 0, 3)
	if symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, symbol)
	}
	if tf != "" {
		conds = append(conds, "timeframe = ?")
		args = append(args, string(tf))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	q := fmt.Sprintf("SELECT %s FROM %s FINAL %s ORDER BY ts ASC", baselineCols, tableBaselines, where)
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query baselines: %w", err)
	}
	defer rows.Close()

	out := make([]models.BaselineSample, 0, 64)
	for rows.Next() {
		var (
			b        models.BaselineSample
			version  int32
			schema   string
			features string
		)
		if err := rows.Scan(&b.ID, &b.Symbol, &b.Timeframe, &b.TS, &version, &schema, &features, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		b.TS = b.TS.UTC()
		b.CreatedAt = b.CreatedAt.UTC()
		b.LabelVersion = int(version)
		vals := make(map[string]float64)
		if features != "" {
			if err := json.Unmarshal([]byte(features), &vals); err != nil {
				return nil, fmt.Errorf("unmarshal features: %w", err)
			}
		}
		b.Features = models.FeatureVector{SchemaVersion: schema, Values: vals}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *CHBaselineStore) Close() error {
	return nil // pool owned by pkg/clickhouse client
}

// CHDetectorStore persists immutable detector specs, insert-if-absent.
type CHDetectorStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.DetectorStore = (*CHDetectorStore)(nil)

func NewCHDetectorStore(ch *pkgch.Client, l *applogger.Logger) *CHDetectorStore {
	return &CHDetectorStore{db: ch.DB(), l: l}
}

func (s *CHDetectorStore) Init(ctx context.Context) error {
	for _, stmt := range []string{ddlDatabase, ddlDetectors} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("detector schema: %w", err)
		}
	}
	return nil
}

func (s *CHDetectorStore) Ensure(ctx context.Context, spec models.DetectorSpec) error {
	var n uint64
	q := fmt.Sprintf("SELECT count() FROM %s WHERE id = ? AND version = ?", tableDetectors)
	if err := s.db.QueryRowContext(ctx, q, spec.ID, spec.Version).Scan(&n); err != nil {
		return fmt.Errorf("detector exists: %w", err)
	}
	if n > 0 {
		return nil
	}
	params, err := json.Marshal(spec.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	ins := fmt.Sprintf("INSERT INTO %s (id, version, kind, description, params) VALUES (?, ?, ?, ?, ?)", tableDetectors)
	if _, err := s.db.ExecContext(ctx, ins, spec.ID, spec.Version, string(spec.Kind), spec.Description, string(params)); err != nil {
		return fmt.Errorf("ensure detector: %w", err)
	}
	return nil
}

func (s *CHDetectorStore) List(ctx context.Context) ([]models.DetectorSpec, error) {
	q := fmt.Sprintf("SELECT id, version, kind, description, params FROM %s FINAL ORDER BY id, version", tableDetectors)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list detectors: %w", err)
	}
	defer rows.Close()

	out := make([]models.DetectorSpec, 0, 8)
	for rows.Next() {
		var (
			spec   models.DetectorSpec
			kind   string
			params string
		)
		if err := rows.Scan(&spec.ID, &spec.Version, &kind, &spec.Description, &params); err != nil {
			return nil, fmt.Errorf("scan detector: %w", err)
		}
		spec.Kind = models.DetectorKind(kind)
		spec.Params = make(map[string]float64)
		if params != "" {
			if err := json.Unmarshal([]byte(params), &spec.Params); err != nil {
				return nil, fmt.Errorf("unmarshal params: %w", err)
			}
		}
		out = append(out, spec)
	}
	return out, rows.Err()
}

func (s *CHDetectorStore) Close() error {
	return nil // pool owned by pkg/clickhouse client
}
