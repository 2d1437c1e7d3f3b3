package repository

import (
	"context"
	"fmt"

	pkgch "FinScan/pkg/clickhouse"
)

// Table names, fully qualified. Every table is a ReplacingMergeTree keyed
// by its natural key, so re-running ingestion or labeling is an upsert at
// the storage layer and reads use FINAL for point-in-time correctness.
const (
	tableCandles   = "finscan.candles"
	tableSymbols   = "finscan.symbols"
	tableSignals   = "finscan.signals"
	tableOutcomes  = "finscan.outcomes"
	tableBaselines = "finscan.baselines"
	tableDetectors = "finscan.detectors"
)

const ddlDatabase = `CREATE DATABASE IF NOT EXISTS finscan`

const ddlCandles = `
CREATE TABLE IF NOT EXISTS ` + tableCandles + ` (
    symbol       LowCardinality(String),
    timeframe    LowCardinality(String),
    ts           DateTime('UTC'),
    open         Float64,
    high         Float64,
    low          Float64,
    close        Float64,
    volume       Float64,
    vwap         Float64,
    trade_count  Int64,
    source       LowCardinality(String),
    adjusted     UInt8,
    inserted_at  DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree(inserted_at)
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, timeframe, ts)`

const ddlSymbols = `
CREATE TABLE IF NOT EXISTS ` + tableSymbols + ` (
    ticker     LowCardinality(String),
    exchange   LowCardinality(String),
    asset_type LowCardinality(String),
    currency   LowCardinality(String),
    first_seen DateTime('UTC'),
    last_seen  DateTime('UTC')
) ENGINE = ReplacingMergeTree(last_seen)
ORDER BY (ticker, exchange)`

const ddlSignals = `
CREATE TABLE IF NOT EXISTS ` + tableSignals + ` (
    id               String,
    symbol           LowCardinality(String),
    timeframe        LowCardinality(String),
    fired_at         DateTime('UTC'),
    detector_id      LowCardinality(String),
    detector_version LowCardinality(String),
    side             LowCardinality(String),
    score            Float64,
    entry_price      Float64,
    bid              Float64,
    ask              Float64,
    spread_bps       Float64,
    rel_volume       Float64,
    session_flag     Int32,
    target_return    Float64,
    model_version    String,
    feature_schema   LowCardinality(String),
    features         String,
    created_at       DateTime('UTC')
) ENGINE = ReplacingMergeTree(created_at)
PARTITION BY toYYYYMM(fired_at)
ORDER BY (symbol, timeframe, fired_at, detector_id, detector_version)`

const ddlOutcomes = `
CREATE TABLE IF NOT EXISTS ` + tableOutcomes + ` (
    signal_id     String,
    horizon_tf    LowCardinality(String),
    horizon_bars  Int32,
    label_version Int32,
    ret_close     Float64,
    max_run_up    Float64,
    max_drawdown  Float64,
    targets       String,
    stop_hit      UInt8,
    stop_bar      Int32,
    computed_at   DateTime('UTC')
) ENGINE = ReplacingMergeTree(computed_at)
ORDER BY (signal_id, horizon_tf, horizon_bars, label_version)`

const ddlBaselines = `
CREATE TABLE IF NOT EXISTS ` + tableBaselines + ` (
    id             String,
    symbol         LowCardinality(String),
    timeframe      LowCardinality(String),
    ts             DateTime('UTC'),
    label_version  Int32,
    feature_schema LowCardinality(String),
    features       String,
    created_at     DateTime('UTC')
) ENGINE = ReplacingMergeTree(created_at)
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, timeframe, ts, label_version)`

const ddlDetectors = `
CREATE TABLE IF NOT EXISTS ` + tableDetectors + ` (
    id          LowCardinality(String),
    version     LowCardinality(String),
    kind        LowCardinality(String),
    description String,
    params      String,
    created_at  DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree(created_at)
ORDER BY (id, version)`

// Schema returns every DDL statement in apply order.
func Schema() []string {
	return []string{
		ddlDatabase,
		ddlCandles,
		ddlSymbols,
		ddlSignals,
		ddlOutcomes,
		ddlBaselines,
		ddlDetectors,
	}
}

// InitSchema creates the database and all tables. Idempotent; safe to run
// on every startup.
func InitSchema(ctx context.Context, ch *pkgch.Client) error {
	if err := ch.InitSchema(ctx, Schema()); err != nil {
		return fmt.Errorf("finscan schema: %w", err)
	}
	return nil
}
