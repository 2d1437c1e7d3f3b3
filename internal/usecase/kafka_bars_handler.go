package usecase

import (
	"context"
	"encoding/json"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
)

// KafkaBarsHandler consumes closed bars pushed on the bars topic and writes
// them through the idempotent candle path. Delivery is at-least-once; the
// (symbol, timeframe, ts) upsert makes the redelivery a no-op.
type KafkaBarsHandler struct {
	topic   string
	candles domrepo.CandleStore
	metrics domrepo.Metrics
}

func NewKafkaBarsHandler(topic string, candles domrepo.CandleStore, metrics domrepo.Metrics) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, candles: candles, metrics: metrics}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, tf, ts, o, h, l, c, v, vw, n}
func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string  `json:"symbol"`
		TF     string  `json:"tf"`
		TS     int64   `json:"ts"`
		O      float64 `json:"o"`
		H      float64 `json:"h"`
		L      float64 `json:"l"`
		C      float64 `json:"c"`
		V      float64 `json:"v"`
		VW     float64 `json:"vw"`
		N      int64   `json:"n"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.TS > 1e11 { // ms
		m.TS = m.TS / 1000
	}
	tf := domrepo.NormalizeTimeframe(m.TF)
	ts := tf.TruncateTo(time.Unix(m.TS, 0))
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ts).Seconds())

	start := time.Now()
	err := h.candles.PutBar(ctx, models.Candle{
		Symbol:     m.Symbol,
		Timeframe:  string(tf),
		TS:         ts,
		Open:       m.O,
		High:       m.H,
		Low:        m.L,
		Close:      m.C,
		Volume:     m.V,
		VWAP:       m.VW,
		TradeCount: m.N,
		Source:     "kafka",
	})
	h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordBarIngested(m.Symbol, string(tf))
	return nil
}
