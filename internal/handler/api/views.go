package api

import (
	"time"

	"FinScan/internal/domain/models"
)

// Transport shapes for the read API. Domain models stay tag-free; the
// mapping here is the only place JSON field names are decided.

type signalView struct {
	ID              string             `json:"id"`
	Symbol          string             `json:"symbol"`
	Timeframe       string             `json:"timeframe"`
	FiredAt         time.Time          `json:"fired_at"`
	DetectorID      string             `json:"detector_id"`
	DetectorVersion string             `json:"detector_version"`
	Side            string             `json:"side"`
	Score           float64            `json:"score"`
	EntryPrice      float64            `json:"entry_price"`
	Bid             float64            `json:"bid,omitempty"`
	Ask             float64            `json:"ask,omitempty"`
	SpreadBps       float64            `json:"spread_bps,omitempty"`
	RelVolume       float64            `json:"rel_volume"`
	SessionFlag     int                `json:"session_flag"`
	TargetReturn    float64            `json:"target_return,omitempty"`
	ModelVersion    string             `json:"model_version,omitempty"`
	FeatureSchema   string             `json:"feature_schema"`
	Features        map[string]float64 `json:"features,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

type signalsView struct {
	Count   int          `json:"count"`
	Signals []signalView `json:"signals"`
}

type levelHitView struct {
	Hit      bool `json:"hit"`
	BarIndex int  `json:"bar_index,omitempty"`
}

type outcomeView struct {
	SignalID     string         `json:"signal_id"`
	HorizonTF    string         `json:"horizon_tf"`
	HorizonBars  int            `json:"horizon_bars"`
	LabelVersion int            `json:"label_version"`
	RetClose     float64        `json:"ret_close"`
	MaxRunUp     float64        `json:"max_run_up"`
	MaxDrawdown  float64        `json:"max_drawdown"`
	Targets      []levelHitView `json:"targets"`
	Stop         levelHitView   `json:"stop"`
	ComputedAt   time.Time      `json:"computed_at"`
}

type outcomesView struct {
	Signal   signalView    `json:"signal"`
	Outcomes []outcomeView `json:"outcomes"`
}

type candleView struct {
	TS         time.Time `json:"ts"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	VWAP       float64   `json:"vwap"`
	TradeCount int64     `json:"trade_count"`
}

type candlesView struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Count     int          `json:"count"`
	Candles   []candleView `json:"candles"`
}

func toSignalView(s models.Signal) signalView {
	return signalView{
		ID:              s.ID,
		Symbol:          s.Symbol,
		Timeframe:       s.Timeframe,
		FiredAt:         s.FiredAt,
		DetectorID:      s.DetectorID,
		DetectorVersion: s.DetectorVersion,
		Side:            string(s.Side),
		Score:           s.Score,
		EntryPrice:      s.EntryPrice,
		Bid:             s.Bid,
		Ask:             s.Ask,
		SpreadBps:       s.SpreadBps,
		RelVolume:       s.RelVolume,
		SessionFlag:     s.SessionFlag,
		TargetReturn:    s.TargetReturn,
		ModelVersion:    s.ModelVersion,
		FeatureSchema:   s.Features.SchemaVersion,
		Features:        s.Features.Values,
		CreatedAt:       s.CreatedAt,
	}
}

func toOutcomeView(o models.Outcome) outcomeView {
	targets := make([]levelHitView, 0, len(o.Targets))
	for _, t := range o.Targets {
		targets = append(targets, levelHitView{Hit: t.Hit, BarIndex: t.BarIndex})
	}
	return outcomeView{
		SignalID:     o.SignalID,
		HorizonTF:    o.HorizonTF,
		HorizonBars:  o.HorizonBars,
		LabelVersion: o.LabelVersion,
		RetClose:     o.RetClose,
		MaxRunUp:     o.MaxRunUp,
		MaxDrawdown:  o.MaxDrawdown,
		Targets:      targets,
		Stop:         levelHitView{Hit: o.Stop.Hit, BarIndex: o.Stop.BarIndex},
		ComputedAt:   o.ComputedAt,
	}
}

func toCandleView(c models.Candle) candleView {
	return candleView{
		TS:         c.TS,
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		Volume:     c.Volume,
		VWAP:       c.VWAP,
		TradeCount: c.TradeCount,
	}
}
