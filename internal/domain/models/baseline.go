package models

import "time"

// BaselineSample is a negative (non-event) feature snapshot used to balance
// training sets. Same feature shape as a signal, explicitly marked as a
// non-firing point. Natural key: (Symbol, Timeframe, TS, LabelVersion).
type BaselineSample struct {
	ID           string // uuid
	Symbol       string
	Timeframe    string
	TS           time.Time
	LabelVersion int
	Features     FeatureVector
	CreatedAt    time.Time
}
