package models

// Requests for the query API. Defined in domain for consistency and reuse.

type SignalsRequest struct {
	Symbol    string `query:"symbol" json:"symbol"`
	Timeframe string `query:"timeframe" json:"timeframe" validate:"omitempty,oneof=1m 5m 15m 1h 4h 1d"`
	Since     string `query:"since" json:"since"` // RFC3339 or unix seconds
	Limit     int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type OutcomesRequest struct {
	SignalID string `param:"signal_id" json:"signal_id" validate:"required,uuid4"`
}

type CandlesRequest struct {
	Symbol    string `query:"symbol" json:"symbol" validate:"required"`
	Timeframe string `query:"timeframe" json:"timeframe" default:"1m" validate:"oneof=1m 5m 15m 1h 4h 1d"`
	From      string `query:"from" json:"from"`
	To        string `query:"to" json:"to"`
	Limit     int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=5000"`
}
