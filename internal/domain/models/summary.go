package models

import "time"

// SkippedItem records one stream or signal the sweep could not finish,
// with its reason. Nothing is dropped silently.
type SkippedItem struct {
	Symbol    string
	Timeframe string
	Reason    string
}

// CycleSummary is the per-cycle report emitted after every sweep.
type CycleSummary struct {
	StartedAt        time.Time
	FinishedAt       time.Time
	StreamsProcessed int
	BarsIngested     int
	SignalsEmitted   int
	SignalsDuplicate int
	OutcomesComputed int
	OutcomesPending  int
	BaselineRows     int
	Skipped          []SkippedItem
}

// Partial reports whether any stream errored while the run still completed.
func (s CycleSummary) Partial() bool { return len(s.Skipped) > 0 }
