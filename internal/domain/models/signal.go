package models

import "time"

// Side of a signal.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// SignalCandidate is what a detector returns for a bar it wants to fire on.
// The runner fills in identity and persistence concerns.
type SignalCandidate struct {
	Side         Side
	Score        float64 // continuous measure of how far above threshold
	TargetReturn float64 // model detectors only; 0 for rule detectors
	ModelVersion string  // scorer artifact version, "" for rule detectors
}

// Signal is an immutable record of a detector firing at a specific bar.
// Natural key: (Symbol, Timeframe, FiredAt, DetectorID, DetectorVersion).
// Rows are never rewritten after creation; they are training-data ground
// truth even if indicator logic changes later.
type Signal struct {
	ID              string // uuid, assigned at record time
	Symbol          string
	Timeframe       string
	FiredAt         time.Time // ts of the closed bar the detector fired on
	DetectorID      string
	DetectorVersion string

	Side         Side
	Score        float64
	EntryPrice   float64 // close of the fired bar
	Bid          float64
	Ask          float64
	SpreadBps    float64
	RelVolume    float64
	SessionFlag  int // 0 pre, 1 regular, 2 after
	TargetReturn float64
	ModelVersion string
	Features     FeatureVector // point-in-time snapshot
	CreatedAt    time.Time
}

// Key returns the natural uniqueness key used for dedup.
func (s Signal) Key() string {
	return s.Symbol + "|" + s.Timeframe + "|" + s.FiredAt.UTC().Format(time.RFC3339) +
		"|" + s.DetectorID + "@" + s.DetectorVersion
}
