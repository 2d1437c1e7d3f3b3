package models

import (
	"strconv"
	"time"
)

// Horizon defines how far forward an outcome looks: a bar count in a given
// timeframe, e.g. 20 bars of 15m.
type Horizon struct {
	Timeframe string
	Bars      int
}

// Key returns the canonical "tf:count" form used in config and storage.
func (h Horizon) Key() string {
	return h.Timeframe + ":" + strconv.Itoa(h.Bars)
}

// SameBarPolicy resolves a target and the stop crossing inside one bar.
type SameBarPolicy string

const (
	// SameBarStopFirst is the conservative default: the stop wins.
	SameBarStopFirst   SameBarPolicy = "stop_first"
	SameBarTargetFirst SameBarPolicy = "target_first"
)

// LevelHit records whether a configured threshold was crossed within the
// horizon window and, if so, on which bar (1-based offset from the first
// window bar).
type LevelHit struct {
	Hit      bool
	BarIndex int // 0 when not hit
}

// Outcome holds forward performance labels for one signal over one horizon.
// Natural key: (SignalID, HorizonTF, HorizonBars, LabelVersion); append-only,
// relabeling inserts rows under a new version and never overwrites.
type Outcome struct {
	SignalID     string
	HorizonTF    string
	HorizonBars  int
	LabelVersion int

	RetClose    float64 // (close at horizon end - entry) / entry
	MaxRunUp    float64 // (max high over window - entry) / entry
	MaxDrawdown float64 // (min low over window - entry) / entry
	Targets     []LevelHit
	Stop        LevelHit
	ComputedAt  time.Time
}

// TargetSet is the configured exit grid an outcome is labeled against.
// Fractions of entry price: Targets ascending (TP1..TPn), Stop positive
// magnitude (0.02 means 2% adverse).
type TargetSet struct {
	Targets []float64
	Stop    float64
	SameBar SameBarPolicy
}
