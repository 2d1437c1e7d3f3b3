package service

import (
	"context"
	"time"

	"FinScan/internal/domain/models"
)

// EvalInput is everything a detector may look at when deciding on one
// closed bar: the bar itself, its stream identity, the point-in-time
// feature snapshot, an optional quote, and confirmation snapshots from
// coarser timeframes.
type EvalInput struct {
	Symbol    string
	Timeframe string
	Bar       models.Candle
	Features  models.FeatureVector
	Quote     models.Quote
	// HigherTF maps a coarser timeframe to its latest warm snapshot.
	// Missing entries mean that stream has not warmed up.
	HigherTF map[string]models.FeatureVector
}

// Detector maps one closed bar plus indicator state to zero or one signal
// candidate. Implementations must be pure with respect to EvalInput: no
// reads beyond what the input carries.
type Detector interface {
	Spec() models.DetectorSpec
	Evaluate(ctx context.Context, in EvalInput) (*models.SignalCandidate, error)
}

// ScoreResult is what a pretrained scoring artifact returns for a feature
// vector.
type ScoreResult struct {
	Probability  float64
	TargetReturn float64
	ModelVersion string
}

// Scorer is the opaque, versioned scoring dependency behind model
// detectors. How the artifact was trained or serialized is out of scope.
type Scorer interface {
	Score(ctx context.Context, symbol string, features models.FeatureVector) (ScoreResult, error)
}

// Labeler computes forward outcome rows for persisted signals.
type Labeler interface {
	// LabelSignal computes outcomes for every configured horizon of one
	// signal. Pending horizons are skipped, not failed.
	LabelSignal(ctx context.Context, sig models.Signal) (computed, pending int, err error)
}

// Clock is injected where sweeps need "now" (closed-bucket checks, tests).
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
