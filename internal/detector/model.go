package detector

import (
	"context"
	"fmt"

	"FinScan/internal/domain/models"
	"FinScan/internal/domain/service"
)

// Model wraps an opaque, versioned scoring function. It fires when the
// scored probability clears the configured threshold; how the artifact was
// trained is not this subsystem's concern.
type Model struct {
	spec      models.DetectorSpec
	scorer    service.Scorer
	threshold float64
	short     bool
	required  []string
}

func NewModel(spec models.DetectorSpec, scorer service.Scorer) (*Model, error) {
	if scorer == nil {
		return nil, &models.ConfigValidationError{
			Field: "detectors." + spec.ID,
			Msg:   "model detector configured without a scorer",
		}
	}
	threshold := 0.6
	if v, ok := spec.Params["threshold"]; ok {
		threshold = v
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, &models.ConfigValidationError{
			Field: "detectors." + spec.ID,
			Msg:   fmt.Sprintf("threshold %v outside (0, 1)", threshold),
		}
	}
	short := false
	if v, ok := spec.Params["side_short"]; ok && v != 0 {
		short = true
	}
	// The model consumes the fixed feature vector; scoring a cold stream
	// would silently feed zeros, so a minimal warm set is required.
	required := []string{
		models.FeatRSI14, models.FeatMACDHist, models.FeatSMA20,
		models.FeatATR14, models.FeatRelVol10,
	}
	return &Model{spec: spec, scorer: scorer, threshold: threshold, short: short, required: required}, nil
}

func (m *Model) Spec() models.DetectorSpec { return m.spec }

func (m *Model) Evaluate(ctx context.Context, in service.EvalInput) (*models.SignalCandidate, error) {
	if !in.Features.Has(m.required...) {
		return nil, nil // warm-up, not evaluable
	}
	res, err := m.scorer.Score(ctx, in.Symbol, in.Features)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	if res.Probability < m.threshold {
		return nil, nil
	}
	side := models.SideLong
	if m.short {
		side = models.SideShort
	}
	return &models.SignalCandidate{
		Side:         side,
		Score:        res.Probability,
		TargetReturn: res.TargetReturn,
		ModelVersion: res.ModelVersion,
	}, nil
}
