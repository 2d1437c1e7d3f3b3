package detector

import (
	"context"
	"errors"
	"testing"

	"FinScan/internal/domain/models"
	"FinScan/internal/domain/service"
)

type stubScorer struct {
	res   service.ScoreResult
	err   error
	calls int
}

func (s *stubScorer) Score(ctx context.Context, symbol string, features models.FeatureVector) (service.ScoreResult, error) {
	s.calls++
	return s.res, s.err
}

func warmVals() map[string]float64 {
	return map[string]float64{
		models.FeatRSI14:    60,
		models.FeatMACDHist: 0.4,
		models.FeatSMA20:    100,
		models.FeatATR14:    0.8,
		models.FeatRelVol10: 1.2,
	}
}

func modelSpec(params map[string]float64) models.DetectorSpec {
	return models.DetectorSpec{ID: "ml_breakout", Version: "3", Kind: models.DetectorModel, Params: params}
}

func TestModelFiresAboveThreshold(t *testing.T) {
	scorer := &stubScorer{res: service.ScoreResult{
		Probability: 0.82, TargetReturn: 0.015, ModelVersion: "gbm-2025-05",
	}}
	det, err := NewModel(modelSpec(nil), scorer)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	cand, err := det.Evaluate(context.Background(), service.EvalInput{
		Symbol: "AAPL", Timeframe: "5m", Features: vec(warmVals()),
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if cand == nil {
		t.Fatal("no candidate above threshold")
	}
	if cand.Side != models.SideLong {
		t.Errorf("side = %s, want long", cand.Side)
	}
	if cand.Score != 0.82 {
		t.Errorf("score = %v, want the scored probability", cand.Score)
	}
	if cand.TargetReturn != 0.015 || cand.ModelVersion != "gbm-2025-05" {
		t.Errorf("provenance not carried: %+v", cand)
	}
}

func TestModelBelowThresholdStaysQuiet(t *testing.T) {
	scorer := &stubScorer{res: service.ScoreResult{Probability: 0.4}}
	det, err := NewModel(modelSpec(map[string]float64{"threshold": 0.5}), scorer)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	cand, err := det.Evaluate(context.Background(), service.EvalInput{
		Symbol: "AAPL", Timeframe: "5m", Features: vec(warmVals()),
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if cand != nil {
		t.Fatalf("fired at probability 0.4 against threshold 0.5: %+v", cand)
	}
	if scorer.calls != 1 {
		t.Fatalf("scorer called %d times, want 1", scorer.calls)
	}
}

func TestModelShortSide(t *testing.T) {
	scorer := &stubScorer{res: service.ScoreResult{Probability: 0.9}}
	det, err := NewModel(modelSpec(map[string]float64{"side_short": 1}), scorer)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	cand, err := det.Evaluate(context.Background(), service.EvalInput{
		Symbol: "AAPL", Timeframe: "5m", Features: vec(warmVals()),
	})
	if err != nil || cand == nil {
		t.Fatalf("evaluate: cand=%v err=%v", cand, err)
	}
	if cand.Side != models.SideShort {
		t.Fatalf("side = %s, want short", cand.Side)
	}
}

func TestModelSkipsScorerDuringWarmup(t *testing.T) {
	scorer := &stubScorer{res: service.ScoreResult{Probability: 0.99}}
	det, err := NewModel(modelSpec(nil), scorer)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	cand, err := det.Evaluate(context.Background(), service.EvalInput{
		Symbol: "AAPL", Timeframe: "5m", Features: models.NewFeatureVector(),
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if cand != nil {
		t.Fatal("fired on a cold feature vector")
	}
	if scorer.calls != 0 {
		t.Fatalf("scorer called %d times on cold input, want 0", scorer.calls)
	}
}

func TestModelScorerErrorPropagates(t *testing.T) {
	scorer := &stubScorer{err: errors.New("artifact unavailable")}
	det, err := NewModel(modelSpec(nil), scorer)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	_, err = det.Evaluate(context.Background(), service.EvalInput{
		Symbol: "AAPL", Timeframe: "5m", Features: vec(warmVals()),
	})
	if err == nil {
		t.Fatal("scorer failure swallowed")
	}
}

func TestNewModelValidation(t *testing.T) {
	var cfgErr *models.ConfigValidationError

	if _, err := NewModel(modelSpec(nil), nil); !errors.As(err, &cfgErr) {
		t.Fatalf("nil scorer: err = %v, want ConfigValidationError", err)
	}
	if _, err := NewModel(modelSpec(map[string]float64{"threshold": 1.5}), &stubScorer{}); !errors.As(err, &cfgErr) {
		t.Fatalf("threshold 1.5: err = %v, want ConfigValidationError", err)
	}
}
