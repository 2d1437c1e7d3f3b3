package detector

import (
	"errors"
	"testing"

	"FinScan/internal/domain/models"
)

func TestRegistryRejectsDuplicateVersion(t *testing.T) {
	reg := NewRegistry()
	spec := models.DetectorSpec{ID: BreakoutID, Version: "1", Kind: models.DetectorRule, Params: gatesOff()}
	first, err := NewBreakout(spec)
	if err != nil {
		t.Fatalf("NewBreakout: %v", err)
	}
	second, err := NewBreakout(spec)
	if err != nil {
		t.Fatalf("NewBreakout: %v", err)
	}

	if err := reg.Register(first); err != nil {
		t.Fatalf("first register: %v", err)
	}
	var cfgErr *models.ConfigValidationError
	if err := reg.Register(second); !errors.As(err, &cfgErr) {
		t.Fatalf("duplicate register: err = %v, want ConfigValidationError", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("len = %d, want 1", reg.Len())
	}
}

func TestRegistryAllowsSideBySideVersions(t *testing.T) {
	reg := NewRegistry()
	for _, version := range []string{"1", "2"} {
		d, err := NewBreakout(models.DetectorSpec{
			ID: BreakoutID, Version: version, Kind: models.DetectorRule, Params: gatesOff(),
		})
		if err != nil {
			t.Fatalf("NewBreakout v%s: %v", version, err)
		}
		if err := reg.Register(d); err != nil {
			t.Fatalf("register v%s: %v", version, err)
		}
	}
	if reg.Len() != 2 {
		t.Fatalf("len = %d, want both versions live", reg.Len())
	}
}

func TestBuildWiresConfiguredDetectors(t *testing.T) {
	specs := []models.DetectorSpec{
		{ID: BreakoutID, Version: "1", Kind: models.DetectorRule},
		{ID: "ml_breakout", Version: "3", Kind: models.DetectorModel},
	}
	reg, err := Build(specs, &stubScorer{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("len = %d, want 2", reg.Len())
	}
	got := reg.Specs()
	if got[0].Key() != BreakoutID+"@1" || got[1].Key() != "ml_breakout@3" {
		t.Fatalf("specs out of order: %v", got)
	}
}

func TestBuildRefusesUnknownDetectors(t *testing.T) {
	var cfgErr *models.ConfigValidationError

	_, err := Build([]models.DetectorSpec{{ID: "nope", Version: "1", Kind: models.DetectorRule}}, nil)
	if !errors.As(err, &cfgErr) {
		t.Fatalf("unknown rule id: err = %v, want ConfigValidationError", err)
	}

	_, err = Build([]models.DetectorSpec{{ID: BreakoutID, Version: "1", Kind: "fuzzy"}}, nil)
	if !errors.As(err, &cfgErr) {
		t.Fatalf("unknown kind: err = %v, want ConfigValidationError", err)
	}

	_, err = Build([]models.DetectorSpec{{ID: "ml_breakout", Version: "3", Kind: models.DetectorModel}}, nil)
	if !errors.As(err, &cfgErr) {
		t.Fatalf("model without scorer: err = %v, want ConfigValidationError", err)
	}
}
