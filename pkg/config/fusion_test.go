package config

import (
	"testing"
	"time"

	"lifeline/pkg/models"
)

func TestWeightsValidate(t *testing.T) {
	good := Weights{Base: 0.4, Escalation: 0.3, Context: 0.2, Pattern: 0.1}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid weights rejected: %v", err)
	}

	bad := Weights{Base: 0.5, Escalation: 0.3, Context: 0.2, Pattern: 0.1}
	if err := bad.Validate(); err == nil {
		t.Fatal("weights summing to 1.1 accepted")
	}

	negative := Weights{Base: -0.1, Escalation: 0.5, Context: 0.5, Pattern: 0.1}
	if err := negative.Validate(); err == nil {
		t.Fatal("negative weight accepted")
	}
}

func TestBandsValidateOrdering(t *testing.T) {
	good := Bands{Critical: 0.9, High: 0.7, Medium: 0.5, Low: 0.3}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid bands rejected: %v", err)
	}
	overlapping := Bands{Critical: 0.7, High: 0.7, Medium: 0.5, Low: 0.3}
	if err := overlapping.Validate(); err == nil {
		t.Fatal("non-decreasing bands accepted")
	}
	tooHigh := Bands{Critical: 1.2, High: 0.7, Medium: 0.5, Low: 0.3}
	if err := tooHigh.Validate(); err == nil {
		t.Fatal("critical band above 1.0 accepted")
	}
}

func TestBandsLevelBoundaries(t *testing.T) {
	b := Bands{Critical: 0.9, High: 0.7, Medium: 0.5, Low: 0.3}
	cases := []struct {
		score float64
		want  models.RiskLevel
	}{
		{1.0, models.RiskCritical},
		{0.9, models.RiskCritical}, // boundary is inclusive
		{0.89, models.RiskHigh},
		{0.7, models.RiskHigh},
		{0.5, models.RiskMedium},
		{0.49, models.RiskLow},
		{0.3, models.RiskLow},
		{0.29, models.RiskNone},
		{0.0, models.RiskNone},
	}
	for _, tc := range cases {
		if got := b.Level(tc.score); got != tc.want {
			t.Errorf("Level(%v) = %v, want %v", tc.score, got, tc.want)
		}
	}
}

func TestLoadFusionDefaultsAreValid(t *testing.T) {
	cfg := LoadFusion()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default fusion config invalid: %v", err)
	}
	if cfg.TriggerThreshold != 0.8 {
		t.Fatalf("default trigger threshold = %v, want 0.8", cfg.TriggerThreshold)
	}
	if cfg.Window != 30*time.Minute {
		t.Fatalf("default window = %v, want 30m", cfg.Window)
	}
}

func TestLoadFusionReadsEnvironment(t *testing.T) {
	t.Setenv("FUSION_TRIGGER_THRESHOLD", "0.75")
	t.Setenv("FUSION_WINDOW", "10m")
	t.Setenv("FUSION_HIGH_RISK_AREAS", "10.5,20.25; 30.0,40.0")

	cfg := LoadFusion()
	if cfg.TriggerThreshold != 0.75 {
		t.Fatalf("trigger threshold = %v, want 0.75", cfg.TriggerThreshold)
	}
	if cfg.Window != 10*time.Minute {
		t.Fatalf("window = %v, want 10m", cfg.Window)
	}
	if len(cfg.HighRiskAreas) != 2 || cfg.HighRiskAreas[0].Lat != 10.5 || cfg.HighRiskAreas[1].Lng != 40.0 {
		t.Fatalf("high risk areas = %+v", cfg.HighRiskAreas)
	}
}

func TestParseAreasSkipsMalformedPairs(t *testing.T) {
	areas := parseAreas("1.0,2.0;garbage;3.0")
	if len(areas) != 1 || areas[0].Lat != 1.0 || areas[0].Lng != 2.0 {
		t.Fatalf("parseAreas = %+v, want one valid pair", areas)
	}
	if parseAreas("") != nil {
		t.Fatal("empty input must yield nil")
	}
}

func TestFusionConfigValidateRejectsBadKnobs(t *testing.T) {
	base := LoadFusion()

	c := base
	c.TriggerThreshold = 1.5
	if err := c.Validate(); err == nil {
		t.Fatal("trigger threshold above 1 accepted")
	}

	c = base
	c.Window = 0
	if err := c.Validate(); err == nil {
		t.Fatal("zero window accepted")
	}

	c = base
	c.StorageTimeout = 0
	if err := c.Validate(); err == nil {
		t.Fatal("zero storage timeout accepted")
	}

	c = base
	c.ModalityTriggers = map[models.Modality]float64{"video": 0.5}
	if err := c.Validate(); err == nil {
		t.Fatal("unknown modality trigger accepted")
	}

	c = base
	c.ModalityTriggers = map[models.Modality]float64{models.ModalityAudio: 1.5}
	if err := c.Validate(); err == nil {
		t.Fatal("out-of-range modality trigger accepted")
	}
}

func TestLoadResponderDefaultsAreValid(t *testing.T) {
	cfg := LoadResponder()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default responder config invalid: %v", err)
	}
	if cfg.EvidenceRetention != 90*24*time.Hour {
		t.Fatalf("evidence retention = %v, want 90d", cfg.EvidenceRetention)
	}
	if cfg.IncidentRetention != 365*24*time.Hour {
		t.Fatalf("incident retention = %v, want 365d", cfg.IncidentRetention)
	}
}
