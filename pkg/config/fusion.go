package config

import (
	"math"
	"strconv"
	"strings"
	"time"

	"lifeline/pkg/models"
)

// Weights are the four fusion weights. They must sum to 1.0; anything else is a
// deployment mistake and the service refuses to start.
type Weights struct {
	Base       float64
	Escalation float64
	Context    float64
	Pattern    float64
}

const weightEpsilon = 1e-9

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"base": w.Base, "escalation": w.Escalation, "context": w.Context, "pattern": w.Pattern,
	} {
		if v < 0 || v > 1 {
			return models.Configf("fusion weight %s=%v outside [0,1]", name, v)
		}
	}
	sum := w.Base + w.Escalation + w.Context + w.Pattern
	if math.Abs(sum-1.0) > weightEpsilon {
		return models.Configf("fusion weights sum to %v, want 1.0", sum)
	}
	return nil
}

// Bands are the ordered risk level cutoffs. Non-overlapping, covering [0,1].
type Bands struct {
	Critical float64
	High     float64
	Medium   float64
	Low      float64
}

func (b Bands) Validate() error {
	if !(b.Critical > b.High && b.High > b.Medium && b.Medium > b.Low && b.Low > 0) {
		return models.Configf("risk bands must be strictly decreasing and positive: critical=%v high=%v medium=%v low=%v",
			b.Critical, b.High, b.Medium, b.Low)
	}
	if b.Critical > 1 {
		return models.Configf("critical band %v exceeds 1.0", b.Critical)
	}
	return nil
}

// Level maps a fused score onto its band. Monotonic by construction.
func (b Bands) Level(score float64) models.RiskLevel {
	switch {
	case score >= b.Critical:
		return models.RiskCritical
	case score >= b.High:
		return models.RiskHigh
	case score >= b.Medium:
		return models.RiskMedium
	case score >= b.Low:
		return models.RiskLow
	default:
		return models.RiskNone
	}
}

// EscalationBonuses shape the corroboration sub-score.
type EscalationBonuses struct {
	MultiType         float64 // >=2 distinct modalities above their trigger threshold
	Count             float64 // above-threshold record count exceeds CountThreshold
	Severity          float64 // any single record above SeverityThreshold
	CountThreshold    int
	SeverityThreshold float64
}

// ContextBonuses shape the situational sub-score.
type ContextBonuses struct {
	Night             float64
	NightStartHour    int // inclusive, local time
	NightEndHour      int // inclusive
	HighRiskArea      float64
	ProximityDegrees  float64
	Isolation         float64
	StationaryMinimum time.Duration
}

// FusionConfig is the immutable, validated knob set for the fusion engine.
type FusionConfig struct {
	Window            time.Duration // recent-record lookback
	Weights           Weights
	Bands             Bands
	TriggerThreshold  float64 // escalate when final score reaches this
	ModalityTriggers  map[models.Modality]float64
	Escalation        EscalationBonuses
	Context           ContextBonuses
	PatternLookback   time.Duration
	DebounceWindow    time.Duration
	HighRiskAreas     []models.Location // global list; profiles may add more
	TimeZone          *time.Location

	// StorageTimeout bounds each individual read and write the engine issues;
	// a hung query degrades that one step instead of stalling Assess.
	StorageTimeout time.Duration
}

// Validate fails fast on any misconfiguration. Called once in main.
func (c FusionConfig) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if err := c.Bands.Validate(); err != nil {
		return err
	}
	if c.TriggerThreshold <= 0 || c.TriggerThreshold > 1 {
		return models.Configf("trigger threshold %v outside (0,1]", c.TriggerThreshold)
	}
	if c.Window <= 0 {
		return models.Configf("fusion window must be positive, got %v", c.Window)
	}
	if c.DebounceWindow <= 0 {
		return models.Configf("debounce window must be positive, got %v", c.DebounceWindow)
	}
	if c.StorageTimeout <= 0 {
		return models.Configf("storage timeout must be positive, got %v", c.StorageTimeout)
	}
	for m, th := range c.ModalityTriggers {
		if err := models.ValidateModality(m); err != nil {
			return models.Configf("modality trigger for %q: unknown modality", m)
		}
		if th < 0 || th > 1 {
			return models.Configf("modality trigger %s=%v outside [0,1]", m, th)
		}
	}
	return nil
}

// LoadFusion reads the fusion knob set from the environment. Defaults follow the
// deployed production values.
func LoadFusion() FusionConfig {
	tz, err := time.LoadLocation(Get("FUSION_TZ", "UTC"))
	if err != nil {
		tz = time.UTC
	}
	return FusionConfig{
		Window: GetDuration("FUSION_WINDOW", 30*time.Minute),
		Weights: Weights{
			Base:       GetFloat("FUSION_WEIGHT_BASE", 0.4),
			Escalation: GetFloat("FUSION_WEIGHT_ESCALATION", 0.3),
			Context:    GetFloat("FUSION_WEIGHT_CONTEXT", 0.2),
			Pattern:    GetFloat("FUSION_WEIGHT_PATTERN", 0.1),
		},
		Bands: Bands{
			Critical: GetFloat("FUSION_BAND_CRITICAL", 0.9),
			High:     GetFloat("FUSION_BAND_HIGH", 0.7),
			Medium:   GetFloat("FUSION_BAND_MEDIUM", 0.5),
			Low:      GetFloat("FUSION_BAND_LOW", 0.3),
		},
		TriggerThreshold: GetFloat("FUSION_TRIGGER_THRESHOLD", 0.8),
		ModalityTriggers: map[models.Modality]float64{
			models.ModalityAudio:  GetFloat("FUSION_TRIGGER_AUDIO", 0.5),
			models.ModalityMotion: GetFloat("FUSION_TRIGGER_MOTION", 0.5),
			models.ModalityText:   GetFloat("FUSION_TRIGGER_TEXT", 0.5),
		},
		Escalation: EscalationBonuses{
			MultiType:         GetFloat("FUSION_BONUS_MULTITYPE", 0.4),
			Count:             GetFloat("FUSION_BONUS_COUNT", 0.3),
			Severity:          GetFloat("FUSION_BONUS_SEVERITY", 0.3),
			CountThreshold:    GetInt("FUSION_COUNT_THRESHOLD", 3),
			SeverityThreshold: GetFloat("FUSION_SEVERITY_THRESHOLD", 0.6),
		},
		Context: ContextBonuses{
			Night:             GetFloat("FUSION_BONUS_NIGHT", 0.2),
			NightStartHour:    GetInt("FUSION_NIGHT_START", 22),
			NightEndHour:      GetInt("FUSION_NIGHT_END", 5),
			HighRiskArea:      GetFloat("FUSION_BONUS_AREA", 0.3),
			ProximityDegrees:  GetFloat("FUSION_AREA_PROXIMITY_DEG", 0.01),
			Isolation:         GetFloat("FUSION_BONUS_ISOLATION", 0.1),
			StationaryMinimum: GetDuration("FUSION_STATIONARY_MIN", 10*time.Minute),
		},
		PatternLookback: GetDuration("FUSION_PATTERN_LOOKBACK", 7*24*time.Hour),
		DebounceWindow:  GetDuration("FUSION_DEBOUNCE", 5*time.Second),
		HighRiskAreas:   parseAreas(Get("FUSION_HIGH_RISK_AREAS", "")),
		TimeZone:        tz,
		StorageTimeout:  GetDuration("FUSION_STORAGE_TIMEOUT", 5*time.Second),
	}
}

// parseAreas reads "lat,lng;lat,lng" pairs.
func parseAreas(raw string) []models.Location {
	if raw == "" {
		return nil
	}
	var out []models.Location
	for _, pair := range strings.Split(raw, ";") {
		parts := strings.Split(strings.TrimSpace(pair), ",")
		if len(parts) != 2 {
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, models.Location{Lat: lat, Lng: lng})
	}
	return out
}
