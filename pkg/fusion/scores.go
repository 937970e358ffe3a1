package fusion

import (
	"math"
	"time"

	"lifeline/pkg/config"
	"lifeline/pkg/models"
)

// baseScore is the strongest individual signal in the window. Max, not mean:
// one severe signal must not be diluted by several benign ones.
func baseScore(window []models.ThreatRecord) float64 {
	max := 0.0
	for _, rec := range window {
		if s := models.ClampScore(rec.Score); s > max {
			max = s
		}
	}
	return max
}

// escalationScore measures corroboration across the window: multiple
// modalities firing, sheer volume of above-threshold records, or one
// high-severity record. Bonuses are additive and capped at 1.0. The second
// return reports whether multi-type corroboration fired (sets trigger_type to
// combined).
func escalationScore(cfg config.FusionConfig, window []models.ThreatRecord) (float64, bool) {
	if len(window) == 0 {
		return 0, false
	}

	activeModalities := map[models.Modality]bool{}
	aboveThreshold := 0
	highSeverity := false

	for _, rec := range window {
		score := models.ClampScore(rec.Score)
		th, ok := cfg.ModalityTriggers[rec.Modality]
		if !ok {
			continue
		}
		if score >= th {
			aboveThreshold++
			activeModalities[rec.Modality] = true
		}
		if score > cfg.Escalation.SeverityThreshold {
			highSeverity = true
		}
	}

	score := 0.0
	multiType := len(activeModalities) >= 2
	if multiType {
		score += cfg.Escalation.MultiType
	}
	if aboveThreshold > cfg.Escalation.CountThreshold {
		score += cfg.Escalation.Count
	}
	if highSeverity {
		score += cfg.Escalation.Severity
	}
	return math.Min(score, 1.0), multiType
}

// contextScore derives situational risk from the trigger record itself:
// night hours, proximity to a known high-risk area, prolonged isolation.
func contextScore(cfg config.FusionConfig, trigger models.ThreatRecord, profile models.SubjectProfile) float64 {
	score := 0.0

	local := time.Unix(trigger.Timestamp, 0).In(cfg.TimeZone)
	if inNightBand(local.Hour(), cfg.Context.NightStartHour, cfg.Context.NightEndHour) {
		score += cfg.Context.Night
	}

	loc, hasLoc := trigger.LocationAttr()
	if hasLoc {
		areas := append([]models.Location{}, cfg.HighRiskAreas...)
		areas = append(areas, profile.HighRiskAreas...)
		for _, area := range areas {
			if math.Abs(loc.Lat-area.Lat) < cfg.Context.ProximityDegrees &&
				math.Abs(loc.Lng-area.Lng) < cfg.Context.ProximityDegrees {
				score += cfg.Context.HighRiskArea
				break
			}
		}
	}

	if isolated(trigger, loc, hasLoc, cfg.Context.StationaryMinimum) {
		score += cfg.Context.Isolation
	}

	return math.Min(score, 1.0)
}

// inNightBand handles bands that wrap midnight (e.g. 22..5).
func inNightBand(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}

// isolated: prolonged stationary state, or no usable fix at all.
func isolated(trigger models.ThreatRecord, loc models.Location, hasLoc bool, minStationary time.Duration) bool {
	if dur, stationary := trigger.StationaryAttr(); stationary && dur >= minStationary {
		return true
	}
	if !hasLoc {
		return true
	}
	return loc.AccuracyM > 100
}
