package models

import (
	"fmt"
	"regexp"
	"time"
)

// Modality identifies the producer channel a threat record came from.
type Modality string

const (
	ModalityAudio  Modality = "audio"
	ModalityMotion Modality = "motion"
	ModalityText   Modality = "text"
)

// Modalities lists every signal producer channel.
var Modalities = []Modality{ModalityAudio, ModalityMotion, ModalityText}

// TriggerType records what caused a fusion evaluation.
type TriggerType string

const (
	TriggerAudio    TriggerType = "audio"
	TriggerMotion   TriggerType = "motion"
	TriggerText     TriggerType = "text"
	TriggerManual   TriggerType = "manual"
	TriggerCombined TriggerType = "combined"
)

// RiskLevel is the discrete classification of a fused score.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
	RiskNone     RiskLevel = "NONE"
)

// Rank orders risk levels for monotonicity checks; higher is more severe.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 4
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// Location is a producer-reported GPS fix.
type Location struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	AccuracyM float64 `json:"accuracy_m,omitempty"`
}

// ThreatRecord is a single per-modality observation with a normalized score.
// Records are append-only; the fusion engine never mutates them.
type ThreatRecord struct {
	SubjectID  string         `json:"subject_id"`
	Modality   Modality       `json:"modality"`
	Timestamp  int64          `json:"timestamp"` // epoch seconds
	Score      float64        `json:"score"`     // [0,1], clamped on ingest
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LocationAttr extracts a location from the record attributes, if present.
// Producers report it as {"location": {"lat":..,"lng":..,"accuracy_m":..}}.
func (t *ThreatRecord) LocationAttr() (Location, bool) {
	raw, ok := t.Attributes["location"].(map[string]any)
	if !ok {
		return Location{}, false
	}
	loc := Location{}
	lat, okLat := asFloat(raw["lat"])
	lng, okLng := asFloat(raw["lng"])
	if !okLat || !okLng {
		return Location{}, false
	}
	loc.Lat, loc.Lng = lat, lng
	if acc, ok := asFloat(raw["accuracy_m"]); ok {
		loc.AccuracyM = acc
	}
	return loc, true
}

// StationaryAttr reports whether the producer flagged the subject as stationary
// and for how long (seconds), when the modality carries motion context.
func (t *ThreatRecord) StationaryAttr() (time.Duration, bool) {
	flag, _ := t.Attributes["is_stationary"].(bool)
	if !flag {
		return 0, false
	}
	secs, ok := asFloat(t.Attributes["stationary_seconds"])
	if !ok {
		return 0, true
	}
	return time.Duration(secs) * time.Second, true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// RiskAssessment is one fused evaluation for a subject. Immutable once written;
// superseded only by a later assessment for the same subject.
type RiskAssessment struct {
	SubjectID       string      `json:"subject_id"`
	Timestamp       int64       `json:"timestamp"`
	BaseScore       float64     `json:"base_score"`
	EscalationScore float64     `json:"escalation_score"`
	ContextScore    float64     `json:"context_score"`
	PatternScore    float64     `json:"pattern_score"`
	FinalScore      float64     `json:"final_score"`
	RiskLevel       RiskLevel   `json:"risk_level"`
	TriggerType     TriggerType `json:"trigger_type"`
	Escalated       bool        `json:"escalated"`
	RecentCount     int         `json:"recent_threats_count"`
}

// ActionStatus tracks one notification/response step: Pending -> Sent | Failed.
type ActionStatus string

const (
	ActionPending ActionStatus = "pending"
	ActionSent    ActionStatus = "sent"
	ActionFailed  ActionStatus = "failed"
)

// ActionResult is the recorded outcome of a single response step.
type ActionResult struct {
	Channel string       `json:"channel"`
	Target  string       `json:"target,omitempty"`
	Status  ActionStatus `json:"status"`
	Error   string       `json:"error,omitempty"`
}

// Incident is the durable record of one escalation. Created exactly once per
// escalation; immutable; expires via the storage layer per RetentionUntil.
type Incident struct {
	ID             string         `json:"id"`
	SubjectID      string         `json:"subject_id"`
	CreatedAt      int64          `json:"created_at"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	FinalScore     float64        `json:"final_score"`
	ActionsTaken   []ActionResult `json:"actions_taken"`
	EvidenceRef    string         `json:"evidence_ref,omitempty"`
	RetentionUntil int64          `json:"retention_until"`
}

// EvidenceSnapshot bundles the records that justified an escalation, stored for
// audit with its own retention window, distinct from the incident record.
type EvidenceSnapshot struct {
	ID             string         `json:"id"`
	SubjectID      string         `json:"subject_id"`
	CreatedAt      int64          `json:"created_at"`
	Assessment     RiskAssessment `json:"assessment"`
	Records        []ThreatRecord `json:"records"`
	RetentionUntil int64          `json:"retention_until"`
}

// ResponseOutcome is what Respond returns: per-step status, never all-or-nothing.
type ResponseOutcome struct {
	IncidentID      string         `json:"incident_id"`
	ActionsTaken    []ActionResult `json:"actions_taken"`
	EvidenceRef     string         `json:"evidence_ref,omitempty"`
	CurrentLocation *Location      `json:"current_location,omitempty"`
}

// EmergencyContact is one configured notification target for a subject.
type EmergencyContact struct {
	Name    string `json:"name"`
	Channel string `json:"channel"` // sms | email | webhook
	Target  string `json:"target"`  // phone number, address, or URL
}

// SubjectProfile carries per-subject response configuration.
type SubjectProfile struct {
	SubjectID         string             `json:"subject_id"`
	Contacts          []EmergencyContact `json:"contacts"`
	HighRiskAreas     []Location         `json:"high_risk_areas,omitempty"`
	LocationSharing   bool               `json:"location_sharing"`
	NotifyAuthorities bool               `json:"notify_authorities"`
	CreatedAt         int64              `json:"created_at"`
}

var subjectIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

// ValidateSubjectID enforces the identifier format accepted on every surface.
func ValidateSubjectID(id string) error {
	if id == "" {
		return Validation("subject_id cannot be empty")
	}
	if !subjectIDRegex.MatchString(id) {
		return Validation("subject_id contains invalid characters")
	}
	return nil
}

// ValidateModality rejects unknown producer channels.
func ValidateModality(m Modality) error {
	switch m {
	case ModalityAudio, ModalityMotion, ModalityText:
		return nil
	}
	return Validation(fmt.Sprintf("unknown modality %q", m))
}

// ClampScore forces producer scores into [0,1]. Out-of-range values are clamped
// rather than rejected so a producer bug never drops a real signal.
func ClampScore(s float64) float64 {
	if s != s { // NaN
		return 0
	}
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
