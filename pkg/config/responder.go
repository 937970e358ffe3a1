package config

import (
	"time"

	"lifeline/pkg/models"
)

// ResponderConfig is the immutable knob set for the emergency response
// coordinator. Retention classes are distinct: evidence snapshots expire sooner
// than incident records.
type ResponderConfig struct {
	EvidenceRetention time.Duration
	IncidentRetention time.Duration

	// Per-step timeouts. A timed-out step is recorded as failed, never aborts
	// the remaining steps.
	NotifyTimeout   time.Duration
	StorageTimeout  time.Duration
	IncidentRetries int

	// Notification templates with named placeholders: {{subject_id}},
	// {{timestamp}}, {{risk_level}}, {{final_score}}, {{trigger_type}},
	// {{contact_name}}.
	SMSTemplate   string
	EmailTemplate string
	EmailSubject  string

	LocationUpdateInterval time.Duration
	MonitoringInterval     time.Duration

	// EvidenceWindow bounds how far back the evidence snapshot reaches for
	// the records that justified the escalation.
	EvidenceWindow time.Duration

	// AuthorityWebhook, when set and the subject profile opts in, receives a
	// webhook alert alongside the contact fan-out.
	AuthorityWebhook string
}

const defaultSMSTemplate = "EMERGENCY ALERT {{contact_name}}: risk {{risk_level}} ({{final_score}}) " +
	"for {{subject_id}} at {{timestamp}}, trigger {{trigger_type}}. " +
	"Try to reach them now; call local emergency services if you cannot."

const defaultEmailTemplate = `Emergency alert for {{subject_id}}.

Risk level: {{risk_level}}
Score:      {{final_score}}
Trigger:    {{trigger_type}}
Time:       {{timestamp}}

This is an automated safety alert generated from threat indicators.
Hello {{contact_name}}, please try to contact the subject immediately and
consider calling local emergency services.`

// Validate fails fast on misconfiguration; called once in main.
func (c ResponderConfig) Validate() error {
	if c.EvidenceRetention <= 0 || c.IncidentRetention <= 0 {
		return models.Configf("retention windows must be positive (evidence=%v incident=%v)",
			c.EvidenceRetention, c.IncidentRetention)
	}
	if c.IncidentRetries < 0 {
		return models.Configf("incident retries must be >= 0, got %d", c.IncidentRetries)
	}
	if c.SMSTemplate == "" || c.EmailTemplate == "" {
		return models.Configf("notification templates cannot be empty")
	}
	return nil
}

// LoadResponder reads responder knobs from the environment.
func LoadResponder() ResponderConfig {
	return ResponderConfig{
		EvidenceRetention:      time.Duration(GetInt("RESPONDER_EVIDENCE_RETENTION_DAYS", 90)) * 24 * time.Hour,
		IncidentRetention:      time.Duration(GetInt("RESPONDER_INCIDENT_RETENTION_DAYS", 365)) * 24 * time.Hour,
		NotifyTimeout:          GetDuration("RESPONDER_NOTIFY_TIMEOUT", 5*time.Second),
		StorageTimeout:         GetDuration("RESPONDER_STORAGE_TIMEOUT", 5*time.Second),
		IncidentRetries:        GetInt("RESPONDER_INCIDENT_RETRIES", 2),
		SMSTemplate:            Get("RESPONDER_SMS_TEMPLATE", defaultSMSTemplate),
		EmailTemplate:          Get("RESPONDER_EMAIL_TEMPLATE", defaultEmailTemplate),
		EmailSubject:           Get("RESPONDER_EMAIL_SUBJECT", "Emergency safety alert"),
		LocationUpdateInterval: GetDuration("RESPONDER_LOCATION_INTERVAL", 30*time.Second),
		MonitoringInterval:     GetDuration("RESPONDER_MONITORING_INTERVAL", 15*time.Second),
		EvidenceWindow:         GetDuration("RESPONDER_EVIDENCE_WINDOW", 30*time.Minute),
		AuthorityWebhook:       Get("RESPONDER_AUTHORITY_WEBHOOK", ""),
	}
}
