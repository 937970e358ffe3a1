// Package response implements the emergency response coordinator: idempotent,
// partially-failable multi-channel notification with durable incident and
// evidence recording.
package response

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"lifeline/pkg/config"
	"lifeline/pkg/models"
	"lifeline/pkg/notify"
	"lifeline/pkg/structlog"
)

type IncidentWriter interface {
	InsertIncident(ctx context.Context, inc models.Incident) error
}

type EvidenceWriter interface {
	PutEvidence(ctx context.Context, ev models.EvidenceSnapshot) error
}

type TrackingWriter interface {
	EnableTracking(ctx context.Context, subjectID, incidentID string, loc models.Location, intervalSec int, startedAt int64) error
	RecordMonitoring(ctx context.Context, subjectID, incidentID, level string, intervalSec int, startedAt int64) error
}

type ProfileReader interface {
	GetProfile(ctx context.Context, subjectID string) (models.SubjectProfile, error)
}

type SignalReader interface {
	RecentSignals(ctx context.Context, subjectID string, since int64) ([]models.ThreatRecord, error)
}

var (
	mResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "responder", Name: "responses_total", Help: "Coordinator invocations, by trigger type."},
		[]string{"trigger_type"},
	)
	mChannelSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "responder", Name: "channel_sends_total", Help: "Notification attempts, by channel and status."},
		[]string{"channel", "status"},
	)
)

func init() {
	prometheus.MustRegister(mResponses, mChannelSends)
}

// Coordinator performs the response steps in order with independent failure
// isolation: a failed channel or evidence write never aborts the rest.
type Coordinator struct {
	cfg      config.ResponderConfig
	channels *notify.Registry
	incident IncidentWriter
	evidence EvidenceWriter
	tracking TrackingWriter
	profiles ProfileReader
	signals  SignalReader
	audit    *structlog.Logger

	Now func() time.Time
}

// NewCoordinator wires the coordinator. cfg must already be validated.
func NewCoordinator(cfg config.ResponderConfig, channels *notify.Registry,
	incident IncidentWriter, evidence EvidenceWriter, tracking TrackingWriter,
	profiles ProfileReader, signals SignalReader, audit *structlog.Logger) *Coordinator {
	if audit == nil {
		audit = structlog.New("responder", nil)
	}
	return &Coordinator{
		cfg:      cfg,
		channels: channels,
		incident: incident,
		evidence: evidence,
		tracking: tracking,
		profiles: profiles,
		signals:  signals,
		audit:    audit,
		Now:      time.Now,
	}
}

// SyntheticAssessment builds the maximum-confidence assessment used for
// manual/user-initiated emergency triggers.
func SyntheticAssessment(subjectID string, now time.Time) models.RiskAssessment {
	return models.RiskAssessment{
		SubjectID:   subjectID,
		Timestamp:   now.Unix(),
		BaseScore:   1.0,
		FinalScore:  1.0,
		RiskLevel:   models.RiskCritical,
		TriggerType: models.TriggerManual,
		Escalated:   true,
	}
}

// Respond runs the response sequence: notify fan-out, evidence capture,
// location echo, incident persistence. incidentKey, when non-empty, is the
// idempotency key from the escalation dedup bucket; concurrent duplicate
// invocations collapse onto one incident row. Respond only returns an error
// when the incident record itself cannot be written after retries; every other
// failure is reported inside the outcome.
func (c *Coordinator) Respond(ctx context.Context, subjectID string, assessment models.RiskAssessment, loc *models.Location, incidentKey string) (models.ResponseOutcome, error) {
	now := c.Now()
	mResponses.WithLabelValues(string(assessment.TriggerType)).Inc()

	incidentID := incidentKey
	if incidentID == "" {
		incidentID = uuid.New().String()
	}

	profile := c.loadProfile(ctx, subjectID)

	var actions []models.ActionResult

	// 1. Notification fan-out.
	actions = append(actions, c.notifyContacts(ctx, profile, assessment, now)...)
	if profile.NotifyAuthorities && c.cfg.AuthorityWebhook != "" {
		actions = append(actions, c.notifyAuthority(ctx, assessment, now))
	}

	// 2. Evidence capture.
	evidenceRef, evAction := c.captureEvidence(ctx, subjectID, assessment, now)
	actions = append(actions, evAction)

	// 3. Location echo + enhanced monitoring. Runs before the incident write so
	// tracking survives a storage failure on the incident table.
	if loc != nil && profile.LocationSharing {
		actions = append(actions, c.echoLocation(ctx, subjectID, incidentID, *loc, now))
	}

	// 4. Incident persistence. The one step whose failure fails Respond.
	incident := models.Incident{
		ID:             incidentID,
		SubjectID:      subjectID,
		CreatedAt:      now.Unix(),
		RiskLevel:      assessment.RiskLevel,
		FinalScore:     assessment.FinalScore,
		ActionsTaken:   actions,
		EvidenceRef:    evidenceRef,
		RetentionUntil: now.Add(c.cfg.IncidentRetention).Unix(),
	}
	if err := c.writeIncident(ctx, incident); err != nil {
		c.audit.Error("incident write failed", structlog.Fields{
			"subject_id": subjectID, "incident_id": incidentID, "error": err.Error(),
		})
		return models.ResponseOutcome{IncidentID: incidentID, ActionsTaken: actions, EvidenceRef: evidenceRef, CurrentLocation: loc}, err
	}

	c.audit.Audit("emergency_response", structlog.Fields{
		"subject_id":  subjectID,
		"incident_id": incidentID,
		"risk_level":  string(assessment.RiskLevel),
		"final_score": assessment.FinalScore,
		"actions":     len(actions),
	})

	return models.ResponseOutcome{
		IncidentID:      incidentID,
		ActionsTaken:    actions,
		EvidenceRef:     evidenceRef,
		CurrentLocation: loc,
	}, nil
}

func (c *Coordinator) loadProfile(ctx context.Context, subjectID string) models.SubjectProfile {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
	defer cancel()
	profile, err := c.profiles.GetProfile(cctx, subjectID)
	if err != nil {
		log.Printf("[responder] profile read failed for %s: %v (responding with defaults)", subjectID, err)
		return models.SubjectProfile{SubjectID: subjectID, LocationSharing: true}
	}
	return profile
}

// notifyContacts renders and dispatches one alert per contact. Every attempt
// is recorded, success or not.
func (c *Coordinator) notifyContacts(ctx context.Context, profile models.SubjectProfile, assessment models.RiskAssessment, now time.Time) []models.ActionResult {
	results := make([]models.ActionResult, 0, len(profile.Contacts))
	for _, contact := range profile.Contacts {
		res := models.ActionResult{Channel: contact.Channel, Target: contact.Target, Status: models.ActionPending}

		ch, ok := c.channels.Lookup(contact.Channel)
		if !ok {
			res.Status = models.ActionFailed
			res.Error = "channel not configured"
			results = append(results, res)
			mChannelSends.WithLabelValues(contact.Channel, string(res.Status)).Inc()
			continue
		}

		vars := notify.Vars{
			SubjectID:   profile.SubjectID,
			Timestamp:   time.Unix(assessment.Timestamp, 0),
			RiskLevel:   assessment.RiskLevel,
			FinalScore:  assessment.FinalScore,
			TriggerType: assessment.TriggerType,
			ContactName: contact.Name,
		}
		msg := notify.Message{Target: contact.Target, Subject: c.cfg.EmailSubject}
		if contact.Channel == "email" {
			msg.Body = notify.Render(c.cfg.EmailTemplate, vars)
		} else {
			msg.Body = notify.Render(c.cfg.SMSTemplate, vars)
		}

		nctx, cancel := context.WithTimeout(ctx, c.cfg.NotifyTimeout)
		err := ch.Send(nctx, msg)
		cancel()
		if err != nil {
			res.Status = models.ActionFailed
			res.Error = err.Error()
			log.Printf("[responder] %s alert to %s failed: %v", contact.Channel, contact.Name, err)
		} else {
			res.Status = models.ActionSent
		}
		mChannelSends.WithLabelValues(contact.Channel, string(res.Status)).Inc()
		results = append(results, res)
	}
	return results
}

func (c *Coordinator) notifyAuthority(ctx context.Context, assessment models.RiskAssessment, now time.Time) models.ActionResult {
	res := models.ActionResult{Channel: "authority", Target: c.cfg.AuthorityWebhook, Status: models.ActionPending}
	ch, ok := c.channels.Lookup("webhook")
	if !ok {
		res.Status = models.ActionFailed
		res.Error = "webhook channel not configured"
		mChannelSends.WithLabelValues("authority", string(res.Status)).Inc()
		return res
	}
	vars := notify.Vars{
		SubjectID:   assessment.SubjectID,
		Timestamp:   time.Unix(assessment.Timestamp, 0),
		RiskLevel:   assessment.RiskLevel,
		FinalScore:  assessment.FinalScore,
		TriggerType: assessment.TriggerType,
		ContactName: "authorities",
	}
	nctx, cancel := context.WithTimeout(ctx, c.cfg.NotifyTimeout)
	defer cancel()
	err := ch.Send(nctx, notify.Message{
		Target:  c.cfg.AuthorityWebhook,
		Subject: c.cfg.EmailSubject,
		Body:    notify.Render(c.cfg.SMSTemplate, vars),
	})
	if err != nil {
		res.Status = models.ActionFailed
		res.Error = err.Error()
	} else {
		res.Status = models.ActionSent
	}
	mChannelSends.WithLabelValues("authority", string(res.Status)).Inc()
	return res
}

// captureEvidence snapshots the records that justified escalation. Best
// effort: a failed write is a failed step, not a failed response.
func (c *Coordinator) captureEvidence(ctx context.Context, subjectID string, assessment models.RiskAssessment, now time.Time) (string, models.ActionResult) {
	res := models.ActionResult{Channel: "evidence", Status: models.ActionPending}

	sctx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
	defer cancel()

	since := now.Unix() - int64(c.cfg.EvidenceWindow.Seconds())
	records, err := c.signals.RecentSignals(sctx, subjectID, since)
	if err != nil {
		log.Printf("[responder] evidence record read failed for %s: %v (snapshotting assessment only)", subjectID, err)
		records = nil
	}

	ev := models.EvidenceSnapshot{
		ID:             uuid.New().String(),
		SubjectID:      subjectID,
		CreatedAt:      now.Unix(),
		Assessment:     assessment,
		Records:        records,
		RetentionUntil: now.Add(c.cfg.EvidenceRetention).Unix(),
	}
	if err := c.evidence.PutEvidence(sctx, ev); err != nil {
		res.Status = models.ActionFailed
		res.Error = err.Error()
		log.Printf("[responder] evidence write failed for %s: %v", subjectID, err)
		return "", res
	}
	res.Status = models.ActionSent
	res.Target = ev.ID
	return ev.ID, res
}

// writeIncident retries the one write that must land.
func (c *Coordinator) writeIncident(ctx context.Context, inc models.Incident) error {
	var err error
	for attempt := 0; attempt <= c.cfg.IncidentRetries; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
		err = c.incident.InsertIncident(sctx, inc)
		cancel()
		if err == nil {
			return nil
		}
		log.Printf("[responder] incident write attempt %d failed: %v", attempt+1, err)
	}
	return err
}

func (c *Coordinator) echoLocation(ctx context.Context, subjectID, incidentID string, loc models.Location, now time.Time) models.ActionResult {
	res := models.ActionResult{Channel: "location", Status: models.ActionPending}
	sctx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
	defer cancel()

	interval := int(c.cfg.LocationUpdateInterval.Seconds())
	if err := c.tracking.EnableTracking(sctx, subjectID, incidentID, loc, interval, now.Unix()); err != nil {
		res.Status = models.ActionFailed
		res.Error = err.Error()
		return res
	}
	monInterval := int(c.cfg.MonitoringInterval.Seconds())
	if err := c.tracking.RecordMonitoring(sctx, subjectID, incidentID, "emergency", monInterval, now.Unix()); err != nil {
		// Tracking landed; monitoring directive is secondary.
		log.Printf("[responder] monitoring directive failed for %s: %v", subjectID, err)
	}
	res.Status = models.ActionSent
	return res
}
