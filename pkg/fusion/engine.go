// Package fusion implements the risk fusion engine: it aggregates recent
// per-modality threat records for a subject, computes a composite explainable
// risk score, classifies it, and drives escalation to the emergency response
// coordinator.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lifeline/pkg/config"
	"lifeline/pkg/dedup"
	"lifeline/pkg/models"
	"lifeline/pkg/response"
)

// Store interfaces are consumer-side views of pkg/storage so tests can fake
// persistence without a database.

type SignalReader interface {
	RecentSignals(ctx context.Context, subjectID string, since int64) ([]models.ThreatRecord, error)
}

type AssessmentWriter interface {
	AppendAssessment(ctx context.Context, a models.RiskAssessment, triggerTS int64) error
	MarkEscalated(ctx context.Context, subjectID string, triggerTS int64) error
}

type IncidentReader interface {
	RecentIncidents(ctx context.Context, subjectID string, since int64) ([]models.Incident, error)
}

type ProfileReader interface {
	GetProfile(ctx context.Context, subjectID string) (models.SubjectProfile, error)
}

// ErrEscalateFailed marks an assessment that was persisted but whose
// coordinator invocation failed. The assessment is complete and valid; the
// caller surfaces the escalation failure separately.
var ErrEscalateFailed = errors.New("escalation invocation failed")

var (
	mAssessments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fusion", Name: "assessments_total", Help: "Assessments computed, by risk level."},
		[]string{"risk_level"},
	)
	mEscalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fusion", Name: "escalations_total", Help: "Escalation decisions, by result."},
		[]string{"result"}, // invoked | deduped | failed
	)
	mAssessLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "fusion", Name: "assess_duration_seconds", Help: "End-to-end Assess latency."},
	)
)

func init() {
	prometheus.MustRegister(mAssessments, mEscalations, mAssessLatency)
}

// Result is what Assess hands back to the transport layer.
type Result struct {
	Assessment models.RiskAssessment   `json:"assessment"`
	IncidentID string                  `json:"incident_id,omitempty"`
	Outcome    *models.ResponseOutcome `json:"outcome,omitempty"`
}

// Engine fuses signals into assessments. Safe for concurrent use across
// subjects; concurrent triggers for one subject are collapsed by the guard.
type Engine struct {
	cfg      config.FusionConfig
	signals  SignalReader
	assess   AssessmentWriter
	history  IncidentReader
	profiles ProfileReader
	guard    dedup.Guard
	invoker  response.Invoker
	pattern  PatternScorer

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// New wires a fusion engine. cfg must already be validated.
func New(cfg config.FusionConfig, signals SignalReader, assess AssessmentWriter,
	history IncidentReader, profiles ProfileReader, guard dedup.Guard, invoker response.Invoker) *Engine {
	return &Engine{
		cfg:      cfg,
		signals:  signals,
		assess:   assess,
		history:  history,
		profiles: profiles,
		guard:    guard,
		invoker:  invoker,
		pattern:  CountPatternScorer{Step: 0.2},
		Now:      time.Now,
	}
}

// SetPatternScorer swaps the historical-pattern formula.
func (e *Engine) SetPatternScorer(p PatternScorer) { e.pattern = p }

// Assess computes and persists one fused evaluation for the subject, then
// escalates when the score crosses the trigger threshold. Reordered or
// concurrent calls for the same subject are safe: persistence is idempotent on
// (subject, trigger timestamp) and escalation is deduplicated per time bucket.
func (e *Engine) Assess(ctx context.Context, subjectID string, trigger models.ThreatRecord) (Result, error) {
	start := e.Now()
	defer func() { mAssessLatency.Observe(time.Since(start).Seconds()) }()

	if err := models.ValidateSubjectID(subjectID); err != nil {
		return Result{}, err
	}
	if err := models.ValidateModality(trigger.Modality); err != nil {
		return Result{}, err
	}
	trigger.SubjectID = subjectID
	trigger.Score = models.ClampScore(trigger.Score)
	if trigger.Timestamp == 0 {
		trigger.Timestamp = start.Unix()
	}

	now := start.Unix()
	since := now - int64(e.cfg.Window.Seconds())

	// Degrade to a trigger-only window on read failure or timeout rather than
	// dropping the signal; the trigger alone can still cross the threshold.
	// Every store call gets its own deadline so one hung query cannot stall
	// the whole assessment.
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StorageTimeout)
	window, err := e.signals.RecentSignals(sctx, subjectID, since)
	cancel()
	if err != nil {
		log.Printf("[fusion] recent signals read failed for %s: %v (assessing trigger only)", subjectID, err)
		window = nil
	}
	window = ensureTrigger(window, trigger)

	sctx, cancel = context.WithTimeout(ctx, e.cfg.StorageTimeout)
	profile, err := e.profiles.GetProfile(sctx, subjectID)
	cancel()
	if err != nil {
		log.Printf("[fusion] profile read failed for %s: %v (using defaults)", subjectID, err)
		profile = models.SubjectProfile{SubjectID: subjectID, LocationSharing: true}
	}

	patternSince := now - int64(e.cfg.PatternLookback.Seconds())
	sctx, cancel = context.WithTimeout(ctx, e.cfg.StorageTimeout)
	incidents, err := e.history.RecentIncidents(sctx, subjectID, patternSince)
	cancel()
	if err != nil {
		log.Printf("[fusion] incident history read failed for %s: %v", subjectID, err)
		incidents = nil
	}

	base := baseScore(window)
	escal, multiType := escalationScore(e.cfg, window)
	ctxScore := contextScore(e.cfg, trigger, profile)
	pattern := models.ClampScore(e.pattern.Score(ctx, subjectID, incidents))

	w := e.cfg.Weights
	final := models.ClampScore(w.Base*base + w.Escalation*escal + w.Context*ctxScore + w.Pattern*pattern)

	assessment := models.RiskAssessment{
		SubjectID:       subjectID,
		Timestamp:       now,
		BaseScore:       base,
		EscalationScore: escal,
		ContextScore:    ctxScore,
		PatternScore:    pattern,
		FinalScore:      final,
		RiskLevel:       e.cfg.Bands.Level(final),
		TriggerType:     triggerType(trigger, multiType),
		RecentCount:     len(window),
	}

	// Fail closed on our own persistence write; the caller may retry, the
	// write is idempotent on (subject, trigger timestamp).
	sctx, cancel = context.WithTimeout(ctx, e.cfg.StorageTimeout)
	err = e.assess.AppendAssessment(sctx, assessment, trigger.Timestamp)
	cancel()
	if err != nil {
		return Result{}, err
	}
	mAssessments.WithLabelValues(string(assessment.RiskLevel)).Inc()

	res := Result{Assessment: assessment}
	if final < e.cfg.TriggerThreshold {
		return res, nil
	}

	// Cancellation between persist and escalation leaves a complete
	// assessment; never half-written state.
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("%w: %v", ErrEscalateFailed, err)
	}

	first, key, err := e.guard.Acquire(ctx, subjectID, start)
	if err != nil {
		log.Printf("[fusion] dedup guard error for %s: %v (escalating anyway)", subjectID, err)
		first = true
	}
	if !first {
		mEscalations.WithLabelValues("deduped").Inc()
		log.Printf("[fusion] escalation for %s suppressed by debounce bucket %s", subjectID, key)
		return res, nil
	}

	loc := triggerLocation(trigger)
	outcome, err := e.invoker.Invoke(ctx, subjectID, assessment, loc, key)
	if err != nil {
		mEscalations.WithLabelValues("failed").Inc()
		return res, fmt.Errorf("%w: %v", ErrEscalateFailed, err)
	}
	mEscalations.WithLabelValues("invoked").Inc()

	res.Assessment.Escalated = true
	res.IncidentID = outcome.IncidentID
	res.Outcome = &outcome
	if err := e.assess.MarkEscalated(ctx, subjectID, trigger.Timestamp); err != nil {
		// Flag update is best-effort; the incident record is the authority.
		log.Printf("[fusion] mark escalated failed for %s: %v", subjectID, err)
	}
	return res, nil
}

// ensureTrigger guarantees the triggering record participates in scoring even
// when its producer write has not landed yet.
func ensureTrigger(window []models.ThreatRecord, trigger models.ThreatRecord) []models.ThreatRecord {
	for _, rec := range window {
		if rec.Modality == trigger.Modality && rec.Timestamp == trigger.Timestamp && rec.Score == trigger.Score {
			return window
		}
	}
	return append(window, trigger)
}

func triggerType(trigger models.ThreatRecord, multiType bool) models.TriggerType {
	if multiType {
		return models.TriggerCombined
	}
	switch trigger.Modality {
	case models.ModalityAudio:
		return models.TriggerAudio
	case models.ModalityMotion:
		return models.TriggerMotion
	default:
		return models.TriggerText
	}
}

func triggerLocation(trigger models.ThreatRecord) *models.Location {
	if loc, ok := trigger.LocationAttr(); ok {
		return &loc
	}
	return nil
}
