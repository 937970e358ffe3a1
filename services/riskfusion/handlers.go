package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"lifeline/pkg/fusion"
	"lifeline/pkg/models"
)

// Narrow views over the engine and store keep the handlers testable without a
// database.
type assessor interface {
	Assess(ctx context.Context, subjectID string, trigger models.ThreatRecord) (fusion.Result, error)
}

type signalStore interface {
	AppendSignal(ctx context.Context, rec models.ThreatRecord) error
	RecentAssessments(ctx context.Context, subjectID string, limit int) ([]models.RiskAssessment, error)
}

type handlers struct {
	engine assessor
	store  signalStore
}

// assessmentResponse is the wire form handed back to producers and front ends.
type assessmentResponse struct {
	FinalScore      float64          `json:"final_score"`
	RiskLevel       models.RiskLevel `json:"risk_level"`
	Escalated       bool             `json:"escalated"`
	IncidentID      string           `json:"incident_id,omitempty"`
	EscalationError string           `json:"escalation_error,omitempty"`
}

// ingestSignal persists a producer record and immediately assesses the subject.
// POST /signals
func (h *handlers) ingestSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var rec models.ThreatRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := models.ValidateSubjectID(rec.SubjectID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := models.ValidateModality(rec.Modality); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.Score = models.ClampScore(rec.Score)
	// Stamp before the write: a zero timestamp would land outside every future
	// fusion window.
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}

	if err := h.store.AppendSignal(r.Context(), rec); err != nil {
		writeStorageError(w, err)
		return
	}
	h.runAssess(w, r, rec.SubjectID, rec)
}

// assess runs fusion for a record that is already persisted.
// POST /fusion/assess
func (h *handlers) assess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		SubjectID string              `json:"subject_id"`
		Record    models.ThreatRecord `json:"record"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.SubjectID == "" {
		req.SubjectID = req.Record.SubjectID
	}
	h.runAssess(w, r, req.SubjectID, req.Record)
}

func (h *handlers) runAssess(w http.ResponseWriter, r *http.Request, subjectID string, rec models.ThreatRecord) {
	result, err := h.engine.Assess(r.Context(), subjectID, rec)
	if err != nil && !errors.Is(err, fusion.ErrEscalateFailed) {
		if models.IsKind(err, models.ErrKindValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeStorageError(w, err)
		return
	}

	resp := assessmentResponse{
		FinalScore: result.Assessment.FinalScore,
		RiskLevel:  result.Assessment.RiskLevel,
		Escalated:  result.Assessment.Escalated,
		IncidentID: result.IncidentID,
	}
	// The assessment persisted; a failed escalation is surfaced, not fatal.
	if errors.Is(err, fusion.ErrEscalateFailed) {
		resp.EscalationError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// listAssessments returns recent assessments for a subject.
// GET /fusion/assessments/{subject}
func (h *handlers) listAssessments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	subjectID := strings.TrimPrefix(r.URL.Path, "/fusion/assessments/")
	if err := models.ValidateSubjectID(subjectID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	assessments, err := h.store.RecentAssessments(r.Context(), subjectID, 50)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subject_id": subjectID, "assessments": assessments})
}

func writeStorageError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if models.IsTransient(err) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "transient": models.IsTransient(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
