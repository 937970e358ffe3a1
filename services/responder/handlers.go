package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"lifeline/pkg/config"
	"lifeline/pkg/models"
	"lifeline/pkg/response"
	"lifeline/pkg/storage"
)

type handlers struct {
	coord *response.Coordinator
	store *storage.Store
}

// respond executes the coordinator for an escalated assessment.
// POST /respond
func (h *handlers) respond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		SubjectID   string                `json:"subject_id"`
		Assessment  models.RiskAssessment `json:"assessment"`
		Location    *models.Location      `json:"location,omitempty"`
		IncidentKey string                `json:"incident_key,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.SubjectID == "" {
		req.SubjectID = req.Assessment.SubjectID
	}
	if err := models.ValidateSubjectID(req.SubjectID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := h.coord.Respond(r.Context(), req.SubjectID, req.Assessment, req.Location, req.IncidentKey)
	if err != nil {
		// Notifications may already be out; the incident record did not land.
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// respondManual handles user-initiated panic triggers: no prior assessment
// exists, so the coordinator runs against a synthetic critical one.
// POST /respond/manual
func (h *handlers) respondManual(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		SubjectID string           `json:"subject_id"`
		Location  *models.Location `json:"location,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := models.ValidateSubjectID(req.SubjectID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	assessment := response.SyntheticAssessment(req.SubjectID, time.Now())
	outcome, err := h.coord.Respond(r.Context(), req.SubjectID, assessment, req.Location, "")
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// listIncidents returns a subject's incidents over a lookback window.
// GET /incidents/{subject}
func (h *handlers) listIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	subjectID := strings.TrimPrefix(r.URL.Path, "/incidents/")
	if err := models.ValidateSubjectID(subjectID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	lookback := config.GetDuration("RESPONDER_INCIDENT_LOOKBACK", 30*24*time.Hour)
	since := time.Now().Add(-lookback).Unix()
	incidents, err := h.store.RecentIncidents(r.Context(), subjectID, since)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subject_id": subjectID, "incidents": incidents})
}

// upsertProfile stores a subject's contacts and response preferences.
// POST /profiles
func (h *handlers) upsertProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var profile models.SubjectProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := models.ValidateSubjectID(profile.SubjectID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, contact := range profile.Contacts {
		if contact.Channel == "" || contact.Target == "" {
			http.Error(w, "contact requires channel and target", http.StatusBadRequest)
			return
		}
	}
	if err := h.store.UpsertProfile(r.Context(), profile); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subject_id": profile.SubjectID, "contacts": len(profile.Contacts)})
}

// getProfile returns the stored profile, or defaults when none exists.
// GET /profiles/{subject}
func (h *handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	subjectID := strings.TrimPrefix(r.URL.Path, "/profiles/")
	if err := models.ValidateSubjectID(subjectID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	profile, err := h.store.GetProfile(r.Context(), subjectID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
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
