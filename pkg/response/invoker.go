package response

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lifeline/pkg/models"
	otelobs "lifeline/pkg/observability/otel"
)

// Invoker is the fusion engine's view of the coordinator. It decouples the
// escalation decision from the transport used to reach the responder: the
// in-process implementation for a single deployable, the HTTP client when the
// responder runs as its own service.
type Invoker interface {
	Invoke(ctx context.Context, subjectID string, assessment models.RiskAssessment, loc *models.Location, incidentKey string) (models.ResponseOutcome, error)
}

// InProcess calls the coordinator directly.
type InProcess struct {
	Coordinator *Coordinator
}

func (p InProcess) Invoke(ctx context.Context, subjectID string, assessment models.RiskAssessment, loc *models.Location, incidentKey string) (models.ResponseOutcome, error) {
	return p.Coordinator.Respond(ctx, subjectID, assessment, loc, incidentKey)
}

// invokeRequest is the wire form of a coordinator invocation.
type invokeRequest struct {
	SubjectID   string                `json:"subject_id"`
	Assessment  models.RiskAssessment `json:"assessment"`
	Location    *models.Location      `json:"location,omitempty"`
	IncidentKey string                `json:"incident_key,omitempty"`
}

// HTTPClient reaches a remote responder service. One retry on transport
// failure; the responder side is idempotent on the incident key, so a retried
// invocation cannot double-alert.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	client  *http.Client
	Retries int
}

// NewHTTPClient builds a responder client with its own timeout budget.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelobs.WrapHTTPTransport(http.DefaultTransport),
		},
		Retries: 1,
	}
}

func (c *HTTPClient) Invoke(ctx context.Context, subjectID string, assessment models.RiskAssessment, loc *models.Location, incidentKey string) (models.ResponseOutcome, error) {
	payload, err := json.Marshal(invokeRequest{
		SubjectID:   subjectID,
		Assessment:  assessment,
		Location:    loc,
		IncidentKey: incidentKey,
	})
	if err != nil {
		return models.ResponseOutcome{}, fmt.Errorf("marshal invoke request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		outcome, retryable, err := c.post(ctx, payload)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		// A 4xx is the responder rejecting the request; resending the same
		// payload cannot change the answer.
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return models.ResponseOutcome{}, lastErr
}

func (c *HTTPClient) post(ctx context.Context, payload []byte) (models.ResponseOutcome, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/respond", bytes.NewReader(payload))
	if err != nil {
		return models.ResponseOutcome{}, false, fmt.Errorf("build invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.ResponseOutcome{}, true, fmt.Errorf("responder call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return models.ResponseOutcome{}, retryable, fmt.Errorf("responder status %d", resp.StatusCode)
	}

	var outcome models.ResponseOutcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return models.ResponseOutcome{}, false, fmt.Errorf("decode responder outcome: %w", err)
	}
	return outcome, false, nil
}
