package response

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeline/pkg/models"
	"lifeline/pkg/notify"
)

func TestHTTPClientInvoke(t *testing.T) {
	var gotAuth string
	var gotReq invokeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/respond", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(models.ResponseOutcome{IncidentID: gotReq.IncidentKey})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k1", 2*time.Second)
	loc := &models.Location{Lat: 1, Lng: 2}
	outcome, err := c.Invoke(context.Background(), "s1", criticalAssessment("s1"), loc, "esc:s1:42")
	require.NoError(t, err)

	assert.Equal(t, "esc:s1:42", outcome.IncidentID)
	assert.Equal(t, "Bearer k1", gotAuth)
	assert.Equal(t, "s1", gotReq.SubjectID)
	assert.Equal(t, models.RiskCritical, gotReq.Assessment.RiskLevel)
	require.NotNil(t, gotReq.Location)
	assert.Equal(t, 1.0, gotReq.Location.Lat)
}

func TestHTTPClientRetriesOnTransportFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(models.ResponseOutcome{IncidentID: "i1"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 2*time.Second)
	outcome, err := c.Invoke(context.Background(), "s1", criticalAssessment("s1"), nil, "i1")
	require.NoError(t, err)
	assert.Equal(t, "i1", outcome.IncidentID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPClientDoesNotRetryRejections(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 2*time.Second)
	_, err := c.Invoke(context.Background(), "s1", criticalAssessment("s1"), nil, "i1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a rejected payload must not be resent")
}

func TestHTTPClientGivesUpAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 2*time.Second)
	_, err := c.Invoke(context.Background(), "s1", criticalAssessment("s1"), nil, "i1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestInProcessInvokerDelegates(t *testing.T) {
	store := &fakeResponderStore{}
	c := NewCoordinator(testResponderConfig(), notify.NewRegistry(), store, store, store, store, store, nil)
	inv := InProcess{Coordinator: c}

	outcome, err := inv.Invoke(context.Background(), "s1", criticalAssessment("s1"), nil, "key1")
	require.NoError(t, err)
	assert.Equal(t, "key1", outcome.IncidentID)
	require.Len(t, store.incidents, 1)
}
