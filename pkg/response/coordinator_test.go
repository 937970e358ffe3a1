package response

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeline/pkg/config"
	"lifeline/pkg/models"
	"lifeline/pkg/notify"
)

type fakeChannel struct {
	name string
	err  error
	sent []notify.Message
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) Send(_ context.Context, msg notify.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeResponderStore struct {
	incidents   []models.Incident
	evidence    []models.EvidenceSnapshot
	tracked     []string
	monitoring  []string
	profile     models.SubjectProfile
	window      []models.ThreatRecord
	incidentErr error
	evidenceErr error
	signalsErr  error
}

func (f *fakeResponderStore) InsertIncident(_ context.Context, inc models.Incident) error {
	if f.incidentErr != nil {
		return f.incidentErr
	}
	f.incidents = append(f.incidents, inc)
	return nil
}

func (f *fakeResponderStore) PutEvidence(_ context.Context, ev models.EvidenceSnapshot) error {
	if f.evidenceErr != nil {
		return f.evidenceErr
	}
	f.evidence = append(f.evidence, ev)
	return nil
}

func (f *fakeResponderStore) EnableTracking(_ context.Context, subjectID, incidentID string, _ models.Location, _ int, _ int64) error {
	f.tracked = append(f.tracked, subjectID+"/"+incidentID)
	return nil
}

func (f *fakeResponderStore) RecordMonitoring(_ context.Context, subjectID, _, level string, _ int, _ int64) error {
	f.monitoring = append(f.monitoring, subjectID+"/"+level)
	return nil
}

func (f *fakeResponderStore) GetProfile(_ context.Context, subjectID string) (models.SubjectProfile, error) {
	p := f.profile
	p.SubjectID = subjectID
	return p, nil
}

func (f *fakeResponderStore) RecentSignals(_ context.Context, _ string, _ int64) ([]models.ThreatRecord, error) {
	if f.signalsErr != nil {
		return nil, f.signalsErr
	}
	return f.window, nil
}

func testResponderConfig() config.ResponderConfig {
	return config.ResponderConfig{
		EvidenceRetention:      90 * 24 * time.Hour,
		IncidentRetention:      365 * 24 * time.Hour,
		NotifyTimeout:          2 * time.Second,
		StorageTimeout:         2 * time.Second,
		IncidentRetries:        1,
		SMSTemplate:            "ALERT {{contact_name}}: {{subject_id}} {{risk_level}}",
		EmailTemplate:          "Alert for {{subject_id}}, level {{risk_level}}",
		EmailSubject:           "Emergency safety alert",
		LocationUpdateInterval: 30 * time.Second,
		MonitoringInterval:     15 * time.Second,
		EvidenceWindow:         30 * time.Minute,
	}
}

func criticalAssessment(subjectID string) models.RiskAssessment {
	return models.RiskAssessment{
		SubjectID: subjectID, Timestamp: 1700000000,
		FinalScore: 0.92, RiskLevel: models.RiskCritical,
		TriggerType: models.TriggerCombined, Escalated: true,
	}
}

func actionByChannel(actions []models.ActionResult, channel string) (models.ActionResult, bool) {
	for _, a := range actions {
		if a.Channel == channel {
			return a, true
		}
	}
	return models.ActionResult{}, false
}

func TestRespondPartialChannelFailure(t *testing.T) {
	sms := &fakeChannel{name: "sms"}
	email := &fakeChannel{name: "email", err: errors.New("smtp down")}
	store := &fakeResponderStore{
		profile: models.SubjectProfile{
			Contacts: []models.EmergencyContact{
				{Name: "Ana", Channel: "sms", Target: "+123"},
				{Name: "Ben", Channel: "email", Target: "ben@example.com"},
			},
			LocationSharing: true,
		},
		window: []models.ThreatRecord{{SubjectID: "s1", Modality: models.ModalityAudio, Score: 0.9}},
	}
	c := NewCoordinator(testResponderConfig(), notify.NewRegistry(sms, email), store, store, store, store, store, nil)

	loc := &models.Location{Lat: 1, Lng: 2}
	outcome, err := c.Respond(context.Background(), "s1", criticalAssessment("s1"), loc, "esc:s1:42")
	require.NoError(t, err)

	assert.Equal(t, "esc:s1:42", outcome.IncidentID)

	smsRes, ok := actionByChannel(outcome.ActionsTaken, "sms")
	require.True(t, ok)
	assert.Equal(t, models.ActionSent, smsRes.Status)
	require.Len(t, sms.sent, 1)
	assert.Contains(t, sms.sent[0].Body, "Ana")
	assert.Contains(t, sms.sent[0].Body, "CRITICAL")

	emailRes, ok := actionByChannel(outcome.ActionsTaken, "email")
	require.True(t, ok)
	assert.Equal(t, models.ActionFailed, emailRes.Status)
	assert.Contains(t, emailRes.Error, "smtp down")

	// One channel failing never blocks the rest of the response.
	evRes, ok := actionByChannel(outcome.ActionsTaken, "evidence")
	require.True(t, ok)
	assert.Equal(t, models.ActionSent, evRes.Status)
	require.Len(t, store.evidence, 1)
	assert.Equal(t, outcome.EvidenceRef, store.evidence[0].ID)
	assert.Len(t, store.evidence[0].Records, 1)

	require.Len(t, store.incidents, 1)
	inc := store.incidents[0]
	assert.Equal(t, "esc:s1:42", inc.ID)
	assert.Equal(t, models.RiskCritical, inc.RiskLevel)
	assert.Equal(t, outcome.EvidenceRef, inc.EvidenceRef)
	assert.Greater(t, inc.RetentionUntil, inc.CreatedAt)

	locRes, ok := actionByChannel(outcome.ActionsTaken, "location")
	require.True(t, ok)
	assert.Equal(t, models.ActionSent, locRes.Status)
	assert.Equal(t, []string{"s1/esc:s1:42"}, store.tracked)
	assert.Equal(t, []string{"s1/emergency"}, store.monitoring)

	// The stored incident row records the location step too.
	_, ok = actionByChannel(inc.ActionsTaken, "location")
	assert.True(t, ok)
}

func TestRespondUnconfiguredChannelRecorded(t *testing.T) {
	store := &fakeResponderStore{
		profile: models.SubjectProfile{
			Contacts: []models.EmergencyContact{{Name: "Ana", Channel: "sms", Target: "+123"}},
		},
	}
	c := NewCoordinator(testResponderConfig(), notify.NewRegistry(), store, store, store, store, store, nil)

	outcome, err := c.Respond(context.Background(), "s1", criticalAssessment("s1"), nil, "")
	require.NoError(t, err)

	smsRes, ok := actionByChannel(outcome.ActionsTaken, "sms")
	require.True(t, ok)
	assert.Equal(t, models.ActionFailed, smsRes.Status)
	assert.Equal(t, "channel not configured", smsRes.Error)
}

func TestRespondIncidentWriteFailureIsFatal(t *testing.T) {
	store := &fakeResponderStore{
		incidentErr: models.Storagef(errors.New("insert failed"), "incident insert"),
		profile:     models.SubjectProfile{LocationSharing: true},
	}
	c := NewCoordinator(testResponderConfig(), notify.NewRegistry(), store, store, store, store, store, nil)

	loc := &models.Location{Lat: 1, Lng: 2}
	outcome, err := c.Respond(context.Background(), "s1", criticalAssessment("s1"), loc, "key1")
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
	// Partial outcome still reports what happened before the failure.
	assert.Equal(t, "key1", outcome.IncidentID)
	_, ok := actionByChannel(outcome.ActionsTaken, "evidence")
	assert.True(t, ok)
	// The failed incident write must not abort the earlier steps: tracking and
	// monitoring landed and their outcome is reported.
	locRes, ok := actionByChannel(outcome.ActionsTaken, "location")
	require.True(t, ok)
	assert.Equal(t, models.ActionSent, locRes.Status)
	assert.Equal(t, []string{"s1/key1"}, store.tracked)
	assert.Equal(t, []string{"s1/emergency"}, store.monitoring)
}

func TestRespondEvidenceFailureDegrades(t *testing.T) {
	store := &fakeResponderStore{
		evidenceErr: errors.New("blob store down"),
	}
	c := NewCoordinator(testResponderConfig(), notify.NewRegistry(), store, store, store, store, store, nil)

	outcome, err := c.Respond(context.Background(), "s1", criticalAssessment("s1"), nil, "key1")
	require.NoError(t, err)
	evRes, ok := actionByChannel(outcome.ActionsTaken, "evidence")
	require.True(t, ok)
	assert.Equal(t, models.ActionFailed, evRes.Status)
	assert.Empty(t, outcome.EvidenceRef)
	// The incident still lands, without an evidence reference.
	require.Len(t, store.incidents, 1)
	assert.Empty(t, store.incidents[0].EvidenceRef)
}

func TestRespondSignalReadFailureSnapshotsAssessmentOnly(t *testing.T) {
	store := &fakeResponderStore{signalsErr: errors.New("db down")}
	c := NewCoordinator(testResponderConfig(), notify.NewRegistry(), store, store, store, store, store, nil)

	_, err := c.Respond(context.Background(), "s1", criticalAssessment("s1"), nil, "")
	require.NoError(t, err)
	require.Len(t, store.evidence, 1)
	assert.Empty(t, store.evidence[0].Records)
	assert.Equal(t, models.RiskCritical, store.evidence[0].Assessment.RiskLevel)
}

func TestRespondGeneratesIncidentIDWithoutKey(t *testing.T) {
	store := &fakeResponderStore{}
	c := NewCoordinator(testResponderConfig(), notify.NewRegistry(), store, store, store, store, store, nil)

	outcome, err := c.Respond(context.Background(), "s1", criticalAssessment("s1"), nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.IncidentID)
}

func TestRespondLocationSharingOptOut(t *testing.T) {
	store := &fakeResponderStore{profile: models.SubjectProfile{LocationSharing: false}}
	c := NewCoordinator(testResponderConfig(), notify.NewRegistry(), store, store, store, store, store, nil)

	loc := &models.Location{Lat: 1, Lng: 2}
	outcome, err := c.Respond(context.Background(), "s1", criticalAssessment("s1"), loc, "")
	require.NoError(t, err)
	_, ok := actionByChannel(outcome.ActionsTaken, "location")
	assert.False(t, ok, "opted-out subject must not be tracked")
	assert.Empty(t, store.tracked)
}

func TestRespondNotifiesAuthoritiesOnOptIn(t *testing.T) {
	webhook := &fakeChannel{name: "webhook"}
	cfg := testResponderConfig()
	cfg.AuthorityWebhook = "https://authority.example/alerts"
	store := &fakeResponderStore{profile: models.SubjectProfile{NotifyAuthorities: true}}
	c := NewCoordinator(cfg, notify.NewRegistry(webhook), store, store, store, store, store, nil)

	outcome, err := c.Respond(context.Background(), "s1", criticalAssessment("s1"), nil, "")
	require.NoError(t, err)
	res, ok := actionByChannel(outcome.ActionsTaken, "authority")
	require.True(t, ok)
	assert.Equal(t, models.ActionSent, res.Status)
	assert.Equal(t, cfg.AuthorityWebhook, res.Target)
	require.Len(t, webhook.sent, 1)
	assert.Equal(t, cfg.AuthorityWebhook, webhook.sent[0].Target)
}

func TestRespondSkipsAuthoritiesWithoutOptIn(t *testing.T) {
	webhook := &fakeChannel{name: "webhook"}
	cfg := testResponderConfig()
	cfg.AuthorityWebhook = "https://authority.example/alerts"
	store := &fakeResponderStore{profile: models.SubjectProfile{NotifyAuthorities: false}}
	c := NewCoordinator(cfg, notify.NewRegistry(webhook), store, store, store, store, store, nil)

	outcome, err := c.Respond(context.Background(), "s1", criticalAssessment("s1"), nil, "")
	require.NoError(t, err)
	_, ok := actionByChannel(outcome.ActionsTaken, "authority")
	assert.False(t, ok)
}

func TestSyntheticAssessment(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	a := SyntheticAssessment("s1", now)
	assert.Equal(t, "s1", a.SubjectID)
	assert.Equal(t, now.Unix(), a.Timestamp)
	assert.Equal(t, 1.0, a.FinalScore)
	assert.Equal(t, models.RiskCritical, a.RiskLevel)
	assert.Equal(t, models.TriggerManual, a.TriggerType)
	assert.True(t, a.Escalated)
}
