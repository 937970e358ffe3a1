package storage

import (
	"context"

	"lifeline/pkg/models"
)

// EnableTracking records an emergency location-tracking entry tied to an
// incident for later route/geofence analysis.
func (s *Store) EnableTracking(ctx context.Context, subjectID, incidentID string, loc models.Location, intervalSec int, startedAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO location_tracking
			(subject_id, incident_id, lat, lng, accuracy_m, emergency_mode, update_interval, started_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7)`,
		subjectID, nullable(incidentID), loc.Lat, loc.Lng, loc.AccuracyM, intervalSec, startedAt)
	if err != nil {
		return models.Storagef(err, "insert location tracking")
	}
	return nil
}

// RecordMonitoring persists an enhanced-monitoring directive for the subject
// while an incident is active.
func (s *Store) RecordMonitoring(ctx context.Context, subjectID, incidentID, level string, intervalSec int, startedAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitoring_directives (subject_id, incident_id, level, update_interval, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		subjectID, nullable(incidentID), level, intervalSec, startedAt)
	if err != nil {
		return models.Storagef(err, "insert monitoring directive")
	}
	return nil
}
