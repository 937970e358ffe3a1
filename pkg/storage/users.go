package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"lifeline/pkg/models"
)

// GetProfile returns the subject's response profile. A missing profile is not
// an error: escalation must proceed for unknown subjects, so a default profile
// (no contacts, location sharing on) is returned instead.
func (s *Store) GetProfile(ctx context.Context, subjectID string) (models.SubjectProfile, error) {
	var (
		p        models.SubjectProfile
		contacts []byte
		areas    []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT subject_id, contacts, high_risk_areas, location_sharing, notify_authorities, created_at
		FROM subject_profiles WHERE subject_id = $1`,
		subjectID).Scan(&p.SubjectID, &contacts, &areas, &p.LocationSharing, &p.NotifyAuthorities, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SubjectProfile{
			SubjectID:       subjectID,
			LocationSharing: true,
			CreatedAt:       time.Now().Unix(),
		}, nil
	}
	if err != nil {
		return models.SubjectProfile{}, models.Storagef(err, "get profile %s", subjectID)
	}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &p.Contacts); err != nil {
			return models.SubjectProfile{}, models.Storagef(err, "decode contacts for %s", subjectID)
		}
	}
	if len(areas) > 0 {
		if err := json.Unmarshal(areas, &p.HighRiskAreas); err != nil {
			return models.SubjectProfile{}, models.Storagef(err, "decode high risk areas for %s", subjectID)
		}
	}
	return p, nil
}

// UpsertProfile creates or replaces a subject profile.
func (s *Store) UpsertProfile(ctx context.Context, p models.SubjectProfile) error {
	contacts, err := json.Marshal(p.Contacts)
	if err != nil {
		return models.Storagef(err, "marshal contacts")
	}
	areas, err := json.Marshal(p.HighRiskAreas)
	if err != nil {
		return models.Storagef(err, "marshal high risk areas")
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subject_profiles
			(subject_id, contacts, high_risk_areas, location_sharing, notify_authorities, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject_id) DO UPDATE SET
			contacts = EXCLUDED.contacts,
			high_risk_areas = EXCLUDED.high_risk_areas,
			location_sharing = EXCLUDED.location_sharing,
			notify_authorities = EXCLUDED.notify_authorities`,
		p.SubjectID, contacts, areas, p.LocationSharing, p.NotifyAuthorities, p.CreatedAt)
	if err != nil {
		return models.Storagef(err, "upsert profile %s", p.SubjectID)
	}
	return nil
}
