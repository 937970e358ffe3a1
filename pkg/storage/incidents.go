package storage

import (
	"context"
	"encoding/json"

	"lifeline/pkg/models"
)

// InsertIncident writes the durable record of one escalation. The id is the
// dedup idempotency key (subject + time bucket), so a concurrent double-write
// collapses into one row.
func (s *Store) InsertIncident(ctx context.Context, inc models.Incident) error {
	actions, err := json.Marshal(inc.ActionsTaken)
	if err != nil {
		return models.Storagef(err, "marshal incident actions")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents
			(id, subject_id, created_at, risk_level, final_score, actions_taken, evidence_ref, retention_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		inc.ID, inc.SubjectID, inc.CreatedAt, inc.RiskLevel, inc.FinalScore,
		actions, nullable(inc.EvidenceRef), inc.RetentionUntil)
	if err != nil {
		return models.Storagef(err, "insert incident")
	}
	return nil
}

// RecentIncidents returns incidents for a subject with created_at >= since,
// newest first.
func (s *Store) RecentIncidents(ctx context.Context, subjectID string, since int64) ([]models.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, created_at, risk_level, final_score, actions_taken,
		       COALESCE(evidence_ref, ''), retention_until
		FROM incidents
		WHERE subject_id = $1 AND created_at >= $2
		ORDER BY created_at DESC`,
		subjectID, since)
	if err != nil {
		return nil, models.Storagef(err, "query incidents")
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		var inc models.Incident
		var actions []byte
		if err := rows.Scan(&inc.ID, &inc.SubjectID, &inc.CreatedAt, &inc.RiskLevel,
			&inc.FinalScore, &actions, &inc.EvidenceRef, &inc.RetentionUntil); err != nil {
			return nil, models.Storagef(err, "scan incident")
		}
		if len(actions) > 0 {
			if err := json.Unmarshal(actions, &inc.ActionsTaken); err != nil {
				return nil, models.Storagef(err, "decode incident actions")
			}
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Storagef(err, "iterate incidents")
	}
	return out, nil
}

// PurgeExpired deletes incidents and evidence past their retention timestamps.
// Run from a maintenance loop, not per request.
func (s *Store) PurgeExpired(ctx context.Context, now int64) (int64, error) {
	var total int64
	res, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE retention_until < $1`, now)
	if err != nil {
		return 0, models.Storagef(err, "purge incidents")
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	res, err = s.db.ExecContext(ctx, `DELETE FROM evidence_snapshots WHERE retention_until < $1`, now)
	if err != nil {
		return total, models.Storagef(err, "purge evidence")
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
