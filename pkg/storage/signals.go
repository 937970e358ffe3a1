package storage

import (
	"context"
	"encoding/json"

	"lifeline/pkg/models"
)

// AppendSignal persists one producer record. Append-only; duplicates from
// producer retries are tolerated (the fusion window read dedups nothing and
// max/count math is stable under duplicates of the same score).
func (s *Store) AppendSignal(ctx context.Context, rec models.ThreatRecord) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return models.Storagef(err, "marshal signal attributes")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threat_records (subject_id, modality, ts, score, attributes)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.SubjectID, rec.Modality, rec.Timestamp, rec.Score, attrs)
	if err != nil {
		return models.Storagef(err, "insert threat record")
	}
	return nil
}

// RecentSignals returns all records for a subject with ts >= since, newest
// first, across every modality.
func (s *Store) RecentSignals(ctx context.Context, subjectID string, since int64) ([]models.ThreatRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, modality, ts, score, attributes
		FROM threat_records
		WHERE subject_id = $1 AND ts >= $2
		ORDER BY ts DESC`,
		subjectID, since)
	if err != nil {
		return nil, models.Storagef(err, "query recent signals")
	}
	defer rows.Close()

	var out []models.ThreatRecord
	for rows.Next() {
		var rec models.ThreatRecord
		var attrs []byte
		if err := rows.Scan(&rec.SubjectID, &rec.Modality, &rec.Timestamp, &rec.Score, &attrs); err != nil {
			return nil, models.Storagef(err, "scan threat record")
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
				return nil, models.Storagef(err, "decode signal attributes")
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Storagef(err, "iterate recent signals")
	}
	return out, nil
}
