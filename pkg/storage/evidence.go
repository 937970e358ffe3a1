package storage

import (
	"context"
	"encoding/json"

	"lifeline/pkg/models"
)

// PutEvidence stores an evidence snapshot as a single JSON document. Snapshots
// are write-once legal artifacts; nothing updates them.
func (s *Store) PutEvidence(ctx context.Context, ev models.EvidenceSnapshot) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return models.Storagef(err, "marshal evidence snapshot")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evidence_snapshots (id, subject_id, created_at, payload, retention_until)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.SubjectID, ev.CreatedAt, payload, ev.RetentionUntil)
	if err != nil {
		return models.Storagef(err, "insert evidence snapshot")
	}
	return nil
}

// GetEvidence fetches one snapshot by id.
func (s *Store) GetEvidence(ctx context.Context, id string) (models.EvidenceSnapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM evidence_snapshots WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		return models.EvidenceSnapshot{}, models.Storagef(err, "get evidence %s", id)
	}
	var ev models.EvidenceSnapshot
	if err := json.Unmarshal(payload, &ev); err != nil {
		return models.EvidenceSnapshot{}, models.Storagef(err, "decode evidence %s", id)
	}
	return ev, nil
}
