package storage

import (
	"context"

	"lifeline/pkg/models"
)

// AppendAssessment persists a fusion result. Idempotent on
// (subject_id, trigger_ts) so a caller retrying a failed Assess cannot create a
// second row for the same trigger.
func (s *Store) AppendAssessment(ctx context.Context, a models.RiskAssessment, triggerTS int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments
			(subject_id, ts, trigger_ts, base_score, escalation_score, context_score,
			 pattern_score, final_score, risk_level, trigger_type, escalated, recent_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (subject_id, trigger_ts) DO NOTHING`,
		a.SubjectID, a.Timestamp, triggerTS, a.BaseScore, a.EscalationScore, a.ContextScore,
		a.PatternScore, a.FinalScore, a.RiskLevel, a.TriggerType, a.Escalated, a.RecentCount)
	if err != nil {
		return models.Storagef(err, "insert risk assessment")
	}
	return nil
}

// MarkEscalated flips the escalated flag after the coordinator invocation was
// accepted. Invocation receipt, not action outcome.
func (s *Store) MarkEscalated(ctx context.Context, subjectID string, triggerTS int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE risk_assessments SET escalated = TRUE
		WHERE subject_id = $1 AND trigger_ts = $2`,
		subjectID, triggerTS)
	if err != nil {
		return models.Storagef(err, "mark assessment escalated")
	}
	return nil
}

// RecentAssessments returns assessments for a subject newest first, capped.
func (s *Store) RecentAssessments(ctx context.Context, subjectID string, limit int) ([]models.RiskAssessment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, ts, base_score, escalation_score, context_score,
		       pattern_score, final_score, risk_level, trigger_type, escalated, recent_count
		FROM risk_assessments
		WHERE subject_id = $1
		ORDER BY ts DESC
		LIMIT $2`,
		subjectID, limit)
	if err != nil {
		return nil, models.Storagef(err, "query assessments")
	}
	defer rows.Close()

	var out []models.RiskAssessment
	for rows.Next() {
		var a models.RiskAssessment
		if err := rows.Scan(&a.SubjectID, &a.Timestamp, &a.BaseScore, &a.EscalationScore,
			&a.ContextScore, &a.PatternScore, &a.FinalScore, &a.RiskLevel,
			&a.TriggerType, &a.Escalated, &a.RecentCount); err != nil {
			return nil, models.Storagef(err, "scan assessment")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Storagef(err, "iterate assessments")
	}
	return out, nil
}
