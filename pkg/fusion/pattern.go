package fusion

import (
	"context"
	"math"

	"lifeline/pkg/models"
)

// PatternScorer turns a subject's incident history into the pattern sub-score.
// Pluggable: the exact historical formula is a policy decision, not engine
// logic. Implementations must be monotonic in incident severity/recency and
// return a value in [0,1].
type PatternScorer interface {
	Score(ctx context.Context, subjectID string, incidents []models.Incident) float64
}

// CountPatternScorer is the default: linear in the incident count within the
// lookback, capped at 1.0. Recurring escalations raise the floor for future
// assessments.
type CountPatternScorer struct {
	Step float64 // contribution per past incident
}

func (s CountPatternScorer) Score(_ context.Context, _ string, incidents []models.Incident) float64 {
	if len(incidents) == 0 {
		return 0
	}
	step := s.Step
	if step <= 0 {
		step = 0.2
	}
	return math.Min(step*float64(len(incidents)), 1.0)
}
