package legion

import (
	"context"

	"github.com/agentoven/legion/internal/store"
	"github.com/agentoven/legion/pkg/models"
)

// applyPlan replaces a minion's opinions and diary with the outcome of a
// successful perception. Scores are stored as the model produced them.
// A minion deleted mid-turn is skipped.
func (s *Service) applyPlan(ctx context.Context, minionID string, plan *models.PerceptionPlan) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	m, err := s.store.GetMinion(ctx, minionID)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	opinions := make(map[string]int, len(plan.FinalOpinions))
	for name, score := range plan.FinalOpinions {
		opinions[name] = score
	}
	m.OpinionScores = opinions
	m.LastDiaryState = plan
	m.UpdatedAt = s.now()
	return s.store.SaveMinion(ctx, m)
}
