package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"nutritionagent"
	"nutritionagent/llm"
)

const estimatePrompt = `You are a nutrition reference. Estimate the nutrition facts for ONE typical serving of the food the user names, using standard reference values (USDA style). Fill every field. Use 0 for nutrients that are absent. Never answer with a range; pick the most typical value.`

// EstimateSource asks a language model for reference values. It is the last resort
// when no database or catalog entry exists.
type EstimateSource struct {
	completer llm.Completer
}

func NewEstimateSource(completer llm.Completer) *EstimateSource {
	return &EstimateSource{completer: completer}
}

func (s *EstimateSource) Name() string         { return "model_estimate" }
func (s *EstimateSource) Authority() Authority { return AuthorityEstimate }

func (s *EstimateSource) Query(ctx context.Context, query string) ([]Match, error) {
	raw, err := s.completer.Complete(ctx, llm.Request{
		Name:        "record_nutrition_estimate",
		Description: "Record the estimated nutrition facts for one serving.",
		System:      estimatePrompt,
		User:        query,
		Schema:      MatchSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: estimate failed: %v", nutritionagent.ErrProvider, err)
	}

	var m Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: failed to decode estimate: %v", nutritionagent.ErrProvider, err)
	}
	if m.Name == "" {
		m.Name = query
	}
	if !m.HasNutrition() {
		return nil, nil
	}

	m.Source = s.Name()
	m.Authority = AuthorityEstimate
	if m.ServingSize == "" {
		m.ServingSize = "1 serving"
	}

	slog.Info("SOURCE: Model estimate produced", "query", query, "calories", m.Calories)
	return []Match{m}, nil
}
