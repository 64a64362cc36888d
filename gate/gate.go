// Package gate separates turns that can proceed to resolution from turns that must halt for clarification.
package gate

import (
	"fmt"
	"log/slog"

	"nutritionagent"
)

// Decision is the outcome of Check. When Proceed is false the turn halts with Questions and
// Candidates holds the items already resolved.
type Decision struct {
	Proceed    bool                                   `json:"proceed"`
	Candidates []nutritionagent.FoodCandidate         `json:"candidates"`
	Questions  []nutritionagent.ClarificationQuestion `json:"questions,omitempty"`
}

// Check decides whether parsed can move on. It has no side effects and returns the same
// decision for the same input.
func Check(parsed nutritionagent.ParsedFoods) (Decision, error) {
	pending := parsed.Pending()

	if len(parsed.Questions) == 0 {
		if len(pending) > 0 {
			return Decision{}, fmt.Errorf("%w: %d ambiguous candidates without questions", nutritionagent.ErrParse, len(pending))
		}
		d := Decision{Proceed: true, Candidates: clone(parsed.Foods)}
		slog.Info("GATE: Proceeding", "candidates", len(d.Candidates))
		return d, nil
	}

	if len(pending) == 0 {
		return Decision{}, fmt.Errorf("%w: questions without ambiguous candidates", nutritionagent.ErrParse)
	}
	d := Decision{
		Candidates: clone(parsed.Resolved()),
		Questions:  append([]nutritionagent.ClarificationQuestion(nil), parsed.Questions...),
	}
	slog.Info("GATE: Halting for clarification", "questions", len(d.Questions), "resolved", len(d.Candidates), "pending", len(pending))
	return d, nil
}

// Apply returns the conversation state that follows d. A halt keeps parsed for the next turn;
// a proceed clears it.
func Apply(state nutritionagent.ConversationState, parsed nutritionagent.ParsedFoods, d Decision) nutritionagent.ConversationState {
	next := state.Clone()
	if d.Proceed {
		next.QuestionsPending = false
		next.LastParsedFoods = nil
		return next
	}
	kept := parsed.Clone()
	next.QuestionsPending = true
	next.LastParsedFoods = &kept
	return next
}

func clone(in []nutritionagent.FoodCandidate) []nutritionagent.FoodCandidate {
	out := make([]nutritionagent.FoodCandidate, len(in))
	for i, c := range in {
		c.Touched = append([]string(nil), c.Touched...)
		out[i] = c
	}
	return out
}
