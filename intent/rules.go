// Package intent decides what a conversational turn is asking for.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"nutritionagent"
	"nutritionagent/parser"
)

var (
	modificationRe = regexp.MustCompile(`(?i)\b(change|changed|remove|delete|update|replace|swap|edit|fix|correct|move|didn't have|did not have|forgot|add)\b`)
	pastMealRe     = regexp.MustCompile(`(?i)\b(breakfast|brunch|lunch|dinner|supper|snack|yesterday|earlier|last night|logged|entry|log)\b`)
	indexedRe      = regexp.MustCompile(`(?i)\banswer\s*\d+\s*:`)
	eatingRe       = regexp.MustCompile(`(?i)\b(i\s+(had|ate|also had|just had|drank)|for (breakfast|lunch|dinner))\b`)
)

// Replies up to this many words count as selection-like.
const maxAnswerWords = 6

// RuleClassifier applies the logging policy: everything is a new meal unless it is clearly an
// answer, an edit of a logged meal, or a lone vague food.
type RuleClassifier struct {
	policy parser.AmbiguityPolicy
}

func NewRuleClassifier(policy parser.AmbiguityPolicy) *RuleClassifier {
	if policy == nil {
		policy = parser.NewDefaultPolicy()
	}
	return &RuleClassifier{policy: policy}
}

func (c *RuleClassifier) Classify(ctx context.Context, in nutritionagent.Input, state nutritionagent.ConversationState) (nutritionagent.Intent, error) {
	text := strings.TrimSpace(in.Text)

	var intent nutritionagent.Intent
	switch {
	case in.FromImage:
		intent = nutritionagent.Intent{Type: nutritionagent.IntentNewMeal, Reasoning: "image content is treated as food"}
	case text == "":
		return nutritionagent.Intent{}, fmt.Errorf("%w: empty message", nutritionagent.ErrClassification)
	case state.QuestionsPending && looksLikeAnswer(text, state.LastParsedFoods):
		intent = nutritionagent.Intent{Type: nutritionagent.IntentAnswerQuestion, Reasoning: "short reply to open questions"}
	case modificationRe.MatchString(text) && pastMealRe.MatchString(text):
		intent = nutritionagent.Intent{Type: nutritionagent.IntentUpdateMeal, Reasoning: "modification of a logged meal"}
	case c.isBareVagueTerm(text):
		intent = nutritionagent.Intent{Type: nutritionagent.IntentNeedsClarification, Reasoning: "single food without enough detail"}
	default:
		intent = nutritionagent.Intent{Type: nutritionagent.IntentNewMeal, Reasoning: "default for food logging"}
	}

	slog.Info("CLASSIFIER: Classified input", "intent", intent.Type, "reasoning", intent.Reasoning)
	return intent, nil
}

func looksLikeAnswer(text string, last *nutritionagent.ParsedFoods) bool {
	if indexedRe.MatchString(text) {
		return true
	}
	if eatingRe.MatchString(text) {
		return false
	}
	if last != nil && len(parser.MapAnswers(text, last.Questions)) > 0 && len(strings.Fields(text)) <= maxAnswerWords*2 {
		return true
	}
	return len(strings.Fields(text)) <= maxAnswerWords
}

func (c *RuleClassifier) isBareVagueTerm(text string) bool {
	words := strings.Fields(strings.ToLower(strings.Trim(text, ".!? ")))
	for len(words) > 1 && (words[0] == "a" || words[0] == "an" || words[0] == "some") {
		words = words[1:]
	}
	if len(words) != 1 {
		return false
	}
	return len(c.policy.Dimensions(words[0], false)) > 0
}
