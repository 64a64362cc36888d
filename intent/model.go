package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"nutritionagent"
	"nutritionagent/llm"
)

const classifierPrompt string = `You classify messages sent to a food logging assistant.

Every message is about food. Choose exactly one intent:
- new_meal: the user describes something they ate or drank. This is the default.
- answer_question: the assistant just asked questions and the message is a short reply or selection.
- update_meal: the user wants to change, remove or add to a meal that was already logged, and refers to it ("my lunch yesterday").
- needs_clarification: the message is a single bare food with no other detail, e.g. "chicken".

Explain your choice briefly in reasoning.`

// ModelClassifier asks a language model for the intent. Malformed output fails the turn.
type ModelClassifier struct {
	completer llm.Completer
}

func NewModelClassifier(completer llm.Completer) *ModelClassifier {
	return &ModelClassifier{completer: completer}
}

type modelIntent struct {
	Type      string `json:"type"`
	Reasoning string `json:"reasoning"`
}

// Schema describes the classifier output.
func Schema() *jsonschema.Schema {
	enum := make([]any, len(nutritionagent.IntentTypes))
	for i, t := range nutritionagent.IntentTypes {
		enum[i] = string(t)
	}
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"type":      {Type: "string", Enum: enum},
			"reasoning": {Type: "string"},
		},
		Required: []string{"type", "reasoning"},
	}
}

func (c *ModelClassifier) Classify(ctx context.Context, in nutritionagent.Input, state nutritionagent.ConversationState) (nutritionagent.Intent, error) {
	if in.FromImage {
		return nutritionagent.Intent{Type: nutritionagent.IntentNewMeal, Reasoning: "image content is treated as food"}, nil
	}
	if strings.TrimSpace(in.Text) == "" {
		return nutritionagent.Intent{}, fmt.Errorf("%w: empty message", nutritionagent.ErrClassification)
	}

	raw, err := c.completer.Complete(ctx, llm.Request{
		Name:        "record_intent",
		Description: "Record the intent of the user's message.",
		System:      classifierPrompt,
		User:        userContext(in.Text, state),
		Schema:      Schema(),
	})
	if err != nil {
		return nutritionagent.Intent{}, fmt.Errorf("%w: model call failed: %v", nutritionagent.ErrClassification, err)
	}

	var out modelIntent
	if err := json.Unmarshal(raw, &out); err != nil {
		return nutritionagent.Intent{}, fmt.Errorf("%w: malformed model output: %v", nutritionagent.ErrClassification, err)
	}
	intent := nutritionagent.Intent{Type: nutritionagent.IntentType(strings.TrimSpace(out.Type)), Reasoning: out.Reasoning}
	if !intent.Type.Valid() {
		return nutritionagent.Intent{}, fmt.Errorf("%w: unknown intent %q", nutritionagent.ErrClassification, out.Type)
	}

	slog.Info("CLASSIFIER: Classified input", "intent", intent.Type, "reasoning", intent.Reasoning, "backend", "model")
	return intent, nil
}

func userContext(text string, state nutritionagent.ConversationState) string {
	var b strings.Builder
	if state.QuestionsPending && state.LastParsedFoods != nil && len(state.LastParsedFoods.Questions) > 0 {
		b.WriteString("The assistant just asked:\n")
		for i, q := range state.LastParsedFoods.Questions {
			fmt.Fprintf(&b, "%d. %s", i+1, q.Question)
			if len(q.Options) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(q.Options, ", "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(state.UserMemory) > 0 {
		fmt.Fprintf(&b, "Known about the user: %s\n\n", strings.Join(state.UserMemory, "; "))
	}
	b.WriteString("Message: ")
	b.WriteString(text)
	return b.String()
}
