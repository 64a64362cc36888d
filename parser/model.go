package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nutritionagent"
	"nutritionagent/llm"
	"nutritionagent/tools"
)

// ModelParser extracts new meals with a language model. Answers and updates are
// mapped with the deterministic rules so that no answer is ever invented.
type ModelParser struct {
	completer llm.Completer
	policy    AmbiguityPolicy
	rules     *RuleParser
}

func NewModelParser(completer llm.Completer, policy AmbiguityPolicy, meals nutritionagent.MealFinder) *ModelParser {
	if policy == nil {
		policy = NewDefaultPolicy()
	}
	return &ModelParser{
		completer: completer,
		policy:    policy,
		rules:     NewRuleParser(policy, meals),
	}
}

type modelFood struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	MealType    string  `json:"meal_type"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	TimePhrase  string  `json:"time_phrase"`
	Ambiguous   bool    `json:"ambiguous"`
	Branded     bool    `json:"branded"`
}

type modelQuestion struct {
	FoodIndex   int      `json:"food_index"`
	Dimension   string   `json:"dimension"`
	Question    string   `json:"question"`
	Type        string   `json:"type"`
	Options     []string `json:"options"`
	SliderValue int      `json:"slider_value"`
}

type modelOutput struct {
	Foods     []modelFood     `json:"foods"`
	Questions []modelQuestion `json:"questions"`
}

func (p *ModelParser) Parse(ctx context.Context, in nutritionagent.Input, intent nutritionagent.Intent, state nutritionagent.ConversationState) (nutritionagent.ParsedFoods, error) {
	switch intent.Type {
	case nutritionagent.IntentAnswerQuestion, nutritionagent.IntentUpdateMeal:
		return p.rules.Parse(ctx, in, intent, state)
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	raw, err := p.completer.Complete(ctx, llm.Request{
		Name:        "record_parsed_foods",
		Description: "Record the foods found in the user's message and any clarification questions.",
		System:      systemPrompt(state.UserMemory),
		User:        in.Text,
		Schema:      ParsedFoodsSchema(),
	})
	if err != nil {
		return nutritionagent.ParsedFoods{}, fmt.Errorf("%w: model call failed: %v", nutritionagent.ErrParse, err)
	}

	var out modelOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nutritionagent.ParsedFoods{}, fmt.Errorf("%w: malformed model output: %v", nutritionagent.ErrParse, err)
	}

	parsed := p.finalize(out, in.Text, now)
	if len(parsed.Foods) == 0 {
		return nutritionagent.ParsedFoods{}, fmt.Errorf("%w: no foods found in %q", nutritionagent.ErrParse, in.Text)
	}
	if intent.Type == nutritionagent.IntentNeedsClarification {
		parsed = clarifyAll(parsed)
	}
	if err := parsed.Validate(); err != nil {
		return nutritionagent.ParsedFoods{}, err
	}

	slog.Info("PARSER: Parsed input",
		"intent", intent.Type,
		"foods", len(parsed.Foods),
		"questions", len(parsed.Questions),
		"backend", "model",
	)
	return parsed, nil
}

// finalize fills defaults, resolves times with the phrase table and repairs the
// question/ambiguity pairing the model is asked to follow.
func (p *ModelParser) finalize(out modelOutput, text string, now time.Time) nutritionagent.ParsedFoods {
	parsed := emptyParsed()
	ids := make(map[int]int, len(out.Foods))
	branded := make(map[string]bool)

	for i, f := range out.Foods {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		c := nutritionagent.FoodCandidate{
			ID:          foodID(len(parsed.Foods) + 1),
			Name:        name,
			Description: f.Description,
			MealType:    canonicalMealType(f.MealType, text),
			Quantity:    f.Quantity,
			Unit:        strings.TrimSpace(f.Unit),
		}
		if c.Quantity <= 0 {
			c.Quantity = 1
		}
		if c.Unit == "" {
			c.Unit = "serving"
		}
		phrase := f.TimePhrase
		if phrase == "" {
			phrase = text
		}
		c.EatenAt = nutritionagent.NewTimestamp(ResolveTime(phrase, now))

		ids[i] = len(parsed.Foods)
		branded[c.ID] = f.Branded
		parsed.Foods = append(parsed.Foods, c)
	}

	asked := make(map[string]bool)
	for _, mq := range out.Questions {
		idx, ok := ids[mq.FoodIndex]
		if !ok {
			continue
		}
		c := &parsed.Foods[idx]
		if branded[c.ID] {
			continue
		}
		q := nutritionagent.ClarificationQuestion{
			FoodID:    c.ID,
			Dimension: mq.Dimension,
			Question:  strings.TrimSpace(mq.Question),
		}
		if q.Question == "" {
			continue
		}
		switch nutritionagent.QuestionType(mq.Type) {
		case nutritionagent.QuestionSlider:
			q.Type = nutritionagent.QuestionSlider
			q.SliderValue = mq.SliderValue
			if q.SliderValue < 1 {
				q.SliderValue = 1
			}
			if q.Dimension == "" {
				q.Dimension = "portion"
			}
		default:
			q.Type = nutritionagent.QuestionMultipleChoice
			for _, o := range mq.Options {
				if o = strings.TrimSpace(o); o != "" && len(q.Options) < nutritionagent.MaxQuestionOptions {
					q.Options = append(q.Options, o)
				}
			}
			if len(q.Options) == 0 {
				continue
			}
		}
		c.Ambiguous = true
		asked[c.ID] = true
		parsed.Questions = append(parsed.Questions, q)
	}

	// Foods the model flagged without a usable question fall back to the policy.
	for i, f := range out.Foods {
		idx, ok := ids[i]
		if !ok || !f.Ambiguous || branded[parsed.Foods[idx].ID] || asked[parsed.Foods[idx].ID] {
			continue
		}
		c := &parsed.Foods[idx]
		dims := p.policy.Dimensions(c.Name, false)
		if len(dims) == 0 {
			dims = []Dimension{PortionDimension()}
		}
		c.Ambiguous = true
		for _, d := range dims {
			parsed.Questions = append(parsed.Questions, d.QuestionFor(*c))
		}
	}
	return parsed
}

func canonicalMealType(modelValue, text string) string {
	if mt := tools.MealTypeFromText(modelValue); mt != "" {
		return mt
	}
	return tools.MealTypeFromText(text)
}
