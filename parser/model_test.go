package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutritionagent"
	"nutritionagent/llm/mock"
)

func TestModelParser_Parse(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		text      string
		intent    nutritionagent.IntentType
		wantErr   error
		wantFoods int
		wantQs    int
		check     func(t *testing.T, parsed nutritionagent.ParsedFoods)
	}{
		{
			name:      "simple meal uses the time phrase table",
			text:      "2 apples for breakfast",
			response:  `{"foods":[{"name":"apple","quantity":2,"unit":"pieces","meal_type":"Breakfast","time_phrase":"for breakfast","ambiguous":false}],"questions":[]}`,
			intent:    nutritionagent.IntentNewMeal,
			wantFoods: 1,
			check: func(t *testing.T, parsed nutritionagent.ParsedFoods) {
				assert.Equal(t, "food-1", parsed.Foods[0].ID)
				assert.Equal(t, "2025-09-28T08:00:00", parsed.Foods[0].EatenAt.String())
				assert.Equal(t, "Breakfast", parsed.Foods[0].MealType)
			},
		},
		{
			name:      "questions mark their food ambiguous and options are capped",
			text:      "chicken for lunch",
			response:  "Here you go:\n```json\n" + `{"foods":[{"name":"chicken","quantity":1,"unit":"serving","meal_type":"lunch","time_phrase":"","ambiguous":false}],"questions":[{"food_index":0,"dimension":"cut","question":"Which cut?","type":"multiple_choice","options":["breast","thigh","wing","leg"]}]}` + "\n```",
			intent:    nutritionagent.IntentNewMeal,
			wantFoods: 1,
			wantQs:    1,
			check: func(t *testing.T, parsed nutritionagent.ParsedFoods) {
				assert.True(t, parsed.Foods[0].Ambiguous)
				assert.Equal(t, "Lunch", parsed.Foods[0].MealType)
				assert.Len(t, parsed.Questions[0].Options, nutritionagent.MaxQuestionOptions)
				assert.Equal(t, "2025-09-28T12:00:00", parsed.Foods[0].EatenAt.String())
			},
		},
		{
			name:      "ambiguous without questions falls back to the policy",
			text:      "fish",
			response:  `{"foods":[{"name":"fish","quantity":0,"unit":"","ambiguous":true}],"questions":[]}`,
			intent:    nutritionagent.IntentNewMeal,
			wantFoods: 1,
			wantQs:    2,
			check: func(t *testing.T, parsed nutritionagent.ParsedFoods) {
				assert.Equal(t, 1.0, parsed.Foods[0].Quantity)
				assert.Equal(t, "serving", parsed.Foods[0].Unit)
			},
		},
		{
			name:      "branded foods never ask",
			text:      "a Big Mac",
			response:  `{"foods":[{"name":"Big Mac","quantity":1,"unit":"serving","ambiguous":true,"branded":true}],"questions":[{"food_index":0,"question":"Which size?","type":"multiple_choice","options":["small","large"]}]}`,
			intent:    nutritionagent.IntentNewMeal,
			wantFoods: 1,
			wantQs:    0,
		},
		{
			name:      "questions for unknown foods are dropped",
			text:      "toast",
			response:  `{"foods":[{"name":"toast","quantity":1,"unit":"slice","ambiguous":false}],"questions":[{"food_index":4,"question":"Which bread?","type":"multiple_choice","options":["white"]}]}`,
			intent:    nutritionagent.IntentNewMeal,
			wantFoods: 1,
			wantQs:    0,
		},
		{
			name:      "clarification holds every food",
			text:      "toast",
			response:  `{"foods":[{"name":"toast","quantity":1,"unit":"slice","ambiguous":false}],"questions":[]}`,
			intent:    nutritionagent.IntentNeedsClarification,
			wantFoods: 1,
			wantQs:    1,
			check: func(t *testing.T, parsed nutritionagent.ParsedFoods) {
				assert.Equal(t, nutritionagent.QuestionSlider, parsed.Questions[0].Type)
			},
		},
		{
			name:     "malformed output",
			text:     "toast",
			response: `{"foods": "toast"}`,
			intent:   nutritionagent.IntentNewMeal,
			wantErr:  nutritionagent.ErrParse,
		},
		{
			name:     "no foods",
			text:     "hello",
			response: `{"foods":[],"questions":[]}`,
			intent:   nutritionagent.IntentNewMeal,
			wantErr:  nutritionagent.ErrParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := mock.NewCompleter(map[string][]string{"record_parsed_foods": {tt.response}})
			p := NewModelParser(completer, nil, nil)

			parsed, err := p.Parse(context.Background(), newMealInput(tt.text), intentOf(tt.intent), nutritionagent.ConversationState{UserMemory: []string{"vegetarian"}})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, parsed.Foods, tt.wantFoods)
			assert.Len(t, parsed.Questions, tt.wantQs)
			if tt.check != nil {
				tt.check(t, parsed)
			}

			reqs := completer.Requests()
			require.Len(t, reqs, 1)
			assert.Contains(t, reqs[0].System, "vegetarian")
			assert.Equal(t, tt.text, reqs[0].User)
		})
	}
}

func TestModelParser_DelegatesAnswers(t *testing.T) {
	completer := mock.NewCompleterWithError(errors.New("must not be called"))
	p := NewModelParser(completer, nil, nil)

	last := nutritionagent.ParsedFoods{
		Foods:     []nutritionagent.FoodCandidate{{ID: "food-1", Name: "chicken", Quantity: 1, Unit: "serving", Ambiguous: true}},
		Questions: chickenQuestions(),
	}
	parsed, err := p.Parse(context.Background(), newMealInput("breast, baked"), intentOf(nutritionagent.IntentAnswerQuestion), nutritionagent.ConversationState{LastParsedFoods: &last})
	require.NoError(t, err)
	assert.Equal(t, "baked chicken breast", parsed.Foods[0].Name)
	assert.Empty(t, completer.Requests())
}

func TestModelParser_ModelFailure(t *testing.T) {
	p := NewModelParser(mock.NewCompleterWithError(errors.New("throttled")), nil, nil)
	_, err := p.Parse(context.Background(), newMealInput("toast"), intentOf(nutritionagent.IntentNewMeal), nutritionagent.ConversationState{})
	assert.ErrorIs(t, err, nutritionagent.ErrParse)
}
