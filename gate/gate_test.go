package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutritionagent"
)

func mixed() nutritionagent.ParsedFoods {
	return nutritionagent.ParsedFoods{
		Foods: []nutritionagent.FoodCandidate{
			{ID: "food-1", Name: "apple", Quantity: 1, Unit: "serving"},
			{ID: "food-2", Name: "chicken", Quantity: 1, Unit: "serving", Ambiguous: true},
		},
		Questions: []nutritionagent.ClarificationQuestion{
			{FoodID: "food-2", Dimension: "cut", Question: "Which cut of chicken was it?", Type: nutritionagent.QuestionMultipleChoice, Options: []string{"breast", "thigh"}},
		},
	}
}

func resolved() nutritionagent.ParsedFoods {
	return nutritionagent.ParsedFoods{
		Foods: []nutritionagent.FoodCandidate{
			{ID: "food-1", Name: "apple", Quantity: 2, Unit: "pieces"},
			{ID: "food-2", Name: "toast", Quantity: 1, Unit: "serving"},
		},
	}
}

func TestCheck(t *testing.T) {
	t.Run("proceeds with every candidate", func(t *testing.T) {
		d, err := Check(resolved())
		require.NoError(t, err)
		assert.True(t, d.Proceed)
		assert.Len(t, d.Candidates, 2)
		assert.Empty(t, d.Questions)
	})

	t.Run("halts with questions and resolved items", func(t *testing.T) {
		d, err := Check(mixed())
		require.NoError(t, err)
		assert.False(t, d.Proceed)
		require.Len(t, d.Questions, 1)
		require.Len(t, d.Candidates, 1)
		assert.Equal(t, "apple", d.Candidates[0].Name)
	})

	t.Run("is idempotent", func(t *testing.T) {
		in := mixed()
		first, err := Check(in)
		require.NoError(t, err)
		second, err := Check(in)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, mixed(), in)
	})

	t.Run("ambiguous without questions is rejected", func(t *testing.T) {
		in := mixed()
		in.Questions = nil
		_, err := Check(in)
		assert.ErrorIs(t, err, nutritionagent.ErrParse)
	})

	t.Run("questions without ambiguity are rejected", func(t *testing.T) {
		in := mixed()
		in.Foods[1].Ambiguous = false
		_, err := Check(in)
		assert.ErrorIs(t, err, nutritionagent.ErrParse)
	})

	t.Run("empty update batch proceeds", func(t *testing.T) {
		d, err := Check(nutritionagent.ParsedFoods{Update: &nutritionagent.UpdateBatch{Found: false}})
		require.NoError(t, err)
		assert.True(t, d.Proceed)
		assert.Empty(t, d.Candidates)
	})
}

func TestApply(t *testing.T) {
	state := nutritionagent.ConversationState{SessionID: "s1", UserMemory: []string{"vegan"}, Version: 3}

	halt, err := Check(mixed())
	require.NoError(t, err)
	halted := Apply(state, mixed(), halt)
	assert.True(t, halted.QuestionsPending)
	require.NotNil(t, halted.LastParsedFoods)
	assert.Len(t, halted.LastParsedFoods.Questions, 1)
	assert.Equal(t, int64(3), halted.Version)
	assert.False(t, state.QuestionsPending)

	proceed, err := Check(resolved())
	require.NoError(t, err)
	cleared := Apply(halted, resolved(), proceed)
	assert.False(t, cleared.QuestionsPending)
	assert.Nil(t, cleared.LastParsedFoods)
	assert.Equal(t, []string{"vegan"}, cleared.UserMemory)
	assert.True(t, halted.QuestionsPending)
}
