package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutritionagent"
	"nutritionagent/llm/mock"
)

func TestEstimateSource_Query(t *testing.T) {
	t.Run("decodes estimate", func(t *testing.T) {
		completer := mock.NewCompleter(map[string][]string{
			"record_nutrition_estimate": {`{"name":"pad thai","serving_size":"1 plate","calories":600,"protein_g":20,"carbs_g":80,"trans_fat_g":0,"saturated_fat_g":4,"unsaturated_fat_g":12,"others":{"sodium_mg":1200}}`},
		})

		matches, err := NewEstimateSource(completer).Query(context.Background(), "pad thai")
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "model_estimate", matches[0].Source)
		assert.Equal(t, AuthorityEstimate, matches[0].Authority)
		assert.Equal(t, 600.0, matches[0].Calories)
		assert.Equal(t, 1200.0, matches[0].Others["sodium_mg"])

		reqs := completer.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "pad thai", reqs[0].User)
		assert.NotNil(t, reqs[0].Schema)
	})

	t.Run("all zero estimate is a miss", func(t *testing.T) {
		completer := mock.NewCompleter(map[string][]string{
			"record_nutrition_estimate": {`{"name":"water","serving_size":"1 cup","calories":0,"protein_g":0,"carbs_g":0,"trans_fat_g":0,"saturated_fat_g":0,"unsaturated_fat_g":0}`},
		})
		matches, err := NewEstimateSource(completer).Query(context.Background(), "water")
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("completer failure is a provider error", func(t *testing.T) {
		_, err := NewEstimateSource(mock.NewCompleterWithError(errors.New("throttled"))).Query(context.Background(), "x")
		assert.ErrorIs(t, err, nutritionagent.ErrProvider)
	})
}
