// Package merger shapes resolved records into the FinalResult for a turn.
package merger

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"nutritionagent"
	"nutritionagent/resolver"
)

type Options struct {
	// IncludeTotals adds a separate totals object. Items are never summed into foods.
	IncludeTotals bool
}

type Merger struct {
	opts Options
}

func New(opts Options) *Merger {
	return &Merger{opts: opts}
}

// Merge builds the result for a turn. It refuses to run while questions are pending.
func (m *Merger) Merge(records []nutritionagent.NutritionRecord, parsed nutritionagent.ParsedFoods, intent nutritionagent.Intent, state nutritionagent.ConversationState) (nutritionagent.FinalResult, error) {
	if state.QuestionsPending {
		return nutritionagent.FinalResult{}, fmt.Errorf("%w: merge attempted with questions pending", nutritionagent.ErrStateConflict)
	}

	var (
		result nutritionagent.FinalResult
		err    error
	)
	switch intent.Type {
	case nutritionagent.IntentAnswerQuestion:
		// Answers to a question raised while editing finish that edit.
		if parsed.Update != nil {
			result, err = m.update(records, parsed)
		} else {
			result = m.entries(records, parsed)
		}
	case nutritionagent.IntentNewMeal, nutritionagent.IntentNeedsClarification:
		result = m.entries(records, parsed)
	case nutritionagent.IntentUpdateMeal:
		result, err = m.update(records, parsed)
	default:
		return nutritionagent.FinalResult{}, fmt.Errorf("%w: unknown intent %q", nutritionagent.ErrClassification, intent.Type)
	}
	if err != nil {
		return nutritionagent.FinalResult{}, err
	}

	result.Intent = intent.Type
	if m.opts.IncludeTotals && result.Status != nutritionagent.StatusNoMatchingMeal {
		t := Sum(result.Foods)
		result.Totals = &t
	}

	slog.Info("MERGER: Result ready",
		"status", result.Status,
		"intent", result.Intent,
		"foods", len(result.Foods),
		"removed", len(result.Removed),
	)
	return result, nil
}

// entries emits one entry per record, in candidate order.
func (m *Merger) entries(records []nutritionagent.NutritionRecord, parsed nutritionagent.ParsedFoods) nutritionagent.FinalResult {
	byFood := make(map[string]int, len(records))
	for i, r := range records {
		byFood[r.FoodID] = i
	}

	foods := make([]nutritionagent.NutritionRecord, 0, len(records))
	used := make([]bool, len(records))
	for _, c := range parsed.Foods {
		if i, ok := byFood[c.ID]; ok && !used[i] {
			foods = append(foods, records[i].Clone())
			used[i] = true
		}
	}
	for i, r := range records {
		if !used[i] {
			foods = append(foods, r.Clone())
		}
	}

	return nutritionagent.FinalResult{
		Status:  nutritionagent.StatusCompleted,
		Foods:   foods,
		Message: fmt.Sprintf("Logged %d item(s).", len(foods)),
	}
}

// update applies the batch's operations to the stored meal. Fields an operation does not touch
// keep their stored values, including the original timestamp.
func (m *Merger) update(records []nutritionagent.NutritionRecord, parsed nutritionagent.ParsedFoods) (nutritionagent.FinalResult, error) {
	batch := parsed.Update
	if batch == nil {
		return nutritionagent.FinalResult{}, fmt.Errorf("%w: update intent without an update batch", nutritionagent.ErrParse)
	}
	if !batch.Found {
		return nutritionagent.FinalResult{
			Status:  nutritionagent.StatusNoMatchingMeal,
			Foods:   []nutritionagent.NutritionRecord{},
			Message: fmt.Sprintf("No matching meal found for %q.", batch.Reference),
		}, nil
	}

	resolved := make(map[string]nutritionagent.NutritionRecord, len(records))
	for _, r := range records {
		resolved[r.FoodID] = r
	}

	items := make([]nutritionagent.NutritionRecord, len(batch.Items))
	index := make(map[string]int, len(batch.Items))
	for i, r := range batch.Items {
		items[i] = r.Clone()
		index[r.ID] = i
	}
	removed := make(map[string]bool)
	var (
		removedIDs []string
		added      []nutritionagent.NutritionRecord
		changed    int
	)

	for _, c := range parsed.Foods {
		switch c.Op {
		case nutritionagent.OpRemove:
			if _, ok := index[c.TargetID]; !ok {
				return nutritionagent.FinalResult{}, fmt.Errorf("%w: remove targets unknown record %q", nutritionagent.ErrParse, c.TargetID)
			}
			if !removed[c.TargetID] {
				removed[c.TargetID] = true
				removedIDs = append(removedIDs, c.TargetID)
			}

		case nutritionagent.OpChange:
			i, ok := index[c.TargetID]
			if !ok {
				return nutritionagent.FinalResult{}, fmt.Errorf("%w: change targets unknown record %q", nutritionagent.ErrParse, c.TargetID)
			}
			if c.Touches(nutritionagent.FieldName) {
				rec, ok := resolved[c.ID]
				if !ok {
					return nutritionagent.FinalResult{}, fmt.Errorf("%w: no resolved record for %q", nutritionagent.ErrStateConflict, c.ID)
				}
				items[i] = replace(items[i], rec, c)
			} else {
				items[i] = adjust(items[i], c)
			}
			changed++

		case nutritionagent.OpAdd:
			rec, ok := resolved[c.ID]
			if !ok {
				return nutritionagent.FinalResult{}, fmt.Errorf("%w: no resolved record for %q", nutritionagent.ErrStateConflict, c.ID)
			}
			rec = rec.Clone()
			rec.ID = ""
			added = append(added, rec)

		default:
			return nutritionagent.FinalResult{}, fmt.Errorf("%w: candidate %q has no update operation", nutritionagent.ErrParse, c.ID)
		}
	}

	foods := make([]nutritionagent.NutritionRecord, 0, len(items)+len(added))
	for _, it := range items {
		if !removed[it.ID] {
			foods = append(foods, it)
		}
	}
	foods = append(foods, added...)

	return nutritionagent.FinalResult{
		Status:  nutritionagent.StatusUpdated,
		Foods:   foods,
		Removed: removedIDs,
		Message: fmt.Sprintf("Updated meal: %d changed, %d added, %d removed.", changed, len(added), len(removedIDs)),
	}, nil
}

// replace swaps in freshly resolved nutrition for a renamed item.
func replace(orig, rec nutritionagent.NutritionRecord, c nutritionagent.FoodCandidate) nutritionagent.NutritionRecord {
	out := rec.Clone()
	out.ID = orig.ID
	out.EatenAt = orig.EatenAt
	out.MealType = orig.MealType
	if c.Touches(nutritionagent.FieldEatenAt) {
		out.EatenAt = c.EatenAt
	}
	if c.Touches(nutritionagent.FieldMealType) {
		out.MealType = c.MealType
	}
	return out
}

// adjust edits a stored record in place without a new lookup.
func adjust(orig nutritionagent.NutritionRecord, c nutritionagent.FoodCandidate) nutritionagent.NutritionRecord {
	out := orig.Clone()
	if c.Touches(nutritionagent.FieldQuantity) {
		servings := resolver.Factor(c.Quantity, c.Unit, 0)
		out = rescale(out, servings)
	}
	if c.Touches(nutritionagent.FieldMealType) {
		out.MealType = c.MealType
	}
	if c.Touches(nutritionagent.FieldEatenAt) {
		out.EatenAt = c.EatenAt
	}
	return out
}

func rescale(r nutritionagent.NutritionRecord, servings float64) nutritionagent.NutritionRecord {
	old := r.ServingSize
	if old <= 0 {
		old = 1
	}
	f := servings / old
	r.ServingSize = round2(servings)
	r.Calories = round2(r.Calories * f)
	r.ProteinGrams = round2(r.ProteinGrams * f)
	r.CarbsGrams = round2(r.CarbsGrams * f)
	r.TransFatGrams = round2(r.TransFatGrams * f)
	r.SaturatedFatGrams = round2(r.SaturatedFatGrams * f)
	r.UnsaturatedFatGrams = round2(r.UnsaturatedFatGrams * f)
	for k, v := range r.Others {
		r.Others[k] = round2(v * f)
	}
	return r
}

// Sum adds up the macro fields across records.
func Sum(records []nutritionagent.NutritionRecord) nutritionagent.Totals {
	var t nutritionagent.Totals
	for _, r := range records {
		t.Calories += r.Calories
		t.ProteinGrams += r.ProteinGrams
		t.CarbsGrams += r.CarbsGrams
		t.TransFatGrams += r.TransFatGrams
		t.SaturatedFatGrams += r.SaturatedFatGrams
		t.UnsaturatedFatGrams += r.UnsaturatedFatGrams
	}
	t.Calories = round2(t.Calories)
	t.ProteinGrams = round2(t.ProteinGrams)
	t.CarbsGrams = round2(t.CarbsGrams)
	t.TransFatGrams = round2(t.TransFatGrams)
	t.SaturatedFatGrams = round2(t.SaturatedFatGrams)
	t.UnsaturatedFatGrams = round2(t.UnsaturatedFatGrams)
	return t
}

// Complete clears the pending-question state once a turn has produced its result.
func Complete(state nutritionagent.ConversationState, intent nutritionagent.Intent, now time.Time) nutritionagent.ConversationState {
	out := state.Clone()
	out.QuestionsPending = false
	out.LastParsedFoods = nil
	out.LastIntent = &intent
	out.UpdatedAt = now
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
