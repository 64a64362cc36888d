package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"nutritionagent"
	"nutritionagent/tools/storage"
)

// StoredFood is a persisted record together with its owner.
type StoredFood struct {
	UserID string `json:"user_id"`
	nutritionagent.NutritionRecord
}

type storedMeals struct {
	Foods []StoredFood `json:"foods"`
}

var mealKeywords = []struct {
	keyword  string
	mealType string
}{
	{"breakfast", "Breakfast"},
	{"this morning", "Breakfast"},
	{"brunch", "Breakfast"},
	{"lunch", "Lunch"},
	{"dinner", "Dinner"},
	{"supper", "Dinner"},
	{"last night", "Dinner"},
	{"snack", "Snack"},
}

// MealLookup finds stored meals by natural-language reference.
type MealLookup struct {
	state storage.MealState
}

func NewMealLookup(state storage.MealState) *MealLookup {
	return &MealLookup{state: state}
}

// Find matches the reference against meal type and date. "yesterday" shifts the date back one day.
// Without an explicit day the most recent day holding a matching meal is used.
func (l *MealLookup) Find(ctx context.Context, reference, userID string, contextDate time.Time) (nutritionagent.MealLookup, error) {
	if contextDate.IsZero() {
		contextDate = time.Now()
	}

	data, err := l.state.Load(ctx)
	if err != nil {
		return nutritionagent.MealLookup{}, fmt.Errorf("failed to load stored meals: %w", err)
	}

	var meals storedMeals
	if err := json.Unmarshal(data, &meals); err != nil {
		return nutritionagent.MealLookup{}, fmt.Errorf("failed to decode stored meals: %w", err)
	}

	ref := strings.ToLower(reference)
	mealType := MealTypeFromText(ref)

	explicitDay := false
	day := contextDate
	if strings.Contains(ref, "yesterday") || strings.Contains(ref, "last night") {
		day = day.AddDate(0, 0, -1)
		explicitDay = true
	} else if strings.Contains(ref, "today") || strings.Contains(ref, "this morning") {
		explicitDay = true
	}

	var candidates []StoredFood
	for _, f := range meals.Foods {
		if userID != "" && f.UserID != userID {
			continue
		}
		if mealType != "" && !strings.EqualFold(f.MealType, mealType) {
			continue
		}
		if f.EatenAt.After(contextDate) {
			continue
		}
		candidates = append(candidates, f)
	}

	items := onDay(candidates, day)
	if len(items) == 0 && !explicitDay {
		items = mostRecentDay(candidates)
	}

	slog.Info("SOURCE: Meal lookup finished",
		"reference", reference,
		"meal_type", mealType,
		"day", day.Format(time.DateOnly),
		"found", len(items),
	)

	records := make([]nutritionagent.NutritionRecord, len(items))
	for i, f := range items {
		records[i] = f.NutritionRecord.Clone()
	}
	return nutritionagent.MealLookup{Found: len(records) > 0, Items: records}, nil
}

// MealTypeFromText returns the canonical meal type named in text, or "".
func MealTypeFromText(text string) string {
	text = strings.ToLower(text)
	for _, k := range mealKeywords {
		if strings.Contains(text, k.keyword) {
			return k.mealType
		}
	}
	return ""
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func onDay(foods []StoredFood, day time.Time) []StoredFood {
	var out []StoredFood
	for _, f := range foods {
		if sameDay(day, f.EatenAt.Time) {
			out = append(out, f)
		}
	}
	sortByEatenAt(out)
	return out
}

func mostRecentDay(foods []StoredFood) []StoredFood {
	if len(foods) == 0 {
		return nil
	}
	latest := foods[0].EatenAt.Time
	for _, f := range foods[1:] {
		if f.EatenAt.After(latest) {
			latest = f.EatenAt.Time
		}
	}
	return onDay(foods, latest)
}

func sortByEatenAt(foods []StoredFood) {
	sort.SliceStable(foods, func(i, j int) bool {
		return foods[i].EatenAt.Before(foods[j].EatenAt.Time)
	})
}
