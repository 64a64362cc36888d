package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutritionagent"
	"nutritionagent/tools"
)

func TestSelect(t *testing.T) {
	usdaMilk := tools.Match{Source: "usda", Authority: tools.AuthorityDatabase, Name: "Milk, whole", Calories: 150}
	offMilk := tools.Match{Source: "off", Authority: tools.AuthorityCatalog, Name: "Whole milk", Brand: "Acme", Calories: 140}
	oatMilk := tools.Match{Source: "off", Authority: tools.AuthorityCatalog, Name: "Oat milk", Brand: "Oatly", Calories: 120}
	estimate := tools.Match{Source: "model_estimate", Authority: tools.AuthorityEstimate, Name: "milk", Calories: 130}
	cookie := tools.Match{Source: "usda", Authority: tools.AuthorityDatabase, Name: "Cookies, chocolate chip", Calories: 50}
	empty := tools.Match{Source: "usda", Authority: tools.AuthorityDatabase, Name: "Milk"}
	dbOatMilk := tools.Match{Source: "usda", Authority: tools.AuthorityDatabase, Name: "Oat milk", Calories: 120}
	dairyMilk := tools.Match{Source: "off", Authority: tools.AuthorityCatalog, Name: "Milk, whole, dairy", Calories: 150}

	tests := []struct {
		name    string
		food    string
		matches []tools.Match
		memory  []string
		want    tools.Match
		wantOK  bool
	}{
		{name: "database wins over catalog", food: "milk", matches: []tools.Match{offMilk, estimate, usdaMilk}, want: usdaMilk, wantOK: true},
		{name: "memory preference wins", food: "milk", matches: []tools.Match{usdaMilk, oatMilk}, memory: []string{"I drink oat milk"}, want: oatMilk, wantOK: true},
		{name: "negated preference is avoided", food: "milk", matches: []tools.Match{dairyMilk, dbOatMilk}, memory: []string{"I don't eat dairy"}, want: dbOatMilk, wantOK: true},
		{name: "no term is avoided", food: "milk", matches: []tools.Match{dairyMilk, dbOatMilk}, memory: []string{"no dairy"}, want: dbOatMilk, wantOK: true},
		{name: "avoided term outranks authority", food: "milk", matches: []tools.Match{usdaMilk, oatMilk}, memory: []string{"lactose free, avoid whole milk"}, want: oatMilk, wantOK: true},
		{name: "implausible matches are skipped", food: "milk", matches: []tools.Match{cookie, estimate}, want: estimate, wantOK: true},
		{name: "closest overlap when nothing is plausible", food: "chocolate chip cookie dough ice cream", matches: []tools.Match{cookie}, want: cookie, wantOK: true},
		{name: "matches without nutrition are ignored", food: "milk", matches: []tools.Match{empty}, wantOK: false},
		{name: "no overlap", food: "milk", matches: []tools.Match{cookie}, wantOK: false},
		{name: "no matches", food: "milk", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(tt.food, tt.matches, tt.memory)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestMemoryTerms(t *testing.T) {
	tests := []struct {
		name       string
		memory     []string
		wantPrefer []string
		wantAvoid  []string
	}{
		{name: "plain preference", memory: []string{"I drink oat milk"}, wantPrefer: []string{"oat"}},
		{name: "negator", memory: []string{"I don't eat dairy"}, wantAvoid: []string{"dairy"}},
		{name: "avoid verb", memory: []string{"trying to avoid sugar"}, wantPrefer: []string{"trying"}, wantAvoid: []string{"sugar"}},
		{name: "allergic to", memory: []string{"allergic to peanuts"}, wantAvoid: []string{"peanut"}},
		{name: "free suffix", memory: []string{"gluten-free bread"}, wantPrefer: []string{"bread"}, wantAvoid: []string{"gluten"}},
		{name: "intolerant", memory: []string{"lactose intolerant"}, wantAvoid: []string{"lactose"}},
		{name: "negation ends with the clause", memory: []string{"no dairy, prefer oat milk"}, wantPrefer: []string{"oat"}, wantAvoid: []string{"dairy"}},
		{name: "negation ends at but", memory: []string{"not sweet but spicy"}, wantPrefer: []string{"spicy"}, wantAvoid: []string{"sweet"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := memoryTerms(tt.memory, tokens("milk"))
			assert.Equal(t, tt.wantPrefer, got.prefer)
			assert.Equal(t, tt.wantAvoid, got.avoid)
		})
	}
}

func TestFactor(t *testing.T) {
	tests := []struct {
		name         string
		quantity     float64
		unit         string
		servingGrams float64
		want         float64
	}{
		{name: "pieces are servings", quantity: 2, unit: "pieces", servingGrams: 182, want: 2},
		{name: "default serving", quantity: 1, unit: "serving", want: 1},
		{name: "cup taken as serving", quantity: 1.5, unit: "cup", want: 1.5},
		{name: "grams against serving weight", quantity: 150, unit: "g", servingGrams: 100, want: 1.5},
		{name: "grams without serving weight", quantity: 50, unit: "g", want: 0.5},
		{name: "ounces", quantity: 4, unit: "oz", servingGrams: 113.4, want: 1},
		{name: "non positive quantity", quantity: 0, unit: "pieces", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Factor(tt.quantity, tt.unit, tt.servingGrams), 0.001)
		})
	}
}

func TestScale(t *testing.T) {
	m := tools.Match{Source: "usda", Name: "Rice, white, cooked", ServingGrams: 158, Calories: 205, ProteinGrams: 4.25, CarbsGrams: 44.5, SaturatedFatGrams: 0.12, Others: map[string]float64{"sodium_mg": 1.6}}
	c := nutritionagent.FoodCandidate{ID: "food-3", Name: "white rice", Quantity: 316, Unit: "g", MealType: "Dinner"}

	rec := Scale(m, c)
	require.NotNil(t, rec.Others)
	assert.Equal(t, 2.0, rec.ServingSize)
	assert.Equal(t, 410.0, rec.Calories)
	assert.Equal(t, 8.5, rec.ProteinGrams)
	assert.Equal(t, 89.0, rec.CarbsGrams)
	assert.Equal(t, 0.24, rec.SaturatedFatGrams)
	assert.Equal(t, 3.2, rec.Others["sodium_mg"])
	assert.Equal(t, "white rice", rec.Name)
	assert.Equal(t, "food-3", rec.FoodID)
	assert.Equal(t, "Dinner", rec.MealType)

	// The match itself is not modified.
	assert.Equal(t, 1.6, m.Others["sodium_mg"])
}
