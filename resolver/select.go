package resolver

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"nutritionagent"
	"nutritionagent/tools"
)

// Matches scoring at least this much against the food name are plausible.
const minSimilarity = 0.5

const gramsPerOunce = 28.35

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "and": true, "with": true, "or": true, "in": true,
	"i": true, "am": true, "is": true, "are": true, "my": true, "to": true, "no": true, "not": true,
	"prefer": true, "like": true, "usually": true, "always": true, "only": true, "eat": true, "drink": true,
	"don't": true, "dont": true, "raw": true,
}

// Words that turn the rest of a memory clause into things to avoid, as in "no dairy".
var negators = map[string]bool{
	"no": true, "not": true, "don't": true, "dont": true, "never": true, "without": true,
	"avoid": true, "avoids": true, "avoiding": true, "allergic": true, "can't": true, "cannot": true,
	"skip": true, "hate": true,
}

// Words that negate the word before them, as in "dairy free" or "lactose intolerant".
var postNegators = map[string]bool{
	"free": true, "intolerant": true, "intolerance": true, "allergy": true,
}

var clauseRe = regexp.MustCompile(`[,;.!]|\bbut\b`)

// preferences are memory terms split into wanted and avoided words.
type preferences struct {
	prefer []string
	avoid  []string
}

type scored struct {
	match      tools.Match
	similarity float64
	memoryHits int
	index      int
}

// Select picks the best match for name. Among plausible matches, preferred memory terms win
// first and avoided ones lose, then source authority, then name similarity. When nothing is plausible the closest match with any
// overlap is used.
func Select(name string, matches []tools.Match, memory []string) (tools.Match, bool) {
	want := tokens(name)
	prefs := memoryTerms(memory, want)

	var plausible, fallback []scored
	for i, m := range matches {
		if !m.HasNutrition() {
			continue
		}
		have := tokens(m.Name + " " + m.Brand)
		s := scored{
			match:      m,
			similarity: similarity(want, have),
			memoryHits: overlap(prefs.prefer, have) - overlap(prefs.avoid, have),
			index:      i,
		}
		switch {
		case s.similarity >= minSimilarity:
			plausible = append(plausible, s)
		case s.similarity > 0:
			fallback = append(fallback, s)
		}
	}

	pool := plausible
	if len(pool) == 0 {
		pool = fallback
	}
	if len(pool) == 0 {
		return tools.Match{}, false
	}

	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.memoryHits != b.memoryHits {
			return a.memoryHits > b.memoryHits
		}
		if a.match.Authority != b.match.Authority {
			return a.match.Authority > b.match.Authority
		}
		if a.similarity != b.similarity {
			return a.similarity > b.similarity
		}
		return a.index < b.index
	})
	return pool[0].match, true
}

// Scale converts a per-serving match into a record for the candidate's quantity.
// Counts ("pieces", "slice", "cup") are taken as servings.
func Scale(m tools.Match, c nutritionagent.FoodCandidate) nutritionagent.NutritionRecord {
	factor := Factor(c.Quantity, c.Unit, m.ServingGrams)

	others := make(map[string]float64, len(m.Others))
	for k, v := range m.Others {
		others[k] = round2(v * factor)
	}

	return nutritionagent.NutritionRecord{
		ID:                  c.TargetID,
		FoodID:              c.ID,
		Name:                c.Name,
		EatenAt:             c.EatenAt,
		MealType:            c.MealType,
		ServingSize:         round2(factor),
		Calories:            round2(m.Calories * factor),
		ProteinGrams:        round2(m.ProteinGrams * factor),
		CarbsGrams:          round2(m.CarbsGrams * factor),
		TransFatGrams:       round2(m.TransFatGrams * factor),
		SaturatedFatGrams:   round2(m.SaturatedFatGrams * factor),
		UnsaturatedFatGrams: round2(m.UnsaturatedFatGrams * factor),
		Others:              others,
		Source:              m.Source,
	}
}

// Factor is the number of servings a quantity amounts to. Weights use the serving's gram
// weight, or 100 g when the source did not report one.
func Factor(quantity float64, unit string, servingGrams float64) float64 {
	if quantity <= 0 {
		quantity = 1
	}
	if servingGrams <= 0 {
		servingGrams = 100
	}
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "g", "gram", "grams", "ml":
		return quantity / servingGrams
	case "oz", "ounce", "ounces":
		return quantity * gramsPerOunce / servingGrams
	default:
		return quantity
	}
}

func words(s string) []string {
	s = strings.ReplaceAll(strings.ToLower(s), "’", "'")
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func tokens(s string) []string {
	fields := words(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

func stem(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return w[:len(w)-1]
	}
	return w
}

// similarity is the share of wanted tokens present in have.
func similarity(want, have []string) float64 {
	if len(want) == 0 {
		return 0
	}
	return float64(overlap(want, have)) / float64(len(want))
}

func overlap(terms, have []string) int {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	n := 0
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		if set[t] && !seen[t] {
			n++
			seen[t] = true
		}
	}
	return n
}

// memoryTerms reads preference words out of memory. Words after a negator in the same clause,
// or right before a word like "free", are avoided. Preferred words already in the food name
// are dropped.
func memoryTerms(memory []string, name []string) preferences {
	skip := make(map[string]bool, len(name))
	for _, n := range name {
		skip[n] = true
	}

	var p preferences
	for _, m := range memory {
		for _, clause := range clauseRe.Split(strings.ToLower(m), -1) {
			ws := words(clause)
			negated := false
			for i, w := range ws {
				switch {
				case negators[w]:
					negated = true
					continue
				case postNegators[w], stopwords[w]:
					continue
				}
				t := stem(w)
				switch {
				case negated, i+1 < len(ws) && postNegators[ws[i+1]]:
					p.avoid = append(p.avoid, t)
				case !skip[t]:
					p.prefer = append(p.prefer, t)
				}
			}
		}
	}
	return p
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
