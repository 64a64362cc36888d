package tools

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"nutritionagent"
)

// Authority ranks how trustworthy a source's numbers are. Higher wins ties.
type Authority int

const (
	AuthorityEstimate Authority = iota + 1
	AuthorityCatalog
	AuthorityDatabase
)

func (a Authority) String() string {
	switch a {
	case AuthorityDatabase:
		return "database"
	case AuthorityCatalog:
		return "catalog"
	case AuthorityEstimate:
		return "estimate"
	default:
		return "unknown"
	}
}

// Source is a nutrition data provider. Implementations must be safe for concurrent use.
type Source interface {
	Name() string
	Authority() Authority
	Query(ctx context.Context, query string) ([]Match, error)
}

// Match is one provider result with macro values per serving.
type Match struct {
	Source              string             `json:"source"`
	Authority           Authority          `json:"authority"`
	Name                string             `json:"name"`
	Brand               string             `json:"brand,omitempty"`
	ServingSize         string             `json:"serving_size"`
	ServingGrams        float64            `json:"serving_grams,omitempty"`
	Calories            float64            `json:"calories"`
	ProteinGrams        float64            `json:"protein_g"`
	CarbsGrams          float64            `json:"carbs_g"`
	TransFatGrams       float64            `json:"trans_fat_g"`
	SaturatedFatGrams   float64            `json:"saturated_fat_g"`
	UnsaturatedFatGrams float64            `json:"unsaturated_fat_g"`
	Others              map[string]float64 `json:"others,omitempty"`
}

// HasNutrition reports whether the match carries any usable number.
func (m Match) HasNutrition() bool {
	return m.Calories > 0 || m.ProteinGrams > 0 || m.CarbsGrams > 0 ||
		m.SaturatedFatGrams > 0 || m.UnsaturatedFatGrams > 0 || m.TransFatGrams > 0
}

// MatchSchema describes a per-serving nutrition estimate.
func MatchSchema() *jsonschema.Schema {
	zero := 0.0
	num := func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "number", Minimum: &zero, Description: desc}
	}
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":              {Type: "string", Description: "Common name of the food"},
			"serving_size":      {Type: "string", Description: "Human readable serving, e.g. \"1 medium (182 g)\""},
			"serving_grams":     num("Weight of one serving in grams"),
			"calories":          num("kcal per serving"),
			"protein_g":         num("Protein grams per serving"),
			"carbs_g":           num("Carbohydrate grams per serving"),
			"trans_fat_g":       num("Trans fat grams per serving"),
			"saturated_fat_g":   num("Saturated fat grams per serving"),
			"unsaturated_fat_g": num("Mono plus polyunsaturated fat grams per serving"),
			"others": {
				Type:                 "object",
				Description:          "Other nutrients per serving keyed like sodium_mg or fiber_g",
				AdditionalProperties: &jsonschema.Schema{Type: "number"},
			},
		},
		Required: []string{"name", "serving_size", "calories", "protein_g", "carbs_g", "trans_fat_g", "saturated_fat_g", "unsaturated_fat_g"},
	}
}

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Source     string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %s", e.Source, e.Status)
}

func (e *StatusError) Unwrap() error {
	return nutritionagent.ErrProvider
}

// Transient reports whether retrying the same request may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// NutrientKey builds an others-map key such as "fiber_total_dietary_g".
func NutrientKey(name, unit string) string {
	key := strings.Trim(nonWord.ReplaceAllString(strings.ToLower(name), "_"), "_")
	unit = strings.ToLower(strings.TrimSpace(unit))
	if unit == "" {
		return key
	}
	return key + "_" + unit
}

// NormalizeQuery lowercases and collapses whitespace so equivalent queries share cache entries.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
