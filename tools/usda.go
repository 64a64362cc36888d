package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"nutritionagent"
)

// FoodData Central nutrient numbers.
const (
	usdaEnergy       = "208"
	usdaProtein      = "203"
	usdaCarbs        = "205"
	usdaTransFat     = "605"
	usdaSaturatedFat = "606"
	usdaMonoFat      = "645"
	usdaPolyFat      = "646"
)

// USDASource searches the USDA FoodData Central database.
type USDASource struct {
	endpoint   string
	apiKey     string
	pageSize   int
	httpClient nutritionagent.HTTPClient
}

func NewUSDASource(endpoint, apiKey string, httpClient nutritionagent.HTTPClient) *USDASource {
	if apiKey == "" {
		apiKey = "DEMO_KEY"
	}
	return &USDASource{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		pageSize:   5,
		httpClient: httpClient,
	}
}

func (s *USDASource) Name() string         { return "usda" }
func (s *USDASource) Authority() Authority { return AuthorityDatabase }

type usdaSearchResponse struct {
	Foods []usdaFood `json:"foods"`
}

type usdaFood struct {
	FdcID                    int            `json:"fdcId"`
	Description              string         `json:"description"`
	DataType                 string         `json:"dataType"`
	BrandOwner               string         `json:"brandOwner"`
	BrandName                string         `json:"brandName"`
	ServingSize              float64        `json:"servingSize"`
	ServingSizeUnit          string         `json:"servingSizeUnit"`
	HouseholdServingFullText string         `json:"householdServingFullText"`
	FoodNutrients            []usdaNutrient `json:"foodNutrients"`
}

type usdaNutrient struct {
	NutrientName   string  `json:"nutrientName"`
	NutrientNumber string  `json:"nutrientNumber"`
	UnitName       string  `json:"unitName"`
	Value          float64 `json:"value"`
}

func (s *USDASource) Query(ctx context.Context, query string) ([]Match, error) {
	params := url.Values{}
	params.Set("api_key", s.apiKey)
	params.Set("query", query)
	params.Set("pageSize", fmt.Sprint(s.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/foods/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: usda request failed: %v", nutritionagent.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) // nolint: errcheck
		return nil, &StatusError{Source: s.Name(), StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var body usdaSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: failed to decode usda response: %v", nutritionagent.ErrProvider, err)
	}

	matches := make([]Match, 0, len(body.Foods))
	for _, f := range body.Foods {
		m := f.toMatch()
		if m.Name == "" || !m.HasNutrition() {
			continue
		}
		matches = append(matches, m)
	}

	slog.Info("SOURCE: USDA search finished", "query", query, "results", len(body.Foods), "matches", len(matches))
	return matches, nil
}

// toMatch converts per-100 g values to one serving. Unknown servings default to 100 g.
func (f usdaFood) toMatch() Match {
	grams := 100.0
	unit := strings.ToLower(f.ServingSizeUnit)
	if f.ServingSize > 0 && (unit == "g" || unit == "grm" || unit == "ml" || unit == "mlt") {
		grams = f.ServingSize
	}
	factor := grams / 100

	serving := f.HouseholdServingFullText
	if serving == "" {
		serving = fmt.Sprintf("%g g", grams)
	}

	brand := f.BrandName
	if brand == "" {
		brand = f.BrandOwner
	}

	m := Match{
		Source:       "usda",
		Authority:    AuthorityDatabase,
		Name:         f.Description,
		Brand:        brand,
		ServingSize:  serving,
		ServingGrams: grams,
		Others:       map[string]float64{},
	}

	var mono, poly float64
	for _, n := range f.FoodNutrients {
		v := round2(n.Value * factor)
		switch n.NutrientNumber {
		case usdaEnergy:
			m.Calories = v
		case usdaProtein:
			m.ProteinGrams = v
		case usdaCarbs:
			m.CarbsGrams = v
		case usdaTransFat:
			m.TransFatGrams = v
		case usdaSaturatedFat:
			m.SaturatedFatGrams = v
		case usdaMonoFat:
			mono = v
		case usdaPolyFat:
			poly = v
		default:
			if strings.EqualFold(n.UnitName, "kcal") && strings.HasPrefix(n.NutrientName, "Energy") {
				if m.Calories == 0 {
					m.Calories = v
				}
				continue
			}
			if strings.EqualFold(n.UnitName, "kj") || n.NutrientName == "" {
				continue
			}
			m.Others[NutrientKey(n.NutrientName, n.UnitName)] = v
		}
	}
	m.UnsaturatedFatGrams = round2(mono + poly)
	return m
}
