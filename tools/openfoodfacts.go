package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"nutritionagent"
)

// OpenFoodFactsSource searches the Open Food Facts product catalog.
type OpenFoodFactsSource struct {
	endpoint   string
	userAgent  string
	pageSize   int
	httpClient nutritionagent.HTTPClient
}

func NewOpenFoodFactsSource(endpoint, userAgent string, httpClient nutritionagent.HTTPClient) *OpenFoodFactsSource {
	return &OpenFoodFactsSource{
		endpoint:   strings.TrimRight(endpoint, "/"),
		userAgent:  userAgent,
		pageSize:   5,
		httpClient: httpClient,
	}
}

func (s *OpenFoodFactsSource) Name() string         { return "openfoodfacts" }
func (s *OpenFoodFactsSource) Authority() Authority { return AuthorityCatalog }

type offSearchResponse struct {
	Products []offProduct `json:"products"`
}

type offProduct struct {
	ProductName     string         `json:"product_name"`
	Brands          string         `json:"brands"`
	ServingSize     string         `json:"serving_size"`
	ServingQuantity flexFloat      `json:"serving_quantity"`
	Nutriments      map[string]any `json:"nutriments"`
}

// flexFloat accepts both JSON numbers and numeric strings, which the catalog mixes freely.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

func (s *OpenFoodFactsSource) Query(ctx context.Context, query string) ([]Match, error) {
	params := url.Values{}
	params.Set("search_terms", query)
	params.Set("search_simple", "1")
	params.Set("action", "process")
	params.Set("json", "1")
	params.Set("page_size", fmt.Sprint(s.pageSize))
	params.Set("fields", "product_name,brands,serving_size,serving_quantity,nutriments")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/cgi/search.pl?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: openfoodfacts request failed: %v", nutritionagent.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) // nolint: errcheck
		return nil, &StatusError{Source: s.Name(), StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var body offSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: failed to decode openfoodfacts response: %v", nutritionagent.ErrProvider, err)
	}

	matches := make([]Match, 0, len(body.Products))
	for _, p := range body.Products {
		m := p.toMatch()
		if m.Name == "" || !m.HasNutrition() {
			continue
		}
		matches = append(matches, m)
	}

	slog.Info("SOURCE: Open Food Facts search finished", "query", query, "results", len(body.Products), "matches", len(matches))
	return matches, nil
}

var offOthers = map[string]string{
	"sugars":      "sugars_g",
	"fiber":       "fiber_g",
	"sodium":      "sodium_g",
	"salt":        "salt_g",
	"cholesterol": "cholesterol_g",
	"fat":         "total_fat_g",
}

// toMatch prefers reported per-serving values and scales per-100 g values otherwise.
func (p offProduct) toMatch() Match {
	grams := float64(p.ServingQuantity)
	if grams <= 0 {
		grams = 100
	}
	serving := p.ServingSize
	if serving == "" {
		serving = fmt.Sprintf("%g g", grams)
	}

	value := func(key string) (float64, bool) {
		if v, ok := numeric(p.Nutriments[key+"_serving"]); ok {
			return v, true
		}
		if v, ok := numeric(p.Nutriments[key+"_100g"]); ok {
			return v * grams / 100, true
		}
		return 0, false
	}
	get := func(key string) float64 {
		v, _ := value(key)
		return round2(v)
	}

	m := Match{
		Source:            "openfoodfacts",
		Authority:         AuthorityCatalog,
		Name:              strings.TrimSpace(p.ProductName),
		Brand:             strings.TrimSpace(strings.Split(p.Brands, ",")[0]),
		ServingSize:       serving,
		ServingGrams:      grams,
		Calories:          get("energy-kcal"),
		ProteinGrams:      get("proteins"),
		CarbsGrams:        get("carbohydrates"),
		TransFatGrams:     get("trans-fat"),
		SaturatedFatGrams: get("saturated-fat"),
		Others:            map[string]float64{},
	}

	mono, hasMono := value("monounsaturated-fat")
	poly, hasPoly := value("polyunsaturated-fat")
	if hasMono || hasPoly {
		m.UnsaturatedFatGrams = round2(mono + poly)
	} else if fat, ok := value("fat"); ok {
		m.UnsaturatedFatGrams = round2(max(0, fat-m.SaturatedFatGrams-m.TransFatGrams))
	}

	for key, name := range offOthers {
		if v, ok := value(key); ok {
			m.Others[name] = round2(v)
		}
	}
	return m
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
