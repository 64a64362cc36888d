package parser

import (
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
)

func systemPrompt(memory []string) string {
	if len(memory) == 0 {
		return parserPrompt
	}
	return parserPrompt + "\n\nUSER PREFERENCES\n- " + strings.Join(memory, "\n- ")
}

const parserPrompt string = `You are a food logging assistant.

GOAL
Extract every food or drink the user ate from their message and decide, per item, whether its nutrition can be estimated without more detail.

RULES
- One entry per distinct food. Do not merge items and do not add items the user did not mention.
- quantity defaults to 1 and unit to "serving". A bare count ("2 apples") uses unit "pieces".
- Use the singular, lower case common name ("apple", not "Apples").
- time_phrase is the exact phrase that says when the food was eaten ("yesterday", "this morning", "2 hours ago"), or "" if none.
- meal_type is one of Breakfast, Lunch, Dinner, Snack, or "" if not stated.
- Mark ambiguous=true ONLY when the nutrition cannot reasonably be estimated without more detail, e.g. "chicken" with no cut or preparation.
- Reasonable defaults never need a question: seasoning on fries or steak, branded or restaurant foods taken as-is. Set branded=true for those.
- Every ambiguous food needs at least one question. Multiple choice questions have at most 3 options. Use a slider question only for portion size.
- food_index in a question is the zero-based position of the food in the foods list.`

// ParsedFoodsSchema describes the model's extraction output.
func ParsedFoodsSchema() *jsonschema.Schema {
	one := 1.0
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"foods": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"name":        {Type: "string", Description: "Singular common name"},
						"description": {Type: "string"},
						"meal_type":   {Type: "string", Enum: []any{"Breakfast", "Lunch", "Dinner", "Snack", ""}},
						"quantity":    {Type: "number"},
						"unit":        {Type: "string"},
						"time_phrase": {Type: "string", Description: "Phrase saying when it was eaten, or empty"},
						"ambiguous":   {Type: "boolean"},
						"branded":     {Type: "boolean"},
					},
					Required: []string{"name", "quantity", "unit", "ambiguous"},
				},
			},
			"questions": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"food_index":   {Type: "integer"},
						"dimension":    {Type: "string", Description: "What the question settles, e.g. cut or preparation"},
						"question":     {Type: "string"},
						"type":         {Type: "string", Enum: []any{"multiple_choice", "slider"}},
						"options":      {Type: "array", Items: &jsonschema.Schema{Type: "string"}, Description: "At most 3 options"},
						"slider_value": {Type: "integer", Minimum: &one},
					},
					Required: []string{"food_index", "question", "type"},
				},
			},
		},
		Required: []string{"foods", "questions"},
	}
}
