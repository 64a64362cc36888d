package parser

import (
	"fmt"
	"strings"

	"nutritionagent"
)

// Dimension is one detail a food needs before its nutrition can be looked up with confidence.
type Dimension struct {
	Name     string
	Question string // %s is replaced with the food name
	Options  []string
	Slider   bool

	// Template builds the refined name: {option} and {food} are substituted.
	Template string
	// Known words already settle the dimension when present in the name.
	Known []string
	// AnyModifier settles the dimension when the name has any word before the head noun.
	AnyModifier bool
}

// AmbiguityPolicy decides which details a food still needs. No dimensions means the food
// can be resolved as stated.
type AmbiguityPolicy interface {
	Dimensions(food string, quantityStated bool) []Dimension
}

// VagueTerm is a head noun that needs more detail, or a portion, to be resolved.
type VagueTerm struct {
	Dimensions []Dimension
	// Portion asks for a serving count when no quantity was stated.
	Portion bool
}

// TablePolicy flags foods whose head noun appears in a table of vague terms.
type TablePolicy struct {
	terms map[string]VagueTerm
}

func NewTablePolicy(terms map[string]VagueTerm) *TablePolicy {
	return &TablePolicy{terms: terms}
}

// NewDefaultPolicy covers common foods where cut, preparation or kind changes the numbers a lot.
// Seasoning on fries or steak and branded items are taken as stated.
func NewDefaultPolicy() *TablePolicy {
	prep := Dimension{
		Name:     "preparation",
		Question: "How was the %s prepared?",
		Options:  []string{"grilled", "fried", "baked"},
		Template: "{option} {food}",
		Known:    []string{"grilled", "fried", "baked", "roasted", "rotisserie", "boiled", "steamed", "poached", "breaded", "smoked", "raw"},
	}

	return NewTablePolicy(map[string]VagueTerm{
		"chicken": {Dimensions: []Dimension{
			{
				Name:     "cut",
				Question: "Which cut of %s was it?",
				Options:  []string{"breast", "thigh", "wing"},
				Template: "{food} {option}",
				Known:    []string{"breast", "thigh", "wing", "drumstick", "leg", "whole", "tender", "nugget", "strip"},
			},
			prep,
		}},
		"fish": {Dimensions: []Dimension{
			{
				Name:     "kind",
				Question: "What kind of %s was it?",
				Options:  []string{"salmon", "cod", "tuna"},
				Template: "{option}",
			},
			prep,
		}},
		"rice": {Dimensions: []Dimension{{
			Name:     "kind",
			Question: "What kind of %s was it?",
			Options:  []string{"white", "brown", "fried"},
			Template: "{option} {food}",
			Known:    []string{"white", "brown", "fried", "jasmine", "basmati", "wild", "sticky"},
		}}},
		"pasta": {Dimensions: []Dimension{{
			Name:        "sauce",
			Question:    "What sauce was on the %s?",
			Options:     []string{"tomato sauce", "cream sauce", "pesto"},
			Template:    "{food} with {option}",
			AnyModifier: true,
		}}},
		"coffee": {Dimensions: []Dimension{{
			Name:        "style",
			Question:    "How did you take your %s?",
			Options:     []string{"black coffee", "coffee with milk", "latte"},
			Template:    "{option}",
			Known:       []string{"black", "milk", "cream", "latte", "espresso", "cappuccino", "iced"},
			AnyModifier: true,
		}}},
		"sandwich": {Dimensions: []Dimension{{
			Name:        "filling",
			Question:    "What was in the %s?",
			Options:     []string{"turkey", "ham", "peanut butter"},
			Template:    "{option} {food}",
			AnyModifier: true,
		}}},
		"salad": {Dimensions: []Dimension{{
			Name:        "kind",
			Question:    "What kind of %s was it?",
			Options:     []string{"garden salad", "caesar salad", "greek salad"},
			Template:    "{option}",
			AnyModifier: true,
		}}},
		"soup": {Dimensions: []Dimension{{
			Name:        "kind",
			Question:    "What kind of %s was it?",
			Options:     []string{"chicken noodle", "tomato", "vegetable"},
			Template:    "{option} {food}",
			AnyModifier: true,
		}}},
		"cereal": {Portion: true},
		"nuts":   {Portion: true},
		"chips":  {Portion: true},
	})
}

func (p *TablePolicy) Dimensions(food string, quantityStated bool) []Dimension {
	words := strings.Fields(strings.ToLower(food))
	if len(words) == 0 {
		return nil
	}
	head := words[len(words)-1]
	term, ok := p.terms[head]
	if !ok {
		return nil
	}

	var out []Dimension
	for _, d := range term.Dimensions {
		if d.settledBy(words) {
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 && term.Portion && !quantityStated {
		out = append(out, PortionDimension())
	}
	return out
}

// PortionDimension asks how many servings were eaten.
func PortionDimension() Dimension {
	return Dimension{
		Name:     "portion",
		Question: "How many servings of %s did you have?",
		Slider:   true,
	}
}

func (d Dimension) settledBy(words []string) bool {
	if d.AnyModifier && len(words) > 1 {
		return true
	}
	for _, w := range words {
		for _, k := range d.Known {
			if w == k || singularize(w) == k {
				return true
			}
		}
		for _, o := range d.Options {
			if w == o {
				return true
			}
		}
	}
	return false
}

// QuestionFor renders the dimension as a question about the candidate.
func (d Dimension) QuestionFor(c nutritionagent.FoodCandidate) nutritionagent.ClarificationQuestion {
	q := nutritionagent.ClarificationQuestion{
		FoodID:    c.ID,
		Dimension: d.Name,
		Question:  fmt.Sprintf(d.Question, c.Name),
	}
	if d.Slider {
		q.Type = nutritionagent.QuestionSlider
		q.SliderValue = 1
		return q
	}
	q.Type = nutritionagent.QuestionMultipleChoice
	q.Options = append([]string(nil), d.Options...)
	if len(q.Options) > nutritionagent.MaxQuestionOptions {
		q.Options = q.Options[:nutritionagent.MaxQuestionOptions]
	}
	return q
}

// Refine applies an answer to the food name.
func (d Dimension) Refine(food, answer string) string {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return food
	}
	if strings.Contains(strings.ToLower(answer), strings.ToLower(food)) {
		return answer
	}
	tmpl := d.Template
	if tmpl == "" {
		tmpl = "{option} {food}"
	}
	return strings.NewReplacer("{option}", answer, "{food}", food).Replace(tmpl)
}

// dimensionNamed finds the policy dimension behind a question, or a generic one.
func dimensionNamed(policy AmbiguityPolicy, food, name string) Dimension {
	for _, d := range policy.Dimensions(food, false) {
		if d.Name == name {
			return d
		}
	}
	if name == "portion" {
		return PortionDimension()
	}
	return Dimension{Name: name, Template: "{option} {food}"}
}
