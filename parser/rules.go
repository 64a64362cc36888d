// Package parser turns user input into food candidates and clarification questions.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"nutritionagent"
	"nutritionagent/tools"
)

var (
	updateVerbRe  = regexp.MustCompile(`(?i)\b(remove|delete|drop|take out|didn't have|did not have|change|replace|swap|switch|update|make|move|add|also had|forgot)\b`)
	changeSplitRe = regexp.MustCompile(`(?i)\s+(to|with|for|into)\s+`)
	referenceRe   = regexp.MustCompile(`(?i)\s*\b(from|in|to|on|for|at|of)\s+(my|the|this|that|today'?s|yesterday'?s|last night'?s|breakfast|brunch|lunch|dinner|supper|snack|yesterday|today|this morning|last night)\b.*$`)
	forgotRe      = regexp.MustCompile(`(?i)^(?:(?:to\s+)?(?:add|log|mention|say)\s+(?:that\s+)?(?:i\s+had\s+)?|(?:to|about|that)\s*$)`)
)

// RuleParser extracts foods with deterministic text rules.
type RuleParser struct {
	policy AmbiguityPolicy
	meals  nutritionagent.MealFinder
}

func NewRuleParser(policy AmbiguityPolicy, meals nutritionagent.MealFinder) *RuleParser {
	if policy == nil {
		policy = NewDefaultPolicy()
	}
	return &RuleParser{policy: policy, meals: meals}
}

func (p *RuleParser) Parse(ctx context.Context, in nutritionagent.Input, intent nutritionagent.Intent, state nutritionagent.ConversationState) (nutritionagent.ParsedFoods, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	var (
		parsed nutritionagent.ParsedFoods
		err    error
	)
	switch intent.Type {
	case nutritionagent.IntentNewMeal:
		parsed, err = p.parseMeal(in.Text, now)
	case nutritionagent.IntentNeedsClarification:
		parsed, err = p.parseMeal(in.Text, now)
		if err == nil {
			parsed = clarifyAll(parsed)
		}
	case nutritionagent.IntentAnswerQuestion:
		parsed, err = ApplyAnswers(p.policy, in.Text, state)
	case nutritionagent.IntentUpdateMeal:
		parsed, err = p.parseUpdate(ctx, in.Text, state.UserID, now)
	default:
		err = fmt.Errorf("%w: unknown intent %q", nutritionagent.ErrParse, intent.Type)
	}
	if err != nil {
		return nutritionagent.ParsedFoods{}, err
	}
	if err := parsed.Validate(); err != nil {
		return nutritionagent.ParsedFoods{}, err
	}

	slog.Info("PARSER: Parsed input",
		"intent", intent.Type,
		"foods", len(parsed.Foods),
		"questions", len(parsed.Questions),
	)
	return parsed, nil
}

func (p *RuleParser) parseMeal(text string, now time.Time) (nutritionagent.ParsedFoods, error) {
	mealType := tools.MealTypeFromText(text)
	eatenAt := nutritionagent.NewTimestamp(ResolveTime(text, now))

	parsed := emptyParsed()
	for _, seg := range splitFoods(stripTimePhrases(text)) {
		c, branded, ok := p.candidate(seg, len(parsed.Foods)+1)
		if !ok {
			continue
		}
		c.MealType = mealType
		c.EatenAt = eatenAt
		parsed = p.withQuestions(parsed, c, branded)
	}

	if len(parsed.Foods) == 0 {
		return nutritionagent.ParsedFoods{}, fmt.Errorf("%w: no foods found in %q", nutritionagent.ErrParse, text)
	}
	return parsed, nil
}

// candidate builds a food from one segment. The ambiguity flag is set by withQuestions.
func (p *RuleParser) candidate(seg segment, n int) (nutritionagent.FoodCandidate, bool, bool) {
	qty, name := parseQuantity(seg.food)
	if name == "" {
		return nutritionagent.FoodCandidate{}, false, false
	}
	branded := isBranded(name)
	if !branded {
		name = singularize(strings.ToLower(name))
	}
	c := nutritionagent.FoodCandidate{
		ID:          foodID(n),
		Name:        name,
		Description: seg.description(),
		Quantity:    qty.value,
		Unit:        qty.unit,
	}
	return c, branded, true
}

// withQuestions appends c, flagging it when the policy needs more detail. Branded foods are
// taken as stated.
func (p *RuleParser) withQuestions(parsed nutritionagent.ParsedFoods, c nutritionagent.FoodCandidate, branded bool) nutritionagent.ParsedFoods {
	if !branded {
		stated := c.Unit != "serving" || c.Quantity != 1
		for _, d := range p.policy.Dimensions(c.Name, stated) {
			c.Ambiguous = true
			parsed.Questions = append(parsed.Questions, d.QuestionFor(c))
		}
	}
	parsed.Foods = append(parsed.Foods, c)
	return parsed
}

// clarifyAll holds every candidate back, asking for a portion where no detail is missing.
func clarifyAll(parsed nutritionagent.ParsedFoods) nutritionagent.ParsedFoods {
	for i, f := range parsed.Foods {
		if f.Ambiguous {
			continue
		}
		parsed.Foods[i].Ambiguous = true
		parsed.Questions = append(parsed.Questions, PortionDimension().QuestionFor(f))
	}
	return parsed
}

// ApplyAnswers resolves the pending candidates of the previous turn with the user's reply.
// Questions the reply leaves open are asked again.
func ApplyAnswers(policy AmbiguityPolicy, reply string, state nutritionagent.ConversationState) (nutritionagent.ParsedFoods, error) {
	if state.LastParsedFoods == nil || len(state.LastParsedFoods.Questions) == 0 {
		return nutritionagent.ParsedFoods{}, fmt.Errorf("%w: no open questions to answer", nutritionagent.ErrParse)
	}
	if policy == nil {
		policy = NewDefaultPolicy()
	}

	last := state.LastParsedFoods.Clone()
	answers := MapAnswers(reply, last.Questions)

	out := emptyParsed()
	out.Update = last.Update
	for _, f := range last.Foods {
		if !f.Ambiguous {
			out.Foods = append(out.Foods, f)
			continue
		}

		open := 0
		for qi, q := range last.Questions {
			if q.FoodID != f.ID {
				continue
			}
			a, ok := answers[qi]
			if !ok {
				out.Questions = append(out.Questions, q)
				open++
				continue
			}
			if q.Type == nutritionagent.QuestionSlider {
				if n, err := strconv.ParseFloat(a, 64); err == nil && n > 0 {
					f.Quantity = n
					f.Unit = "serving"
					if f.Op == nutritionagent.OpChange && !f.Touches(nutritionagent.FieldQuantity) {
						f.Touched = append(f.Touched, nutritionagent.FieldQuantity)
					}
				}
				continue
			}
			f.Name = dimensionNamed(policy, f.Name, q.Dimension).Refine(f.Name, a)
			if f.Op == nutritionagent.OpChange && !f.Touches(nutritionagent.FieldName) {
				f.Touched = append(f.Touched, nutritionagent.FieldName)
			}
		}
		f.Ambiguous = open > 0
		out.Foods = append(out.Foods, f)
	}

	slog.Info("PARSER: Applied answers", "answered", len(answers), "still_open", len(out.Questions))
	return out, nil
}

func (p *RuleParser) parseUpdate(ctx context.Context, text, userID string, now time.Time) (nutritionagent.ParsedFoods, error) {
	if p.meals == nil {
		return nutritionagent.ParsedFoods{}, fmt.Errorf("%w: no meal lookup configured", nutritionagent.ErrParse)
	}

	clauses := updateClauses(text)
	lookup, err := p.meals.Find(ctx, referenceText(text, clauses), userID, now)
	if err != nil {
		return nutritionagent.ParsedFoods{}, fmt.Errorf("failed to find referenced meal: %w", err)
	}

	parsed := emptyParsed()
	parsed.Update = &nutritionagent.UpdateBatch{Reference: text, Found: lookup.Found, Items: lookup.Items}
	if !lookup.Found {
		slog.Info("PARSER: No stored meal matches reference", "reference", text)
		return parsed, nil
	}

	for _, cl := range clauses {
		parsed = p.updateOps(parsed, cl, lookup.Items)
	}
	if len(parsed.Foods) == 0 {
		return nutritionagent.ParsedFoods{}, fmt.Errorf("%w: no change, add or remove found in %q", nutritionagent.ErrParse, text)
	}
	return parsed, nil
}

type clause struct {
	verb string
	body string
	// left and right of a change ("X to Y"); empty for other verbs.
	left, right string
}

func updateClauses(text string) []clause {
	locs := updateVerbRe.FindAllStringIndex(text, -1)
	out := make([]clause, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		body = strings.TrimSpace(strings.TrimSuffix(strings.TrimRight(body, ",;. "), " and"))
		cl := clause{verb: strings.ToLower(text[loc[0]:loc[1]]), body: body}
		if isChangeVerb(cl.verb) {
			if m := changeSplitRe.FindStringIndex(body); m != nil {
				cl.left, cl.right = body[:m[0]], body[m[1]:]
			}
		}
		out = append(out, cl)
	}
	return out
}

// referenceText drops meal names that are the destination of a move, so "move the eggs to
// dinner" looks up the meal the eggs are in.
func referenceText(text string, clauses []clause) string {
	ref := text
	for _, cl := range clauses {
		if cl.right == "" {
			continue
		}
		if isBareMealType(cl.right) {
			ref = strings.Replace(ref, cl.body, cl.left, 1)
		}
	}
	return ref
}

func isChangeVerb(v string) bool {
	switch v {
	case "change", "replace", "swap", "switch", "update", "make", "move":
		return true
	}
	return false
}

func isBareMealType(s string) bool {
	return tools.MealTypeFromText(s) != "" && strings.TrimSpace(stripTimePhrases(stripReference(s))) == ""
}

func stripReference(s string) string {
	s = referenceRe.ReplaceAllString(s, "")
	s = articleRe.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.TrimSpace(s)
}

func (p *RuleParser) updateOps(parsed nutritionagent.ParsedFoods, cl clause, items []nutritionagent.NutritionRecord) nutritionagent.ParsedFoods {
	switch {
	case isChangeVerb(cl.verb):
		c, ok := p.changeOp(cl, items, len(parsed.Foods)+1)
		if !ok {
			slog.Warn("PARSER: Could not apply change", "clause", cl.body)
			return parsed
		}
		if c.Touches(nutritionagent.FieldName) {
			return p.withQuestions(parsed, c, false)
		}
		parsed.Foods = append(parsed.Foods, c)

	case cl.verb == "add" || cl.verb == "also had" || cl.verb == "forgot":
		body := forgotRe.ReplaceAllString(stripReference(cl.body), "")
		for _, seg := range splitFoods(stripTimePhrases(body)) {
			c, branded, ok := p.candidate(seg, len(parsed.Foods)+1)
			if !ok {
				continue
			}
			c.Op = nutritionagent.OpAdd
			c.MealType = items[0].MealType
			c.EatenAt = items[0].EatenAt
			parsed = p.withQuestions(parsed, c, branded)
		}

	default:
		_, name := parseQuantity(stripReference(cl.body))
		item, ok := matchItem(items, name)
		if !ok {
			slog.Warn("PARSER: Nothing to remove matches", "food", name)
			return parsed
		}
		c := fromRecord(item, len(parsed.Foods)+1)
		c.Op = nutritionagent.OpRemove
		parsed.Foods = append(parsed.Foods, c)
	}
	return parsed
}

func (p *RuleParser) changeOp(cl clause, items []nutritionagent.NutritionRecord, n int) (nutritionagent.FoodCandidate, bool) {
	if cl.right == "" {
		return nutritionagent.FoodCandidate{}, false
	}
	_, target := parseQuantity(stripReference(cl.left))
	item, ok := matchItem(items, target)
	if !ok {
		return nutritionagent.FoodCandidate{}, false
	}

	c := fromRecord(item, n)
	c.Op = nutritionagent.OpChange

	if isBareMealType(cl.right) {
		c.MealType = tools.MealTypeFromText(cl.right)
		c.Touched = []string{nutritionagent.FieldMealType}
		return c, true
	}

	qty, name := parseQuantity(stripReference(cl.right))
	if name != "" && !sameFood(name, item.Name) {
		c.Name = singularize(strings.ToLower(name))
		c.Description = cl.right
		c.Touched = append(c.Touched, nutritionagent.FieldName)
	}
	if qty.stated {
		c.Quantity = qty.value
		c.Unit = qty.unit
		c.Touched = append(c.Touched, nutritionagent.FieldQuantity)
	}
	return c, len(c.Touched) > 0
}

func fromRecord(r nutritionagent.NutritionRecord, n int) nutritionagent.FoodCandidate {
	qty := r.ServingSize
	if qty <= 0 {
		qty = 1
	}
	return nutritionagent.FoodCandidate{
		ID:       foodID(n),
		Name:     r.Name,
		MealType: r.MealType,
		Quantity: qty,
		Unit:     "serving",
		EatenAt:  r.EatenAt,
		TargetID: r.ID,
	}
}

// matchItem finds the stored record a food name refers to: exact name first, then containment,
// then a shared word.
func matchItem(items []nutritionagent.NutritionRecord, name string) (nutritionagent.NutritionRecord, bool) {
	want := singularize(strings.ToLower(strings.TrimSpace(name)))
	if want == "" {
		return nutritionagent.NutritionRecord{}, false
	}
	for _, it := range items {
		if sameFood(it.Name, want) {
			return it, true
		}
	}
	for _, it := range items {
		have := singularize(strings.ToLower(it.Name))
		if strings.Contains(have, want) || strings.Contains(want, have) {
			return it, true
		}
	}
	for _, it := range items {
		for _, w := range strings.Fields(want) {
			if len(w) > 2 && containsWords(singularize(strings.ToLower(it.Name)), w) {
				return it, true
			}
		}
	}
	return nutritionagent.NutritionRecord{}, false
}

func sameFood(a, b string) bool {
	return singularize(strings.ToLower(strings.TrimSpace(a))) == singularize(strings.ToLower(strings.TrimSpace(b)))
}

func foodID(n int) string {
	return "food-" + strconv.Itoa(n)
}

func emptyParsed() nutritionagent.ParsedFoods {
	return nutritionagent.ParsedFoods{
		Foods:     []nutritionagent.FoodCandidate{},
		Questions: []nutritionagent.ClarificationQuestion{},
	}
}
