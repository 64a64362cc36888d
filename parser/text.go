package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	fillerRe   = regexp.MustCompile(`(?i)^\s*(i\s+)?(just\s+|also\s+)?(had|ate|have eaten|ve had|'ve had|drank|got|grabbed|eaten)\b\s*`)
	leadingRe  = regexp.MustCompile(`(?i)^\s*(i\s+had|i\s+ate|i've\s+had|i\s+drank|for|and|then|plus|also|was|were)\s+`)
	splitRe    = regexp.MustCompile(`(?i)\s*(?:,|;|\n|\band\b|&|\bplus\b|\bthen\b)\s*`)
	withRe     = regexp.MustCompile(`(?i)\s+with\s+`)
	articleRe  = regexp.MustCompile(`(?i)^(a|an|the|some|my|of)\s+`)
	fractionRe = regexp.MustCompile(`^(\d+)/(\d+)$`)
)

// Units understood by the parser, mapped to their canonical form.
var units = map[string]string{
	"g": "g", "gram": "g", "grams": "g", "gr": "g",
	"oz": "oz", "ounce": "oz", "ounces": "oz",
	"ml": "ml", "cup": "cup", "cups": "cup",
	"slice": "slice", "slices": "slice",
	"piece": "pieces", "pieces": "pieces",
	"bowl": "bowl", "bowls": "bowl",
	"serving": "serving", "servings": "serving",
	"tbsp": "tbsp", "tablespoon": "tbsp", "tablespoons": "tbsp",
	"tsp": "tsp", "teaspoon": "tsp", "teaspoons": "tsp",
	"glass": "glass", "glasses": "glass",
	"can": "can", "cans": "can",
	"plate": "plate", "plates": "plate",
	"handful": "handful", "handfuls": "handful",
	"scoop": "scoop", "scoops": "scoop",
}

// Words whose plural form is the usual name of the food.
var keepPlural = map[string]bool{
	"fries": true, "chips": true, "nuts": true, "oats": true, "grits": true, "hummus": true,
	"couscous": true, "asparagus": true, "nachos": true, "greens": true, "molasses": true,
	"brussels": true, "hash": true, "citrus": true, "swiss": true, "gas": true,
}

// Plurals of nouns ending in "ie".
var iePlural = map[string]bool{
	"cookies": true, "smoothies": true, "brownies": true, "pies": true, "veggies": true, "hoagies": true,
}

type quantity struct {
	value  float64
	unit   string
	stated bool
}

// Dishes whose name contains a separator word.
var compounds = []string{"mac and cheese", "macaroni and cheese", "peanut butter and jelly", "fish and chips", "bread and butter", "rice and beans", "salt and vinegar"}

// Foods usually named together with what they are served with, e.g. "coffee with milk".
var keepWith = map[string]bool{
	"coffee": true, "tea": true, "oatmeal": true, "porridge": true, "yogurt": true, "toast": true,
	"bagel": true, "pancakes": true, "waffles": true, "cereal": true, "pasta": true, "spaghetti": true,
}

// Seasonings and condiments assumed on a food rather than logged on their own.
var seasonings = map[string]bool{
	"salt": true, "pepper": true, "black pepper": true, "salt and pepper": true, "seasoning": true,
	"seasonings": true, "spice": true, "spices": true, "herb": true, "herbs": true,
	"garlic salt": true, "garlic powder": true, "onion powder": true, "paprika": true, "cinnamon": true,
	"oregano": true, "parsley": true, "chili flakes": true, "red pepper flakes": true, "cajun seasoning": true,
	"lemon": true, "lime": true, "lemon juice": true, "vinegar": true, "salt and vinegar": true,
	"hot sauce": true, "mustard": true,
}

// seasoningMark glues "with <seasonings>" to the food before it so the list split keeps them together.
const seasoningMark = "_with_"

// segment is one food of a list. seasoning holds what was folded into it, e.g. "salt and pepper".
type segment struct {
	food      string
	seasoning string
}

// description is the segment as the user phrased it.
func (s segment) description() string {
	if s.seasoning == "" {
		return s.food
	}
	return s.food + " with " + s.seasoning
}

// splitFoods breaks a food list into segments.
func splitFoods(text string) []segment {
	lower := strings.ToLower(text)
	for _, c := range compounds {
		for idx := strings.Index(lower, c); idx >= 0; idx = strings.Index(lower, c) {
			joined := strings.ReplaceAll(text[idx:idx+len(c)], " and ", "_and_")
			text = text[:idx] + joined + text[idx+len(c):]
			lower = strings.ToLower(text)
		}
	}
	text = glueSeasonings(text)

	var out []segment
	for _, part := range splitRe.Split(text, -1) {
		for _, seg := range splitWith(part) {
			seg = strings.TrimSpace(strings.Trim(seg, ".!?"))
			for {
				trimmed := leadingRe.ReplaceAllString(seg, "")
				trimmed = fillerRe.ReplaceAllString(trimmed, "")
				if trimmed == seg {
					break
				}
				seg = strings.TrimSpace(trimmed)
			}
			seg = strings.ReplaceAll(seg, "_and_", " and ")
			food, seasoning, _ := strings.Cut(seg, seasoningMark)
			food = strings.TrimSpace(food)
			if food != "" {
				out = append(out, segment{food: food, seasoning: strings.ReplaceAll(seasoning, "_", " ")})
			}
		}
	}
	return out
}

// glueSeasonings joins every "with" followed by seasonings to the food before it. Only the
// leading run of seasonings is glued; foods after them stay separate.
func glueSeasonings(text string) string {
	var b strings.Builder
	for {
		loc := withRe.FindStringIndex(text)
		if loc == nil {
			b.WriteString(text)
			return b.String()
		}
		tail := text[loc[1]:]
		n := seasoningSpan(tail)
		if n == 0 {
			b.WriteString(text[:loc[1]])
			text = tail
			continue
		}
		b.WriteString(text[:loc[0]])
		b.WriteString(seasoningMark)
		b.WriteString(strings.Join(strings.Fields(tail[:n]), "_"))
		text = tail[n:]
	}
}

// seasoningSpan returns the length of the leading list of seasonings in text, or 0.
func seasoningSpan(text string) int {
	end, start := 0, 0
	seps := splitRe.FindAllStringIndex(text, -1)
	for i := 0; i <= len(seps); i++ {
		stop := len(text)
		if i < len(seps) {
			stop = seps[i][0]
		}
		item := strings.ToLower(strings.Trim(strings.TrimSpace(text[start:stop]), ".!?"))
		item = strings.ReplaceAll(item, "_and_", " and ")
		if !seasonings[item] {
			break
		}
		end = stop
		if i < len(seps) {
			start = seps[i][1]
		}
	}
	return end
}

func splitWith(part string) []string {
	loc := withRe.FindStringIndex(part)
	if loc == nil {
		return []string{part}
	}
	before := strings.Fields(strings.ToLower(part[:loc[0]]))
	if len(before) > 0 && keepWith[before[len(before)-1]] {
		return []string{part}
	}
	return append([]string{part[:loc[0]]}, splitWith(part[loc[1]:])...)
}

// parseQuantity reads a leading amount and unit from a segment and returns the rest as the food name.
func parseQuantity(segment string) (quantity, string) {
	words := strings.Fields(segment)
	q := quantity{value: 1, unit: "serving"}
	if len(words) == 0 {
		return q, ""
	}

	i := 0
	unitSet := false
	first := strings.ToLower(words[0])
	switch {
	case len(words) > 1 && (first == "a" || first == "an") && units[strings.ToLower(words[1])] != "":
		q.value, q.stated, i = 1, true, 1
	default:
		if n, ok := parseNumber(first); ok {
			q.value, q.stated, i = n, true, 1
			break
		}
		if n, u, ok := splitNumberUnit(first); ok {
			q.value, q.unit, q.stated, i = n, u, true, 1
			unitSet = true
			break
		}
		for span := 3; span >= 1 && !q.stated; span-- {
			if len(words) <= span {
				continue
			}
			phrase := strings.ToLower(strings.Join(words[:span], " "))
			if n, ok := numberWords[phrase]; ok && phrase != "a" && phrase != "an" {
				q.value, q.stated, i = n, true, span
			}
		}
	}

	if q.stated && !unitSet && i < len(words) {
		if u, ok := units[strings.ToLower(words[i])]; ok {
			q.unit = u
			unitSet = true
			i++
		}
	}

	rest := strings.Join(words[i:], " ")
	rest = articleRe.ReplaceAllString(rest, "")
	rest = articleRe.ReplaceAllString(rest, "")

	if q.stated && !unitSet {
		q.unit = "pieces"
	}
	return q, strings.TrimSpace(rest)
}

func parseNumber(s string) (float64, bool) {
	if m := fractionRe.FindStringSubmatch(s); m != nil {
		num, _ := strconv.ParseFloat(m[1], 64)
		den, _ := strconv.ParseFloat(m[2], 64)
		if den == 0 {
			return 0, false
		}
		return num / den, true
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func splitNumberUnit(s string) (float64, string, bool) {
	idx := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) && r != '.' })
	if idx <= 0 {
		return 0, "", false
	}
	n, ok := parseNumber(s[:idx])
	if !ok {
		return 0, "", false
	}
	u, ok := units[s[idx:]]
	if !ok {
		return 0, "", false
	}
	return n, u, true
}

// singularize turns the last word of a food name into its singular form.
func singularize(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return name
	}
	last := words[len(words)-1]
	lower := strings.ToLower(last)

	switch {
	case keepPlural[lower], len(lower) <= 3:
	case iePlural[lower]:
		last = last[:len(last)-1]
	case strings.HasSuffix(lower, "ies"):
		last = last[:len(last)-3] + "y"
	case strings.HasSuffix(lower, "oes"),
		strings.HasSuffix(lower, "ches"),
		strings.HasSuffix(lower, "shes"),
		strings.HasSuffix(lower, "sses"),
		strings.HasSuffix(lower, "xes"):
		last = last[:len(last)-2]
	case strings.HasSuffix(lower, "ss"), strings.HasSuffix(lower, "us"), strings.HasSuffix(lower, "is"):
	case strings.HasSuffix(lower, "s"):
		last = last[:len(last)-1]
	}
	words[len(words)-1] = last
	return strings.Join(words, " ")
}

// isBranded reports whether a food is named after a brand or a place, e.g. "McDonald's fries",
// "Big Mac" or "KFC wings". A single capitalised word is not enough.
func isBranded(name string) bool {
	if strings.Contains(name, "'s ") || strings.Contains(name, "’s ") {
		return true
	}
	run := 0
	for _, w := range strings.Fields(name) {
		if isAcronym(w) {
			return true
		}
		r := []rune(w)
		if len(r) > 1 && unicode.IsUpper(r[0]) {
			run++
			if run >= 2 {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

func isAcronym(w string) bool {
	letters := 0
	for _, r := range w {
		switch {
		case unicode.IsLetter(r) && !unicode.IsUpper(r):
			return false
		case unicode.IsLetter(r):
			letters++
		}
	}
	return letters >= 2
}
