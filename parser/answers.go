package parser

import (
	"regexp"
	"strconv"
	"strings"

	"nutritionagent"
)

var (
	indexedAnswerRe = regexp.MustCompile(`(?i)answer\s*(\d+)\s*:\s*`)
	answerSplitRe   = regexp.MustCompile(`(?i)\s*(?:,|;|\n|\band\b|&)\s*`)
	optionRe        = regexp.MustCompile(`(?i)^(?:option\s*|#)?(\d+)$`)
	answerFillerRe  = regexp.MustCompile(`(?i)^(it was|it's|its|they were|i had|i think|probably|the|a|an)\s+`)
)

var nonAnswers = map[string]bool{"yes": true, "no": true, "ok": true, "okay": true, "sure": true, "idk": true, "not sure": true, "i don't know": true}

// MapAnswers assigns the parts of a free-text reply to open questions, by question index.
// Option text is matched first, then remaining parts fill remaining questions in order.
// Questions the reply does not answer are absent from the result.
func MapAnswers(reply string, questions []nutritionagent.ClarificationQuestion) map[int]string {
	answers := make(map[int]string)
	if len(questions) == 0 || strings.TrimSpace(reply) == "" {
		return answers
	}

	if indexed := indexedAnswers(reply); len(indexed) > 0 {
		for n, text := range indexed {
			if n < 1 || n > len(questions) {
				continue
			}
			if a, ok := answerFor(questions[n-1], text); ok {
				answers[n-1] = a
			}
		}
		return answers
	}

	parts := splitAnswer(reply)
	usedBy := make(map[int]string, len(parts))

	// Semantic pass: a part that names an option answers that question. A part may answer
	// several questions about the same food ("grilled breast").
	for qi, q := range questions {
		if q.Type != nutritionagent.QuestionMultipleChoice {
			continue
		}
		pick := func(allowUsed bool) bool {
			for pi, p := range parts {
				owner, used := usedBy[pi]
				if used && (!allowUsed || owner != q.FoodID) {
					continue
				}
				if opt, ok := optionMentioned(q.Options, p); ok {
					answers[qi] = opt
					usedBy[pi] = q.FoodID
					return true
				}
			}
			return false
		}
		if !pick(false) {
			pick(true)
		}
	}

	// Positional pass over what is left.
	next := 0
	for qi, q := range questions {
		if _, done := answers[qi]; done {
			continue
		}
		for next < len(parts) {
			if _, used := usedBy[next]; used {
				next++
				continue
			}
			break
		}
		if next >= len(parts) {
			break
		}
		if a, ok := answerFor(q, parts[next]); ok {
			answers[qi] = a
			usedBy[next] = q.FoodID
			next++
		}
	}
	return answers
}

func indexedAnswers(reply string) map[int]string {
	locs := indexedAnswerRe.FindAllStringSubmatchIndex(reply, -1)
	if len(locs) == 0 {
		return nil
	}
	out := make(map[int]string, len(locs))
	for i, loc := range locs {
		n, err := strconv.Atoi(reply[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		end := len(reply)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		text := strings.Trim(strings.TrimSpace(reply[loc[1]:end]), ",;.")
		if text != "" {
			out[n] = text
		}
	}
	return out
}

func splitAnswer(reply string) []string {
	var parts []string
	for _, p := range answerSplitRe.Split(reply, -1) {
		p = strings.TrimSpace(strings.Trim(p, ".!?"))
		p = answerFillerRe.ReplaceAllString(p, "")
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// answerFor interprets one reply part as an answer to q.
func answerFor(q nutritionagent.ClarificationQuestion, part string) (string, bool) {
	part = strings.TrimSpace(part)
	switch q.Type {
	case nutritionagent.QuestionSlider:
		n, ok := parseAmount(part)
		if !ok {
			return "", false
		}
		return strconv.FormatFloat(n, 'f', -1, 64), true
	default:
		if m := optionRe.FindStringSubmatch(part); m != nil {
			n, _ := strconv.Atoi(m[1])
			if n >= 1 && n <= len(q.Options) {
				return q.Options[n-1], true
			}
			return "", false
		}
		if opt, ok := optionMentioned(q.Options, part); ok {
			return opt, true
		}
		if nonAnswers[strings.ToLower(part)] {
			return "", false
		}
		// Free text is accepted as stated.
		return part, part != ""
	}
}

func optionMentioned(options []string, part string) (string, bool) {
	lp := strings.ToLower(part)
	for _, o := range options {
		lo := strings.ToLower(o)
		if containsWords(lp, lo) || (len(lp) >= 3 && containsWords(lo, lp)) {
			return o, true
		}
	}
	return "", false
}

// containsWords reports whether needle appears in s on word boundaries.
func containsWords(s, needle string) bool {
	if needle == "" {
		return false
	}
	for i := strings.Index(s, needle); i >= 0; {
		before := i == 0 || !isWordByte(s[i-1])
		end := i + len(needle)
		after := end == len(s) || !isWordByte(s[end])
		if before && after {
			return true
		}
		next := strings.Index(s[i+1:], needle)
		if next < 0 {
			break
		}
		i += next + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func parseAmount(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	if n, ok := parseNumber(fields[0]); ok {
		return n, true
	}
	for span := min(3, len(fields)); span >= 1; span-- {
		if n, ok := numberWords[strings.Join(fields[:span], " ")]; ok {
			return n, true
		}
	}
	return 0, false
}
