package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	offsetRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?|an?|one|two|three|four|five|six|seven|eight|nine|ten|half an?)\s+(hours?|hrs?|minutes?|mins?)\s+ago\b`)
	// "7pm", "at 7:30 am", "around 12:15". A bare number needs am/pm or minutes to count as a time.
	clockRe = regexp.MustCompile(`(?i)(?:\b(?:at|around|about)\s+)?\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b|\b(?:at|around|about)\s+(\d{1,2}):(\d{2})\b`)
)

// Hour of day for phrases that pin a meal time. The first match wins.
var hourPhrases = []struct {
	phrase string
	hour   int
}{
	{"last night", 21},
	{"this morning", 8},
	{"this afternoon", 14},
	{"this evening", 19},
	{"tonight", 19},
	{"dinner", 19},
	{"supper", 19},
	{"lunch", 12},
	{"breakfast", 8},
}

var numberWords = map[string]float64{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"half": 0.5, "half a": 0.5, "half an": 0.5, "a half": 0.5, "a couple of": 2, "couple of": 2, "a few": 3,
}

// ResolveTime turns the relative time phrase in text into an absolute time, relative to now.
// Without a phrase the result is now. The result has second precision.
func ResolveTime(text string, now time.Time) time.Time {
	lower := strings.ToLower(text)

	if m := offsetRe.FindStringSubmatch(lower); m != nil {
		n, ok := numberWords[m[1]]
		if !ok {
			n, _ = strconv.ParseFloat(m[1], 64)
		}
		unit := time.Hour
		if strings.HasPrefix(m[2], "m") {
			unit = time.Minute
		}
		return now.Add(-time.Duration(n * float64(unit))).Truncate(time.Second)
	}

	day := now
	if strings.Contains(lower, "yesterday") || strings.Contains(lower, "last night") {
		day = now.AddDate(0, 0, -1)
	}

	if hour, minute, ok := clockTime(lower); ok {
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
	}

	for _, p := range hourPhrases {
		if strings.Contains(lower, p.phrase) {
			return time.Date(day.Year(), day.Month(), day.Day(), p.hour, 0, 0, 0, now.Location())
		}
	}
	return day.Truncate(time.Second)
}

// stripTimePhrases removes time and meal references so they are not mistaken for foods.
var timePhraseRe = regexp.MustCompile(`(?i)\b(for|at|during|with|from|in)?\s*(my\s+)?(this morning|this afternoon|this evening|last night|tonight|yesterday'?s?|today'?s?|breakfast|brunch|lunch|dinner|supper|snack|earlier)\b`)

func stripTimePhrases(text string) string {
	text = offsetRe.ReplaceAllString(text, " ")
	text = clockRe.ReplaceAllString(text, " ")
	return timePhraseRe.ReplaceAllString(text, " ")
}

// clockTime reads a clock time such as "7pm" or "at 12:30" from lower-cased text.
func clockTime(lower string) (int, int, bool) {
	m := clockRe.FindStringSubmatch(lower)
	if m == nil {
		return 0, 0, false
	}
	h, mm, suffix := m[1], m[2], m[3]
	if h == "" {
		h, mm = m[4], m[5]
	}

	hour, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, false
	}
	minute := 0
	if mm != "" {
		if minute, err = strconv.Atoi(mm); err != nil {
			return 0, 0, false
		}
	}
	switch suffix {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}
