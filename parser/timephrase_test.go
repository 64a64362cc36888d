package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveTime(t *testing.T) {
	now := time.Date(2025, 9, 28, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		text string
		want time.Time
	}{
		{name: "no phrase keeps now", text: "2 apples", want: now},
		{name: "breakfast", text: "2 apples for breakfast", want: time.Date(2025, 9, 28, 8, 0, 0, 0, time.UTC)},
		{name: "lunch", text: "salad for lunch", want: time.Date(2025, 9, 28, 12, 0, 0, 0, time.UTC)},
		{name: "yesterday keeps time of day", text: "pizza yesterday", want: time.Date(2025, 9, 27, 10, 0, 0, 0, time.UTC)},
		{name: "yesterday with meal", text: "pasta for lunch yesterday", want: time.Date(2025, 9, 27, 12, 0, 0, 0, time.UTC)},
		{name: "last night", text: "ice cream last night", want: time.Date(2025, 9, 27, 21, 0, 0, 0, time.UTC)},
		{name: "this morning", text: "eggs this morning", want: time.Date(2025, 9, 28, 8, 0, 0, 0, time.UTC)},
		{name: "this afternoon", text: "a bagel this afternoon", want: time.Date(2025, 9, 28, 14, 0, 0, 0, time.UTC)},
		{name: "this evening", text: "soup this evening", want: time.Date(2025, 9, 28, 19, 0, 0, 0, time.UTC)},
		{name: "dinner", text: "steak for dinner", want: time.Date(2025, 9, 28, 19, 0, 0, 0, time.UTC)},
		{name: "hours ago", text: "a banana 2 hours ago", want: time.Date(2025, 9, 28, 8, 0, 0, 0, time.UTC)},
		{name: "an hour ago", text: "coffee an hour ago", want: time.Date(2025, 9, 28, 9, 0, 0, 0, time.UTC)},
		{name: "minutes ago", text: "a cookie 30 minutes ago", want: time.Date(2025, 9, 28, 9, 30, 0, 0, time.UTC)},
		{name: "clock time", text: "a burger at 7pm", want: time.Date(2025, 9, 28, 19, 0, 0, 0, time.UTC)},
		{name: "clock time with minutes", text: "pizza at 11:30 yesterday", want: time.Date(2025, 9, 27, 11, 30, 0, 0, time.UTC)},
		{name: "clock time wins over meal", text: "eggs for breakfast around 7:15 am", want: time.Date(2025, 9, 28, 7, 15, 0, 0, time.UTC)},
		{name: "midnight", text: "chips at 12am", want: time.Date(2025, 9, 28, 0, 0, 0, 0, time.UTC)},
		{name: "case insensitive", text: "Toast for BREAKFAST", want: time.Date(2025, 9, 28, 8, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveTime(tt.text, now))
		})
	}
}

func TestResolveTime_SecondPrecision(t *testing.T) {
	now := time.Date(2025, 9, 28, 10, 15, 42, 123456789, time.UTC)
	got := ResolveTime("an apple", now)
	assert.Equal(t, time.Date(2025, 9, 28, 10, 15, 42, 0, time.UTC), got)
}

func TestStripTimePhrases(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{text: "I had a burger at 7pm", want: "I had a burger"},
		{text: "pizza at 11:30 yesterday", want: "pizza"},
		{text: "dinner yesterday was pizza", want: "was pizza"},
		{text: "2 eggs an hour ago", want: "2 eggs"},
		{text: "3 apples", want: "3 apples"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, strings.Join(strings.Fields(stripTimePhrases(tt.text)), " "))
		})
	}
}
