package services

import (
	"testing"

	"golang.org/x/text/language"
)

func TestIsPlaceholderTitle(t *testing.T) {
	for title, want := range map[string]bool{
		"":                   true,
		"   ":                true,
		"new conversation":   true,
		" Untitled ":         true,
		"Refund questions":   false,
		"New conversation 2": false,
	} {
		if got := isPlaceholderTitle(title); got != want {
			t.Errorf("isPlaceholderTitle(%q) = %v", title, got)
		}
	}
}

func TestTitleFromPrompt(t *testing.T) {
	cases := []struct {
		prompt string
		max    int
		want   string
	}{
		{"How long do refunds take?", 0, "Long Refunds Take"},
		{"what is the GDPR2016 rule for q3 exports", 0, "Gdpr2016 Rule Q3 Exports"},
		{"the a an of", 0, ""},
		{"one two three four five six seven eight nine ten", 0, "One Two Three Four Five Six Seven Eight"},
		{"summarize quarterly revenue", 12, "Summarize Qu"},
		{"résumé über straße", 0, "Résumé Über Straße"},
	}
	for _, tc := range cases {
		if got := titleFromPrompt(tc.prompt, language.Und, tc.max); got != tc.want {
			t.Errorf("titleFromPrompt(%q, %d) = %q, want %q", tc.prompt, tc.max, got, tc.want)
		}
	}
}
