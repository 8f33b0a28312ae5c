package services

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const titleMaxWords = 8

// letters optionally followed by digits, so "q3" and "gdpr2016" stay whole
var titleWordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

var titleStopWords = func() map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(`
		a an and are as at be by can do does for from how i in is it
		my of on or that the this to was were what with`) {
		m[w] = true
	}
	return m
}()

// isPlaceholderTitle reports whether a conversation still carries one of the
// titles assigned when the caller gave none.
func isPlaceholderTitle(title string) bool {
	t := strings.TrimSpace(title)
	return t == "" || strings.EqualFold(t, defaultTitleNew) || strings.EqualFold(t, defaultTitleUntitled)
}

// titleFromPrompt keeps the first few content words of a question, title
// cased for tag and clipped to maxRunes. It returns "" when nothing is left.
func titleFromPrompt(prompt string, tag language.Tag, maxRunes int) string {
	if tag == language.Und {
		tag = language.English
	}
	caser := cases.Title(tag)

	var words []string
	for _, w := range titleWordRE.FindAllString(strings.ToLower(prompt), -1) {
		if titleStopWords[w] {
			continue
		}
		words = append(words, caser.String(w))
		if len(words) == titleMaxWords {
			break
		}
	}
	if maxRunes <= 0 {
		maxRunes = 60
	}
	return strings.TrimSpace(clipRunes(strings.Join(words, " "), maxRunes))
}
