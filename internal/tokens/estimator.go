// Package tokens approximates token counts from character counts and keeps
// prompts inside per-provider budgets.
//
// Estimates use a fixed tokens-per-character factor (0.25, roughly four
// characters per token). Truncation cuts at the last sentence end when one is
// close enough to the limit, otherwise at the last word boundary, otherwise
// hard, in that order.
package tokens

import (
	"math"
	"unicode/utf8"
)

// DefaultFactor is the default tokens-per-character ratio.
const DefaultFactor = 0.25

// Ellipsis marks a word or hard cut.
const Ellipsis = "..."

// sentenceCutRatio is how far into the limit a period must sit to be used as
// the cut point.
const sentenceCutRatio = 0.7

// EstimateTokenCount returns ceil(chars * factor). Non-positive factors use
// DefaultFactor.
func EstimateTokenCount(text string, factor float64) int {
	if text == "" {
		return 0
	}
	if factor <= 0 {
		factor = DefaultFactor
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) * factor))
}

// Estimate is EstimateTokenCount with DefaultFactor.
func Estimate(text string) int { return EstimateTokenCount(text, DefaultFactor) }

// CharLimit converts a token budget to a character budget.
func CharLimit(maxTokens int) int {
	if maxTokens <= 0 {
		return 0
	}
	return int(math.Floor(float64(maxTokens) / DefaultFactor))
}

// TruncateToMaxTokens shortens text so its estimate fits maxTokens. Text
// already within the limit is returned unchanged. A non-positive budget
// yields "".
//
// The word-level cut only considers spaces that leave room for the ellipsis
// inside the limit, so applying the function twice gives the same result as
// applying it once.
func TruncateToMaxTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := CharLimit(maxTokens)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	head := runes[:limit]

	if i := lastIndexRune(head, '.'); i >= 0 && float64(i) > float64(limit)*sentenceCutRatio {
		return string(runes[:i+1])
	}

	roomForEllipsis := limit - utf8.RuneCountInString(Ellipsis)
	if roomForEllipsis > 0 {
		if i := lastIndexRune(head[:roomForEllipsis], ' '); i > 0 {
			return string(runes[:i]) + Ellipsis
		}
	}

	return string(head) + Ellipsis
}

func lastIndexRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}
