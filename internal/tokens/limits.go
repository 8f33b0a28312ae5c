package tokens

import "strings"

// DefaultMaxTokens applies to providers without an entry in the limits table.
const DefaultMaxTokens = 1500

var providerMaxTokens = map[string]int{
	"openai":      2000,
	"anthropic":   4000,
	"deepseek":    2000,
	"huggingface": 1000,
	"mistral":     3000,
	"gemma":       2048,
	"google":      2048,
	"perplexity":  4000,
}

// MaxTokensForProvider returns the token budget for a provider name
// (case-insensitive).
func MaxTokensForProvider(provider string) int {
	if n, ok := providerMaxTokens[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return n
	}
	return DefaultMaxTokens
}

// Params are caller-supplied generation options.
type Params struct {
	MaxOutputTokens int
	Temperature     *float64
}

// Optimized is a prompt prepared for a provider call.
type Optimized struct {
	Prompt       string
	SystemPrompt string
	Params       Params
	// InputTokens estimates prompt plus system prompt after truncation.
	InputTokens int
	// MaxTokens is the provider budget used.
	MaxTokens int
	// Truncated reports whether the prompt was shortened.
	Truncated bool
}

// Optimize fits a prompt to the provider budget. When the estimated input
// (prompt plus system prompt) exceeds twice the provider budget, the prompt
// is truncated so the total fits that bound; the system prompt is never
// touched. MaxOutputTokens is clamped to the budget and defaults to it.
func Optimize(prompt, systemPrompt, provider string, p Params) Optimized {
	max := MaxTokensForProvider(provider)
	sys := Estimate(systemPrompt)

	out := Optimized{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Params:       p,
		MaxTokens:    max,
	}

	if Estimate(prompt)+sys > 2*max {
		budget := 2*max - sys
		if budget < 1 {
			budget = 1
		}
		out.Prompt = TruncateToMaxTokens(prompt, budget)
		out.Truncated = true
	}

	if out.Params.MaxOutputTokens <= 0 || out.Params.MaxOutputTokens > max {
		out.Params.MaxOutputTokens = max
	}
	out.InputTokens = Estimate(out.Prompt) + sys
	return out
}
