package credits

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Per-token rates in USD, averaged over input and output.
var (
	RateGPT4        = decimal.RequireFromString("0.00003")
	RateGPT3        = decimal.RequireFromString("0.000005")
	RateClaude      = decimal.RequireFromString("0.00002")
	RateMistral     = decimal.RequireFromString("0.000007")
	RateHuggingFace = decimal.RequireFromString("0.000002")
	RateDeepSeek    = decimal.RequireFromString("0.000008")
	RateDefault     = decimal.RequireFromString("0.00001")
)

// costTable is matched in order; the first bucket with a substring found in
// the provider/model name wins.
var costTable = []struct {
	match []string
	rate  decimal.Decimal
}{
	{[]string{"gpt-4"}, RateGPT4},
	{[]string{"gpt-3"}, RateGPT3},
	{[]string{"claude"}, RateClaude},
	{[]string{"mistral"}, RateMistral},
	{[]string{"hugging", "hf"}, RateHuggingFace},
	{[]string{"deepseek"}, RateDeepSeek},
}

// CostPerToken resolves a provider or model name (case-insensitive) to its
// per-token rate, falling back to RateDefault.
func CostPerToken(provider string) decimal.Decimal {
	p := strings.ToLower(provider)
	for _, bucket := range costTable {
		for _, m := range bucket.match {
			if strings.Contains(p, m) {
				return bucket.rate
			}
		}
	}
	return RateDefault
}

// CalculateTokenCost returns totalTokens × CostPerToken(provider).
func CalculateTokenCost(totalTokens int, provider string) decimal.Decimal {
	if totalTokens <= 0 {
		return decimal.Zero
	}
	return CostPerToken(provider).Mul(decimal.NewFromInt(int64(totalTokens)))
}

// RateName is the pricing key a provider/model string is billed under. The
// orchestrator bills by model when one is set so "gpt-4o" and "gpt-3.5"
// under the same provider are priced differently.
func RateName(provider, model string) string {
	if model == "" {
		return provider
	}
	return provider + "/" + model
}
