package credits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCostPerToken(t *testing.T) {
	cases := map[string]decimal.Decimal{
		"gpt-4o":                   RateGPT4,
		"openai/gpt-4o-mini":       RateGPT4,
		"gpt-3.5-turbo":            RateGPT3,
		"anthropic/claude-3-haiku": RateClaude,
		"Mistral-large":            RateMistral,
		"huggingface":              RateHuggingFace,
		"hf-inference":             RateHuggingFace,
		"deepseek-chat":            RateDeepSeek,
		"perplexity":               RateDefault,
		"":                         RateDefault,
	}
	for p, want := range cases {
		assert.True(t, want.Equal(CostPerToken(p)), "%s: got %s want %s", p, CostPerToken(p), want)
	}
}

func TestCalculateTokenCost(t *testing.T) {
	assert.Equal(t, "0.03", CalculateTokenCost(1000, "gpt-4").String())
	assert.True(t, CalculateTokenCost(0, "gpt-4").IsZero())
	assert.True(t, CalculateTokenCost(-5, "gpt-4").IsZero())
}

func newLedgerWithBalance(t *testing.T, user string, balance string) (*Ledger, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	l := NewLedger(repo)
	l.InitialCredit = d(balance)
	_, err := l.Balance(context.Background(), user)
	require.NoError(t, err)
	return l, repo
}

func TestCheckUserCredits_Gate(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedgerWithBalance(t, "u", "1.00")

	ok, err := l.CheckUserCredits(ctx, "u", d("0.0005"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.CheckUserCredits(ctx, "u", d("0.50"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.CheckUserCredits(ctx, "u", d("2.00"))
	assert.False(t, ok)
	var ice *InsufficientCreditError
	require.ErrorAs(t, err, &ice)
	assert.True(t, ice.Balance.Equal(d("1")))
	assert.True(t, ice.Required.Equal(d("2")))
}

func TestCheckUserCredits_NegligibleCostAllowedOverBalance(t *testing.T) {
	l, _ := newLedgerWithBalance(t, "u", "0")
	ok, err := l.CheckUserCredits(context.Background(), "u", NegligibleCost)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckUserCredits_AnonymousAllowed(t *testing.T) {
	l := NewLedger(NewMemoryRepository())
	ok, err := l.CheckUserCredits(context.Background(), "", d("100"))
	require.NoError(t, err)
	assert.True(t, ok)
}

type brokenRepo struct{ *MemoryRepository }

var errStore = errors.New("store offline")

func (brokenRepo) EnsureBalance(context.Context, string, decimal.Decimal) (*domain.CreditBalance, error) {
	return nil, errStore
}

func (brokenRepo) AdjustBalance(context.Context, string, decimal.Decimal, decimal.Decimal, domain.CreditTransaction) (decimal.Decimal, error) {
	return decimal.Zero, errStore
}

func (brokenRepo) InsertUsage(context.Context, domain.UsageRecord) error { return errStore }

func TestLedger_FailOpen(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(brokenRepo{NewMemoryRepository()})

	ok, err := l.CheckUserCredits(ctx, "u", d("50"))
	require.NoError(t, err)
	assert.True(t, ok)

	merr := l.LogTokenUsage(ctx, "u", 10, 10, "openai", false)
	require.NotNil(t, merr)
	assert.Equal(t, "log_usage", merr.Op)
	assert.ErrorIs(t, merr, errStore)

	merr = l.DeductUserCredits(ctx, "u", d("0.1"), "")
	require.NotNil(t, merr)
	assert.Equal(t, "deduct", merr.Op)
}

func TestLogTokenUsage(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	l := NewLedger(repo)

	require.Nil(t, l.LogTokenUsage(ctx, "u", 600, 400, "gpt-4o", false))
	require.Nil(t, l.LogTokenUsage(ctx, "u", 600, 400, "gpt-4o", true))
	require.Nil(t, l.LogTokenUsage(ctx, "", 1, 1, "gpt-4o", false))
	assert.NotNil(t, l.LogTokenUsage(ctx, "u", 1, 1, "", false))

	usage := repo.Usage()
	require.Len(t, usage, 2)
	assert.Equal(t, "0.03", usage[0].EstimatedCost.String())
	assert.Equal(t, OperationChat, usage[0].OperationType)
	assert.True(t, usage[1].FromCache)
	assert.True(t, usage[1].EstimatedCost.IsZero())
}

func TestDeductAndAddCredits(t *testing.T) {
	ctx := context.Background()
	l, repo := newLedgerWithBalance(t, "u", "5")

	assert.Nil(t, l.DeductUserCredits(ctx, "u", decimal.Zero, ""))
	assert.Nil(t, l.DeductUserCredits(ctx, "u", d("-1"), ""))
	assert.Nil(t, l.DeductUserCredits(ctx, "", d("1"), ""))
	assert.Nil(t, l.DeductUserCredits(ctx, "u", d("0.25"), "msg-1"))

	bal, err := l.Balance(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "4.75", bal.String())

	bal, err = l.AddCredits(ctx, "u", d("10"), "topup")
	require.NoError(t, err)
	assert.Equal(t, "14.75", bal.String())

	_, err = l.AddCredits(ctx, "u", d("0"), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	txns, err := repo.ListTransactions(ctx, "u", 0)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	types := []string{txns[0].Type, txns[1].Type}
	assert.ElementsMatch(t, []string{domain.TransactionUsage, domain.TransactionDeposit}, types)
}

func TestDeduct_CreatesBalanceWithInitialCredit(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(NewMemoryRepository())

	assert.Nil(t, l.DeductUserCredits(ctx, "new-user", d("1"), ""))
	bal, err := l.Balance(ctx, "new-user")
	require.NoError(t, err)
	assert.Equal(t, "4", bal.String())
}

func TestUsageSummary(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	l := NewLedger(repo)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return base }

	_ = l.LogTokenUsage(ctx, "u", 100, 0, "gpt-4", false)
	l.Now = func() time.Time { return base.Add(time.Hour) }
	_ = l.LogTokenUsage(ctx, "u", 100, 100, "gpt-4", true)
	_ = l.LogTokenUsage(ctx, "u", 50, 50, "claude", false)
	_ = l.LogTokenUsage(ctx, "other", 50, 50, "claude", false)

	s, err := l.UsageSummary(ctx, "u", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Requests)
	assert.Equal(t, 1, s.CacheHits)
	assert.Equal(t, 150, s.TokensInput)
	assert.Equal(t, "0.002", s.TotalCost.String())
	require.Len(t, s.Providers, 2)
	assert.Equal(t, "claude", s.Providers[0].Provider)
	assert.Equal(t, "gpt-4", s.Providers[1].Provider)
	assert.Equal(t, 1, s.Providers[1].CacheHits)
}
