// Package credits meters language-model usage against per-user balances.
//
// The ledger is fail-open. A balance lookup that fails lets the request
// through, and usage logging and deductions never fail the caller: they
// return a *MeteringError that the caller logs and otherwise ignores. Only
// the credit gate can block a request, and only when the estimated cost is
// above NegligibleCost and exceeds the balance.
//
// Balances are created lazily with InitialCredit on first lookup. Every
// deposit and deduction is mirrored by a CreditTransaction, and every model
// call (cache hits included, at zero cost) by an append-only UsageRecord.
package credits

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// NegligibleCost is the estimate at or below which the credit gate always
// allows a request, even over balance.
var NegligibleCost = decimal.RequireFromString("0.001")

// DefaultInitialCredit is granted to a user on first balance lookup.
var DefaultInitialCredit = decimal.NewFromInt(5)

// OperationChat labels usage produced by answering a question.
const OperationChat = "chat"

// Repository persists balances, transactions and the usage log.
type Repository interface {
	// EnsureBalance returns the user's balance row, creating it with
	// initial when absent.
	EnsureBalance(ctx context.Context, userID string, initial decimal.Decimal) (*domain.CreditBalance, error)
	// AdjustBalance atomically adds delta to the user's balance (creating
	// the row with initial first when absent), records txn, and returns the
	// new balance.
	AdjustBalance(ctx context.Context, userID string, delta, initial decimal.Decimal, txn domain.CreditTransaction) (decimal.Decimal, error)
	InsertUsage(ctx context.Context, rec domain.UsageRecord) error
	ListUsage(ctx context.Context, userID string, since time.Time) ([]domain.UsageRecord, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error)
}

// Ledger implements the credit operations over a Repository.
type Ledger struct {
	Repo          Repository
	InitialCredit decimal.Decimal
	Now           func() time.Time
	Log           zerolog.Logger
}

// NewLedger returns a Ledger granting DefaultInitialCredit.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{
		Repo:          repo,
		InitialCredit: DefaultInitialCredit,
		Now:           time.Now,
		Log:           zerolog.Nop(),
	}
}

func (l *Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	b, err := l.Repo.EnsureBalance(ctx, userID, l.InitialCredit)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Balance, nil
}

// CheckUserCredits gates a request on its estimated cost. It returns an
// *InsufficientCreditError only when estimatedCost > NegligibleCost and the
// balance is below it. Anonymous users and failed lookups are allowed.
func (l *Ledger) CheckUserCredits(ctx context.Context, userID string, estimatedCost decimal.Decimal) (bool, error) {
	if userID == "" || !estimatedCost.GreaterThan(NegligibleCost) {
		return true, nil
	}

	balance, err := l.Balance(ctx, userID)
	if err != nil {
		l.Log.Warn().Err(err).Str("user_id", userID).Msg("credit check failed, allowing request")
		return true, nil
	}

	if balance.LessThan(estimatedCost) {
		return false, &InsufficientCreditError{UserID: userID, Balance: balance, Required: estimatedCost}
	}
	return true, nil
}

// LogTokenUsage appends a usage record. Cache hits are recorded at zero
// cost. Failures are logged and returned, never raised.
func (l *Ledger) LogTokenUsage(ctx context.Context, userID string, inputTokens, outputTokens int, provider string, fromCache bool) *MeteringError {
	if userID == "" {
		return nil
	}
	if provider == "" {
		merr := &MeteringError{Op: "log_usage", UserID: userID, Err: errors.New("provider is required")}
		l.Log.Error().Err(merr).Msg("token usage not recorded")
		return merr
	}

	cost := decimal.Zero
	if !fromCache {
		cost = CalculateTokenCost(inputTokens+outputTokens, provider)
	}
	rec := domain.UsageRecord{
		ID:            uuid.NewString(),
		UserID:        userID,
		Provider:      provider,
		OperationType: OperationChat,
		TokensInput:   inputTokens,
		TokensOutput:  outputTokens,
		EstimatedCost: cost,
		FromCache:     fromCache,
		CreatedAt:     l.now(),
	}
	if err := l.Repo.InsertUsage(ctx, rec); err != nil {
		merr := &MeteringError{Op: "log_usage", UserID: userID, Err: err}
		l.Log.Error().Err(err).Str("user_id", userID).Str("provider", provider).Msg("token usage not recorded")
		return merr
	}
	return nil
}

// DeductUserCredits subtracts cost from the balance. It is a no-op for an
// empty user or a non-positive cost. Failures are logged and returned,
// never raised.
func (l *Ledger) DeductUserCredits(ctx context.Context, userID string, cost decimal.Decimal, reference string) *MeteringError {
	if userID == "" || !cost.IsPositive() {
		return nil
	}
	txn := domain.CreditTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    cost,
		Type:      domain.TransactionUsage,
		Status:    "completed",
		Reference: reference,
		CreatedAt: l.now(),
	}
	if _, err := l.Repo.AdjustBalance(ctx, userID, cost.Neg(), l.InitialCredit, txn); err != nil {
		l.Log.Warn().Err(err).Str("user_id", userID).Str("cost", cost.String()).Msg("credit deduction failed")
		return &MeteringError{Op: "deduct", UserID: userID, Err: err}
	}
	return nil
}

// AddCredits deposits amount and returns the new balance.
func (l *Ledger) AddCredits(ctx context.Context, userID string, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	txn := domain.CreditTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Type:      domain.TransactionDeposit,
		Status:    "completed",
		Reference: reference,
		CreatedAt: l.now(),
	}
	return l.Repo.AdjustBalance(ctx, userID, amount, l.InitialCredit, txn)
}

// Transactions lists the user's most recent balance movements.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	return l.Repo.ListTransactions(ctx, userID, limit)
}

// ProviderUsage aggregates usage for one provider.
type ProviderUsage struct {
	Provider     string          `json:"provider"`
	Requests     int             `json:"requests"`
	CacheHits    int             `json:"cache_hits"`
	TokensInput  int             `json:"tokens_input"`
	TokensOutput int             `json:"tokens_output"`
	Cost         decimal.Decimal `json:"cost" swaggertype:"string"`
}

func (p *ProviderUsage) add(r domain.UsageRecord) {
	p.Requests++
	p.TokensInput += r.TokensInput
	p.TokensOutput += r.TokensOutput
	p.Cost = p.Cost.Add(r.EstimatedCost)
	if r.FromCache {
		p.CacheHits++
	}
}

// Summary aggregates a user's usage since a point in time.
type Summary struct {
	Since        time.Time       `json:"since"`
	Requests     int             `json:"requests"`
	CacheHits    int             `json:"cache_hits"`
	TokensInput  int             `json:"tokens_input"`
	TokensOutput int             `json:"tokens_output"`
	TotalCost    decimal.Decimal `json:"total_cost" swaggertype:"string"`
	Providers    []ProviderUsage `json:"providers"`
}

// UsageSummary totals the usage log for userID since the given time,
// overall and per provider (sorted by provider name).
func (l *Ledger) UsageSummary(ctx context.Context, userID string, since time.Time) (Summary, error) {
	recs, err := l.Repo.ListUsage(ctx, userID, since)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{Since: since, TotalCost: decimal.Zero, Providers: []ProviderUsage{}}
	byProvider := map[string]*ProviderUsage{}
	for _, r := range recs {
		p, ok := byProvider[r.Provider]
		if !ok {
			p = &ProviderUsage{Provider: r.Provider, Cost: decimal.Zero}
			byProvider[r.Provider] = p
		}
		p.add(r)
		s.Requests++
		s.TokensInput += r.TokensInput
		s.TokensOutput += r.TokensOutput
		s.TotalCost = s.TotalCost.Add(r.EstimatedCost)
		if r.FromCache {
			s.CacheHits++
		}
	}

	for _, p := range byProvider {
		s.Providers = append(s.Providers, *p)
	}
	sort.Slice(s.Providers, func(i, j int) bool { return s.Providers[i].Provider < s.Providers[j].Provider })
	return s, nil
}
