package services

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-docchat-rag/internal/credits"
	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// DefaultUsageWindow is the usage summary period when none is requested.
const DefaultUsageWindow = 30 * 24 * time.Hour

// Account is a user's balance with their most recent movements.
type Account struct {
	UserID       string                     `json:"user_id"`
	Balance      decimal.Decimal            `json:"balance" swaggertype:"string"`
	Transactions []domain.CreditTransaction `json:"transactions"`
}

// CreditService exposes balances, deposits and usage summaries.
type CreditService struct {
	Ledger *credits.Ledger
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Account returns the balance and the latest limit transactions.
func (s *CreditService) Account(ctx context.Context, userID string, limit int) (*Account, error) {
	bal, err := s.Ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	txns, err := s.Ledger.Transactions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []domain.CreditTransaction{}
	}
	return &Account{UserID: userID, Balance: bal, Transactions: txns}, nil
}

// Deposit parses amount and adds it to the balance.
func (s *CreditService) Deposit(ctx context.Context, userID, amount, reference string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return s.Ledger.AddCredits(ctx, userID, d, reference)
}

// Usage summarizes usage over the trailing window.
func (s *CreditService) Usage(ctx context.Context, userID string, window time.Duration) (credits.Summary, error) {
	if window <= 0 {
		window = DefaultUsageWindow
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.Ledger.UsageSummary(ctx, userID, now().UTC().Add(-window))
}
