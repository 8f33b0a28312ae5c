package credits

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// MemoryRepository is an in-process Repository. It backs tests and
// single-process deployments that do not need a durable ledger.
type MemoryRepository struct {
	mu       sync.Mutex
	balances map[string]domain.CreditBalance
	txns     []domain.CreditTransaction
	usage    []domain.UsageRecord
	now      func() time.Time
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{balances: map[string]domain.CreditBalance{}, now: time.Now}
}

// EnsureBalance implements Repository.
func (m *MemoryRepository) EnsureBalance(_ context.Context, userID string, initial decimal.Decimal) (*domain.CreditBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.ensure(userID, initial)
	return &b, nil
}

func (m *MemoryRepository) ensure(userID string, initial decimal.Decimal) domain.CreditBalance {
	b, ok := m.balances[userID]
	if !ok {
		b = domain.CreditBalance{UserID: userID, Balance: initial, LastUpdated: m.now()}
		m.balances[userID] = b
	}
	return b
}

// AdjustBalance implements Repository.
func (m *MemoryRepository) AdjustBalance(_ context.Context, userID string, delta, initial decimal.Decimal, txn domain.CreditTransaction) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.ensure(userID, initial)
	b.Balance = b.Balance.Add(delta)
	b.LastUpdated = m.now()
	m.balances[userID] = b
	m.txns = append(m.txns, txn)
	return b.Balance, nil
}

// InsertUsage implements Repository.
func (m *MemoryRepository) InsertUsage(_ context.Context, rec domain.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, rec)
	return nil
}

// ListUsage implements Repository.
func (m *MemoryRepository) ListUsage(_ context.Context, userID string, since time.Time) ([]domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.UsageRecord
	for _, r := range m.usage {
		if r.UserID == userID && !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListTransactions implements Repository, newest first.
func (m *MemoryRepository) ListTransactions(_ context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CreditTransaction
	for _, t := range m.txns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Usage returns a copy of every recorded usage entry.
func (m *MemoryRepository) Usage() []domain.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.UsageRecord(nil), m.usage...)
}
