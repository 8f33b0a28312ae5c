package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-docchat-rag/internal/credits"
	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// CreditRepository stores balances, transactions and usage records in the
// user_credits, credit_transactions and token_usage tables. It implements
// credits.Repository.
type CreditRepository struct {
	DB *gorm.DB
}

var _ credits.Repository = CreditRepository{}

// EnsureBalance returns the user's balance, creating it with initial when
// the row does not exist yet. Concurrent first calls race on the primary
// key and the loser keeps the winner's row.
func (r CreditRepository) EnsureBalance(ctx context.Context, userID string, initial decimal.Decimal) (*domain.CreditBalance, error) {
	var b domain.CreditBalance
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return ensureBalance(tx, userID, initial, &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func ensureBalance(tx *gorm.DB, userID string, initial decimal.Decimal, out *domain.CreditBalance) error {
	row := domain.CreditBalance{UserID: userID, Balance: initial, LastUpdated: time.Now().UTC()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return err
	}
	return tx.Where("user_id = ?", userID).First(out).Error
}

// AdjustBalance adds delta to the balance with a single UPDATE expression
// and records txn in the same transaction.
func (r CreditRepository) AdjustBalance(ctx context.Context, userID string, delta, initial decimal.Decimal, txn domain.CreditTransaction) (decimal.Decimal, error) {
	var b domain.CreditBalance
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureBalance(tx, userID, initial, &b); err != nil {
			return err
		}
		res := tx.Model(&domain.CreditBalance{}).
			Where("user_id = ?", userID).
			Updates(map[string]any{
				"balance":      gorm.Expr("balance + ?", delta),
				"last_updated": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if txn.ID == "" {
			txn.ID = uuid.NewString()
		}
		if txn.CreatedAt.IsZero() {
			txn.CreatedAt = time.Now().UTC()
		}
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).First(&b).Error
	})
	if err != nil {
		return decimal.Zero, err
	}
	return b.Balance, nil
}

// InsertUsage appends one usage record.
func (r CreditRepository) InsertUsage(ctx context.Context, rec domain.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return r.DB.WithContext(ctx).Create(&rec).Error
}

// ListUsage returns userID's usage records created at or after since,
// oldest first.
func (r CreditRepository) ListUsage(ctx context.Context, userID string, since time.Time) ([]domain.UsageRecord, error) {
	var out []domain.UsageRecord
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListTransactions returns userID's transactions, newest first. A limit of
// zero or less returns all of them.
func (r CreditRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	q := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
