package credits

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by a Repository when a user has no balance row.
	ErrNotFound = errors.New("credit balance not found")
	// ErrInvalidAmount rejects non-positive deposits.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// InsufficientCreditError blocks a non-negligible operation whose estimated
// cost exceeds the user's balance.
type InsufficientCreditError struct {
	UserID   string
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: estimated cost $%s, available $%s",
		e.Required.StringFixed(4), e.Balance.StringFixed(2))
}

// MeteringError reports a failed usage log or deduction. Ledger methods
// return it as a concrete pointer so callers decide, visibly, to ignore it.
type MeteringError struct {
	Op     string
	UserID string
	Err    error
}

func (e *MeteringError) Error() string {
	return fmt.Sprintf("metering %s for user %s: %v", e.Op, e.UserID, e.Err)
}

func (e *MeteringError) Unwrap() error { return e.Err }
