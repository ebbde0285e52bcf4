package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds the credit balance of one user. It is created at signup and
// only ever mutated by the credit ledger.
type Account struct {
	UserID      string          `json:"user_id" db:"user_id"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	TotalEarned decimal.Decimal `json:"total_earned" db:"total_earned"`
	TotalSpent  decimal.Decimal `json:"total_spent" db:"total_spent"`
	Version     int             `json:"-" db:"version"` // for optimistic locking
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Debit moves amount out of the account and books it as spent.
func (a *Account) Debit(amount decimal.Decimal) {
	a.Balance = a.Balance.Sub(amount)
	a.TotalSpent = a.TotalSpent.Add(amount)
}

// Credit moves amount into the account and books it as earned.
func (a *Account) Credit(amount decimal.Decimal) {
	a.Balance = a.Balance.Add(amount)
	a.TotalEarned = a.TotalEarned.Add(amount)
}

// Covers reports whether the balance can pay amount without going negative.
func (a *Account) Covers(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
