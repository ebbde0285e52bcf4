package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies a credit transfer.
type TransactionKind string

const (
	KindSessionPayment TransactionKind = "session_payment"
	KindTip            TransactionKind = "tip"
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	return k == KindSessionPayment || k == KindTip
}

// CreditTransaction is one immutable row of the credit ledger. Every balance
// change is paired with exactly one of these.
type CreditTransaction struct {
	ID          string          `json:"id" db:"id"`
	FromUserID  string          `json:"from_user_id" db:"from_user_id"`
	ToUserID    string          `json:"to_user_id" db:"to_user_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Kind        TransactionKind `json:"transaction_type" db:"transaction_type"`
	SessionID   *string         `json:"session_id,omitempty" db:"session_id"`
	Description string          `json:"description" db:"description"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Involves reports whether userID sent or received the transfer.
func (t *CreditTransaction) Involves(userID string) bool {
	return t.FromUserID == userID || t.ToUserID == userID
}

// TransactionCursor marks a position in a user's history, newest first.
type TransactionCursor struct {
	CreatedAt time.Time
	ID        string
}
