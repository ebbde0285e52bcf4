package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a teaching session.
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Open reports whether the session may still be completed or cancelled.
func (s SessionStatus) Open() bool {
	return s == SessionScheduled || s == SessionInProgress
}

// Session is a scheduled or finished engagement between a learner and a mentor.
type Session struct {
	ID          string          `json:"id" db:"id"`
	LearnerID   string          `json:"learner_id" db:"learner_id"`
	MentorID    string          `json:"mentor_id" db:"mentor_id"`
	Title       string          `json:"title" db:"title"`
	Description string          `json:"description" db:"description"`
	ScheduledAt time.Time       `json:"scheduled_at" db:"scheduled_at"`
	CreditsCost decimal.Decimal `json:"credits_cost" db:"credits_cost"`
	TipAmount   decimal.Decimal `json:"tip_amount" db:"tip_amount"`
	Status      SessionStatus   `json:"status" db:"status"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// Total is what the learner owes the mentor on completion.
func (s *Session) Total() decimal.Decimal {
	return s.CreditsCost.Add(s.TipAmount)
}

// PaymentKind is "tip" when a tip was added, otherwise a plain session payment.
func (s *Session) PaymentKind() TransactionKind {
	if s.TipAmount.IsPositive() {
		return KindTip
	}
	return KindSessionPayment
}

// PaymentDescription is the ledger description for the settlement transfer.
func (s *Session) PaymentDescription() string {
	if s.TipAmount.IsPositive() {
		return "Session payment + tip"
	}
	return "Session payment"
}

// HasParticipant reports whether userID is the learner or the mentor.
func (s *Session) HasParticipant(userID string) bool {
	return s.LearnerID == userID || s.MentorID == userID
}

// Mode is the side of the marketplace a user is looking from.
type Mode string

const (
	ModeLearner Mode = "learner"
	ModeMentor  Mode = "mentor"
)

// ParseMode accepts "learner" or "mentor"; empty defaults to learner.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeLearner:
		return ModeLearner, nil
	case ModeMentor:
		return ModeMentor, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}
