package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/skillsy/backend/internal/store"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive with at most two decimal places")
	ErrSelfTransfer        = errors.New("cannot transfer credits to yourself")
	ErrInvalidKind         = errors.New("unknown transaction kind")
	ErrInvalidUser         = errors.New("user id is required")
	ErrInvalidCursor       = errors.New("invalid cursor")
	ErrAccountNotFound     = errors.New("credit account not found")
	ErrInsufficientFunds   = errors.New("insufficient balance")
	ErrDuplicateSettlement = errors.New("session already has a settlement transaction")
	ErrTransientStore      = errors.New("store temporarily unavailable")

	ErrSessionNotFound     = errors.New("session not found")
	ErrForbidden           = errors.New("not allowed to act on this session")
	ErrAlreadyCompleted    = errors.New("session already completed")
	ErrSessionCancelled    = errors.New("session was cancelled")
	ErrInvalidTransition   = errors.New("session cannot make this transition")
	ErrSessionNotCompleted = errors.New("session is not completed")
	ErrAlreadySettled      = errors.New("session already settled")
	ErrSettlementPending   = errors.New("session completed but settlement is pending")
)

// SettlementPendingError reports a session that reached completed while its
// ledger transfer did not commit. It matches ErrSettlementPending and unwraps
// to the transfer failure, e.g. ErrInsufficientFunds.
type SettlementPendingError struct {
	SessionID string
	Cause     error
}

func (e *SettlementPendingError) Error() string {
	return fmt.Sprintf("settlement pending for session %s: %v", e.SessionID, e.Cause)
}

func (e *SettlementPendingError) Is(target error) bool {
	return target == ErrSettlementPending
}

func (e *SettlementPendingError) Unwrap() error {
	return e.Cause
}

var domainErrors = []error{
	ErrInvalidAmount, ErrSelfTransfer, ErrInvalidKind, ErrInvalidUser, ErrInvalidCursor,
	ErrAccountNotFound, ErrInsufficientFunds, ErrDuplicateSettlement, ErrTransientStore,
	ErrSessionNotFound, ErrForbidden, ErrAlreadyCompleted, ErrSessionCancelled,
	ErrInvalidTransition, ErrSessionNotCompleted, ErrAlreadySettled, ErrSettlementPending,
}

// translateStoreError maps store failures into the service taxonomy. Domain
// errors and context cancellation pass through untouched.
func translateStoreError(err error) error {
	if err == nil {
		return nil
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrDuplicateSettlement, err)
	}
	return fmt.Errorf("%w: %v", ErrTransientStore, err)
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore) && !errors.Is(err, ErrSettlementPending)
}
