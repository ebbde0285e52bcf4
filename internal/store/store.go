// Package store is the persistence boundary of the credits service: accounts,
// the credit transaction log, and sessions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/skillsy/backend/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist or a guarded update
	// matched nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict signals a lost optimistic lock, serialization failure or
	// deadlock. The whole transaction may be retried.
	ErrConflict = errors.New("store: conflict")
	// ErrDuplicate signals a unique constraint violation.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrUnavailable signals the backing store could not be reached.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is implemented by PostgresStore and MemoryStore.
type Store interface {
	// InTx runs fn inside one atomic unit. If fn returns an error nothing fn
	// did is kept.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetAccount(ctx context.Context, userID string) (*models.Account, error)
	// ListTransactions returns up to limit rows involving userID, newest first,
	// strictly after cursor when cursor is set.
	ListTransactions(ctx context.Context, userID string, cursor *models.TransactionCursor, limit int) ([]models.CreditTransaction, error)

	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	ListSessions(ctx context.Context, userID string, mode models.Mode) ([]models.Session, error)
	// ListUnsettledSessions returns completed sessions with a positive total and
	// no credit transaction referencing them.
	ListUnsettledSessions(ctx context.Context, limit int) ([]models.Session, error)
}

// Tx is the set of operations available inside Store.InTx.
type Tx interface {
	CreateAccount(ctx context.Context, acc *models.Account) (created bool, err error)
	// LockAccounts locks the given accounts in ascending id order and returns
	// them keyed by user id. A missing account yields ErrNotFound.
	LockAccounts(ctx context.Context, userIDs ...string) (map[string]*models.Account, error)
	// UpdateAccount writes balances if the stored version still equals
	// acc.Version, then bumps the version. A stale version yields ErrConflict.
	UpdateAccount(ctx context.Context, acc *models.Account) error
	InsertTransaction(ctx context.Context, t *models.CreditTransaction) error
	SessionPaid(ctx context.Context, sessionID string) (bool, error)

	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	// CompleteSession is the settlement compare-and-set: it moves the session
	// to completed only if mentorID is its mentor and it is still open.
	// Otherwise it returns ErrNotFound and changes nothing.
	CompleteSession(ctx context.Context, sessionID, mentorID string, at time.Time) (*models.Session, error)
	// TransitionSession moves the session to `to` only if its status is one
	// of from. Otherwise ErrNotFound.
	TransitionSession(ctx context.Context, sessionID string, from []models.SessionStatus, to models.SessionStatus) (*models.Session, error)
}

// Retryable reports whether err is worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable)
}
