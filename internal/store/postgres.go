package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/skillsy/backend/internal/models"
)

const (
	accountColumns     = `user_id, balance, total_earned, total_spent, version, created_at, updated_at`
	transactionColumns = `id, from_user_id, to_user_id, amount, transaction_type, session_id, description, created_at`
	sessionColumns     = `id, learner_id, mentor_id, title, description, scheduled_at, credits_cost, tip_amount, status, completed_at`
)

// PostgresStore implements Store on top of lib/pq.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "postgres")}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	return mapError(tx.Commit())
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var acc models.Account
	err := s.db.GetContext(ctx, &acc, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return &acc, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, cursor *models.TransactionCursor, limit int) ([]models.CreditTransaction, error) {
	var (
		txs []models.CreditTransaction
		err error
	)
	if cursor == nil {
		err = s.db.SelectContext(ctx, &txs, `
			SELECT `+transactionColumns+`
			FROM credit_transactions
			WHERE from_user_id = $1 OR to_user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, userID, limit)
	} else {
		err = s.db.SelectContext(ctx, &txs, `
			SELECT `+transactionColumns+`
			FROM credit_transactions
			WHERE (from_user_id = $1 OR to_user_id = $1)
			  AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, userID, cursor.CreatedAt, cursor.ID, limit)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return txs, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var sess models.Session
	err := s.db.GetContext(ctx, &sess, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	return &sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID string, mode models.Mode) ([]models.Session, error) {
	column := "learner_id"
	if mode == models.ModeMentor {
		column = "mentor_id"
	}
	var sessions []models.Session
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE `+column+` = $1
		ORDER BY scheduled_at DESC`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return sessions, nil
}

func (s *PostgresStore) ListUnsettledSessions(ctx context.Context, limit int) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE s.status = 'completed'
		  AND s.credits_cost + s.tip_amount > 0
		  AND NOT EXISTS (SELECT 1 FROM credit_transactions t WHERE t.session_id = s.id)
		ORDER BY s.completed_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, mapError(err)
	}
	return sessions, nil
}

type postgresTx struct {
	tx *sqlx.Tx
}

func (t *postgresTx) CreateAccount(ctx context.Context, acc *models.Account) (bool, error) {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance, total_earned, total_spent, version, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 1, $3, $3)
		ON CONFLICT (user_id) DO NOTHING`,
		acc.UserID, acc.Balance, now)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError(err)
	}
	if err := t.tx.GetContext(ctx, acc, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, acc.UserID); err != nil {
		return false, mapError(err)
	}
	return n == 1, nil
}

func (t *postgresTx) LockAccounts(ctx context.Context, userIDs ...string) (map[string]*models.Account, error) {
	// Lock in consistent order to prevent deadlocks
	ordered := append([]string(nil), userIDs...)
	sort.Strings(ordered)

	out := make(map[string]*models.Account, len(ordered))
	for _, id := range ordered {
		var acc models.Account
		err := t.tx.GetContext(ctx, &acc, `
			SELECT `+accountColumns+`
			FROM accounts
			WHERE user_id = $1
			FOR UPDATE`, id)
		if err != nil {
			return nil, mapError(err)
		}
		out[id] = &acc
	}
	return out, nil
}

func (t *postgresTx) UpdateAccount(ctx context.Context, acc *models.Account) error {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, total_earned = $2, total_spent = $3, version = version + 1, updated_at = $4
		WHERE user_id = $5 AND version = $6`,
		acc.Balance, acc.TotalEarned, acc.TotalSpent, now, acc.UserID, acc.Version)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: optimistic lock failed for account %s", ErrConflict, acc.UserID)
	}
	acc.Version++
	acc.UpdatedAt = now
	return nil
}

func (t *postgresTx) InsertTransaction(ctx context.Context, ct *models.CreditTransaction) error {
	if ct.CreatedAt.IsZero() {
		ct.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ct.ID, ct.FromUserID, ct.ToUserID, ct.Amount, ct.Kind, ct.SessionID, ct.Description, ct.CreatedAt)
	return mapError(err)
}

func (t *postgresTx) SessionPaid(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM credit_transactions WHERE session_id = $1)`, sessionID)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (t *postgresTx) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var sess models.Session
	err := t.tx.GetContext(ctx, &sess, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	return &sess, nil
}

func (t *postgresTx) CompleteSession(ctx context.Context, sessionID, mentorID string, at time.Time) (*models.Session, error) {
	var sess models.Session
	err := t.tx.GetContext(ctx, &sess, `
		UPDATE sessions
		SET status = 'completed', completed_at = $3
		WHERE id = $1 AND mentor_id = $2 AND status IN ('scheduled', 'in_progress')
		RETURNING `+sessionColumns,
		sessionID, mentorID, at)
	if err != nil {
		return nil, mapError(err)
	}
	return &sess, nil
}

func (t *postgresTx) TransitionSession(ctx context.Context, sessionID string, from []models.SessionStatus, to models.SessionStatus) (*models.Session, error) {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	var sess models.Session
	err := t.tx.GetContext(ctx, &sess, `
		UPDATE sessions
		SET status = $2
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+sessionColumns,
		sessionID, to, pq.Array(allowed))
	if err != nil {
		return nil, mapError(err)
	}
	return &sess, nil
}

// mapError translates driver errors into the store's error set.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code == "55P03":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case pqErr.Code == "23505":
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		case pqErr.Code == "22P02":
			// Malformed uuid: no such row can exist.
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}
