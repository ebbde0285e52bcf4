package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/skillsy/backend/internal/audit"
	"github.com/skillsy/backend/internal/config"
	"github.com/skillsy/backend/internal/events"
	"github.com/skillsy/backend/internal/metrics"
	"github.com/skillsy/backend/internal/models"
	"github.com/skillsy/backend/internal/store"
)

const publishTimeout = 2 * time.Second

type AuditLogger interface {
	LogTransfer(transactionID, fromAccount, toAccount string, amount decimal.Decimal, status string)
	LogSettlement(sessionID, actor, status string)
	LogError(reference, accountID string, err error)
}

// TransferRequest describes one movement of credits. SessionRef, when set,
// ties the transfer to a session and makes it unique per session.
type TransferRequest struct {
	FromUserID  string
	ToUserID    string
	Amount      decimal.Decimal
	Kind        models.TransactionKind
	SessionRef  string
	Description string
}

func (r TransferRequest) validate() error {
	if r.FromUserID == "" || r.ToUserID == "" {
		return ErrInvalidUser
	}
	if !r.Amount.IsPositive() || !r.Amount.Equal(r.Amount.Round(2)) {
		return ErrInvalidAmount
	}
	if r.FromUserID == r.ToUserID {
		return ErrSelfTransfer
	}
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	return nil
}

type TransactionPage struct {
	Transactions []models.CreditTransaction `json:"transactions"`
	NextCursor   string                     `json:"next_cursor,omitempty"`
}

// CreditLedgerService is the only writer of account balances.
type CreditLedgerService struct {
	store     store.Store
	publisher events.Publisher
	audit     AuditLogger
	cfg       config.LedgerConfig
}

func NewCreditLedgerService(st store.Store, publisher events.Publisher, cfg config.LedgerConfig) *CreditLedgerService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &CreditLedgerService{
		store:     st,
		publisher: publisher,
		audit:     audit.NewLogger(),
		cfg:       cfg,
	}
}

// Transfer moves credits between two accounts in its own store transaction.
// Either both balances change and exactly one transaction row is written, or
// nothing changes.
func (s *CreditLedgerService) Transfer(ctx context.Context, req TransferRequest) (*models.CreditTransaction, error) {
	if err := req.validate(); err != nil {
		metrics.RecordTransfer(string(req.Kind), "rejected", req.Amount)
		return nil, err
	}

	var record *models.CreditTransaction
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		record, err = s.TransferTx(ctx, tx, req)
		return err
	})
	if err != nil {
		err = translateStoreError(err)
		s.audit.LogError(req.SessionRef, req.FromUserID, err)
		metrics.RecordTransfer(string(req.Kind), transferOutcome(err), req.Amount)
		return nil, err
	}

	s.committed(ctx, record)
	return record, nil
}

// TransferTx performs the transfer inside a transaction owned by the caller.
// The caller commits or rolls back.
func (s *CreditLedgerService) TransferTx(ctx context.Context, tx store.Tx, req TransferRequest) (*models.CreditTransaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	// Row locks first so the paid check below cannot race another settlement.
	accounts, err := tx.LockAccounts(ctx, req.FromUserID, req.ToUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrAccountNotFound, req.FromUserID, req.ToUserID)
		}
		return nil, err
	}
	from, to := accounts[req.FromUserID], accounts[req.ToUserID]

	if req.SessionRef != "" {
		paid, err := tx.SessionPaid(ctx, req.SessionRef)
		if err != nil {
			return nil, err
		}
		if paid {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSettlement, req.SessionRef)
		}
	}

	if !from.Covers(req.Amount) {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, from.Balance.StringFixed(2), req.Amount.StringFixed(2))
	}

	from.Debit(req.Amount)
	to.Credit(req.Amount)
	if err := tx.UpdateAccount(ctx, from); err != nil {
		return nil, err
	}
	if err := tx.UpdateAccount(ctx, to); err != nil {
		return nil, err
	}

	record := &models.CreditTransaction{
		ID:          uuid.NewString(),
		FromUserID:  req.FromUserID,
		ToUserID:    req.ToUserID,
		Amount:      req.Amount,
		Kind:        req.Kind,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if req.SessionRef != "" {
		ref := req.SessionRef
		record.SessionID = &ref
	}
	if err := tx.InsertTransaction(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// committed runs the post-commit side effects of a transfer. None of them
// can fail the transfer.
func (s *CreditLedgerService) committed(ctx context.Context, record *models.CreditTransaction) {
	s.audit.LogTransfer(record.ID, record.FromUserID, record.ToUserID, record.Amount, "SUCCESS")
	metrics.RecordTransfer(string(record.Kind), "success", record.Amount)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, events.NewTransactionEvent(record)); err != nil {
		log.WithError(err).WithField("transaction_id", record.ID).Warn("[EVENTS] Failed to publish transaction event")
	}
}

func transferOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrDuplicateSettlement):
		return "duplicate"
	case errors.Is(err, ErrTransientStore):
		return "transient"
	}
	return "rejected"
}

// OpenAccount initializes the caller's account with the starting balance.
// Calling it again returns the existing account and created=false.
func (s *CreditLedgerService) OpenAccount(ctx context.Context, userID string) (*models.Account, bool, error) {
	if userID == "" {
		return nil, false, ErrInvalidUser
	}

	acc := &models.Account{
		UserID:      userID,
		Balance:     s.cfg.StartingBalance,
		TotalEarned: decimal.Zero,
		TotalSpent:  decimal.Zero,
	}
	var created bool
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.CreateAccount(ctx, acc)
		return err
	})
	if err != nil {
		return nil, false, translateStoreError(err)
	}
	if created {
		metrics.RecordAccountOpened()
		log.WithField("user_id", userID).Info("[LEDGER] Credit account opened")
	}
	return acc, created, nil
}

func (s *CreditLedgerService) GetBalance(ctx context.Context, userID string) (*models.Account, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	acc, err := s.store.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, translateStoreError(err)
	}
	return acc, nil
}

// ListTransactions returns one page of the user's history, newest first.
// NextCursor is empty on the last page.
func (s *CreditLedgerService) ListTransactions(ctx context.Context, userID, cursorToken string, limit int) (*TransactionPage, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	cursor, err := DecodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	limit = s.pageSize(limit)

	rows, err := s.store.ListTransactions(ctx, userID, cursor, limit+1)
	if err != nil {
		return nil, translateStoreError(err)
	}

	page := &TransactionPage{Transactions: rows}
	if len(rows) > limit {
		page.Transactions = rows[:limit]
		last := page.Transactions[limit-1]
		page.NextCursor = EncodeCursor(models.TransactionCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	if page.Transactions == nil {
		page.Transactions = []models.CreditTransaction{}
	}
	return page, nil
}

// Transactions walks the user's whole history lazily, one page per store
// round trip. Each range over the result starts again from the newest entry.
func (s *CreditLedgerService) Transactions(ctx context.Context, userID string, pageSize int) iter.Seq2[models.CreditTransaction, error] {
	return func(yield func(models.CreditTransaction, error) bool) {
		cursor := ""
		for {
			page, err := s.ListTransactions(ctx, userID, cursor, pageSize)
			if err != nil {
				yield(models.CreditTransaction{}, err)
				return
			}
			for _, t := range page.Transactions {
				if !yield(t, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			cursor = page.NextCursor
		}
	}
}

func (s *CreditLedgerService) pageSize(limit int) int {
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if s.cfg.MaxPageSize > 0 && limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	if limit <= 0 {
		limit = 20
	}
	return limit
}
