package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/skillsy/backend/internal/audit"
	"github.com/skillsy/backend/internal/config"
	"github.com/skillsy/backend/internal/metrics"
	"github.com/skillsy/backend/internal/models"
	"github.com/skillsy/backend/internal/store"
)

type SettlementResult struct {
	Session     *models.Session           `json:"session"`
	Transaction *models.CreditTransaction `json:"transaction,omitempty"`
}

// SessionSettlementService drives the session lifecycle and pays the mentor
// exactly once when a session is completed.
type SessionSettlementService struct {
	store  store.Store
	ledger *CreditLedgerService
	queue  RetryQueue
	retry  *RetryPolicy
	audit  AuditLogger
}

// NewSessionSettlementService wires the workflow. queue may be nil, in which
// case pending settlements are only found by the reconciler's sweep.
func NewSessionSettlementService(st store.Store, ledger *CreditLedgerService, queue RetryQueue, cfg config.LedgerConfig) *SessionSettlementService {
	return &SessionSettlementService{
		store:  st,
		ledger: ledger,
		queue:  queue,
		retry:  NewRetryPolicy(cfg),
		audit:  audit.NewLogger(),
	}
}

// CompleteSession lets the session's mentor mark it completed and settles
// cost plus tip from learner to mentor.
//
// The status change and the transfer commit separately. If the transfer
// cannot commit, the session stays completed, it is queued for re-drive and
// the returned error is a *SettlementPendingError. The result is non-nil in
// that case too.
func (s *SessionSettlementService) CompleteSession(ctx context.Context, sessionID, actorID string) (*SettlementResult, error) {
	if actorID == "" {
		return nil, ErrInvalidUser
	}
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	var (
		session   *models.Session
		uncertain bool
	)
	err := s.retry.Do(ctx, func() error {
		err := translateStoreError(s.store.InTx(ctx, func(tx store.Tx) error {
			var err error
			session, err = tx.CompleteSession(ctx, sessionID, actorID, time.Now().UTC())
			if errors.Is(err, store.ErrNotFound) {
				return classifyCompletion(ctx, tx, sessionID, actorID)
			}
			return err
		}))
		if errors.Is(err, ErrTransientStore) {
			// The commit may have landed even though we saw an error.
			uncertain = true
		}
		return err
	})
	if errors.Is(err, ErrAlreadyCompleted) && uncertain {
		session, err = s.completedBy(ctx, sessionID, actorID)
	}
	if err != nil {
		metrics.RecordSettlement(settlementOutcome(err))
		return nil, err
	}

	logger := log.WithFields(log.Fields{"session_id": session.ID, "mentor_id": session.MentorID, "learner_id": session.LearnerID})
	logger.Info("[SETTLEMENT] Session completed")
	result := &SettlementResult{Session: session}

	if !session.Total().IsPositive() {
		s.audit.LogSettlement(session.ID, actorID, "NOTHING_DUE")
		metrics.RecordSettlement("settled")
		return result, nil
	}

	record, err := s.settle(ctx, session)
	switch {
	case err == nil:
		result.Transaction = record
		s.audit.LogSettlement(session.ID, actorID, "SETTLED")
		metrics.RecordSettlement("settled")
		return result, nil
	case errors.Is(err, ErrDuplicateSettlement):
		// The reconciler got there first.
		s.audit.LogSettlement(session.ID, actorID, "SETTLED")
		metrics.RecordSettlement("settled")
		return result, nil
	}

	pending := &SettlementPendingError{SessionID: session.ID, Cause: err}
	logger.WithError(err).Warn("[SETTLEMENT] Transfer failed, settlement pending")
	s.audit.LogSettlement(session.ID, actorID, "PENDING")
	metrics.RecordSettlement("pending")
	s.enqueue(ctx, session.ID, err)
	return result, pending
}

// classifyCompletion explains why the completion compare-and-set matched no
// row. It runs in the same transaction so it sees the row the CAS saw.
func classifyCompletion(ctx context.Context, tx store.Tx, sessionID, actorID string) error {
	current, err := tx.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	switch {
	case current.MentorID != actorID:
		return ErrForbidden
	case current.Status == models.SessionCompleted:
		return ErrAlreadyCompleted
	case current.Status == models.SessionCancelled:
		return ErrSessionCancelled
	}
	return fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, sessionID, current.Status)
}

// completedBy loads a session whose completion may have been committed by an
// earlier attempt of the same call. It still reports ErrAlreadyCompleted
// unless the session is completed with actorID as its mentor.
func (s *SessionSettlementService) completedBy(ctx context.Context, sessionID, actorID string) (*models.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if session.Status != models.SessionCompleted || session.MentorID != actorID {
		return nil, ErrAlreadyCompleted
	}
	return session, nil
}

// RetrySettlement re-drives the transfer of a completed session that has no
// ledger record yet. Used by operators and by the reconciler.
func (s *SessionSettlementService) RetrySettlement(ctx context.Context, sessionID string) (*SettlementResult, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, translateStoreError(err)
	}
	if session.Status != models.SessionCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrSessionNotCompleted, session.Status)
	}
	if !session.Total().IsPositive() {
		return nil, fmt.Errorf("%w: nothing due", ErrAlreadySettled)
	}

	record, err := s.settle(ctx, session)
	if errors.Is(err, ErrDuplicateSettlement) {
		return nil, fmt.Errorf("%w: %v", ErrAlreadySettled, err)
	}
	if err != nil {
		return &SettlementResult{Session: session}, &SettlementPendingError{SessionID: session.ID, Cause: err}
	}

	s.audit.LogSettlement(session.ID, "retry", "SETTLED")
	log.WithField("session_id", session.ID).Info("[SETTLEMENT] Pending settlement completed")
	return &SettlementResult{Session: session, Transaction: record}, nil
}

func (s *SessionSettlementService) settle(ctx context.Context, session *models.Session) (*models.CreditTransaction, error) {
	req := TransferRequest{
		FromUserID:  session.LearnerID,
		ToUserID:    session.MentorID,
		Amount:      session.Total(),
		Kind:        session.PaymentKind(),
		SessionRef:  session.ID,
		Description: session.PaymentDescription(),
	}
	var record *models.CreditTransaction
	err := s.retry.Do(ctx, func() error {
		var err error
		record, err = s.ledger.Transfer(ctx, req)
		return err
	})
	return record, err
}

func (s *SessionSettlementService) enqueue(ctx context.Context, sessionID string, cause error) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), sessionID, cause.Error()); err != nil {
		log.WithError(err).WithField("session_id", sessionID).Error("[SETTLEMENT] Failed to queue session for re-drive")
	}
}

// StartSession lets the mentor move a scheduled session to in_progress.
func (s *SessionSettlementService) StartSession(ctx context.Context, sessionID, actorID string) (*models.Session, error) {
	return s.transition(ctx, sessionID, actorID, true,
		[]models.SessionStatus{models.SessionScheduled}, models.SessionInProgress)
}

// CancelSession lets either participant cancel a session that has not been
// completed. No credits move.
func (s *SessionSettlementService) CancelSession(ctx context.Context, sessionID, actorID string) (*models.Session, error) {
	return s.transition(ctx, sessionID, actorID, false,
		[]models.SessionStatus{models.SessionScheduled, models.SessionInProgress}, models.SessionCancelled)
}

func (s *SessionSettlementService) transition(ctx context.Context, sessionID, actorID string, mentorOnly bool, from []models.SessionStatus, to models.SessionStatus) (*models.Session, error) {
	if actorID == "" {
		return nil, ErrInvalidUser
	}

	var session *models.Session
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetSession(ctx, sessionID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		if (mentorOnly && current.MentorID != actorID) || !current.HasParticipant(actorID) {
			return ErrForbidden
		}
		if !slices.Contains(from, current.Status) {
			return statusError(current)
		}

		session, err = tx.TransitionSession(ctx, sessionID, from, to)
		if errors.Is(err, store.ErrNotFound) {
			// Lost a race with another transition.
			latest, gerr := tx.GetSession(ctx, sessionID)
			if gerr != nil {
				return gerr
			}
			return statusError(latest)
		}
		return err
	})
	if err != nil {
		return nil, translateStoreError(err)
	}

	log.WithFields(log.Fields{"session_id": sessionID, "actor": actorID, "status": to}).Info("[SESSIONS] Session status changed")
	return session, nil
}

func statusError(s *models.Session) error {
	switch s.Status {
	case models.SessionCompleted:
		return ErrAlreadyCompleted
	case models.SessionCancelled:
		return ErrSessionCancelled
	}
	return fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, s.ID, s.Status)
}

// ListSessions returns the user's sessions from the side given by mode,
// most recently scheduled first.
func (s *SessionSettlementService) ListSessions(ctx context.Context, userID string, mode models.Mode) ([]models.Session, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	sessions, err := s.store.ListSessions(ctx, userID, mode)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	return sessions, nil
}

func settlementOutcome(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, ErrSessionCancelled):
		return "cancelled"
	case errors.Is(err, ErrTransientStore):
		return "transient"
	}
	return "rejected"
}
