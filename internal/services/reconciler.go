package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"github.com/skillsy/backend/internal/config"
	"github.com/skillsy/backend/internal/metrics"
	"github.com/skillsy/backend/internal/store"
)

// RetryQueue holds sessions whose settlement transfer has not committed.
type RetryQueue interface {
	Enqueue(ctx context.Context, sessionID, reason string) error
	// Dequeue waits up to timeout for the next job. It returns an empty id
	// when none arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
}

type settlementJob struct {
	SessionID  string    `json:"session_id"`
	Reason     string    `json:"reason,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type RedisRetryQueue struct {
	client *redis.Client
	key    string
}

func NewRedisRetryQueue(client *redis.Client, key string) *RedisRetryQueue {
	return &RedisRetryQueue{client: client, key: key}
}

func (q *RedisRetryQueue) Enqueue(ctx context.Context, sessionID, reason string) error {
	data, err := json.Marshal(settlementJob{SessionID: sessionID, Reason: reason, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.key, string(data)).Err()
}

func (q *RedisRetryQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// BLPOP replies with [key, value].
	var job settlementJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return "", err
	}
	return job.SessionID, nil
}

// SettlementReconciler re-drives pending settlements. It consumes the retry
// queue and periodically sweeps the store for completed sessions without a
// ledger record, which also covers jobs the queue lost.
type SettlementReconciler struct {
	settlements *SessionSettlementService
	store       store.Store
	queue       RetryQueue
	interval    time.Duration
	batch       int
	popTimeout  time.Duration
}

func NewSettlementReconciler(settlements *SessionSettlementService, st store.Store, queue RetryQueue, cfg config.LedgerConfig) *SettlementReconciler {
	interval := cfg.ReconcileInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := cfg.ReconcileBatch
	if batch <= 0 {
		batch = 50
	}
	return &SettlementReconciler{
		settlements: settlements,
		store:       st,
		queue:       queue,
		interval:    interval,
		batch:       batch,
		popTimeout:  5 * time.Second,
	}
}

// Run blocks until ctx is done.
func (r *SettlementReconciler) Run(ctx context.Context) {
	log.WithField("interval", r.interval).Info("[RECONCILER] Starting settlement reconciler")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweepAndLog(ctx)
	for {
		if r.queue == nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepAndLog(ctx)
			}
			continue
		}

		if _, err := r.ProcessNext(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("[RECONCILER] Failed to read retry queue")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}

		select {
		case <-ctx.Done():
			log.Info("[RECONCILER] Stopped")
			return
		case <-ticker.C:
			r.sweepAndLog(ctx)
		default:
		}
	}
}

// ProcessNext takes one job off the queue and re-drives it. It reports
// whether a job was found.
func (r *SettlementReconciler) ProcessNext(ctx context.Context) (bool, error) {
	sessionID, err := r.queue.Dequeue(ctx, r.popTimeout)
	if err != nil {
		return false, err
	}
	if sessionID == "" {
		return false, nil
	}
	r.redrive(ctx, sessionID)
	return true, nil
}

// Sweep re-drives up to one batch of unsettled sessions and returns how many
// were settled.
func (r *SettlementReconciler) Sweep(ctx context.Context) (int, error) {
	sessions, err := r.store.ListUnsettledSessions(ctx, r.batch)
	if err != nil {
		return 0, translateStoreError(err)
	}
	settled := 0
	for _, s := range sessions {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if r.redrive(ctx, s.ID) {
			settled++
		}
	}
	return settled, nil
}

func (r *SettlementReconciler) sweepAndLog(ctx context.Context) {
	settled, err := r.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("[RECONCILER] Sweep failed")
		return
	}
	if settled > 0 {
		log.WithField("settled", settled).Info("[RECONCILER] Sweep settled pending sessions")
	}
}

func (r *SettlementReconciler) redrive(ctx context.Context, sessionID string) bool {
	logger := log.WithField("session_id", sessionID)
	_, err := r.settlements.RetrySettlement(ctx, sessionID)
	switch {
	case err == nil:
		metrics.RecordRedrive("settled")
		return true
	case errors.Is(err, ErrAlreadySettled), errors.Is(err, ErrSessionNotCompleted), errors.Is(err, ErrSessionNotFound):
		metrics.RecordRedrive("skipped")
		logger.WithError(err).Debug("[RECONCILER] Nothing to settle")
	case errors.Is(err, ErrSettlementPending):
		// Left for the next sweep.
		metrics.RecordRedrive("pending")
		logger.WithError(err).Info("[RECONCILER] Settlement still pending")
	default:
		metrics.RecordRedrive("error")
		logger.WithError(err).Warn("[RECONCILER] Re-drive failed")
	}
	return false
}
