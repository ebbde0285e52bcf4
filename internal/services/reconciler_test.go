package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/skillsy/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRedisRetryQueue(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	queue := NewRedisRetryQueue(db, "settlement_retry_queue")

	t.Run("enqueue pushes a job", func(t *testing.T) {
		mock.Regexp().ExpectRPush("settlement_retry_queue", `"session_id":"s1"`).SetVal(1)

		err := queue.Enqueue(ctx, "s1", "insufficient balance")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("dequeue returns the session id", func(t *testing.T) {
		mock.ExpectBLPop(time.Second, "settlement_retry_queue").
			SetVal([]string{"settlement_retry_queue", `{"session_id":"s1","enqueued_at":"2026-01-01T00:00:00Z"}`})

		id, err := queue.Dequeue(ctx, time.Second)
		assert.NoError(t, err)
		assert.Equal(t, "s1", id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty queue", func(t *testing.T) {
		mock.ExpectBLPop(time.Second, "settlement_retry_queue").RedisNil()

		id, err := queue.Dequeue(ctx, time.Second)
		assert.NoError(t, err)
		assert.Empty(t, id)
	})

	t.Run("redis error", func(t *testing.T) {
		mock.ExpectBLPop(time.Second, "settlement_retry_queue").SetErr(errors.New("connection refused"))

		_, err := queue.Dequeue(ctx, time.Second)
		assert.Error(t, err)
	})
}

func newPendingFixture(t *testing.T) *settlementFixture {
	t.Helper()
	f := newSettlementFixture("3", "10")
	f.addSession("s1", "5", "1", models.SessionInProgress)
	f.queue.On("Enqueue", mock.Anything, "s1", mock.Anything).Return(nil)

	_, err := f.settlements.CompleteSession(context.Background(), "s1", "mentor")
	require.ErrorIs(t, err, ErrSettlementPending)
	return f
}

func TestSettlementReconciler_ProcessNext(t *testing.T) {
	ctx := context.Background()

	t.Run("re-drives a queued session", func(t *testing.T) {
		f := newPendingFixture(t)
		f.topUp(t, "learner", "10")
		f.queue.On("Dequeue", mock.Anything, mock.Anything).Return("s1", nil).Once()
		reconciler := NewSettlementReconciler(f.settlements, f.store, f.queue, testLedgerConfig())

		found, err := reconciler.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Len(t, f.store.Transactions(), 1)
		assert.True(t, balanceOf(t, f.store, "mentor").Equal(credits("16")))
	})

	t.Run("empty queue", func(t *testing.T) {
		f := newSettlementFixture("10", "10")
		f.queue.On("Dequeue", mock.Anything, mock.Anything).Return("", nil).Once()
		reconciler := NewSettlementReconciler(f.settlements, f.store, f.queue, testLedgerConfig())

		found, err := reconciler.ProcessNext(ctx)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("already settled job is skipped", func(t *testing.T) {
		f := newSettlementFixture("10", "10")
		f.addSession("s1", "5", "0", models.SessionInProgress)
		_, err := f.settlements.CompleteSession(ctx, "s1", "mentor")
		require.NoError(t, err)
		f.queue.On("Dequeue", mock.Anything, mock.Anything).Return("s1", nil).Once()
		reconciler := NewSettlementReconciler(f.settlements, f.store, f.queue, testLedgerConfig())

		found, err := reconciler.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Len(t, f.store.Transactions(), 1)
	})
}

func TestSettlementReconciler_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newPendingFixture(t)
	reconciler := NewSettlementReconciler(f.settlements, f.store, nil, testLedgerConfig())

	settled, err := reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, settled)

	f.topUp(t, "learner", "10")
	settled, err = reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	settled, err = reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
	assert.Len(t, f.store.Transactions(), 1)
}

func TestSettlementReconciler_RunStopsWithContext(t *testing.T) {
	f := newPendingFixture(t)
	f.topUp(t, "learner", "10")
	reconciler := NewSettlementReconciler(f.settlements, f.store, nil, testLedgerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reconciler.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(f.store.Transactions()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
