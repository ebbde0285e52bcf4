package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skillsy/backend/internal/config"
	"github.com/skillsy/backend/internal/events"
	"github.com/skillsy/backend/internal/models"
	"github.com/skillsy/backend/internal/store"
	"github.com/stretchr/testify/mock"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, ev events.TransactionEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type MockRetryQueue struct {
	mock.Mock
}

func (m *MockRetryQueue) Enqueue(ctx context.Context, sessionID, reason string) error {
	args := m.Called(ctx, sessionID, reason)
	return args.Error(0)
}

func (m *MockRetryQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	args := m.Called(ctx, timeout)
	return args.String(0), args.Error(1)
}

func testLedgerConfig() config.LedgerConfig {
	return config.LedgerConfig{
		StartingBalance:   decimal.NewFromInt(10),
		RetryAttempts:     3,
		RetryMinInterval:  time.Millisecond,
		RetryMaxInterval:  5 * time.Millisecond,
		ReconcileInterval: time.Minute,
		ReconcileBatch:    50,
		RetryQueueKey:     "settlement_retry_queue",
		DefaultPageSize:   20,
		MaxPageSize:       100,
	}
}

func credits(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedAccount(st *store.MemoryStore, userID, balance string) {
	st.PutAccount(models.Account{
		UserID:      userID,
		Balance:     credits(balance),
		TotalEarned: decimal.Zero,
		TotalSpent:  decimal.Zero,
		Version:     1,
	})
}

func balanceOf(t *testing.T, st *store.MemoryStore, userID string) decimal.Decimal {
	t.Helper()
	acc, err := st.GetAccount(context.Background(), userID)
	if err != nil {
		t.Fatalf("get account %s: %v", userID, err)
	}
	return acc.Balance
}
