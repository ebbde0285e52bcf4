package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/skillsy/backend/internal/config"
	"github.com/skillsy/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTransaction() *models.CreditTransaction {
	sessionID := "s1"
	return &models.CreditTransaction{
		ID:          "t1",
		FromUserID:  "learner",
		ToUserID:    "mentor",
		Amount:      decimal.RequireFromString("6.00"),
		Kind:        models.KindTip,
		SessionID:   &sessionID,
		Description: "Session payment + tip",
		CreatedAt:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestNewTransactionEvent(t *testing.T) {
	ev := NewTransactionEvent(sampleTransaction())
	assert.Equal(t, "t1", ev.TransactionID)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, models.KindTip, ev.Kind)

	tx := sampleTransaction()
	tx.SessionID = nil
	assert.Empty(t, NewTransactionEvent(tx).SessionID)
}

func TestRedisPublisher_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	publisher := NewRedisPublisher(db, "credits:transactions")
	ev := NewTransactionEvent(sampleTransaction())

	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	mock.ExpectPublish("credits:transactions", string(payload)).SetVal(1)

	assert.NoError(t, publisher.Publish(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPublisher(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		p, closeFn, err := NewPublisher(config.EventsConfig{Driver: "none"}, nil)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, NopPublisher{}, p)
	})

	t.Run("redis without client degrades", func(t *testing.T) {
		p, _, err := NewPublisher(config.EventsConfig{Driver: "redis"}, nil)
		require.NoError(t, err)
		assert.IsType(t, NopPublisher{}, p)
	})

	t.Run("redis", func(t *testing.T) {
		db, _ := redismock.NewClientMock()
		p, _, err := NewPublisher(config.EventsConfig{Driver: "redis", RedisChannel: "c"}, db)
		require.NoError(t, err)
		assert.IsType(t, &RedisPublisher{}, p)
	})

	t.Run("nats unreachable", func(t *testing.T) {
		_, _, err := NewPublisher(config.EventsConfig{Driver: "nats", NATSURL: "nats://127.0.0.1:1"}, nil)
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := NewPublisher(config.EventsConfig{Driver: "kafka"}, nil)
		assert.Error(t, err)
	})
}
