// Package events announces committed credit transactions so interested
// clients (dashboards, notification workers) can refresh without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/skillsy/backend/internal/config"
	"github.com/skillsy/backend/internal/models"
)

type TransactionEvent struct {
	TransactionID string                 `json:"transaction_id"`
	FromUserID    string                 `json:"from_user_id"`
	ToUserID      string                 `json:"to_user_id"`
	Amount        decimal.Decimal        `json:"amount"`
	Kind          models.TransactionKind `json:"transaction_type"`
	SessionID     string                 `json:"session_id,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

func NewTransactionEvent(t *models.CreditTransaction) TransactionEvent {
	ev := TransactionEvent{
		TransactionID: t.ID,
		FromUserID:    t.FromUserID,
		ToUserID:      t.ToUserID,
		Amount:        t.Amount,
		Kind:          t.Kind,
		CreatedAt:     t.CreatedAt,
	}
	if t.SessionID != nil {
		ev.SessionID = *t.SessionID
	}
	return ev
}

// Publisher delivers events at most once; failures never undo a transfer.
type Publisher interface {
	Publish(ctx context.Context, ev TransactionEvent) error
}

type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev TransactionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, string(payload)).Err()
}

type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNATSPublisher(conn *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) Publish(_ context.Context, ev TransactionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject, payload)
}

// ConnectNATS dials the broker with an optional token.
func ConnectNATS(url, token string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("skillsy-credits"),
		nats.MaxReconnects(-1),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	return nats.Connect(url, opts...)
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, TransactionEvent) error { return nil }

// NewPublisher picks the publisher named by cfg.Driver. The returned close
// function releases any connection it opened. A missing backend degrades to
// NopPublisher with a warning.
func NewPublisher(cfg config.EventsConfig, rdb *redis.Client) (Publisher, func(), error) {
	switch cfg.Driver {
	case "redis":
		if rdb == nil {
			log.Warn("[EVENTS] Redis unavailable, transaction events disabled")
			return NopPublisher{}, func() {}, nil
		}
		return NewRedisPublisher(rdb, cfg.RedisChannel), func() {}, nil
	case "nats":
		conn, err := ConnectNATS(cfg.NATSURL, cfg.NATSToken)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		return NewNATSPublisher(conn, cfg.NATSSubject), conn.Close, nil
	case "", "none":
		return NopPublisher{}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
}
