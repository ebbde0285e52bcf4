package services

import (
	"context"
	"errors"
	"time"

	"github.com/lestrrat-go/backoff/v2"
	log "github.com/sirupsen/logrus"
	"github.com/skillsy/backend/internal/config"
)

// RetryPolicy re-runs an operation while it fails with ErrTransientStore.
// Any other outcome, success included, ends the loop at once.
type RetryPolicy struct {
	policy backoff.Policy
}

func NewRetryPolicy(cfg config.LedgerConfig) *RetryPolicy {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	minInterval, maxInterval := cfg.RetryMinInterval, cfg.RetryMaxInterval
	if minInterval <= 0 {
		minInterval = 50 * time.Millisecond
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}
	return &RetryPolicy{
		policy: backoff.Exponential(
			backoff.WithMinInterval(minInterval),
			backoff.WithMaxInterval(maxInterval),
			backoff.WithJitterFactor(0.1),
			backoff.WithMaxRetries(attempts),
		),
	}
}

// Do calls fn until it returns something other than a transient store error,
// the attempts run out, or ctx ends. It returns fn's last error.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	attempt := 0
	b := p.policy.Start(ctx)
	for backoff.Continue(b) {
		attempt++
		lastErr = fn()
		if lastErr == nil || !errors.Is(lastErr, ErrTransientStore) {
			return lastErr
		}
		log.WithError(lastErr).WithField("attempt", attempt).Warn("[RETRY] Transient store failure")
	}
	if lastErr == nil {
		return ctx.Err()
	}
	return lastErr
}
