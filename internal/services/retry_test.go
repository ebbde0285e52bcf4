package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Do(t *testing.T) {
	policy := NewRetryPolicy(testLedgerConfig())

	t.Run("retries transient failures until success", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), func() error {
			calls++
			if calls < 2 {
				return ErrTransientStore
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("stops on a domain error", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), func() error {
			calls++
			return ErrInsufficientFunds
		})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), func() error {
			calls++
			return ErrTransientStore
		})
		assert.ErrorIs(t, err, ErrTransientStore)
		assert.GreaterOrEqual(t, calls, 2)
		assert.LessOrEqual(t, calls, 4)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := policy.Do(ctx, func() error { return errors.New("never called") })
		assert.Error(t, err)
	})
}
