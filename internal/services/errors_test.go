package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/skillsy/backend/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestTranslateStoreError(t *testing.T) {
	assert.Nil(t, translateStoreError(nil))
	assert.ErrorIs(t, translateStoreError(store.ErrConflict), ErrTransientStore)
	assert.ErrorIs(t, translateStoreError(store.ErrUnavailable), ErrTransientStore)
	assert.ErrorIs(t, translateStoreError(store.ErrDuplicate), ErrDuplicateSettlement)
	assert.ErrorIs(t, translateStoreError(context.Canceled), context.Canceled)

	wrapped := fmt.Errorf("%w: have 3, need 6", ErrInsufficientFunds)
	assert.Equal(t, wrapped, translateStoreError(wrapped))
}

func TestSettlementPendingError(t *testing.T) {
	err := error(&SettlementPendingError{SessionID: "s1", Cause: fmt.Errorf("%w: have 3", ErrInsufficientFunds)})

	assert.ErrorIs(t, err, ErrSettlementPending)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.False(t, errors.Is(err, ErrAlreadyCompleted))
	assert.Contains(t, err.Error(), "s1")
}
