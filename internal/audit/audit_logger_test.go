package audit

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	hook := test.NewGlobal()
	defer log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
	logger := NewLogger()

	logger.LogTransfer("t1", "learner", "mentor", decimal.RequireFromString("6"), "SUCCESS")
	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, "audit", entry.Data["component"])
	assert.True(t, strings.HasPrefix(entry.Message, "AUDIT: "))
	assert.Contains(t, entry.Message, `"event_type":"TRANSFER"`)
	assert.Contains(t, entry.Message, `"amount":"6"`)

	logger.LogSettlement("s1", "mentor", "PENDING")
	assert.Contains(t, hook.LastEntry().Message, `"event_type":"SETTLEMENT"`)

	logger.LogError("s1", "learner", errors.New("insufficient balance"))
	assert.Contains(t, hook.LastEntry().Message, `"status":"FAILED"`)
	assert.Contains(t, hook.LastEntry().Message, "insufficient balance")
}
