package services

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/skillsy/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	token := EncodeCursor(models.TransactionCursor{CreatedAt: at, ID: "9b2f6c1e"})

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(at))
	assert.Equal(t, "9b2f6c1e", cursor.ID)

	empty, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, empty)

	for _, bad := range []string{
		"!!",
		base64.RawURLEncoding.EncodeToString([]byte("no-separator")),
		base64.RawURLEncoding.EncodeToString([]byte("abc|id")),
		base64.RawURLEncoding.EncodeToString([]byte("123|")),
	} {
		_, err := DecodeCursor(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}
