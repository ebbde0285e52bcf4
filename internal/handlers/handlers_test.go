package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skillsy/backend/internal/config"
	"github.com/skillsy/backend/internal/events"
	"github.com/skillsy/backend/internal/models"
	"github.com/skillsy/backend/internal/services"
	"github.com/skillsy/backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "handler-test-secret"
	learnerID  = "0b9c8f6a-1d2e-4f3a-9b8c-7d6e5f4a3b2c"
	mentorID   = "5e4d3c2b-1a0f-4e9d-8c7b-6a5f4e3d2c1b"
)

type apiFixture struct {
	store  *store.MemoryStore
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		JWT:    config.JWTConfig{SecretKey: testSecret},
		Ledger: config.LedgerConfig{
			StartingBalance:  decimal.NewFromInt(10),
			RetryAttempts:    2,
			RetryMinInterval: time.Millisecond,
			RetryMaxInterval: 2 * time.Millisecond,
			DefaultPageSize:  20,
			MaxPageSize:      100,
		},
	}
	st := store.NewMemoryStore()
	ledger := services.NewCreditLedgerService(st, events.NopPublisher{}, cfg.Ledger)
	settlements := services.NewSessionSettlementService(st, ledger, nil, cfg.Ledger)
	return &apiFixture{
		store:  st,
		router: NewRouter(RouterDeps{Config: cfg, Ledger: ledger, Settlements: settlements}),
	}
}

func (f *apiFixture) do(t *testing.T, method, path, userID, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		claims := jwt.MapClaims{"sub": userID, "exp": time.Now().Add(time.Hour).Unix()}
		if role != "" {
			claims["role"] = role
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) seed(learnerBalance string, cost, tip string, status models.SessionStatus) string {
	for id, balance := range map[string]string{learnerID: learnerBalance, mentorID: "10"} {
		f.store.PutAccount(models.Account{UserID: id, Balance: decimal.RequireFromString(balance), Version: 1})
	}
	id := uuid.NewString()
	f.store.PutSession(models.Session{
		ID:          id,
		LearnerID:   learnerID,
		MentorID:    mentorID,
		Title:       "Intro to Go",
		ScheduledAt: time.Now(),
		CreditsCost: decimal.RequireFromString(cost),
		TipAmount:   decimal.RequireFromString(tip),
		Status:      status,
	})
	return id
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) services.ErrorResponse {
	t.Helper()
	var resp services.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCompleteSessionEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.seed("10", "5", "1", models.SessionInProgress)

		w := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/complete", mentorID, "")
		require.Equal(t, http.StatusOK, w.Code)

		var result services.SettlementResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, models.SessionCompleted, result.Session.Status)
		require.NotNil(t, result.Transaction)
		assert.Equal(t, models.KindTip, result.Transaction.Kind)
	})

	t.Run("repeat is a conflict", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.seed("10", "5", "1", models.SessionInProgress)

		f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/complete", mentorID, "")
		w := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/complete", mentorID, "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "already_completed", decodeError(t, w).Code)
		assert.Len(t, f.store.Transactions(), 1)
	})

	t.Run("insufficient funds is accepted as pending", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.seed("3", "5", "1", models.SessionInProgress)

		w := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/complete", mentorID, "")
		require.Equal(t, http.StatusAccepted, w.Code)

		var resp pendingResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "pending", resp.Settlement)
		assert.Equal(t, "insufficient_funds", resp.Reason)
		assert.Equal(t, models.SessionCompleted, resp.Session.Status)
	})

	t.Run("learner is forbidden", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.seed("10", "5", "0", models.SessionScheduled)

		w := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/complete", learnerID, "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newAPIFixture(t)

		w := f.do(t, http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/complete", mentorID, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("cancelled session", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.seed("10", "5", "0", models.SessionCancelled)

		w := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/complete", mentorID, "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "session_cancelled", decodeError(t, w).Code)
	})

	t.Run("store outage", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.seed("10", "5", "0", models.SessionScheduled)
		for range 5 {
			f.store.FailNext("CompleteSession", store.ErrUnavailable)
		}

		w := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/complete", mentorID, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
	})

	t.Run("malformed id", func(t *testing.T) {
		f := newAPIFixture(t)

		w := f.do(t, http.MethodPost, "/api/v1/sessions/not-a-uuid/complete", mentorID, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		f := newAPIFixture(t)

		w := f.do(t, http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/complete", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seed("10", "5", "0", models.SessionScheduled)

	w := f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/start", mentorID, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/start", mentorID, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/cancel", learnerID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var session models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, models.SessionCancelled, session.Status)

	w = f.do(t, http.MethodGet, "/api/v1/sessions?mode=mentor", mentorID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	assert.Len(t, sessions, 1)

	w = f.do(t, http.MethodGet, "/api/v1/sessions?mode=tutor", mentorID, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreditsEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	const newUser = "8f7e6d5c-4b3a-4291-8f7e-6d5c4b3a2918"

	w := f.do(t, http.MethodGet, "/api/v1/credits/balance", newUser, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/credits/account", newUser, "")
	assert.Equal(t, http.StatusCreated, w.Code)
	w = f.do(t, http.MethodPost, "/api/v1/credits/account", newUser, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/credits/balance", newUser, "")
	require.Equal(t, http.StatusOK, w.Code)
	var balance balanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(10)))

	id := f.seed("10", "2", "0", models.SessionInProgress)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/complete", mentorID, "").Code)

	w = f.do(t, http.MethodGet, "/api/v1/credits/transactions?limit=1", learnerID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var page services.TransactionPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Transactions, 1)
	assert.Empty(t, page.NextCursor)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/credits/transactions?limit=abc", learnerID, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/credits/transactions?limit=1000", learnerID, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/credits/transactions?cursor=%21%21", learnerID, "").Code)
}

func TestRetrySettlementEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seed("3", "5", "0", models.SessionInProgress)
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/complete", mentorID, "").Code)

	path := "/api/v1/admin/settlements/" + id + "/retry"
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, path, mentorID, "").Code)
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, path, "ops", "admin").Code)

	f.store.PutAccount(models.Account{UserID: learnerID, Balance: decimal.NewFromInt(10), Version: 7})
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, path, "ops", "admin").Code)

	w := f.do(t, http.MethodPost, path, "ops", "admin")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_settled", decodeError(t, w).Code)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", "").Code)

	cfg := &config.Config{JWT: config.JWTConfig{SecretKey: testSecret}}
	unhealthy := NewRouter(RouterDeps{
		Config: cfg,
		Health: func(*http.Request) error { return errors.New("db down") },
	})
	w := httptest.NewRecorder()
	unhealthy.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
