package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/skillsy/backend/internal/middleware"
	"github.com/skillsy/backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
	}
	return userID, ok
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{services.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{services.ErrSelfTransfer, http.StatusBadRequest, "self_transfer"},
	{services.ErrInvalidKind, http.StatusBadRequest, "invalid_kind"},
	{services.ErrInvalidUser, http.StatusBadRequest, "invalid_user"},
	{services.ErrInvalidCursor, http.StatusBadRequest, "invalid_cursor"},
	{services.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{services.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{services.ErrDuplicateSettlement, http.StatusConflict, "already_settled"},
	{services.ErrAlreadySettled, http.StatusConflict, "already_settled"},
	{services.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{services.ErrForbidden, http.StatusForbidden, "forbidden"},
	{services.ErrAlreadyCompleted, http.StatusConflict, "already_completed"},
	{services.ErrSessionCancelled, http.StatusConflict, "session_cancelled"},
	{services.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{services.ErrSessionNotCompleted, http.StatusConflict, "session_not_completed"},
	{services.ErrTransientStore, http.StatusServiceUnavailable, "temporarily_unavailable"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "temporarily_unavailable"},
}

// sendServiceError renders a service error with its status code. Unknown
// errors are logged and hidden behind a generic 500.
func sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			if m.status == http.StatusServiceUnavailable {
				w.Header().Set("Retry-After", "1")
			}
			services.SendCodedErrorResponse(w, m.err.Error(), m.code, m.status, nil)
			return
		}
	}
	log.WithError(err).WithField("path", r.URL.Path).Error("[HTTP] Unhandled service error")
	services.SendCodedErrorResponse(w, "Internal server error", "internal", http.StatusInternalServerError, nil)
}
