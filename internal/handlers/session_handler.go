package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/skillsy/backend/internal/models"
	"github.com/skillsy/backend/internal/services"
)

type SessionHandler struct {
	settlements *services.SessionSettlementService
	validator   *services.ValidationHelper
}

func NewSessionHandler(settlements *services.SessionSettlementService) *SessionHandler {
	return &SessionHandler{
		settlements: settlements,
		validator:   services.NewValidationHelper(),
	}
}

type pendingResponse struct {
	Session    *models.Session `json:"session"`
	Settlement string          `json:"settlement"`
	Reason     string          `json:"reason"`
}

func (h *SessionHandler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionId")
	if err := h.validator.ValidateVar(id, "required,uuid"); err != nil {
		services.SendErrorResponse(w, "Invalid session id", http.StatusBadRequest, nil)
		return "", false
	}
	return id, true
}

// ListSessions lists the caller's sessions
// @Summary List sessions
// @Description Sessions where the caller is the learner (mode=learner, default) or the mentor (mode=mentor)
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param mode query string false "learner or mentor"
// @Success 200 {array} models.Session
// @Failure 400 {object} services.ErrorResponse
// @Router /sessions [get]
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	mode, err := models.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		services.SendErrorResponse(w, "mode must be learner or mentor", http.StatusBadRequest, nil)
		return
	}

	sessions, err := h.settlements.ListSessions(r.Context(), userID, mode)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// StartSession moves a scheduled session to in_progress
// @Summary Start session
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} models.Session
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /sessions/{sessionId}/start [post]
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	session, err := h.settlements.StartSession(r.Context(), id, userID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// CancelSession cancels a session that has not been completed
// @Summary Cancel session
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} models.Session
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /sessions/{sessionId}/cancel [post]
func (h *SessionHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	session, err := h.settlements.CancelSession(r.Context(), id, userID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// CompleteSession marks a session completed and pays the mentor
// @Summary Complete session
// @Description Mentor only. Moves cost plus tip from learner to mentor exactly once. 202 means the session is completed but the payment is pending.
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} services.SettlementResult
// @Success 202 {object} object{session=models.Session,settlement=string,reason=string}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /sessions/{sessionId}/complete [post]
func (h *SessionHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	result, err := h.settlements.CompleteSession(r.Context(), id, userID)
	var pending *services.SettlementPendingError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.As(err, &pending):
		log.WithField("session_id", id).WithError(pending.Cause).Warn("[SESSIONS] Completed with pending settlement")
		writeJSON(w, http.StatusAccepted, pendingResponse{
			Session:    result.Session,
			Settlement: "pending",
			Reason:     reasonFor(pending.Cause),
		})
	default:
		sendServiceError(w, r, err)
	}
}

// RetrySettlement re-drives a pending settlement
// @Summary Retry settlement
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} services.SettlementResult
// @Success 202 {object} object{session=models.Session,settlement=string,reason=string}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/settlements/{sessionId}/retry [post]
func (h *SessionHandler) RetrySettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	result, err := h.settlements.RetrySettlement(r.Context(), id)
	var pending *services.SettlementPendingError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.As(err, &pending):
		writeJSON(w, http.StatusAccepted, pendingResponse{
			Session:    result.Session,
			Settlement: "pending",
			Reason:     reasonFor(pending.Cause),
		})
	default:
		sendServiceError(w, r, err)
	}
}

func reasonFor(cause error) string {
	switch {
	case errors.Is(cause, services.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(cause, services.ErrAccountNotFound):
		return "account_not_found"
	}
	return "temporarily_unavailable"
}
