package handlers

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/skillsy/backend/internal/services"
)

type CreditsHandler struct {
	ledger    *services.CreditLedgerService
	validator *services.ValidationHelper
}

func NewCreditsHandler(ledger *services.CreditLedgerService) *CreditsHandler {
	return &CreditsHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

type balanceResponse struct {
	Balance     decimal.Decimal `json:"balance"`
	TotalEarned decimal.Decimal `json:"total_earned"`
	TotalSpent  decimal.Decimal `json:"total_spent"`
}

// OpenAccount initializes the caller's credit account
// @Summary Open credit account
// @Description Create the caller's credit account with the starting balance. Repeated calls return the existing account.
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Account
// @Success 201 {object} models.Account
// @Failure 401 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /credits/account [post]
func (h *CreditsHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	acc, created, err := h.ledger.OpenAccount(r.Context(), userID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, acc)
}

// GetBalance returns the caller's balance
// @Summary Get credit balance
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=string,total_earned=string,total_spent=string}
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /credits/balance [get]
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	acc, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Balance:     acc.Balance,
		TotalEarned: acc.TotalEarned,
		TotalSpent:  acc.TotalSpent,
	})
}

// ListTransactions returns the caller's transaction history, newest first
// @Summary List credit transactions
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (max 100)"
// @Param cursor query string false "Cursor from the previous page"
// @Success 200 {object} services.TransactionPage
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /credits/transactions [get]
func (h *CreditsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var query struct {
		Limit  int    `validate:"gte=0,lte=100"`
		Cursor string `validate:"omitempty,base64rawurl"`
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			services.SendErrorResponse(w, "limit must be an integer", http.StatusBadRequest, nil)
			return
		}
		query.Limit = limit
	}
	query.Cursor = r.URL.Query().Get("cursor")

	if err := h.validator.ValidateStruct(&query); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	page, err := h.ledger.ListTransactions(r.Context(), userID, query.Cursor, query.Limit)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
