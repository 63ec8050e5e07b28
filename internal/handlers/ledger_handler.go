package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
)

const (
	defaultStatementLimit = 50
	maxStatementLimit     = 500
)

type LedgerHandler struct {
	ledger    *services.LedgerService
	validator *services.ValidationHelper
	log       zerolog.Logger
}

func NewLedgerHandler(ledger *services.LedgerService, log zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
		log:       log,
	}
}

type postingBody struct {
	Amount   string `json:"amount" validate:"required,max=32"`
	Note     string `json:"note,omitempty" validate:"max=255"`
	Category string `json:"category,omitempty" validate:"max=64"`
	stepUpFields
}

type transferBody struct {
	SourceAccountID      int64  `json:"source_account_id" validate:"required,gt=0"`
	DestinationAccountID int64  `json:"destination_account_id" validate:"required,gt=0"`
	Amount               string `json:"amount" validate:"required,max=32"`
	Note                 string `json:"note,omitempty" validate:"max=255"`
	Category             string `json:"category,omitempty" validate:"max=64"`
	stepUpFields
}

type postingFunc func(context.Context, services.PostingRequest) (*services.PostingResult, error)

// Deposit handles POST /accounts/{id}/deposit
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.posting(w, r, h.ledger.Deposit)
}

// Withdraw handles POST /accounts/{id}/withdraw
func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.posting(w, r, h.ledger.Withdrawal)
}

func (h *LedgerHandler) posting(w http.ResponseWriter, r *http.Request, post postingFunc) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req postingBody
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	amount, fe := services.ParseAmount(req.Amount)
	if fe != nil {
		services.SendLedgerError(w, fe.Err())
		return
	}

	result, err := post(r.Context(), services.PostingRequest{
		AccountID: accountID,
		Amount:    amount,
		Note:      req.Note,
		Category:  req.Category,
		Actor:     userID,
		Auth:      req.auth(),
	})
	if err != nil {
		h.logFailure(r, err, "posting rejected")
		services.SendLedgerError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, result)
}

// Transfer handles POST /transfers
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}

	var req transferBody
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	amount, fe := services.ParseAmount(req.Amount)
	if fe != nil {
		services.SendLedgerError(w, fe.Err())
		return
	}

	result, err := h.ledger.Transfer(r.Context(), services.TransferRequest{
		SourceID:      req.SourceAccountID,
		DestinationID: req.DestinationAccountID,
		Amount:        amount,
		Note:          req.Note,
		Category:      req.Category,
		Actor:         userID,
		Auth:          req.auth(),
	})
	if err != nil {
		h.logFailure(r, err, "transfer rejected")
		services.SendLedgerError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, result)
}

// Undo handles POST /transactions/{id}/undo. The body is optional and only
// carries step-up fields.
func (h *LedgerHandler) Undo(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req stepUpFields
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.ledger.Undo(r.Context(), services.UndoRequest{
		TransactionID: txID,
		Actor:         userID,
		Auth:          req.auth(),
	})
	if err != nil {
		h.logFailure(r, err, "undo rejected")
		services.SendLedgerError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, result)
}

// GetAccount handles GET /accounts/{id}
func (h *LedgerHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	account, err := h.ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, account.View())
}

// ListAccounts handles GET /accounts and returns the caller's accounts.
func (h *LedgerHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	accounts, err := h.ledger.ListAccounts(r.Context(), userID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	views := make([]models.AccountView, 0, len(accounts))
	for i := range accounts {
		views = append(views, accounts[i].View())
	}
	services.SendJSON(w, http.StatusOK, map[string]any{
		"accounts": views,
		"count":    len(views),
	})
}

// ListTransactions handles GET /accounts/{id}/transactions?limit=
func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	limit := defaultStatementLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			services.SendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest, nil)
			return
		}
		limit = min(n, maxStatementLimit)
	}

	txs, err := h.ledger.ListTransactions(r.Context(), accountID, limit)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]any{
		"account_id":   accountID,
		"transactions": txs,
		"count":        len(txs),
	})
}

// Freeze handles PUT /accounts/{id}/freeze
func (h *LedgerHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, true)
}

// Unfreeze handles PUT /accounts/{id}/unfreeze
func (h *LedgerHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, false)
}

func (h *LedgerHandler) setFrozen(w http.ResponseWriter, r *http.Request, frozen bool) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	account, err := h.ledger.SetFrozen(r.Context(), accountID, frozen, userID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, account.View())
}

func (h *LedgerHandler) logFailure(r *http.Request, err error, msg string) {
	log := logger.FromContext(r.Context(), h.log)
	event := log.Info()
	if models.CodeOf(err) == models.CodeStoreUnavailable || models.CodeOf(err) == models.CodePartialTransferFailure {
		event = log.Error()
	}
	event.Err(err).Str("path", r.URL.Path).Msg(msg)
}

// Reconcile handles GET /accounts/{id}/reconcile
func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	balance, sum, err := h.ledger.Reconcile(r.Context(), accountID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]any{
		"account_id":      accountID,
		"balance":         balance,
		"transaction_sum": sum,
		"balanced":        balance.Equal(sum),
	})
}
