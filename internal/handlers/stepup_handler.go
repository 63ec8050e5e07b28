package handlers

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
	"github.com/shopspring/decimal"
)

type StepUpHandler struct {
	stepUp    *services.StepUpService
	policy    services.StepUpPolicy
	validator *services.ValidationHelper
	log       zerolog.Logger
}

func NewStepUpHandler(stepUp *services.StepUpService, policy services.StepUpPolicy, log zerolog.Logger) *StepUpHandler {
	return &StepUpHandler{
		stepUp:    stepUp,
		policy:    policy,
		validator: services.NewValidationHelper(),
		log:       log,
	}
}

// Reauthenticate handles POST /auth/step-up. The caller proves the password
// again and receives a single-use grant token.
func (h *StepUpHandler) Reauthenticate(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}

	var req struct {
		Password string `json:"password" validate:"required,min=1,max=128"`
	}
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	grant, err := h.stepUp.Reauthenticate(r.Context(), userID, req.Password)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, grant)
}

// Preview handles GET /step-up?operation=&amount=. It reports the level the
// ledger will demand; the ledger enforces it again on the real request.
func (h *StepUpHandler) Preview(w http.ResponseWriter, r *http.Request) {
	op, ok := services.ParseOperation(r.URL.Query().Get("operation"))
	if !ok {
		services.SendErrorResponse(w, "operation must be one of deposit, withdrawal, transfer, undo", http.StatusBadRequest, nil)
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		services.SendLedgerError(w, models.NewLedgerError(models.CodeInvalidAmount, services.FieldAmount, "amount must be a number"))
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{
		"operation":         op,
		"amount":            amount,
		"level":             h.policy.RequiresStepUp(op, amount),
		"confirm_threshold": h.policy.ConfirmThreshold,
		"reauth_threshold":  h.policy.ReauthThreshold,
	})
}
