package handlers

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger/internal/services"
)

type AuthHandler struct {
	auth      *services.AuthService
	validator *services.ValidationHelper
	log       zerolog.Logger
}

func NewAuthHandler(auth *services.AuthService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, validator: services.NewValidationHelper(), log: log}
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id" validate:"required,max=64"`
		Password string `json:"password" validate:"required,max=128"`
	}
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	session, err := h.auth.Login(r.Context(), req.UserID, req.Password)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, session)
}
