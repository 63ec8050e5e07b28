package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ruralpay/ledger/internal/models"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Code    models.ErrorCode  `json:"code,omitempty"`    // Ledger error code
	Field   string            `json:"field,omitempty"`   // Offending input field
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	errorResp := ErrorResponse{Error: message}
	var ve validator.ValidationErrors
	if errors.As(validationErr, &ve) {
		errorResp.Details = make(map[string]string)
		for _, err := range ve {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}
	SendJSON(w, statusCode, errorResp)
}

// SendLedgerError maps a ledger error to its HTTP status and writes it.
func SendLedgerError(w http.ResponseWriter, err error) {
	var le *models.LedgerError
	if !errors.As(err, &le) {
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	message := le.Message
	if le.Code == models.CodeStoreUnavailable {
		message = "record store unavailable"
	}
	SendJSON(w, StatusForCode(le.Code), ErrorResponse{
		Error:   message,
		Code:    le.Code,
		Field:   le.Field,
		Details: le.Details,
	})
}

func StatusForCode(code models.ErrorCode) int {
	switch code {
	case models.CodeInvalidAmount, models.CodeInvalidDestination, models.CodeInvalidTransactionType,
		models.CodeInvalidDate, models.CodeAccountIDRequired, models.CodeUnsupportedFormat:
		return http.StatusBadRequest
	case models.CodeAccountNotFound, models.CodeTransactionNotFound:
		return http.StatusNotFound
	case models.CodeAccountFrozen, models.CodeAlreadyReversed:
		return http.StatusConflict
	case models.CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case models.CodeStepUpRequired:
		return http.StatusPreconditionRequired
	case models.CodeInvalidCredentials:
		return http.StatusUnauthorized
	case models.CodeProcessingTimedOut:
		return http.StatusGatewayTimeout
	case models.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func SendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
