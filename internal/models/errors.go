package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies a ledger failure. Every code maps to one input field
// where one applies.
type ErrorCode string

const (
	CodeInvalidAmount          ErrorCode = "InvalidAmount"
	CodeAccountNotFound        ErrorCode = "AccountNotFound"
	CodeAccountFrozen          ErrorCode = "AccountFrozen"
	CodeInsufficientFunds      ErrorCode = "InsufficientFunds"
	CodeInvalidDestination     ErrorCode = "InvalidDestination"
	CodeInvalidTransactionType ErrorCode = "InvalidTransactionType"
	CodeInvalidDate            ErrorCode = "InvalidDate"
	CodeAccountIDRequired      ErrorCode = "AccountIdRequired"
	CodeAlreadyReversed        ErrorCode = "AlreadyReversed"
	CodePartialTransferFailure ErrorCode = "PartialTransferFailure"
	CodeProcessingTimedOut     ErrorCode = "ProcessingTimedOut"
	CodeStoreUnavailable       ErrorCode = "StoreUnavailable"
	CodeStepUpRequired         ErrorCode = "StepUpRequired"
	CodeTransactionNotFound    ErrorCode = "TransactionNotFound"
	CodeInvalidCredentials     ErrorCode = "InvalidCredentials"
	CodeUnsupportedFormat      ErrorCode = "UnsupportedFormat"
)

// Sentinels for errors.Is. They match any LedgerError with the same code.
var (
	ErrInvalidAmount          = &LedgerError{Code: CodeInvalidAmount}
	ErrAccountNotFound        = &LedgerError{Code: CodeAccountNotFound}
	ErrAccountFrozen          = &LedgerError{Code: CodeAccountFrozen}
	ErrInsufficientFunds      = &LedgerError{Code: CodeInsufficientFunds}
	ErrInvalidDestination     = &LedgerError{Code: CodeInvalidDestination}
	ErrInvalidTransactionType = &LedgerError{Code: CodeInvalidTransactionType}
	ErrInvalidDate            = &LedgerError{Code: CodeInvalidDate}
	ErrAccountIDRequired      = &LedgerError{Code: CodeAccountIDRequired}
	ErrAlreadyReversed        = &LedgerError{Code: CodeAlreadyReversed}
	ErrPartialTransferFailure = &LedgerError{Code: CodePartialTransferFailure}
	ErrProcessingTimedOut     = &LedgerError{Code: CodeProcessingTimedOut}
	ErrStoreUnavailable       = &LedgerError{Code: CodeStoreUnavailable}
	ErrStepUpRequired         = &LedgerError{Code: CodeStepUpRequired}
	ErrTransactionNotFound    = &LedgerError{Code: CodeTransactionNotFound}
	ErrInvalidCredentials     = &LedgerError{Code: CodeInvalidCredentials}
	ErrUnsupportedFormat      = &LedgerError{Code: CodeUnsupportedFormat}
)

// LedgerError is the error type returned by ledger operations.
type LedgerError struct {
	Code    ErrorCode         `json:"code"`
	Field   string            `json:"field,omitempty"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func NewLedgerError(code ErrorCode, field, message string) *LedgerError {
	return &LedgerError{Code: code, Field: field, Message: message}
}

// StoreError wraps a store-layer failure as StoreUnavailable.
func StoreError(op string, err error) *LedgerError {
	return &LedgerError{
		Code:    CodeStoreUnavailable,
		Message: fmt.Sprintf("%s: record store unavailable", op),
		Err:     err,
	}
}

func (e *LedgerError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Field != "" {
		b.WriteString(" (" + e.Field + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *LedgerError) Unwrap() error { return e.Err }

func (e *LedgerError) Is(target error) bool {
	var t *LedgerError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns e with key set in Details.
func (e *LedgerError) WithDetail(key, value string) *LedgerError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the ledger code carried by err, or "" when there is none.
func CodeOf(err error) ErrorCode {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// FieldError is one validation failure attributable to one input field.
type FieldError struct {
	Code    ErrorCode `json:"code"`
	Field   string    `json:"field"`
	Message string    `json:"message"`
}

func (f FieldError) Err() *LedgerError {
	return &LedgerError{Code: f.Code, Field: f.Field, Message: f.Message}
}

// RowError is a FieldError tied to a 1-based data row of an import file.
type RowError struct {
	Row     int       `json:"row"`
	Code    ErrorCode `json:"code"`
	Field   string    `json:"field"`
	Message string    `json:"message"`
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
