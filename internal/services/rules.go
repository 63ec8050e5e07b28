package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/shopspring/decimal"
)

// Field names reported by validation errors.
const (
	FieldAmount          = "amount"
	FieldAccountID       = "account_id"
	FieldDestinationID   = "destination_account_id"
	FieldTransactionType = "transaction_type"
	FieldCreatedAt       = "created_at"
	FieldTransactionID   = "transaction_id"
)

// Accepted created_at layouts for imported rows.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// ValidationResult collects every rule failure for one proposed transaction.
type ValidationResult struct {
	Errors []models.FieldError `json:"errors,omitempty"`
}

func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) add(fe *models.FieldError) {
	if fe != nil {
		r.Errors = append(r.Errors, *fe)
	}
}

// Err returns the first failure as a LedgerError, or nil when valid.
func (r *ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	return r.Errors[0].Err()
}

func fieldError(code models.ErrorCode, field, format string, args ...any) *models.FieldError {
	return &models.FieldError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ParseAmount parses a positive decimal amount.
func ParseAmount(raw string) (decimal.Decimal, *models.FieldError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fieldError(models.CodeInvalidAmount, FieldAmount, "amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fieldError(models.CodeInvalidAmount, FieldAmount, "amount %q is not a number", raw)
	}
	if fe := ValidateAmount(amount); fe != nil {
		return decimal.Zero, fe
	}
	return amount, nil
}

func ValidateAmount(amount decimal.Decimal) *models.FieldError {
	if !amount.IsPositive() {
		return fieldError(models.CodeInvalidAmount, FieldAmount, "amount must be greater than zero")
	}
	return nil
}

func ValidateType(raw string) (models.TransactionType, *models.FieldError) {
	t, ok := models.ParseTransactionType(raw)
	if !ok {
		return "", fieldError(models.CodeInvalidTransactionType, FieldTransactionType,
			"transaction type %q must be deposit, withdrawal or transfer", raw)
	}
	return t, nil
}

// ParseDate parses an import created_at value. An empty value is not an
// error; the caller substitutes the current time.
func ParseDate(raw string) (time.Time, *models.FieldError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fieldError(models.CodeInvalidDate, FieldCreatedAt, "date %q is not a valid date", raw)
}

// Proposal is a transaction about to be posted, with its accounts already
// fetched. A nil account means the id did not resolve.
type Proposal struct {
	Type          models.TransactionType
	Amount        decimal.Decimal
	SourceID      int64
	Source        *models.Account
	DestinationID int64
	Destination   *models.Account
}

// ValidateProposal applies the amount, existence, frozen, self-transfer and
// funds rules. It never returns early so callers see every failure.
func ValidateProposal(p Proposal) ValidationResult {
	var r ValidationResult

	r.add(ValidateAmount(p.Amount))
	r.add(checkAccount(p.Source, p.SourceID, FieldAccountID))

	switch p.Type {
	case models.TransactionDeposit, models.TransactionWithdrawal:
	case models.TransactionTransfer:
		if p.DestinationID == p.SourceID {
			r.add(fieldError(models.CodeInvalidDestination, FieldDestinationID, "cannot transfer to the same account"))
		} else {
			r.add(checkAccount(p.Destination, p.DestinationID, FieldDestinationID))
		}
	default:
		r.add(fieldError(models.CodeInvalidTransactionType, FieldTransactionType,
			"transaction type %q must be deposit, withdrawal or transfer", p.Type))
	}

	if p.Type.IsDebit() && p.Source != nil && p.Amount.IsPositive() && p.Amount.GreaterThan(p.Source.Balance) {
		r.add(fieldError(models.CodeInsufficientFunds, FieldAmount,
			"amount %s exceeds available balance %s", p.Amount.StringFixed(2), p.Source.Balance.StringFixed(2)))
	}

	return r
}

// checkAccount applies the existence and frozen rules to one account.
func checkAccount(a *models.Account, id int64, field string) *models.FieldError {
	if a == nil {
		return fieldError(models.CodeAccountNotFound, field, "account %d not found", id)
	}
	if a.IsFrozen {
		return fieldError(models.CodeAccountFrozen, field, "account %s is frozen", a.MaskedNumber())
	}
	return nil
}
