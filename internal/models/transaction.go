package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the kind of posting.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionTransfer   TransactionType = "transfer"
)

// ParseTransactionType accepts the enumerated types case-insensitively.
func ParseTransactionType(raw string) (TransactionType, bool) {
	switch TransactionType(normalize(raw)) {
	case TransactionDeposit:
		return TransactionDeposit, true
	case TransactionWithdrawal:
		return TransactionWithdrawal, true
	case TransactionTransfer:
		return TransactionTransfer, true
	}
	return "", false
}

// Transaction is one signed entry against one account. Positive amounts are
// credits, negative amounts debits. A transfer is two entries.
type Transaction struct {
	ID          int64           `json:"id" db:"id"`
	AccountID   int64           `json:"account_id" db:"account_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Description string          `json:"description" db:"description"`
	Note        string          `json:"note,omitempty" db:"note"`
	Category    string          `json:"category,omitempty" db:"category"`
	Type        TransactionType `json:"transaction_type" db:"transaction_type"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	Reversed    bool            `json:"reversed" db:"reversed"`
	ReversalOf  *int64          `json:"reversal_of,omitempty" db:"reversal_of"`
}

// IsReversal reports whether the entry cancels another entry.
func (t *Transaction) IsReversal() bool {
	return t.ReversalOf != nil
}

// IsDebit reports whether the type takes money out of the source account.
func (t TransactionType) IsDebit() bool {
	return t == TransactionWithdrawal || t == TransactionTransfer
}
