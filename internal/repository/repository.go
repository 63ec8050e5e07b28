// Package repository is the record store boundary of the ledger. Balances
// change only through guarded deltas, which re-check frozen state and funds
// in the same atomic step as the write.
package repository

import (
	"context"
	"errors"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrAccountFrozen     = errors.New("account is frozen")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyReversed   = errors.New("transaction already reversed")
)

type AccountRepository interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error)
	// ApplyDelta adds delta to the balance and returns the new balance. It
	// fails with ErrAccountFrozen when the account is frozen and with
	// ErrInsufficientFunds when the result would be negative.
	ApplyDelta(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error)
	SetFrozen(ctx context.Context, id int64, frozen bool) (*models.Account, error)
}

type TransactionRepository interface {
	InsertTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error)
	SumAmounts(ctx context.Context, accountID int64) (decimal.Decimal, error)
	// MarkReversed flags an original entry. It fails with ErrAlreadyReversed
	// when the entry is already flagged or is itself a reversal.
	MarkReversed(ctx context.Context, id int64) error
}

// LedgerWriter moves a balance and records the entry that explains it in one
// store transaction. Either both are written or neither is.
type LedgerWriter interface {
	// PostEntry applies entry.Amount to entry.AccountID with the ApplyDelta
	// guards and inserts the entry.
	PostEntry(ctx context.Context, entry *models.Transaction) (*models.Transaction, decimal.Decimal, error)
	// ReverseEntry flags the entry named by reversal.ReversalOf, applies
	// reversal.Amount and inserts reversal. The frozen and funds guards
	// apply only when guarded is set.
	ReverseEntry(ctx context.Context, reversal *models.Transaction, guarded bool) (*models.Transaction, decimal.Decimal, error)
}

type NotificationRepository interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
}

type UserRepository interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Store is the full record store used by the ledger services.
type Store interface {
	AccountRepository
	TransactionRepository
	LedgerWriter
	NotificationRepository
	UserRepository
}
