package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account is a customer account whose balance is moved only through ledger
// operations or administrative freeze/unfreeze.
type Account struct {
	ID            int64           `json:"id" db:"id"`
	OwnerID       string          `json:"owner_id" db:"owner_id"`
	AccountType   string          `json:"account_type" db:"account_type"`
	AccountNumber string          `json:"-" db:"account_number"`
	RoutingNumber string          `json:"routing_number" db:"routing_number"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	IsFrozen      bool            `json:"is_frozen" db:"is_frozen"`
	Version       int64           `json:"version" db:"version"` // bumped on every balance change
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// MaskedNumber returns the account number with everything except the last
// four digits hidden.
func (a *Account) MaskedNumber() string {
	n := strings.TrimSpace(a.AccountNumber)
	if len(n) <= 4 {
		return n
	}
	return strings.Repeat("*", len(n)-4) + n[len(n)-4:]
}

// AccountView is the display form of an account.
type AccountView struct {
	ID            int64           `json:"id"`
	AccountType   string          `json:"account_type"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	IsFrozen      bool            `json:"is_frozen"`
}

func (a *Account) View() AccountView {
	return AccountView{
		ID:            a.ID,
		AccountType:   a.AccountType,
		AccountNumber: a.MaskedNumber(),
		Balance:       a.Balance,
		IsFrozen:      a.IsFrozen,
	}
}

// Notification is an owner-facing message written after a posting.
type Notification struct {
	ID        int64     `json:"id" db:"id"`
	AccountID int64     `json:"account_id" db:"account_id"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Read      bool      `json:"read" db:"read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
