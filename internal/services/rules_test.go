package services

import (
	"testing"
	"time"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw   string
		valid bool
	}{
		{"100", true},
		{" 12.50 ", true},
		{"0.01", true},
		{"0", false},
		{"-5", false},
		{"abc", false},
		{"", false},
		{"NaN", false},
		{"Infinity", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, fe := ParseAmount(tt.raw)
			if tt.valid {
				assert.Nil(t, fe)
				return
			}
			require.NotNil(t, fe)
			assert.Equal(t, models.CodeInvalidAmount, fe.Code)
			assert.Equal(t, FieldAmount, fe.Field)
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	for _, raw := range []string{"2024-03-15", "03/15/2024", "2024-03-15T00:00:00Z", "2024-03-15 00:00:00"} {
		got, fe := ParseDate(raw)
		assert.Nil(t, fe, raw)
		assert.True(t, want.Equal(got), raw)
	}

	got, fe := ParseDate("")
	assert.Nil(t, fe)
	assert.True(t, got.IsZero())

	_, fe = ParseDate("2024-13-45")
	require.NotNil(t, fe)
	assert.Equal(t, models.CodeInvalidDate, fe.Code)
}

func TestValidateType(t *testing.T) {
	tt, fe := ValidateType("DEPOSIT")
	assert.Nil(t, fe)
	assert.Equal(t, models.TransactionDeposit, tt)

	_, fe = ValidateType("refund")
	require.NotNil(t, fe)
	assert.Equal(t, models.CodeInvalidTransactionType, fe.Code)
}

func TestValidateProposal(t *testing.T) {
	open := &models.Account{ID: 1, AccountNumber: "11112222", Balance: decimal.NewFromInt(100)}
	other := &models.Account{ID: 2, AccountNumber: "33334444", Balance: decimal.Zero}
	frozen := &models.Account{ID: 3, AccountNumber: "55556666", IsFrozen: true}

	t.Run("valid withdrawal of the full balance", func(t *testing.T) {
		r := ValidateProposal(Proposal{Type: models.TransactionWithdrawal, Amount: decimal.NewFromInt(100), SourceID: 1, Source: open})
		assert.True(t, r.Valid())
		assert.NoError(t, r.Err())
	})

	t.Run("collects every failure", func(t *testing.T) {
		r := ValidateProposal(Proposal{Type: models.TransactionTransfer, Amount: decimal.Zero, SourceID: 3, Source: frozen, DestinationID: 9})
		require.Len(t, r.Errors, 3)
		assert.Equal(t, models.CodeInvalidAmount, r.Errors[0].Code)
		assert.Equal(t, models.CodeAccountFrozen, r.Errors[1].Code)
		assert.Equal(t, models.CodeAccountNotFound, r.Errors[2].Code)
		assert.Equal(t, FieldDestinationID, r.Errors[2].Field)
		assert.ErrorIs(t, r.Err(), models.ErrInvalidAmount)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		r := ValidateProposal(Proposal{Type: models.TransactionTransfer, Amount: decimal.RequireFromString("100.01"), SourceID: 1, Source: open, DestinationID: 2, Destination: other})
		require.Len(t, r.Errors, 1)
		assert.Equal(t, models.CodeInsufficientFunds, r.Errors[0].Code)
	})

	t.Run("deposits ignore the balance", func(t *testing.T) {
		r := ValidateProposal(Proposal{Type: models.TransactionDeposit, Amount: decimal.NewFromInt(1000), SourceID: 2, Source: other})
		assert.True(t, r.Valid())
	})

	t.Run("self transfer", func(t *testing.T) {
		r := ValidateProposal(Proposal{Type: models.TransactionTransfer, Amount: decimal.NewFromInt(1), SourceID: 1, Source: open, DestinationID: 1, Destination: open})
		require.Len(t, r.Errors, 1)
		assert.Equal(t, models.CodeInvalidDestination, r.Errors[0].Code)
	})

	t.Run("frozen destination", func(t *testing.T) {
		r := ValidateProposal(Proposal{Type: models.TransactionTransfer, Amount: decimal.NewFromInt(1), SourceID: 1, Source: open, DestinationID: 3, Destination: frozen})
		require.Len(t, r.Errors, 1)
		assert.Equal(t, models.CodeAccountFrozen, r.Errors[0].Code)
		assert.Equal(t, FieldDestinationID, r.Errors[0].Field)
	})

	t.Run("unknown type", func(t *testing.T) {
		r := ValidateProposal(Proposal{Type: "refund", Amount: decimal.NewFromInt(1), SourceID: 1, Source: open})
		require.Len(t, r.Errors, 1)
		assert.Equal(t, models.CodeInvalidTransactionType, r.Errors[0].Code)
	})
}
