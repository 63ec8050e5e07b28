package audit

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Event struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     string            `json:"event_type"`
	TransactionID int64             `json:"transaction_id,omitempty"`
	AccountID     int64             `json:"account_id,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	Status        string            `json:"status"`
	Details       map[string]string `json:"details,omitempty"`
}

const (
	EventPosting      = "POSTING"
	EventTransfer     = "TRANSFER"
	EventReversal     = "REVERSAL"
	EventCompensation = "COMPENSATION"
	EventFreeze       = "FREEZE"
	EventImport       = "IMPORT"
	EventError        = "ERROR"
)

// Logger writes one structured audit record per ledger event.
type Logger struct {
	log zerolog.Logger
}

func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Str("component", "audit").Logger()}
}

func (a *Logger) LogPosting(txType string, transactionID, accountID int64, amount decimal.Decimal) {
	a.write(Event{
		EventType:     EventPosting,
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details:       map[string]string{"transaction_type": txType},
	})
}

func (a *Logger) LogTransfer(debitID, creditID, fromAccount, toAccount int64, amount decimal.Decimal, status string) {
	a.write(Event{
		EventType:     EventTransfer,
		TransactionID: debitID,
		AccountID:     fromAccount,
		Amount:        amount,
		Status:        status,
		Details: map[string]string{
			"credit_transaction_id": formatID(creditID),
			"to_account":            formatID(toAccount),
		},
	})
}

func (a *Logger) LogReversal(originalID, reversalID, accountID int64, amount decimal.Decimal) {
	a.write(Event{
		EventType:     EventReversal,
		TransactionID: reversalID,
		AccountID:     accountID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details:       map[string]string{"reversal_of": formatID(originalID)},
	})
}

// LogCompensation records an undo of a partially applied operation.
func (a *Logger) LogCompensation(transactionID, accountID int64, amount decimal.Decimal, cause error, compensated bool) {
	status := "SUCCESS"
	if !compensated {
		status = "FAILED"
	}
	details := map[string]string{}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	a.write(Event{
		EventType:     EventCompensation,
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Status:        status,
		Details:       details,
	})
}

func (a *Logger) LogFreeze(accountID int64, frozen bool, actor string) {
	state := "unfrozen"
	if frozen {
		state = "frozen"
	}
	a.write(Event{
		EventType: EventFreeze,
		AccountID: accountID,
		Status:    "SUCCESS",
		Details:   map[string]string{"state": state, "actor": actor},
	})
}

func (a *Logger) LogImport(jobID string, processed, failed int) {
	status := "SUCCESS"
	if failed > 0 {
		status = "PARTIAL"
	}
	a.write(Event{
		EventType: EventImport,
		Status:    status,
		Details: map[string]string{
			"job_id":    jobID,
			"processed": formatInt(processed),
			"failed":    formatInt(failed),
		},
	})
}

func (a *Logger) LogError(transactionID, accountID int64, err error) {
	a.write(Event{
		EventType:     EventError,
		TransactionID: transactionID,
		AccountID:     accountID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *Logger) write(event Event) {
	event.Timestamp = time.Now()
	a.log.Info().
		Time("timestamp", event.Timestamp).
		Str("event_type", event.EventType).
		Int64("transaction_id", event.TransactionID).
		Int64("account_id", event.AccountID).
		Str("amount", event.Amount.String()).
		Str("status", event.Status).
		Interface("details", event.Details).
		Msg("AUDIT")
}
