package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/metrics"
	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/shopspring/decimal"
)

const reversalPrefix = "Reversal: "

// PostingRequest is a deposit or withdrawal against one account.
type PostingRequest struct {
	AccountID int64
	Amount    decimal.Decimal
	Note      string
	Category  string
	Actor     string
	Auth      Authorization
}

type TransferRequest struct {
	SourceID      int64
	DestinationID int64
	Amount        decimal.Decimal
	Note          string
	Category      string
	Actor         string
	Auth          Authorization
}

type UndoRequest struct {
	TransactionID int64
	Actor         string
	Auth          Authorization
}

type PostingResult struct {
	Transaction models.Transaction `json:"transaction"`
	Balance     decimal.Decimal    `json:"balance"`
}

type TransferResult struct {
	Debit              models.Transaction `json:"debit"`
	Credit             models.Transaction `json:"credit"`
	SourceBalance      decimal.Decimal    `json:"source_balance"`
	DestinationBalance decimal.Decimal    `json:"destination_balance"`
}

type UndoResult struct {
	Original models.Transaction `json:"original"`
	Reversal models.Transaction `json:"reversal"`
	Balance  decimal.Decimal    `json:"balance"`
}

// LedgerService moves money between accounts. Every balance change is
// posted together with its entry through the store's LedgerWriter, so frozen
// state and funds are re-checked at the write even after validation passed.
// Once authorization passes, writes run to completion even if the caller
// goes away.
type LedgerService struct {
	store  repository.Store
	policy StepUpPolicy
	grants GrantStore
	audit  *audit.Logger
	log    zerolog.Logger
	notify bool
	now    func() time.Time
}

func NewLedgerService(store repository.Store, cfg *config.LedgerConfig, grants GrantStore, auditLog *audit.Logger, log zerolog.Logger) *LedgerService {
	return &LedgerService{
		store:  store,
		policy: NewStepUpPolicy(cfg),
		grants: grants,
		audit:  auditLog,
		log:    logger.Component(log, "ledger"),
		notify: cfg.Notifications,
		now:    time.Now,
	}
}

func (s *LedgerService) Policy() StepUpPolicy {
	return s.policy
}

func (s *LedgerService) Deposit(ctx context.Context, req PostingRequest) (*PostingResult, error) {
	res, err := s.posting(ctx, models.TransactionDeposit, OpDeposit, req)
	metrics.ObserveOperation(string(OpDeposit), resultLabel(err))
	return res, err
}

func (s *LedgerService) Withdrawal(ctx context.Context, req PostingRequest) (*PostingResult, error) {
	res, err := s.posting(ctx, models.TransactionWithdrawal, OpWithdrawal, req)
	metrics.ObserveOperation(string(OpWithdrawal), resultLabel(err))
	return res, err
}

func (s *LedgerService) posting(ctx context.Context, txType models.TransactionType, op Operation, req PostingRequest) (*PostingResult, error) {
	account, err := s.lookupAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	result := ValidateProposal(Proposal{
		Type:     txType,
		Amount:   req.Amount,
		SourceID: req.AccountID,
		Source:   account,
	})
	if !result.Valid() {
		return nil, result.Err()
	}

	if err := s.authorize(ctx, op, req.Amount, req.Actor, req.Auth); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	delta := req.Amount
	description := "Deposit"
	if txType == models.TransactionWithdrawal {
		delta = req.Amount.Neg()
		description = "Withdrawal"
	}

	posted, balance, err := s.post(ctx, &models.Transaction{
		AccountID:   req.AccountID,
		Amount:      delta,
		Description: description,
		Note:        req.Note,
		Category:    req.Category,
		Type:        txType,
		CreatedAt:   s.now(),
	}, FieldAccountID)
	if err != nil {
		return nil, err
	}

	s.audit.LogPosting(string(txType), posted.ID, posted.AccountID, posted.Amount)
	s.notifyOwner(ctx, posted.AccountID, postingTitle(txType),
		fmt.Sprintf("%s of %s posted. New balance %s.", description, req.Amount.StringFixed(2), balance.StringFixed(2)))

	return &PostingResult{Transaction: *posted, Balance: balance}, nil
}

// Transfer posts the debit leg then the credit leg. When the credit leg
// fails the debit leg is compensated and PartialTransferFailure is returned.
func (s *LedgerService) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	res, err := s.transfer(ctx, req)
	metrics.ObserveOperation(string(OpTransfer), resultLabel(err))
	return res, err
}

func (s *LedgerService) transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	source, err := s.lookupAccount(ctx, req.SourceID)
	if err != nil {
		return nil, err
	}
	var destination *models.Account
	if req.DestinationID != req.SourceID {
		if destination, err = s.lookupAccount(ctx, req.DestinationID); err != nil {
			return nil, err
		}
	}

	result := ValidateProposal(Proposal{
		Type:          models.TransactionTransfer,
		Amount:        req.Amount,
		SourceID:      req.SourceID,
		Source:        source,
		DestinationID: req.DestinationID,
		Destination:   destination,
	})
	if !result.Valid() {
		return nil, result.Err()
	}

	if err := s.authorize(ctx, OpTransfer, req.Amount, req.Actor, req.Auth); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	now := s.now()
	debit, sourceBalance, err := s.post(ctx, &models.Transaction{
		AccountID:   source.ID,
		Amount:      req.Amount.Neg(),
		Description: "Transfer to account " + destination.MaskedNumber(),
		Note:        req.Note,
		Category:    req.Category,
		Type:        models.TransactionTransfer,
		CreatedAt:   now,
	}, FieldAccountID)
	if err != nil {
		return nil, err
	}

	credit, destinationBalance, err := s.post(ctx, &models.Transaction{
		AccountID:   destination.ID,
		Amount:      req.Amount,
		Description: "Transfer from account " + source.MaskedNumber(),
		Note:        req.Note,
		Category:    req.Category,
		Type:        models.TransactionTransfer,
		CreatedAt:   now,
	}, FieldDestinationID)
	if err != nil {
		s.log.Error().Err(err).
			Int64("debit_id", debit.ID).
			Int64("source_id", source.ID).
			Int64("destination_id", destination.ID).
			Msg("credit leg failed, compensating debit leg")

		compensated := s.compensateDebit(ctx, debit)
		s.audit.LogCompensation(debit.ID, source.ID, req.Amount, err, compensated)
		s.audit.LogTransfer(debit.ID, 0, source.ID, destination.ID, req.Amount, "PARTIAL")

		return nil, &models.LedgerError{
			Code:    models.CodePartialTransferFailure,
			Field:   FieldDestinationID,
			Message: "transfer debited the source but could not credit the destination",
			Details: map[string]string{
				"debit_transaction_id": strconv.FormatInt(debit.ID, 10),
				"compensated":          strconv.FormatBool(compensated),
			},
			Err: err,
		}
	}

	s.audit.LogTransfer(debit.ID, credit.ID, source.ID, destination.ID, req.Amount, "SUCCESS")
	amount := req.Amount.StringFixed(2)
	s.notifyOwner(ctx, source.ID, "Transfer sent",
		fmt.Sprintf("Transfer of %s to account %s. New balance %s.", amount, destination.MaskedNumber(), sourceBalance.StringFixed(2)))
	s.notifyOwner(ctx, destination.ID, "Transfer received",
		fmt.Sprintf("Transfer of %s from account %s. New balance %s.", amount, source.MaskedNumber(), destinationBalance.StringFixed(2)))

	return &TransferResult{
		Debit:              *debit,
		Credit:             *credit,
		SourceBalance:      sourceBalance,
		DestinationBalance: destinationBalance,
	}, nil
}

// compensateDebit credits the source back, appends a reversing entry and
// flags the debit leg in one store write. It reports whether that succeeded.
func (s *LedgerService) compensateDebit(ctx context.Context, debit *models.Transaction) bool {
	_, _, err := s.store.ReverseEntry(ctx, &models.Transaction{
		AccountID:   debit.AccountID,
		Amount:      debit.Amount.Neg(),
		Description: reversalPrefix + debit.Description,
		Type:        debit.Type,
		CreatedAt:   s.now(),
		ReversalOf:  &debit.ID,
	}, false)
	if err != nil {
		s.log.Error().Err(err).Int64("debit_id", debit.ID).Msg("compensation failed")
		return false
	}
	return true
}

// Undo appends a reversing entry for a transaction and flags the original.
// Reversal entries themselves cannot be undone.
func (s *LedgerService) Undo(ctx context.Context, req UndoRequest) (*UndoResult, error) {
	res, err := s.undo(ctx, req)
	metrics.ObserveOperation(string(OpUndo), resultLabel(err))
	return res, err
}

func (s *LedgerService) undo(ctx context.Context, req UndoRequest) (*UndoResult, error) {
	original, err := s.store.GetTransaction(ctx, req.TransactionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, transactionNotFound(req.TransactionID)
	}
	if err != nil {
		return nil, models.StoreError("undo", err)
	}
	if original.Reversed || original.IsReversal() {
		return nil, alreadyReversed(original)
	}

	if err := s.authorize(ctx, OpUndo, original.Amount.Abs(), req.Actor, req.Auth); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	reversal, balance, err := s.store.ReverseEntry(ctx, &models.Transaction{
		AccountID:   original.AccountID,
		Amount:      original.Amount.Neg(),
		Description: reversalPrefix + original.Description,
		Category:    original.Category,
		Type:        original.Type,
		CreatedAt:   s.now(),
		ReversalOf:  &original.ID,
	}, true)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyReversed) {
			return nil, alreadyReversed(original)
		}
		mapped := mapStoreError("undo", err, FieldAccountID, original.AccountID)
		if models.CodeOf(mapped) == models.CodeStoreUnavailable {
			s.audit.LogError(original.ID, original.AccountID, err)
		}
		return nil, mapped
	}

	original.Reversed = true
	s.audit.LogReversal(original.ID, reversal.ID, reversal.AccountID, reversal.Amount)
	s.notifyOwner(ctx, reversal.AccountID, "Transaction reversed",
		fmt.Sprintf("%s of %s was reversed. New balance %s.", original.Description, original.Amount.Abs().StringFixed(2), balance.StringFixed(2)))

	return &UndoResult{Original: *original, Reversal: *reversal, Balance: balance}, nil
}

// SetFrozen is the administrative freeze/unfreeze.
func (s *LedgerService) SetFrozen(ctx context.Context, accountID int64, frozen bool, actor string) (*models.Account, error) {
	account, err := s.store.SetFrozen(ctx, accountID, frozen)
	if err != nil {
		return nil, mapStoreError("set frozen", err, FieldAccountID, accountID)
	}
	s.audit.LogFreeze(accountID, frozen, actor)
	s.log.Info().Int64("account_id", accountID).Bool("frozen", frozen).Str("actor", actor).Msg("account freeze state changed")
	return account, nil
}

func (s *LedgerService) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, mapStoreError("get account", err, FieldAccountID, accountID)
	}
	return account, nil
}

// ListAccounts returns the accounts owned by ownerID.
func (s *LedgerService) ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error) {
	accounts, err := s.store.ListAccounts(ctx, ownerID)
	if err != nil {
		return nil, models.StoreError("list accounts", err)
	}
	return accounts, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, models.StoreError("list transactions", err)
	}
	return txs, nil
}

// Reconcile compares an account balance with the sum of its entries.
func (s *LedgerService) Reconcile(ctx context.Context, accountID int64) (balance, sum decimal.Decimal, err error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	sum, err = s.store.SumAmounts(ctx, accountID)
	if err != nil {
		return decimal.Zero, decimal.Zero, models.StoreError("reconcile", err)
	}
	if !account.Balance.Equal(sum) {
		s.log.Warn().Int64("account_id", accountID).
			Str("balance", account.Balance.String()).
			Str("sum", sum.String()).
			Msg("balance does not match transaction sum")
	}
	return account.Balance, sum, nil
}

// authorize enforces the step-up policy. A reauthentication grant is
// consumed only once the request has passed validation.
func (s *LedgerService) authorize(ctx context.Context, op Operation, amount decimal.Decimal, actor string, auth Authorization) error {
	level := s.policy.RequiresStepUp(op, amount)
	switch level {
	case StepUpNone:
		return nil
	case StepUpConfirm:
		if auth.Confirmed {
			return nil
		}
		return stepUpRequired(level, fmt.Sprintf("%s of %s requires confirmation", op, amount.StringFixed(2)))
	}

	if !auth.Confirmed || auth.GrantToken == "" {
		return stepUpRequired(level, fmt.Sprintf("%s of %s requires confirmation and re-authentication", op, amount.StringFixed(2)))
	}
	if s.grants == nil {
		return stepUpRequired(level, "re-authentication is not available")
	}
	ok, err := s.grants.Redeem(ctx, auth.GrantToken, actor)
	if err != nil {
		return models.StoreError("redeem grant", err)
	}
	if !ok {
		return stepUpRequired(level, "re-authentication grant is invalid or expired")
	}
	return nil
}

// post moves the balance and records the entry in one store write.
func (s *LedgerService) post(ctx context.Context, tx *models.Transaction, field string) (*models.Transaction, decimal.Decimal, error) {
	posted, balance, err := s.store.PostEntry(ctx, tx)
	if err != nil {
		mapped := mapStoreError("post "+string(tx.Type), err, field, tx.AccountID)
		if models.CodeOf(mapped) == models.CodeStoreUnavailable {
			s.audit.LogError(0, tx.AccountID, err)
		}
		return nil, decimal.Zero, mapped
	}
	return posted, balance, nil
}

func (s *LedgerService) lookupAccount(ctx context.Context, id int64) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.StoreError("get account", err)
	}
	return account, nil
}

// notifyOwner writes a notification. Failures are logged and never
// returned.
func (s *LedgerService) notifyOwner(ctx context.Context, accountID int64, title, message string) {
	if !s.notify {
		return
	}
	n := &models.Notification{AccountID: accountID, Title: title, Message: message, CreatedAt: s.now()}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		s.log.Warn().Err(err).Int64("account_id", accountID).Msg("notification not written")
	}
}

func postingTitle(t models.TransactionType) string {
	if t == models.TransactionWithdrawal {
		return "Withdrawal posted"
	}
	return "Deposit received"
}

// mapStoreError converts repository sentinels into ledger errors.
func mapStoreError(op string, err error, field string, accountID int64) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return models.NewLedgerError(models.CodeAccountNotFound, field, fmt.Sprintf("account %d not found", accountID))
	case errors.Is(err, repository.ErrAccountFrozen):
		return models.NewLedgerError(models.CodeAccountFrozen, field, fmt.Sprintf("account %d is frozen", accountID))
	case errors.Is(err, repository.ErrInsufficientFunds):
		return models.NewLedgerError(models.CodeInsufficientFunds, FieldAmount, "insufficient funds")
	}
	return models.StoreError(op, err)
}

func transactionNotFound(id int64) error {
	return models.NewLedgerError(models.CodeTransactionNotFound, FieldTransactionID, fmt.Sprintf("transaction %d not found", id))
}

func alreadyReversed(t *models.Transaction) error {
	if t.IsReversal() {
		return models.NewLedgerError(models.CodeAlreadyReversed, FieldTransactionID,
			fmt.Sprintf("transaction %d is a reversal and cannot be undone", t.ID))
	}
	return models.NewLedgerError(models.CodeAlreadyReversed, FieldTransactionID,
		fmt.Sprintf("transaction %d has already been reversed", t.ID))
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := models.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}
