package services

import (
	"context"
	"errors"
	"fmt"
	"io"
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

// ImportOptions are chosen by the caller for a whole batch.
type ImportOptions struct {
	DefaultAccountID int64  `json:"default_account_id,omitempty"`
	Confirmed        bool   `json:"confirmed"`
	Actor            string `json:"-"`
}

// ImportRow is a row that passed validation.
type ImportRow struct {
	Line        int
	AccountID   int64
	Amount      decimal.Decimal
	Description string
	Type        models.TransactionType
	CreatedAt   time.Time
}

// ValidationReport is the result of checking every row before any write.
type ValidationReport struct {
	Total  int               `json:"total"`
	Rows   []ImportRow       `json:"-"`
	Errors []models.RowError `json:"errors,omitempty"`
}

func (r *ValidationReport) Valid() bool {
	return len(r.Errors) == 0
}

// CommitReport is the result of the sequential commit stage.
type CommitReport struct {
	Total     int               `json:"total"`
	Processed int               `json:"processed"`
	Errors    []models.RowError `json:"errors,omitempty"`
	TimedOut  bool              `json:"timed_out"`
}

type ImportResult struct {
	Success   bool              `json:"success"`
	Processed int               `json:"processed"`
	Errors    []models.RowError `json:"errors"`
	Message   string            `json:"message"`
	TimedOut  bool              `json:"timed_out,omitempty"`
}

// ProgressFunc is called after each committed or failed row.
type ProgressFunc func(current, total int)

type ImportService struct {
	store    repository.Store
	policy   StepUpPolicy
	audit    *audit.Logger
	log      zerolog.Logger
	timeout  time.Duration
	throttle time.Duration
	maxRows  int
	notify   bool
	now      func() time.Time
}

func NewImportService(store repository.Store, cfg *config.LedgerConfig, auditLog *audit.Logger, log zerolog.Logger) *ImportService {
	return &ImportService{
		store:    store,
		policy:   NewStepUpPolicy(cfg),
		audit:    auditLog,
		log:      logger.Component(log, "import"),
		timeout:  cfg.ImportTimeout,
		throttle: cfg.ImportThrottle,
		maxRows:  cfg.MaxImportRows,
		notify:   cfg.Notifications,
		now:      time.Now,
	}
}

// Import parses the file and runs the pipeline on its rows.
func (s *ImportService) Import(ctx context.Context, r io.Reader, filename string, opts ImportOptions, progress ProgressFunc) (*ImportResult, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	rows, err := ParseImport(r, format)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, rows, opts, progress)
}

// Run validates every row and commits only when all of them pass.
func (s *ImportService) Run(ctx context.Context, rows []RawRow, opts ImportOptions, progress ProgressFunc) (*ImportResult, error) {
	report, err := s.ValidateRows(ctx, rows, opts)
	if err != nil {
		return nil, err
	}
	if !report.Valid() {
		s.log.Info().Int("rows", report.Total).Int("errors", len(report.Errors)).Msg("import rejected at validation")
		return &ImportResult{
			Success:   false,
			Processed: 0,
			Errors:    report.Errors,
			Message:   fmt.Sprintf("Validation failed: %d errors found, no rows were imported", len(report.Errors)),
		}, nil
	}

	if err := s.authorizeBatch(report.Rows, opts); err != nil {
		return nil, err
	}

	commit := s.CommitRows(ctx, report.Rows, progress)
	result := &ImportResult{
		Success:   len(commit.Errors) == 0 && !commit.TimedOut,
		Processed: commit.Processed,
		Errors:    commit.Errors,
		Message:   fmt.Sprintf("%d succeeded, %d failed", commit.Processed, len(commit.Errors)),
		TimedOut:  commit.TimedOut,
	}
	if result.Errors == nil {
		result.Errors = []models.RowError{}
	}
	return result, nil
}

// authorizeBatch applies the step-up policy to a batch. Imports carry one
// confirmation for the whole file.
func (s *ImportService) authorizeBatch(rows []ImportRow, opts ImportOptions) error {
	if opts.Confirmed {
		return nil
	}
	for _, row := range rows {
		op := OpDeposit
		if row.Type == models.TransactionWithdrawal {
			op = OpWithdrawal
		}
		if s.policy.RequiresStepUp(op, row.Amount) != StepUpNone {
			return stepUpRequired(StepUpConfirm,
				fmt.Sprintf("row %d amount %s requires the batch to be confirmed", row.Line, row.Amount.StringFixed(2)))
		}
	}
	return nil
}

// ValidateRows checks every row against the validation rules without
// writing. Withdrawals are checked against a running balance per account in
// file order. The returned error is set only for store failures.
func (s *ImportService) ValidateRows(ctx context.Context, rows []RawRow, opts ImportOptions) (*ValidationReport, error) {
	report := &ValidationReport{Total: len(rows)}
	if len(rows) == 0 {
		report.Errors = append(report.Errors, models.RowError{
			Code: models.CodeUnsupportedFormat, Field: "file", Message: "file contains no transaction rows",
		})
		return report, nil
	}
	if s.maxRows > 0 && len(rows) > s.maxRows {
		report.Errors = append(report.Errors, models.RowError{
			Code: models.CodeUnsupportedFormat, Field: "file",
			Message: fmt.Sprintf("file has %d rows; the limit is %d", len(rows), s.maxRows),
		})
		return report, nil
	}

	accounts := make(map[int64]*models.Account)
	projected := make(map[int64]decimal.Decimal)

	for _, raw := range rows {
		var errs []models.FieldError
		addErr := func(fe *models.FieldError) {
			if fe != nil {
				errs = append(errs, *fe)
			}
		}

		accountID, fe := s.rowAccountID(raw, opts)
		addErr(fe)

		amount, fe := ParseAmount(raw.Get(FieldAmount))
		addErr(fe)

		txType, fe := ValidateType(raw.Get(FieldTransactionType))
		if fe == nil && txType == models.TransactionTransfer {
			fe = fieldError(models.CodeInvalidTransactionType, FieldTransactionType,
				"transfer rows are not supported in bulk import; use deposit or withdrawal")
		}
		addErr(fe)

		createdAt, fe := ParseDate(raw.Get(FieldCreatedAt))
		addErr(fe)

		if accountID != 0 {
			account, ok := accounts[accountID]
			if !ok {
				var err error
				if account, err = s.store.GetAccount(ctx, accountID); err != nil && !errors.Is(err, repository.ErrNotFound) {
					return nil, models.StoreError("validate import", err)
				}
				accounts[accountID] = account
				if account != nil {
					projected[accountID] = account.Balance
				}
			}

			if len(errs) == 0 {
				p := Proposal{Type: txType, Amount: amount, SourceID: accountID}
				if account != nil {
					view := *account
					view.Balance = projected[accountID]
					p.Source = &view
				}
				result := ValidateProposal(p)
				errs = append(errs, result.Errors...)
			} else {
				addErr(checkAccount(account, accountID, FieldAccountID))
			}
		}

		if len(errs) > 0 {
			for _, e := range errs {
				report.Errors = append(report.Errors, models.RowError{Row: raw.Line, Code: e.Code, Field: e.Field, Message: e.Message})
			}
			metrics.ObserveImportRow("validate", "rejected")
			continue
		}

		delta := amount
		if txType == models.TransactionWithdrawal {
			delta = amount.Neg()
		}
		projected[accountID] = projected[accountID].Add(delta)

		report.Rows = append(report.Rows, ImportRow{
			Line:        raw.Line,
			AccountID:   accountID,
			Amount:      amount,
			Description: raw.Get("description"),
			Type:        txType,
			CreatedAt:   createdAt,
		})
		metrics.ObserveImportRow("validate", "accepted")
	}

	if !report.Valid() {
		report.Rows = nil
	}
	return report, nil
}

func (s *ImportService) rowAccountID(raw RawRow, opts ImportOptions) (int64, *models.FieldError) {
	value := raw.Get(FieldAccountID)
	if value == "" {
		if opts.DefaultAccountID != 0 {
			return opts.DefaultAccountID, nil
		}
		return 0, fieldError(models.CodeAccountIDRequired, FieldAccountID, "account id is required when no default account is selected")
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fieldError(models.CodeAccountNotFound, FieldAccountID,
			"invalid account id %q: must be a positive whole number, no account was looked up", value)
	}
	return id, nil
}

// CommitRows posts validated rows in file order. A failed row is recorded
// and the loop continues. The import timeout is checked between rows: a row
// already being written always finishes, and the rows after it are reported
// as timed out. Rows already committed are never undone.
func (s *ImportService) CommitRows(ctx context.Context, rows []ImportRow, progress ProgressFunc) *CommitReport {
	report := &CommitReport{Total: len(rows)}
	start := time.Now()
	defer func() { metrics.ImportDuration.Observe(time.Since(start).Seconds()) }()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	write := context.WithoutCancel(ctx)
	for i, row := range rows {
		if ctx.Err() != nil {
			s.timedOut(report, rows[i:])
			return report
		}

		if err := s.commitRow(write, row); err != nil {
			report.Errors = append(report.Errors, rowError(row.Line, err))
			metrics.ObserveImportRow("commit", "failed")
			s.log.Warn().Err(err).Int("row", row.Line).Int64("account_id", row.AccountID).Msg("import row failed")
		} else {
			report.Processed++
			metrics.ObserveImportRow("commit", "committed")
		}

		if progress != nil {
			progress(i+1, len(rows))
		}

		if s.throttle > 0 && i < len(rows)-1 {
			select {
			case <-ctx.Done():
				s.timedOut(report, rows[i+1:])
				return report
			case <-time.After(s.throttle):
			}
		}
	}
	return report
}

func (s *ImportService) timedOut(report *CommitReport, remaining []ImportRow) {
	report.TimedOut = true
	report.Errors = append(report.Errors, models.RowError{
		Row:     remaining[0].Line,
		Code:    models.CodeProcessingTimedOut,
		Message: fmt.Sprintf("processing timed out after %s; %d rows were not processed", s.timeout, len(remaining)),
	})
	s.log.Error().Dur("timeout", s.timeout).Int("processed", report.Processed).Int("remaining", len(remaining)).Msg("import timed out")
}

// commitRow re-checks the account, posts the delta with its entry and
// writes a best-effort notification.
func (s *ImportService) commitRow(ctx context.Context, row ImportRow) error {
	account, err := s.store.GetAccount(ctx, row.AccountID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return models.StoreError("import row", err)
	}
	if fe := checkAccount(account, row.AccountID, FieldAccountID); fe != nil {
		return fe.Err()
	}

	delta := row.Amount
	if row.Type == models.TransactionWithdrawal {
		delta = row.Amount.Neg()
	}
	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	description := row.Description
	if description == "" {
		description = "Imported " + string(row.Type)
	}

	posted, balance, err := s.store.PostEntry(ctx, &models.Transaction{
		AccountID:   row.AccountID,
		Amount:      delta,
		Description: description,
		Category:    "import",
		Type:        row.Type,
		CreatedAt:   createdAt,
	})
	if err != nil {
		mapped := mapStoreError("import row", err, FieldAccountID, row.AccountID)
		if models.CodeOf(mapped) == models.CodeStoreUnavailable {
			s.audit.LogError(0, row.AccountID, err)
		}
		return mapped
	}

	s.audit.LogPosting(string(row.Type), posted.ID, posted.AccountID, posted.Amount)
	if s.notify {
		n := &models.Notification{
			AccountID: row.AccountID,
			Title:     "Imported " + string(row.Type),
			Message:   fmt.Sprintf("%s of %s imported. New balance %s.", description, row.Amount.StringFixed(2), balance.StringFixed(2)),
			CreatedAt: s.now(),
		}
		if err := s.store.InsertNotification(ctx, n); err != nil {
			s.log.Warn().Err(err).Int64("account_id", row.AccountID).Msg("notification not written")
		}
	}
	return nil
}

func rowError(line int, err error) models.RowError {
	var le *models.LedgerError
	if errors.As(err, &le) {
		return models.RowError{Row: line, Code: le.Code, Field: le.Field, Message: le.Message}
	}
	return models.RowError{Row: line, Code: models.CodeStoreUnavailable, Message: err.Error()}
}
