package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/shopspring/decimal"
)

// PostgresStore implements Store on database/sql with lib/pq.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, owner_id, account_type, account_number, routing_number, balance, is_frozen, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.AccountType, &a.AccountNumber, &a.RoutingNumber,
		&a.Balance, &a.IsFrozen, &a.Version, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE owner_id = $1
		ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) ApplyDelta(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	return applyDelta(ctx, s.db, id, delta, true)
}

const (
	guardedDeltaSQL = `
		UPDATE accounts
		SET balance = balance + $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND is_frozen = FALSE AND balance + $1 >= 0
		RETURNING balance`
	unguardedDeltaSQL = `
		UPDATE accounts
		SET balance = balance + $1, version = version + 1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance`
)

func applyDelta(ctx context.Context, q querier, id int64, delta decimal.Decimal, guarded bool) (decimal.Decimal, error) {
	query := unguardedDeltaSQL
	if guarded {
		query = guardedDeltaSQL
	}

	var balance decimal.Decimal
	err := q.QueryRowContext(ctx, query, delta, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		if !guarded {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, rejectedDelta(ctx, q, id)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("apply delta to account %d: %w", id, err)
	}
	return balance, nil
}

// rejectedDelta explains why the guarded update matched no row.
func rejectedDelta(ctx context.Context, q querier, id int64) error {
	var frozen bool
	err := q.QueryRowContext(ctx, `SELECT is_frozen FROM accounts WHERE id = $1`, id).Scan(&frozen)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("inspect account %d: %w", id, err)
	case frozen:
		return ErrAccountFrozen
	default:
		return ErrInsufficientFunds
	}
}

func (s *PostgresStore) PostEntry(ctx context.Context, entry *models.Transaction) (*models.Transaction, decimal.Decimal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	balance, err := applyDelta(ctx, tx, entry.AccountID, entry.Amount, true)
	if err != nil {
		return nil, decimal.Zero, err
	}
	stored, err := insertTransaction(ctx, tx, entry)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if err := tx.Commit(); err != nil {
		return nil, decimal.Zero, fmt.Errorf("commit: %w", err)
	}
	return stored, balance, nil
}

func (s *PostgresStore) ReverseEntry(ctx context.Context, reversal *models.Transaction, guarded bool) (*models.Transaction, decimal.Decimal, error) {
	if reversal.ReversalOf == nil {
		return nil, decimal.Zero, ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := markReversed(ctx, tx, *reversal.ReversalOf); err != nil {
		return nil, decimal.Zero, err
	}
	balance, err := applyDelta(ctx, tx, reversal.AccountID, reversal.Amount, guarded)
	if err != nil {
		return nil, decimal.Zero, err
	}
	stored, err := insertTransaction(ctx, tx, reversal)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if err := tx.Commit(); err != nil {
		return nil, decimal.Zero, fmt.Errorf("commit: %w", err)
	}
	return stored, balance, nil
}

func (s *PostgresStore) SetFrozen(ctx context.Context, id int64, frozen bool) (*models.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET is_frozen = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+accountColumns, frozen, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set frozen on account %d: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, role, password, created_at
		FROM users
		WHERE id = $1`, id).Scan(&u.ID, &u.Email, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
