package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, account_id, amount, description, note, category, transaction_type, created_at, reversed, reversal_of`

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		t          models.Transaction
		txType     string
		reversalOf sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Description, &t.Note, &t.Category,
		&txType, &t.CreatedAt, &t.Reversed, &reversalOf)
	if err != nil {
		return nil, err
	}
	t.Type = models.TransactionType(txType)
	if reversalOf.Valid {
		id := reversalOf.Int64
		t.ReversalOf = &id
	}
	return &t, nil
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	return insertTransaction(ctx, s.db, tx)
}

func insertTransaction(ctx context.Context, q querier, tx *models.Transaction) (*models.Transaction, error) {
	var reversalOf sql.NullInt64
	if tx.ReversalOf != nil {
		reversalOf = sql.NullInt64{Int64: *tx.ReversalOf, Valid: true}
	}

	out := *tx
	err := q.QueryRowContext(ctx, `
		INSERT INTO transactions
		(account_id, amount, description, note, category, transaction_type, created_at, reversed, reversal_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		tx.AccountID, tx.Amount, tx.Description, tx.Note, tx.Category,
		string(tx.Type), tx.CreatedAt, tx.Reversed, reversalOf).Scan(&out.ID)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return &out, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

func (s *PostgresStore) SumAmounts(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE account_id = $1`, accountID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum transactions: %w", err)
	}
	return sum, nil
}

func (s *PostgresStore) MarkReversed(ctx context.Context, id int64) error {
	return markReversed(ctx, s.db, id)
}

func markReversed(ctx context.Context, q querier, id int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET reversed = TRUE
		WHERE id = $1 AND reversed = FALSE AND reversal_of IS NULL`, id)
	if err != nil {
		return fmt.Errorf("mark transaction %d reversed: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 1 {
		return nil
	}

	var exists bool
	err = q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("inspect transaction %d: %w", id, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyReversed
}

func (s *PostgresStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (account_id, title, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		n.AccountID, n.Title, n.Message, n.Read, n.CreatedAt).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
