package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/storage"
)

const expenseColumns = `id, group_id, period_id, paid_by, title, description, category,
	amount, currency, base_amount, exchange_rate, split_method, spent_at, created_at, updated_at`

func scanExpense(row rowScanner) (*models.Expense, error) {
	e := &models.Expense{}
	var (
		amount    string
		base      string
		rate      string
		spentAt   int64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&e.ID,
		&e.GroupID,
		&e.PeriodID,
		&e.PaidBy,
		&e.Title,
		&e.Description,
		&e.Category,
		&amount,
		&e.Currency,
		&base,
		&rate,
		&e.SplitMethod,
		&spentAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	if e.BaseAmount, err = parseAmount(base); err != nil {
		return nil, err
	}
	if e.ExchangeRate, err = parseAmount(rate); err != nil {
		return nil, err
	}
	e.SpentAt = timeFromUnix(spentAt)
	e.CreatedAt = timeFromUnix(createdAt)
	e.UpdatedAt = timeFromUnix(updatedAt)
	return e, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// guardPeriodOpen rejects the write unless the period is OPEN. A settling
// period surfaces the concurrency kind so callers can retry after the run.
func guardPeriodOpen(ctx context.Context, q querier, periodID string) error {
	var state models.PeriodState
	err := q.QueryRowContext(ctx, `SELECT state FROM periods WHERE id = ?`, periodID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("period %s: %w", periodID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check period state: %w", err)
	}
	switch state {
	case models.PeriodOpen:
		return nil
	case models.PeriodSettling:
		return models.ErrPeriodSettling
	default:
		return fmt.Errorf("period %s: %w", periodID, storage.ErrPeriodClosed)
	}
}

// CreateExpense persists an expense and its shares in one transaction. The
// owning period must be open; settling or closed periods reject the write.
func (s *SQLiteStore) CreateExpense(ctx context.Context, e *models.Expense, shares []models.ExpenseShare) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.SpentAt.IsZero() {
		e.SpentAt = e.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := guardPeriodOpen(ctx, tx, e.PeriodID); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO expenses (group_id, period_id, paid_by, title, description, category,
		     amount, currency, base_amount, exchange_rate, split_method, spent_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.GroupID, e.PeriodID, e.PaidBy, e.Title, e.Description, e.Category,
		e.Amount.String(), e.Currency, e.BaseAmount.String(), e.ExchangeRate.String(),
		e.SplitMethod, e.SpentAt.UTC().Unix(), e.CreatedAt.UTC().Unix(), e.UpdatedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read expense id: %w", err)
	}

	if err := insertShares(ctx, tx, e.ID, shares); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertShares(ctx context.Context, ex execer, expenseID int64, shares []models.ExpenseShare) error {
	for _, share := range shares {
		_, err := ex.ExecContext(ctx,
			`INSERT INTO expense_shares (expense_id, participant_id, amount) VALUES (?, ?, ?)`,
			expenseID, share.ParticipantID, share.Amount.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert expense share: %w", err)
		}
	}
	return nil
}

// GetExpense retrieves an expense with its shares.
func (s *SQLiteStore) GetExpense(ctx context.Context, expenseID int64) (*models.Expense, []models.ExpenseShare, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, expenseID)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("expense %d: %w", expenseID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get expense: %w", err)
	}

	shares, err := s.listShares(ctx, expenseID)
	if err != nil {
		return nil, nil, err
	}
	return e, shares, nil
}

func (s *SQLiteStore) listShares(ctx context.Context, expenseID int64) ([]models.ExpenseShare, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT expense_id, participant_id, amount FROM expense_shares
		 WHERE expense_id = ? ORDER BY participant_id`,
		expenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get expense shares: %w", err)
	}
	defer rows.Close()

	var shares []models.ExpenseShare
	for rows.Next() {
		var (
			share  models.ExpenseShare
			amount string
		)
		if err := rows.Scan(&share.ExpenseID, &share.ParticipantID, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan expense share: %w", err)
		}
		if share.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		shares = append(shares, share)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expense shares: %w", err)
	}
	return shares, nil
}

// UpdateExpense rewrites an expense and replaces its shares in one
// transaction. The owning period must still be open.
func (s *SQLiteStore) UpdateExpense(ctx context.Context, e *models.Expense, shares []models.ExpenseShare) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var periodID string
	err = tx.QueryRowContext(ctx, `SELECT period_id FROM expenses WHERE id = ?`, e.ID).Scan(&periodID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("expense %d: %w", e.ID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to find expense: %w", err)
	}
	if err := guardPeriodOpen(ctx, tx, periodID); err != nil {
		return err
	}

	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE expenses
		 SET paid_by = ?, title = ?, description = ?, category = ?,
		     amount = ?, currency = ?, base_amount = ?, exchange_rate = ?,
		     split_method = ?, spent_at = ?, updated_at = ?
		 WHERE id = ?`,
		e.PaidBy, e.Title, e.Description, e.Category,
		e.Amount.String(), e.Currency, e.BaseAmount.String(), e.ExchangeRate.String(),
		e.SplitMethod, e.SpentAt.UTC().Unix(), e.UpdatedAt.UTC().Unix(),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update expense: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM expense_shares WHERE expense_id = ?`, e.ID); err != nil {
		return fmt.Errorf("failed to clear expense shares: %w", err)
	}
	if err := insertShares(ctx, tx, e.ID, shares); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteExpense removes an expense and its shares. The owning period must
// still be open.
func (s *SQLiteStore) DeleteExpense(ctx context.Context, expenseID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var periodID string
	err = tx.QueryRowContext(ctx, `SELECT period_id FROM expenses WHERE id = ?`, expenseID).Scan(&periodID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("expense %d: %w", expenseID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to find expense: %w", err)
	}
	if err := guardPeriodOpen(ctx, tx, periodID); err != nil {
		return err
	}

	// Shares go with the expense via ON DELETE CASCADE.
	if _, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, expenseID); err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
