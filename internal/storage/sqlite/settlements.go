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

const transferColumns = `id, period_id, group_id, from_id, to_id, amount, currency, paid_at, confirmed_by, created_at`

func scanTransfer(row rowScanner) (*models.Transfer, error) {
	t := &models.Transfer{}
	var (
		amount    string
		paidAt    sql.NullInt64
		createdAt int64
	)
	err := row.Scan(
		&t.ID,
		&t.PeriodID,
		&t.GroupID,
		&t.FromID,
		&t.ToID,
		&amount,
		&t.Currency,
		&paidAt,
		&t.ConfirmedBy,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	t.PaidAt = timePtrFromNull(paidAt)
	t.CreatedAt = timeFromUnix(createdAt)
	return t, nil
}

// PeriodSnapshot reads the full settlement input for a period in a single
// transaction: group, period, participants, expenses, and shares.
func (s *SQLiteStore) PeriodSnapshot(ctx context.Context, periodID string) (*storage.PeriodSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	period, err := scanPeriod(tx.QueryRowContext(ctx,
		`SELECT `+periodColumns+` FROM periods WHERE id = ?`, periodID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("period %s: %w", periodID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get period: %w", err)
	}

	group, err := scanGroup(tx.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE id = ?`, period.GroupID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", period.GroupID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	snapshot := &storage.PeriodSnapshot{
		Group:  group,
		Period: period,
		Shares: make(map[int64][]models.ExpenseShare),
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE group_id = ? ORDER BY joined_at, id`,
		period.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		snapshot.Participants = append(snapshot.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}

	expenseRows, err := tx.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE period_id = ? ORDER BY id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer expenseRows.Close()
	for expenseRows.Next() {
		e, err := scanExpense(expenseRows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		snapshot.Expenses = append(snapshot.Expenses, e)
	}
	if err := expenseRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}

	shareRows, err := tx.QueryContext(ctx,
		`SELECT es.expense_id, es.participant_id, es.amount
		 FROM expense_shares es
		 JOIN expenses e ON e.id = es.expense_id
		 WHERE e.period_id = ?
		 ORDER BY es.expense_id, es.participant_id`,
		periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to list expense shares: %w", err)
	}
	defer shareRows.Close()
	for shareRows.Next() {
		var (
			share  models.ExpenseShare
			amount string
		)
		if err := shareRows.Scan(&share.ExpenseID, &share.ParticipantID, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan expense share: %w", err)
		}
		if share.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		snapshot.Shares[share.ExpenseID] = append(snapshot.Shares[share.ExpenseID], share)
	}
	if err := shareRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expense shares: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return snapshot, nil
}

// CommitSettlement applies the atomic settlement write: period SETTLING ->
// CLOSED, transfer rows, group scheduling updates, the optional successor
// period, and the audit entry, all in one transaction.
func (s *SQLiteStore) CommitSettlement(ctx context.Context, commit *storage.SettlementCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	period := commit.Period
	res, err := tx.ExecContext(ctx,
		`UPDATE periods SET state = ?, label = ?, closed_at = ?, closed_by = ?
		 WHERE id = ? AND state = ?`,
		models.PeriodClosed, period.Label, unixOrNil(period.ClosedAt), period.ClosedBy,
		period.ID, models.PeriodSettling,
	)
	if err != nil {
		return fmt.Errorf("failed to close period: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check close result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("period %s not settling: %w", period.ID, storage.ErrStaleState)
	}

	for _, t := range commit.Transfers {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO transfers (period_id, group_id, from_id, to_id, amount, currency, paid_at, confirmed_by, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.PeriodID, t.GroupID, t.FromID, t.ToID, t.Amount.String(), t.Currency,
			unixOrNil(t.PaidAt), t.ConfirmedBy, t.CreatedAt.UTC().Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert transfer: %w", err)
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read transfer id: %w", err)
		}
	}

	group := commit.Group
	_, err = tx.ExecContext(ctx,
		`UPDATE groups
		 SET status = ?, recurrence = ?, next_settlement_at = ?,
		     last_auto_settled_on = ?, expires_at = ?, settled_at = ?
		 WHERE id = ?`,
		group.Status, group.Recurrence, unixOrNil(group.NextSettlementAt),
		group.LastAutoSettledOn, unixOrNil(group.ExpiresAt), unixOrNil(group.SettledAt),
		group.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}

	if commit.NewPeriod != nil {
		if err := insertPeriod(ctx, tx, commit.NewPeriod); err != nil {
			return err
		}
	}

	if commit.Audit != nil {
		if err := insertAudit(ctx, tx, commit.Audit); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTransfer retrieves a transfer by ID.
func (s *SQLiteStore) GetTransfer(ctx context.Context, transferID int64) (*models.Transfer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = ?`, transferID)
	t, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transfer %d: %w", transferID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return t, nil
}

// ListTransfers returns a period's transfers in plan order.
func (s *SQLiteStore) ListTransfers(ctx context.Context, periodID string) ([]*models.Transfer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE period_id = ? ORDER BY id`, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfers: %w", err)
	}
	return transfers, nil
}

// SetTransferPaid updates a transfer's payment confirmation fields. The
// monetary tuple never changes.
func (s *SQLiteStore) SetTransferPaid(ctx context.Context, transferID int64, paidAt *time.Time, confirmedBy string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transfers SET paid_at = ?, confirmed_by = ? WHERE id = ?`,
		unixOrNil(paidAt), confirmedBy, transferID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transfer %d: %w", transferID, storage.ErrNotFound)
	}
	return nil
}
