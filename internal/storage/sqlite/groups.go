package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/storage"
)

const groupColumns = `id, name, description, base_currency, status, recurrence,
	next_settlement_at, last_auto_settled_on, expires_at, settled_at, created_at`

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGroup(row rowScanner) (*models.Group, error) {
	group := &models.Group{}
	var (
		nextSettlement sql.NullInt64
		expiresAt      sql.NullInt64
		settledAt      sql.NullInt64
		createdAt      int64
	)
	err := row.Scan(
		&group.ID,
		&group.Name,
		&group.Description,
		&group.BaseCurrency,
		&group.Status,
		&group.Recurrence,
		&nextSettlement,
		&group.LastAutoSettledOn,
		&expiresAt,
		&settledAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	group.NextSettlementAt = timePtrFromNull(nextSettlement)
	group.ExpiresAt = timePtrFromNull(expiresAt)
	group.SettledAt = timePtrFromNull(settledAt)
	group.CreatedAt = timeFromUnix(createdAt)
	return group, nil
}

// CreateGroup persists a group, its first open period, and its creating
// participant in one transaction.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *models.Group, firstPeriod *models.SettlementPeriod, creator *models.Participant) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	if group.Status == "" {
		group.Status = models.GroupActive
	}
	if group.Recurrence == "" {
		group.Recurrence = models.RecurrenceNone
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO groups (`+groupColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID, group.Name, group.Description, group.BaseCurrency,
		group.Status, group.Recurrence,
		unixOrNil(group.NextSettlementAt), group.LastAutoSettledOn,
		unixOrNil(group.ExpiresAt), unixOrNil(group.SettledAt),
		group.CreatedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}

	if firstPeriod != nil {
		firstPeriod.GroupID = group.ID
		if err := insertPeriod(ctx, tx, firstPeriod); err != nil {
			return err
		}
	}

	if creator != nil {
		creator.GroupID = group.ID
		if err := insertParticipant(ctx, tx, creator); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE id = ?`, groupID)
	group, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", groupID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// UpdateGroup updates a group's mutable fields.
func (s *SQLiteStore) UpdateGroup(ctx context.Context, group *models.Group) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE groups
		 SET name = ?, description = ?, status = ?, recurrence = ?,
		     next_settlement_at = ?, last_auto_settled_on = ?,
		     expires_at = ?, settled_at = ?
		 WHERE id = ?`,
		group.Name, group.Description, group.Status, group.Recurrence,
		unixOrNil(group.NextSettlementAt), group.LastAutoSettledOn,
		unixOrNil(group.ExpiresAt), unixOrNil(group.SettledAt),
		group.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("group %s: %w", group.ID, storage.ErrNotFound)
	}
	return nil
}

// ReopenGroup reactivates a closed group and opens a fresh period in one
// transaction. The status flip is guarded so concurrent reopens cannot
// create a second open period.
func (s *SQLiteStore) ReopenGroup(ctx context.Context, group *models.Group, period *models.SettlementPeriod) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE groups
		 SET status = ?, recurrence = ?, next_settlement_at = ?, settled_at = NULL
		 WHERE id = ? AND status = ?`,
		models.GroupActive, group.Recurrence, unixOrNil(group.NextSettlementAt),
		group.ID, models.GroupClosed,
	)
	if err != nil {
		return fmt.Errorf("failed to reopen group: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check reopen result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("group %s is not closed: %w", group.ID, storage.ErrStaleState)
	}

	period.GroupID = group.ID
	if err := insertPeriod(ctx, tx, period); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	group.Status = models.GroupActive
	group.SettledAt = nil
	return nil
}

func (s *SQLiteStore) listGroups(ctx context.Context, where string, args ...interface{}) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}
	return groups, nil
}

// ListDueGroups returns active recurring groups due for settlement at now.
func (s *SQLiteStore) ListDueGroups(ctx context.Context, now time.Time) ([]*models.Group, error) {
	return s.listGroups(ctx,
		`status = ? AND recurrence = ? AND next_settlement_at IS NOT NULL AND next_settlement_at <= ?`,
		models.GroupActive, models.RecurrenceMonthly, now.UTC().Unix(),
	)
}

// ListExpiredGroups returns active groups whose expiry has passed.
func (s *SQLiteStore) ListExpiredGroups(ctx context.Context, now time.Time) ([]*models.Group, error) {
	return s.listGroups(ctx,
		`status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		models.GroupActive, now.UTC().Unix(),
	)
}

// ListGroupsDueBetween returns active recurring groups with a settlement due
// in (from, to].
func (s *SQLiteStore) ListGroupsDueBetween(ctx context.Context, from, to time.Time) ([]*models.Group, error) {
	return s.listGroups(ctx,
		`status = ? AND recurrence = ? AND next_settlement_at IS NOT NULL AND next_settlement_at > ? AND next_settlement_at <= ?`,
		models.GroupActive, models.RecurrenceMonthly, from.UTC().Unix(), to.UTC().Unix(),
	)
}
