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

const periodColumns = `id, group_id, label, state, started_at, closed_at, closed_by, created_at`

func scanPeriod(row rowScanner) (*models.SettlementPeriod, error) {
	p := &models.SettlementPeriod{}
	var (
		startedAt int64
		closedAt  sql.NullInt64
		createdAt int64
	)
	err := row.Scan(
		&p.ID,
		&p.GroupID,
		&p.Label,
		&p.State,
		&startedAt,
		&closedAt,
		&p.ClosedBy,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	p.StartedAt = timeFromUnix(startedAt)
	p.ClosedAt = timePtrFromNull(closedAt)
	p.CreatedAt = timeFromUnix(createdAt)
	return p, nil
}

func insertPeriod(ctx context.Context, ex execer, p *models.SettlementPeriod) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.StartedAt.IsZero() {
		p.StartedAt = p.CreatedAt
	}
	if p.State == "" {
		p.State = models.PeriodOpen
	}

	_, err := ex.ExecContext(ctx,
		`INSERT INTO periods (`+periodColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.GroupID, p.Label, p.State,
		p.StartedAt.UTC().Unix(), unixOrNil(p.ClosedAt), p.ClosedBy,
		p.CreatedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert period: %w", err)
	}
	return nil
}

// GetPeriod retrieves a period by ID.
func (s *SQLiteStore) GetPeriod(ctx context.Context, periodID string) (*models.SettlementPeriod, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+periodColumns+` FROM periods WHERE id = ?`, periodID)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("period %s: %w", periodID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get period: %w", err)
	}
	return p, nil
}

// GetOpenPeriod returns the group's one non-closed period.
func (s *SQLiteStore) GetOpenPeriod(ctx context.Context, groupID string) (*models.SettlementPeriod, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+periodColumns+` FROM periods WHERE group_id = ? AND state != ?`,
		groupID, models.PeriodClosed)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open period for group %s: %w", groupID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open period: %w", err)
	}
	return p, nil
}

// ListPeriods returns all of a group's periods, newest first.
func (s *SQLiteStore) ListPeriods(ctx context.Context, groupID string) ([]*models.SettlementPeriod, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+periodColumns+` FROM periods WHERE group_id = ? ORDER BY started_at DESC, id DESC`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list periods: %w", err)
	}
	defer rows.Close()

	var periods []*models.SettlementPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate periods: %w", err)
	}
	return periods, nil
}

// ClaimPeriodSettling flips a period OPEN -> SETTLING in one guarded
// statement, so exactly one settlement run can hold a period at a time.
func (s *SQLiteStore) ClaimPeriodSettling(ctx context.Context, periodID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE periods SET state = ? WHERE id = ? AND state = ?`,
		models.PeriodSettling, periodID, models.PeriodOpen,
	)
	if err != nil {
		return fmt.Errorf("failed to claim period: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check claim result: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// The claim lost; report why.
	period, err := s.GetPeriod(ctx, periodID)
	if err != nil {
		return err
	}
	switch period.State {
	case models.PeriodSettling:
		return models.ErrAlreadySettling
	case models.PeriodClosed:
		return fmt.Errorf("period %s: %w", periodID, storage.ErrPeriodClosed)
	default:
		return fmt.Errorf("period %s in state %s: %w", periodID, period.State, storage.ErrStaleState)
	}
}

// ReleasePeriodSettling flips a period SETTLING -> OPEN after a failed
// settlement run.
func (s *SQLiteStore) ReleasePeriodSettling(ctx context.Context, periodID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE periods SET state = ? WHERE id = ? AND state = ?`,
		models.PeriodOpen, periodID, models.PeriodSettling,
	)
	if err != nil {
		return fmt.Errorf("failed to release period: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check release result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("period %s not settling: %w", periodID, storage.ErrStaleState)
	}
	return nil
}

// ReleaseStuckSettlements reverts every period left SETTLING by a crashed
// run back to OPEN. Called once on startup before the scheduler begins.
func (s *SQLiteStore) ReleaseStuckSettlements(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE periods SET state = ? WHERE state = ?`,
		models.PeriodOpen, models.PeriodSettling,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release stuck settlements: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check release result: %w", err)
	}
	return int(affected), nil
}
