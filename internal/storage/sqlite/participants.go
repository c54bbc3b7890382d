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

const participantColumns = `id, group_id, display_name, email, color, role, joined_at, exited_at`

func scanParticipant(row rowScanner) (*models.Participant, error) {
	p := &models.Participant{}
	var (
		joinedAt int64
		exitedAt sql.NullInt64
	)
	err := row.Scan(
		&p.ID,
		&p.GroupID,
		&p.DisplayName,
		&p.Email,
		&p.Color,
		&p.Role,
		&joinedAt,
		&exitedAt,
	)
	if err != nil {
		return nil, err
	}
	p.JoinedAt = timeFromUnix(joinedAt)
	p.ExitedAt = timePtrFromNull(exitedAt)
	return p, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertParticipant(ctx context.Context, ex execer, p *models.Participant) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	if p.Role == "" {
		p.Role = models.RoleMember
	}

	_, err := ex.ExecContext(ctx,
		`INSERT INTO participants (`+participantColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.GroupID, p.DisplayName, p.Email, p.Color, p.Role,
		p.JoinedAt.UTC().Unix(), unixOrNil(p.ExitedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

// AddParticipant persists a new participant.
func (s *SQLiteStore) AddParticipant(ctx context.Context, p *models.Participant) error {
	return insertParticipant(ctx, s.db, p)
}

// GetParticipant retrieves a participant by ID.
func (s *SQLiteStore) GetParticipant(ctx context.Context, participantID string) (*models.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = ?`, participantID)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant %s: %w", participantID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// ListParticipants returns a group's participants in join order, exited ones
// included.
func (s *SQLiteStore) ListParticipants(ctx context.Context, groupID string) ([]*models.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE group_id = ? ORDER BY joined_at, id`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return participants, nil
}

// UpdateParticipant updates a participant's mutable fields.
func (s *SQLiteStore) UpdateParticipant(ctx context.Context, p *models.Participant) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants
		 SET display_name = ?, email = ?, color = ?, role = ?, exited_at = ?
		 WHERE id = ?`,
		p.DisplayName, p.Email, p.Color, p.Role, unixOrNil(p.ExitedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("participant %s: %w", p.ID, storage.ErrNotFound)
	}
	return nil
}
