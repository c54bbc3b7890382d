package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/splitpot/splitpot/internal/models"
)

func insertAudit(ctx context.Context, ex execer, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := ex.ExecContext(ctx,
		`INSERT INTO audit_log (group_id, actor_id, action, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.GroupID, entry.ActorID, entry.Action, entry.Detail, entry.CreatedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read audit id: %w", err)
	}
	return nil
}

// AppendAudit appends an audit entry.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	return insertAudit(ctx, s.db, entry)
}

// ListAudit returns a group's newest audit entries, up to limit.
func (s *SQLiteStore) ListAudit(ctx context.Context, groupID string, limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, actor_id, action, detail, created_at
		 FROM audit_log WHERE group_id = ? ORDER BY id DESC LIMIT ?`,
		groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry := &models.AuditEntry{}
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.GroupID, &entry.ActorID, &entry.Action, &entry.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.CreatedAt = timeFromUnix(createdAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}
