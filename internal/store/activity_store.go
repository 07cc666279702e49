package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/coursedesk/internal/model"
)

// RecordActivity inserts a new activity entry. ID and CreatedAt are filled
// in when empty.
func (s *SQLiteStore) RecordActivity(ctx context.Context, a model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity (id, domain, item_id, event, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Domain), a.ItemID, a.Event, a.Message,
		boolToInt(a.Read), a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

// GetActivity returns activity entries, newest first.
func (s *SQLiteStore) GetActivity(ctx context.Context, filter ActivityFilter) ([]model.Activity, error) {
	var conditions []string
	var args []interface{}

	if filter.Domain != nil {
		conditions = append(conditions, "domain = ?")
		args = append(args, string(*filter.Domain))
	}
	if filter.UnreadOnly {
		conditions = append(conditions, "read = 0")
	}

	query := "SELECT id, domain, item_id, event, message, read, created_at FROM activity"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		var (
			a       model.Activity
			domain  string
			readInt int
		)
		if err := rows.Scan(&a.ID, &domain, &a.ItemID, &a.Event, &a.Message, &readInt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning activity row: %w", err)
		}
		a.Domain = model.Domain(domain)
		a.Read = readInt != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountUnreadActivity returns how many entries have not been read.
func (s *SQLiteStore) CountUnreadActivity(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM activity WHERE read = 0"); err != nil {
		return 0, fmt.Errorf("counting unread activity: %w", err)
	}
	return n, nil
}

// MarkActivityRead marks every entry of domain (or of all domains when
// domain is nil) as read.
func (s *SQLiteStore) MarkActivityRead(ctx context.Context, domain *model.Domain) error {
	var err error
	if domain == nil {
		_, err = s.db.ExecContext(ctx, "UPDATE activity SET read = 1 WHERE read = 0")
	} else {
		_, err = s.db.ExecContext(ctx,
			"UPDATE activity SET read = 1 WHERE read = 0 AND domain = ?", string(*domain))
	}
	if err != nil {
		return fmt.Errorf("marking activity read: %w", err)
	}
	return nil
}

// PruneActivity deletes all but the newest keep entries.
func (s *SQLiteStore) PruneActivity(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM activity WHERE id NOT IN (
			SELECT id FROM activity ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("pruning activity: %w", err)
	}
	return nil
}
