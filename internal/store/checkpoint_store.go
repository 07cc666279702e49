package store

import (
	"context"
	"fmt"

	"github.com/nhle/coursedesk/internal/model"
)

// SaveCheckpoint inserts or replaces the checkpoint of cp.Domain.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints (domain, last_checked, item_count, pending, unread)
		VALUES (:domain, :last_checked, :item_count, :pending, :unread)`,
		map[string]interface{}{
			"domain":       string(cp.Domain),
			"last_checked": cp.LastChecked.UTC(),
			"item_count":   cp.ItemCount,
			"pending":      cp.Pending,
			"unread":       cp.Unread,
		},
	)
	if err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", cp.Domain, err)
	}
	return nil
}

// GetCheckpoints returns every saved checkpoint ordered by domain.
func (s *SQLiteStore) GetCheckpoints(ctx context.Context) ([]model.Checkpoint, error) {
	var cps []model.Checkpoint
	err := s.db.SelectContext(ctx, &cps,
		"SELECT domain, last_checked, item_count, pending, unread FROM checkpoints ORDER BY domain")
	if err != nil {
		return nil, fmt.Errorf("querying checkpoints: %w", err)
	}
	return cps, nil
}
