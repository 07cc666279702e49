package store

import (
	"context"
	"errors"

	"github.com/nhle/coursedesk/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Setting keys.
const (
	SettingPendingCoupon  = "pending_coupon"
	SettingAPIURLOverride = "api_url_override"
	SettingLastUserID     = "last_user_id"
)

// ActivityFilter controls filtering and pagination for activity queries.
type ActivityFilter struct {
	Domain     *model.Domain
	UnreadOnly bool
	Limit      int
}

// Store defines the persistence interface for local settings, the push
// activity log and per-queue checkpoints.
type Store interface {
	// === Settings ===

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error

	// === Activity ===

	RecordActivity(ctx context.Context, a model.Activity) error
	GetActivity(ctx context.Context, filter ActivityFilter) ([]model.Activity, error)
	CountUnreadActivity(ctx context.Context) (int, error)
	MarkActivityRead(ctx context.Context, domain *model.Domain) error
	PruneActivity(ctx context.Context, keep int) error

	// === Checkpoints ===

	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	GetCheckpoints(ctx context.Context) ([]model.Checkpoint, error)
}

// SwitchUser records userID as the last signed-in user. The activity log
// belongs to one user, so it is cleared when userID differs from the
// previous one.
func SwitchUser(ctx context.Context, s Store, userID string) error {
	prev, err := s.GetSetting(ctx, SettingLastUserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if prev != "" && prev != userID {
		if err := s.PruneActivity(ctx, 0); err != nil {
			return err
		}
		if err := s.DeleteSetting(ctx, SettingPendingCoupon); err != nil {
			return err
		}
	}
	return s.SetSetting(ctx, SettingLastUserID, userID)
}
