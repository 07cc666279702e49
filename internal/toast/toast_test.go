package toast

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/coursedesk/internal/api"
)

func newTestCenter(start time.Time) (*Center, *time.Time) {
	now := start
	c := NewCenter(5 * time.Second)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestFromErrorMapsKinds(t *testing.T) {
	tests := []struct {
		kind    api.Kind
		level   Level
		contain string
	}{
		{api.KindAuth, LevelWarning, "Session expired"},
		{api.KindRateLimit, LevelWarning, "retry in 3s"},
		{api.KindConnectivity, LevelError, "Cannot reach"},
		{api.KindServer, LevelError, "server"},
		{api.KindUnknown, LevelError, "Something went wrong"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			c, _ := newTestCenter(time.Now())
			err := fmt.Errorf("loading: %w", &api.Error{Kind: tt.kind, RetryAfter: 3 * time.Second})

			toast, ok := c.FromError(err)
			require.True(t, ok)
			assert.Equal(t, tt.level, toast.Level)
			assert.Contains(t, toast.Message, tt.contain)
			assert.NotEmpty(t, toast.ID)
		})
	}
}

func TestFromErrorIgnoresOthers(t *testing.T) {
	c, now := newTestCenter(time.Now())

	_, ok := c.FromError(errors.New("plain"))
	assert.False(t, ok)

	_, ok = c.FromError(&api.Error{Kind: api.KindValidation})
	assert.False(t, ok)

	assert.Empty(t, c.Active(*now))
}

func TestActiveExpiresAndOrders(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c, now := newTestCenter(start)

	first := c.Push(LevelInfo, "first")
	*now = start.Add(2 * time.Second)
	second := c.Push(LevelInfo, "second")

	active := c.Active(*now)
	require.Len(t, active, 2)
	assert.Equal(t, second.ID, active[0].ID)
	assert.Equal(t, first.ID, active[1].ID)

	active = c.Active(start.Add(6 * time.Second))
	require.Len(t, active, 1)
	assert.Equal(t, "second", active[0].Message)
}

func TestDismiss(t *testing.T) {
	c, now := newTestCenter(time.Now())
	a := c.Push(LevelInfo, "a")
	c.Push(LevelInfo, "b")

	c.Dismiss(a.ID)
	active := c.Active(*now)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].Message)
}

func TestHook(t *testing.T) {
	c, now := newTestCenter(time.Now())
	c.Hook()(&api.Error{Kind: api.KindAuth})
	assert.Len(t, c.Active(*now), 1)
}
