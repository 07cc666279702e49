// Package toast turns API errors into short-lived user-facing messages.
package toast

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/coursedesk/internal/api"
)

// Level is the severity of a toast.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// DefaultTTL is how long a toast stays visible.
const DefaultTTL = 5 * time.Second

// Toast is one message shown in the status bar.
type Toast struct {
	ID        string
	Level     Level
	Message   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Center collects toasts. It is safe for concurrent use.
type Center struct {
	mu     sync.Mutex
	toasts []Toast
	ttl    time.Duration
	now    func() time.Time
}

// NewCenter returns a Center whose toasts live for ttl (DefaultTTL if ttl
// is not positive).
func NewCenter(ttl time.Duration) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{ttl: ttl, now: time.Now}
}

// Push adds a toast and returns it.
func (c *Center) Push(level Level, msg string) Toast {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	t := Toast{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   msg,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.toasts = append(c.toasts, t)
	c.pruneLocked(now)
	return t
}

// FromError maps err to a toast. Errors that are not API errors, and
// validation errors that the calling screen reports itself, produce no
// toast; ok is false in that case.
func (c *Center) FromError(err error) (Toast, bool) {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return Toast{}, false
	}

	switch apiErr.Kind {
	case api.KindAuth:
		return c.Push(LevelWarning, "Session expired, please sign in again"), true
	case api.KindRateLimit:
		wait := apiErr.RetryAfter.Round(time.Second)
		return c.Push(LevelWarning, fmt.Sprintf("Too many requests, retry in %s", wait)), true
	case api.KindConnectivity:
		return c.Push(LevelError, "Cannot reach the server, check your connection"), true
	case api.KindServer:
		return c.Push(LevelError, "The server had a problem, try again later"), true
	case api.KindUnknown:
		return c.Push(LevelError, "Something went wrong"), true
	}
	return Toast{}, false
}

// Hook adapts the center to api.Client.OnError.
func (c *Center) Hook() api.ErrorHook {
	return func(e *api.Error) {
		c.FromError(e)
	}
}

// Active returns the toasts that have not expired at now, newest first.
func (c *Center) Active(now time.Time) []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(now)
	out := make([]Toast, len(c.toasts))
	copy(out, c.toasts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Dismiss removes the toast with the given id.
func (c *Center) Dismiss(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, t := range c.toasts {
		if t.ID == id {
			c.toasts = append(c.toasts[:i], c.toasts[i+1:]...)
			return
		}
	}
}

func (c *Center) pruneLocked(now time.Time) {
	kept := c.toasts[:0]
	for _, t := range c.toasts {
		if now.Before(t.ExpiresAt) {
			kept = append(kept, t)
		}
	}
	c.toasts = kept
}
