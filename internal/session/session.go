// Package session holds the signed-in identity: the bearer token kept in
// the OS keyring, the identity read from its claims, and a few local flags
// persisted in the settings table.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nhle/coursedesk/internal/api"
	"github.com/nhle/coursedesk/internal/credential"
	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/store"
)

const tokenKey = "access_token"

// ErrSignedOut is returned when an operation needs a session and there is
// none.
var ErrSignedOut = errors.New("not signed in")

// ErrExpired is returned when the stored token is past its expiry.
var ErrExpired = errors.New("session token expired")

// Claims are the fields the backend puts in its access tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is who the session belongs to.
type Identity struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the identity has an expiry before now.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// IsAdmin reports whether the identity has the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == "admin"
}

// ParseToken reads the identity from a token without verifying its
// signature; the backend verifies every request.
func ParseToken(token string) (Identity, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Identity{}, fmt.Errorf("parsing token: %w", err)
	}

	id := Identity{UserID: claims.UserID, Role: claims.Role}
	if id.UserID == "" {
		id.UserID = claims.Subject
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	if id.UserID == "" || id.Role == "" {
		return Identity{}, errors.New("parsing token: missing user id or role")
	}
	return id, nil
}

// Settings is the part of the local store the session uses.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// Manager is safe for concurrent use.
type Manager struct {
	creds    credential.Store
	settings Settings
	log      *logger.Logger
	now      func() time.Time

	mu       sync.RWMutex
	token    string
	identity Identity
	hooks    []func()
}

// New returns a signed-out Manager. Call Restore to pick up a stored token.
func New(creds credential.Store, settings Settings, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{creds: creds, settings: settings, log: log, now: time.Now}
}

// Restore loads the token saved by a previous Login. It returns
// ErrSignedOut when there is none and ErrExpired when it has expired (the
// stale token is removed).
func (m *Manager) Restore() (Identity, error) {
	token, err := m.creds.Get(tokenKey)
	if errors.Is(err, credential.ErrNotFound) {
		return Identity{}, ErrSignedOut
	}
	if err != nil {
		return Identity{}, fmt.Errorf("restoring session: %w", err)
	}

	id, err := ParseToken(token)
	if err != nil {
		return Identity{}, fmt.Errorf("restoring session: %w", err)
	}
	if id.Expired(m.now()) {
		if err := m.creds.Delete(tokenKey); err != nil {
			m.log.Warn("session: removing expired token: %v", err)
		}
		return Identity{}, ErrExpired
	}

	m.mu.Lock()
	m.token = token
	m.identity = id
	m.mu.Unlock()
	return id, nil
}

// Login validates token, stores it in the keyring and makes it current.
func (m *Manager) Login(token string) (Identity, error) {
	id, err := ParseToken(token)
	if err != nil {
		return Identity{}, err
	}
	if id.Expired(m.now()) {
		return Identity{}, ErrExpired
	}
	if err := m.creds.Set(tokenKey, token); err != nil {
		return Identity{}, fmt.Errorf("saving token: %w", err)
	}

	m.mu.Lock()
	m.token = token
	m.identity = id
	m.mu.Unlock()

	m.log.Info("session: signed in as %s (%s)", id.UserID, id.Role)
	return id, nil
}

// Logout clears the token and runs the logout hooks. It is a no-op when
// already signed out.
func (m *Manager) Logout() error {
	m.mu.Lock()
	if m.token == "" {
		m.mu.Unlock()
		return m.forget()
	}
	m.token = ""
	m.identity = Identity{}
	hooks := append([]func(){}, m.hooks...)
	m.mu.Unlock()

	for _, h := range hooks {
		h()
	}
	m.log.Info("session: signed out")
	return m.forget()
}

func (m *Manager) forget() error {
	if err := m.creds.Delete(tokenKey); err != nil {
		return fmt.Errorf("removing token: %w", err)
	}
	return nil
}

// OnLogout registers fn to run on every (forced or explicit) logout.
func (m *Manager) OnLogout(fn func()) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// Token returns the current bearer token, or "" when signed out.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Identity returns the signed-in identity, or false when signed out.
func (m *Manager) Identity() (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity, m.token != ""
}

// AuthHook returns an api.ErrorHook that signs out on auth-kind errors.
func (m *Manager) AuthHook() api.ErrorHook {
	return func(e *api.Error) {
		if e.Kind != api.KindAuth {
			return
		}
		if _, ok := m.Identity(); !ok {
			return
		}
		m.log.Warn("session: forced logout after %s %s returned %d", e.Method, e.Path, e.Status)
		if err := m.Logout(); err != nil {
			m.log.Error("session: %v", err)
		}
	}
}

// PendingCoupon returns the coupon code saved for the next checkout, or ""
// when none is saved.
func (m *Manager) PendingCoupon(ctx context.Context) (string, error) {
	return m.optionalSetting(ctx, store.SettingPendingCoupon)
}

// SetPendingCoupon saves code for the next checkout. An empty code clears
// it.
func (m *Manager) SetPendingCoupon(ctx context.Context, code string) error {
	return m.setOrClear(ctx, store.SettingPendingCoupon, code)
}

// APIURLOverride returns the REST root that replaces the configured one,
// or "" when none is set.
func (m *Manager) APIURLOverride(ctx context.Context) (string, error) {
	return m.optionalSetting(ctx, store.SettingAPIURLOverride)
}

// SetAPIURLOverride sets the REST root override. An empty url clears it.
func (m *Manager) SetAPIURLOverride(ctx context.Context, url string) error {
	return m.setOrClear(ctx, store.SettingAPIURLOverride, url)
}

func (m *Manager) optionalSetting(ctx context.Context, key string) (string, error) {
	v, err := m.settings.GetSetting(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (m *Manager) setOrClear(ctx context.Context, key, value string) error {
	if value == "" {
		return m.settings.DeleteSetting(ctx, key)
	}
	return m.settings.SetSetting(ctx, key, value)
}
