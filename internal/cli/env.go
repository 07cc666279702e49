package cli

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/nhle/coursedesk/internal/api"
	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/realtime"
	"github.com/nhle/coursedesk/internal/session"
	"github.com/nhle/coursedesk/internal/store"
)

var errNotSignedIn = errors.New("not signed in, run `coursedesk login` first")

// env is what every command that talks to the backend needs: config, the
// local store and a restored session.
type env struct {
	cfg     *model.AppConfig
	log     *logger.Logger
	store   *store.SQLiteStore
	session *session.Manager

	// apiURL and socketURL have the saved override applied.
	apiURL    string
	socketURL string

	// restoreErr is why no session was restored, if any.
	restoreErr error
}

func openEnv(ctx context.Context, opts *rootOptions, log *logger.Logger) (*env, error) {
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	sess := session.New(opts.credentials(filepath.Dir(opts.configPath)), st, log)
	e := &env{
		cfg:       cfg,
		log:       log,
		store:     st,
		session:   sess,
		apiURL:    cfg.API.BaseURL,
		socketURL: cfg.API.SocketURL,
	}

	override, err := sess.APIURLOverride(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	if override != "" {
		e.apiURL = override
		e.socketURL = socketURLFor(override, cfg.API.SocketURL)
	}

	if _, err := sess.Restore(); err != nil {
		if !errors.Is(err, session.ErrSignedOut) {
			log.Warn("cli: %v", err)
		}
		e.restoreErr = err
	}
	return e, nil
}

// Close releases the local store.
func (e *env) Close() error {
	return e.store.Close()
}

// client returns a REST client for the current session.
func (e *env) client() *api.Client {
	c := api.NewClient(e.apiURL, e.session.Token)
	c.SetTimeout(time.Duration(e.cfg.API.TimeoutSec) * time.Second)
	return c
}

// realtime returns a socket manager for the current session.
func (e *env) realtime() *realtime.Manager {
	rc := e.cfg.Realtime
	return realtime.NewManager(realtime.Options{
		URL:    e.socketURL,
		Token:  e.session.Token,
		Dialer: realtime.WSDialer{},
		Policy: realtime.Policy{
			MaxAttempts: rc.MaxReconnectAttempts,
			BaseDelay:   time.Duration(rc.ReconnectDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(rc.ReconnectDelayMaxMs) * time.Millisecond,
		},
		Logger: e.log,
	})
}

// requireIdentity returns the signed-in identity or errNotSignedIn.
func (e *env) requireIdentity() (session.Identity, error) {
	id, ok := e.session.Identity()
	if !ok {
		if errors.Is(e.restoreErr, session.ErrExpired) {
			return session.Identity{}, fmt.Errorf("session expired, run `coursedesk login` again")
		}
		return session.Identity{}, errNotSignedIn
	}
	return id, nil
}

// socketURLFor points the configured socket endpoint at the host of
// apiURL, keeping its path.
func socketURLFor(apiURL, socketURL string) string {
	a, err := url.Parse(apiURL)
	if err != nil {
		return socketURL
	}
	s, err := url.Parse(socketURL)
	if err != nil {
		return socketURL
	}
	s.Host = a.Host
	if a.Scheme == "https" {
		s.Scheme = "wss"
	} else {
		s.Scheme = "ws"
	}
	return s.String()
}
