package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nhle/coursedesk/internal/devserver"
)

// Backend is a seeded development backend served over httptest.
type Backend struct {
	Server *devserver.Server
	HTTP   *httptest.Server
}

// NewBackend starts a seeded devserver and closes it when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := devserver.New(devserver.Config{Secret: "testutil-secret", Seed: true}, nil)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	return &Backend{Server: srv, HTTP: hs}
}

// APIURL returns the REST root.
func (b *Backend) APIURL() string {
	return b.HTTP.URL + "/api"
}

// SocketURL returns the websocket endpoint.
func (b *Backend) SocketURL() string {
	return "ws" + strings.TrimPrefix(b.HTTP.URL, "http") + "/socket"
}

// Token issues an access token for userID with role.
func (b *Backend) Token(t *testing.T, userID, role string) string {
	t.Helper()

	token, err := b.Server.Tokens().GenerateToken(userID, role)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	return token
}

// Emit injects a realtime event, failing the test unless the backend
// accepts it.
func (b *Backend) Emit(t *testing.T, event string, data interface{}) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("encoding %s payload: %v", event, err)
	}
	body, err := json.Marshal(devserver.EmitRequest{Event: event, Data: raw})
	if err != nil {
		t.Fatalf("encoding emit request: %v", err)
	}

	resp, err := http.Post(b.HTTP.URL+"/dev/emit", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("emitting %s: %v", event, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("emitting %s: status %d", event, resp.StatusCode)
	}
}
