package cli_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/coursedesk/internal/cli"
	"github.com/nhle/coursedesk/internal/credential"
	"github.com/nhle/coursedesk/internal/session"
	"github.com/nhle/coursedesk/tests/testutil"
)

type harness struct {
	backend *testutil.Backend
	creds   *credential.Memory
	config  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	be := testutil.NewBackend(t)
	dir := t.TempDir()
	config := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf(`api:
  base_url: %s
  socket_url: %s
  timeout_sec: 5
database_path: %s
log_path: %s
`, be.APIURL(), be.SocketURL(), filepath.Join(dir, "data", "coursedesk.db"), filepath.Join(dir, "coursedesk.log"))
	require.NoError(t, os.WriteFile(config, []byte(yaml), 0o644))

	return &harness{backend: be, creds: credential.NewMemory(), config: config}
}

// run executes the CLI with args and returns its stdout.
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := cli.NewRootCmdForTest(h.creds)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append([]string{"--config", h.config, "--env-file", ""}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	cmd := cli.NewRootCmdForTest(credential.NewMemory())
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "coursedesk dev")
}

func TestLoginStatusLogout(t *testing.T) {
	h := newHarness(t)
	token := h.backend.Token(t, "u-1", "instructor")

	out, err := h.run(t, "login", "--token", token)
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as u-1 (instructor)")

	out, err = h.run(t, "status", "--json")
	require.NoError(t, err)

	var report struct {
		UserID string `json:"user_id"`
		Queues []struct {
			Domain string `json:"domain"`
			Count  int    `json:"count"`
			Unread int    `json:"unread"`
			Error  string `json:"error"`
		} `json:"queues"`
		Payments *json.RawMessage `json:"payments"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "u-1", report.UserID)
	require.Len(t, report.Queues, 3)
	assert.Equal(t, "sales", report.Queues[0].Domain)
	assert.Equal(t, 2, report.Queues[0].Count)
	assert.Equal(t, 1, report.Queues[0].Unread)
	assert.Nil(t, report.Payments)

	out, err = h.run(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out")

	_, err = h.run(t, "status")
	assert.ErrorContains(t, err, "not signed in")
}

func TestAdminStatusIncludesPayments(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "login", "--token", h.backend.Token(t, "a-1", "admin"))
	require.NoError(t, err)

	out, err := h.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as a-1 (admin)")
	assert.Contains(t, out, "Bank verifications")
	assert.Contains(t, out, "Payments")
}

func TestLoginRejectsBadInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "login", "--token", "not-a-token")
	assert.ErrorContains(t, err, "does not look like an access token")

	token := h.backend.Token(t, "u-1", "instructor")
	_, err = h.run(t, "login", "--token", token, "--api-url", "localhost:3000")
	assert.Error(t, err)

	_, err = h.run(t, "status")
	assert.ErrorContains(t, err, "not signed in")
}

func TestLoginSavesAPIURL(t *testing.T) {
	h := newHarness(t)
	token := h.backend.Token(t, "u-1", "instructor")

	out, err := h.run(t, "login", "--token", token, "--api-url", h.backend.APIURL())
	require.NoError(t, err)
	assert.Contains(t, out, "Using backend "+h.backend.APIURL())

	out, err = h.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "at "+h.backend.APIURL())
}

func TestCoupon(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "coupon")
	require.NoError(t, err)
	assert.Contains(t, out, "No coupon saved")

	out, err = h.run(t, "coupon", "spring10")
	require.NoError(t, err)
	assert.Contains(t, out, "Coupon SPRING10 saved")

	out, err = h.run(t, "coupon")
	require.NoError(t, err)
	assert.Equal(t, "SPRING10\n", out)

	_, err = h.run(t, "coupon", "--clear")
	require.NoError(t, err)
	out, err = h.run(t, "coupon")
	require.NoError(t, err)
	assert.Contains(t, out, "No coupon saved")
}

func TestDevToken(t *testing.T) {
	cmd := cli.NewRootCmdForTest(credential.NewMemory())
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--env-file", "", "devserver", "token", "--user", "admin-7", "--role", "admin"})
	require.NoError(t, cmd.Execute())

	id, err := session.ParseToken(string(bytes.TrimSpace(buf.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, "admin-7", id.UserID)
	assert.True(t, id.IsAdmin())

	cmd = cli.NewRootCmdForTest(credential.NewMemory())
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"--env-file", "", "devserver", "token", "--role", "student"})
	assert.ErrorContains(t, cmd.Execute(), "role must be")
}
