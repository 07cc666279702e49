// Package login is the sign-in screen: a huh form that asks for the access
// token. The CLI variant also asks for the backend URL.
package login

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/coursedesk/internal/session"
	"github.com/nhle/coursedesk/internal/theme"
)

// SubmitMsg is sent when the form is completed.
type SubmitMsg struct {
	Token string
}

// CancelMsg is sent when the user aborts the form.
type CancelMsg struct{}

// Values are the fields bound to the form. They live behind a pointer so
// copies of the model keep writing to the same place.
type Values struct {
	Token  string
	APIURL string
}

// NewForm builds the sign-in form bound to v. withURL adds the backend URL
// field; the CLI runs that variant standalone.
func NewForm(v *Values, withURL bool) *huh.Form {
	fields := []huh.Field{
		huh.NewInput().
			Title("Access token").
			Description("Paste the token from your instructor dashboard").
			EchoMode(huh.EchoModePassword).
			Value(&v.Token).
			Validate(ValidateToken),
	}
	if withURL {
		fields = append(fields, huh.NewInput().
			Title("API URL").
			Description("Leave empty to use the configured backend").
			Placeholder("http://localhost:3000/api").
			Value(&v.APIURL).
			Validate(ValidateURL))
	}
	return huh.NewForm(huh.NewGroup(fields...))
}

// ValidateToken rejects empty, malformed and expired tokens.
func ValidateToken(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("token is required")
	}
	id, err := session.ParseToken(s)
	if err != nil {
		return errors.New("this does not look like an access token")
	}
	if id.Expired(time.Now()) {
		return errors.New("this token has expired")
	}
	return nil
}

// ValidateURL accepts an empty string or an absolute http(s) URL.
func ValidateURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.New("URL must include scheme and host (e.g., https://example.com/api)")
	}
	return nil
}

// Model is the sign-in screen.
type Model struct {
	form       *huh.Form
	values     *Values
	spinner    spinner.Model
	submitting bool
	errMsg     string
	width      int
	height     int
}

// New creates the sign-in screen. apiURL is shown as the backend being
// signed in to.
func New(apiURL string, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	v := &Values{APIURL: apiURL}
	m := Model{values: v, spinner: sp, width: width, height: height}
	m.form = m.buildForm()
	return m
}

func (m Model) buildForm() *huh.Form {
	return NewForm(m.values, false).WithWidth(m.formWidth()).WithShowHelp(true)
}

func (m Model) formWidth() int {
	w := m.width - 8
	if w > 72 {
		w = 72
	}
	if w < 20 {
		w = 20
	}
	return w
}

// Init starts the form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Reset clears the token, shows errMsg (if any) and restarts the form.
func (m *Model) Reset(errMsg string) tea.Cmd {
	m.values.Token = ""
	m.submitting = false
	m.errMsg = errMsg
	m.form = m.buildForm()
	return m.form.Init()
}

// Submitting reports whether a submitted token is being checked.
func (m Model) Submitting() bool {
	return m.submitting
}

// Update forwards messages to the form and reports completion.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.submitting {
		if tick, ok := msg.(spinner.TickMsg); ok {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(tick)
			return m, cmd
		}
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.submitting = true
		m.errMsg = ""
		submit := SubmitMsg{Token: strings.TrimSpace(m.values.Token)}
		return m, tea.Batch(m.spinner.Tick, func() tea.Msg { return submit })
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the screen.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	parts := []string{titleStyle.Render("Sign in to coursedesk")}
	if m.values.APIURL != "" {
		parts = append(parts, theme.DimmedStyle.Render("Backend: "+m.values.APIURL), "")
	}
	if m.errMsg != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorRed).Render(m.errMsg), "")
	}
	if m.submitting {
		parts = append(parts, m.spinner.View()+" Signing in...")
	} else {
		parts = append(parts, m.form.View())
	}

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// SetSize updates the screen dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.form = m.form.WithWidth(m.formWidth())
}
