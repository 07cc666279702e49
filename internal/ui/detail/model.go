package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/coursedesk/internal/keys"
	"github.com/nhle/coursedesk/internal/theme"
	"github.com/nhle/coursedesk/internal/ui/feed"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// Model is the notification detail view.
type Model struct {
	entry    *feed.Entry
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.Back) {
		return m, func() tea.Msg {
			return BackMsg{}
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	if m.entry == nil {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No notification selected")
	}

	return m.viewport.View()
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	if m.entry == nil {
		return ""
	}
	e := m.entry

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections := []string{
		titleStyle.Render(e.Heading),
		lipgloss.JoinHorizontal(
			lipgloss.Top,
			theme.InactiveTabStyle.Render(e.Domain.Label()),
			"  ",
			e.StatusStyle().Render(e.Status),
		),
		"",
	}

	labelWidth := 0
	for _, f := range e.Fields {
		if len(f.Label) > labelWidth {
			labelWidth = len(f.Label)
		}
	}
	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray).Width(labelWidth + 2)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)

	for _, f := range e.Fields {
		if f.Value == "" {
			continue
		}
		sections = append(sections, metaStyle.Render(f.Label+":")+valStyle.Render(f.Value))
	}
	if !e.When.IsZero() {
		sections = append(sections, metaStyle.Render("Received:")+
			valStyle.Render(fmt.Sprintf("%s (%s)", e.When.Local().Format("2006-01-02 15:04"), feed.RelativeTime(e.When))))
	}

	if e.Body != "" {
		sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
		separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 0)))
		sections = append(sections, "", separator, "", e.Body)
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetEntry updates the notification being displayed.
func (m *Model) SetEntry(e feed.Entry) {
	m.entry = &e
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// Clear drops the displayed notification.
func (m *Model) Clear() {
	m.entry = nil
	m.viewport.SetContent("")
}

// Entry returns the notification being displayed.
func (m Model) Entry() (feed.Entry, bool) {
	if m.entry == nil {
		return feed.Entry{}, false
	}
	return *m.entry, true
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	if m.entry != nil {
		m.viewport.SetContent(m.renderContent())
	}
}
