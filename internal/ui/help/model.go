package help

import (
	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/coursedesk/internal/keys"
	"github.com/nhle/coursedesk/internal/theme"
	"github.com/nhle/coursedesk/internal/ui/command"
)

// Model is the help overlay view.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	admin  bool
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// SetAdmin toggles the bank tab binding. Payments stays bound so that
// pressing it can explain why it is unavailable.
func (m *Model) SetAdmin(admin bool) {
	m.admin = admin
	m.keys.TabBank.SetEnabled(admin)
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	title := titleStyle.Render("Keyboard Shortcuts")

	m.help.Width = m.width - 4
	m.help.ShowAll = true
	helpText := m.help.View(m.keys)

	content := lipgloss.JoinVertical(lipgloss.Left, title, helpText, "", titleStyle.Render("Commands"), commandList())
	if !m.admin {
		note := theme.HelpStyle.Render("Bank verifications and payments are available to admins.")
		content = lipgloss.JoinVertical(lipgloss.Left, content, "", note)
	}

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

// commandList renders the palette commands, examples aligned in a column.
func commandList() string {
	width := 0
	for _, u := range command.Usages {
		width = max(width, lipgloss.Width(u.Example))
	}
	example := lipgloss.NewStyle().Foreground(theme.ColorWhite).Width(width + 3)

	lines := make([]string, len(command.Usages))
	for i, u := range command.Usages {
		lines[i] = example.Render(":"+u.Example) + theme.HelpStyle.Render(u.Summary)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
