package command

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/theme"
)

// Name identifies a palette command.
type Name string

const (
	Refresh  Name = "refresh"
	MarkRead Name = "read"
	Activity Name = "activity"
	Payments Name = "payments"
	Open     Name = "open"
	Logout   Name = "logout"
	Quit     Name = "quit"
)

var aliases = map[string]Name{
	"refresh":  Refresh,
	"sync":     Refresh,
	"read":     MarkRead,
	"activity": Activity,
	"log":      Activity,
	"payments": Payments,
	"open":     Open,
	"logout":   Logout,
	"signout":  Logout,
	"quit":     Quit,
	"q":        Quit,
}

var domainAliases = map[string]model.Domain{
	"sales":   model.DomainSales,
	"refunds": model.DomainRefunds,
	"reviews": model.DomainReviews,
	"bank":    model.DomainBankVerifications,
}

// Usage is one line of palette help.
type Usage struct {
	Example string
	Summary string
}

// Usages lists the palette commands in the order help shows them.
var Usages = []Usage{
	{"refresh", "reload every queue now (alias: sync)"},
	{"read [queue]", "mark sales or reviews read, current tab by default"},
	{"open <queue>", "switch to sales, refunds, reviews or bank"},
	{"activity", "show pushed events (alias: log)"},
	{"payments", "open the payment dashboard (admins)"},
	{"logout", "sign out and clear the session (alias: signout)"},
	{"quit", "leave coursedesk (alias: q)"},
}

// Command is a parsed palette entry. Domain is set for read and open; an
// empty Domain on read means the current tab.
type Command struct {
	Name   Name
	Domain model.Domain
}

// Parse turns the text typed in the palette into a Command. A bare queue
// name is shorthand for "open <queue>".
func Parse(raw string) (Command, error) {
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}

	if d, ok := domainAliases[fields[0]]; ok && len(fields) == 1 {
		return Command{Name: Open, Domain: d}, nil
	}

	name, ok := aliases[fields[0]]
	if !ok {
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
	cmd := Command{Name: name}

	switch name {
	case MarkRead, Open:
		if len(fields) > 2 {
			return Command{}, fmt.Errorf("%s takes at most one queue", name)
		}
		if len(fields) == 2 {
			d, ok := domainAliases[fields[1]]
			if !ok {
				return Command{}, fmt.Errorf("unknown queue %q", fields[1])
			}
			cmd.Domain = d
		}
		if name == Open && cmd.Domain == "" {
			return Command{}, fmt.Errorf("open needs a queue")
		}
	default:
		if len(fields) > 1 {
			return Command{}, fmt.Errorf("%s takes no arguments", name)
		}
	}
	return cmd, nil
}

// CommandMsg is emitted when the user executes a valid command.
type CommandMsg struct {
	Command Command
}

// InvalidMsg is emitted when the typed text does not parse.
type InvalidMsg struct {
	Input string
	Err   error
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "refresh, read [queue], activity, payments, sales, logout, quit"
	ti.Prompt = ": "
	ti.Focus()
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		raw := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if raw == "" {
			return m, nil
		}
		cmd, err := Parse(raw)
		if err != nil {
			return m, func() tea.Msg { return InvalidMsg{Input: raw, Err: err} }
		}
		return m, func() tea.Msg { return CommandMsg{Command: cmd} }
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	title := titleStyle.Render("Command Palette")
	input := m.input.View()

	content := lipgloss.JoinVertical(lipgloss.Left, title, input)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(content)
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	return m.input.Focus()
}
