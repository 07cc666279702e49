package feed

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/coursedesk/internal/keys"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/theme"
)

// SelectedMsg is sent when the user opens an entry.
type SelectedMsg struct {
	Entry Entry
}

// Status is the load state shown under the list.
type Status struct {
	Count       int
	Pending     int
	Unread      int
	Loading     bool
	LastChecked time.Time
	Err         error
}

// Model is the list view of one notification queue.
type Model struct {
	domain model.Domain
	list   list.Model
	keys   *keys.KeyMap
	status Status
	width  int
	height int
}

// New creates an empty list for domain.
func New(domain model.Domain, k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-1)
	l.Title = domain.Label()
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		domain: domain,
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// Domain returns the queue shown by this list.
func (m Model) Domain() model.Domain {
	return m.domain
}

// Status returns the last status set on the list.
func (m Model) Status() Status {
	return m.status
}

// SetEntries replaces the list contents, keeping the cursor on the same
// entry when it is still present.
func (m *Model) SetEntries(entries []Entry) tea.Cmd {
	var selected string
	if e, ok := m.list.SelectedItem().(Entry); ok {
		selected = e.ID
	}

	items := make([]list.Item, len(entries))
	cursor := 0
	for i, e := range entries {
		items[i] = e
		if e.ID == selected {
			cursor = i
		}
	}
	cmd := m.list.SetItems(items)
	m.list.Select(cursor)
	return cmd
}

// Entries returns the entries currently listed.
func (m Model) Entries() []Entry {
	items := m.list.Items()
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		if e, ok := it.(Entry); ok {
			out = append(out, e)
		}
	}
	return out
}

// SetStatus records the queue's load state.
func (m *Model) SetStatus(s Status) {
	m.status = s
}

// Selected returns the entry under the cursor.
func (m Model) Selected() (Entry, bool) {
	e, ok := m.list.SelectedItem().(Entry)
	return e, ok
}

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.Select) {
		e, ok := m.Selected()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedMsg{Entry: e}
		}
	}

	// Navigation keys (up/down/pgup/pgdn) go to the list.
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the list with a one-line status footer.
func (m Model) View() string {
	var body string
	if len(m.list.Items()) == 0 {
		body = m.renderEmptyState()
	} else {
		body = m.list.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, m.renderFooter())
}

func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height - 1).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	switch {
	case m.status.Loading:
		return style.Render("Loading " + m.domain.Label() + "...")
	case m.status.Err != nil:
		return style.Render("Could not load " + m.domain.Label() + ".\nPress r to retry.")
	default:
		return style.Render("Nothing needs your attention in " + m.domain.Label() + ".")
	}
}

func (m Model) renderFooter() string {
	s := m.status
	text := fmt.Sprintf("%d items, %d pending", s.Count, s.Pending)
	if s.Unread > 0 {
		text += fmt.Sprintf(", %d unread", s.Unread)
	}

	switch {
	case s.Loading:
		text += " | refreshing..."
	case s.Err != nil:
		return lipgloss.NewStyle().Foreground(theme.ColorRed).PaddingLeft(2).
			Render(text + " | last refresh failed")
	case !s.LastChecked.IsZero():
		text += " | checked " + RelativeTime(s.LastChecked)
	}
	return theme.DimmedStyle.PaddingLeft(2).Render(text)
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-1)
}
