// Package activity shows the local log of realtime events.
package activity

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/coursedesk/internal/keys"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/store"
	"github.com/nhle/coursedesk/internal/theme"
	"github.com/nhle/coursedesk/internal/ui/feed"
)

// pageSize is how many entries the view loads.
const pageSize = 200

// CloseMsg signals the parent to close the activity view.
type CloseMsg struct{}

type loadedMsg struct {
	entries []model.Activity
	err     error
}

type markedMsg struct{ err error }

// Model is the Bubble Tea model of the activity log.
type Model struct {
	store       store.Store
	keys        *keys.KeyMap
	entries     []model.Activity
	unreadOnly  bool
	selectedIdx int
	statusMsg   string
	width       int
	height      int
}

// New creates a new activity view.
func New(s store.Store, k *keys.KeyMap, width, height int) Model {
	return Model{store: s, keys: k, width: width, height: height}
}

// Init loads the log from the store.
func (m Model) Init() tea.Cmd {
	return m.load()
}

// Entries returns the loaded entries, newest first.
func (m Model) Entries() []model.Activity {
	return m.entries
}

// Prepend shows a freshly recorded entry without reloading.
func (m *Model) Prepend(a model.Activity) {
	m.entries = append([]model.Activity{a}, m.entries...)
	if len(m.entries) > pageSize {
		m.entries = m.entries[:pageSize]
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("Error: %v", msg.err)
			return m, nil
		}
		m.entries = msg.entries
		if m.selectedIdx >= len(m.entries) {
			m.selectedIdx = max(len(m.entries)-1, 0)
		}
		return m, nil

	case markedMsg:
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("Error: %v", msg.err)
			return m, nil
		}
		m.statusMsg = "All activity marked read"
		return m, m.load()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		return m, func() tea.Msg { return CloseMsg{} }

	case key.Matches(msg, m.keys.Down):
		if len(m.entries) > 0 {
			m.selectedIdx = (m.selectedIdx + 1) % len(m.entries)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.entries) > 0 {
			m.selectedIdx--
			if m.selectedIdx < 0 {
				m.selectedIdx = len(m.entries) - 1
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.MarkRead):
		return m, m.markAllRead()

	case msg.String() == "u":
		m.unreadOnly = !m.unreadOnly
		m.selectedIdx = 0
		return m, m.load()
	}
	return m, nil
}

func (m Model) load() tea.Cmd {
	s := m.store
	filter := store.ActivityFilter{UnreadOnly: m.unreadOnly, Limit: pageSize}
	return func() tea.Msg {
		entries, err := s.GetActivity(context.Background(), filter)
		return loadedMsg{entries: entries, err: err}
	}
}

func (m Model) markAllRead() tea.Cmd {
	s := m.store
	return func() tea.Msg {
		return markedMsg{err: s.MarkActivityRead(context.Background(), nil)}
	}
}

// View renders the log.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).MarginBottom(1)
	title := "Activity"
	if m.unreadOnly {
		title += " (unread only)"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	if len(m.entries) == 0 {
		b.WriteString(theme.DimmedStyle.Render("No realtime events received yet."))
	}

	visible := max(m.height-6, 1)
	start := 0
	if m.selectedIdx >= visible {
		start = m.selectedIdx - visible + 1
	}
	for i := start; i < len(m.entries) && i < start+visible; i++ {
		a := m.entries[i]
		marker := " "
		if !a.Read {
			marker = theme.UnreadBadgeStyle.Render("●")
		}
		line := fmt.Sprintf("%s %-18s %s  %s",
			marker,
			a.Domain.Label(),
			a.Message,
			theme.DimmedStyle.Render(feed.RelativeTime(a.CreatedAt)),
		)
		if i == m.selectedIdx {
			b.WriteString(theme.SelectedItemStyle.Render(line))
		} else {
			b.WriteString(theme.ListItemStyle.Render(line))
		}
		b.WriteString("\n")
	}

	if m.statusMsg != "" {
		b.WriteString("\n")
		b.WriteString(theme.HelpStyle.Render(m.statusMsg))
	}

	return b.String()
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}
