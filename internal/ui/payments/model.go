// Package payments renders the admin payments summary.
package payments

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/coursedesk/internal/dashboard"
	"github.com/nhle/coursedesk/internal/keys"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/state"
	"github.com/nhle/coursedesk/internal/theme"
	"github.com/nhle/coursedesk/internal/ui/feed"
)

// CloseMsg signals the parent to close the payments view.
type CloseMsg struct{}

// Model is the payments summary view.
type Model struct {
	keys   *keys.KeyMap
	snap   state.Snapshot[dashboard.Summary]
	width  int
	height int
}

// New creates an empty payments view.
func New(k *keys.KeyMap, width, height int) Model {
	return Model{keys: k, width: width, height: height}
}

// SetSnapshot replaces the summary shown.
func (m *Model) SetSnapshot(s state.Snapshot[dashboard.Summary]) {
	m.snap = s
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.Back) {
		return m, func() tea.Msg { return CloseMsg{} }
	}
	return m, nil
}

// View renders the summary tables.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).MarginBottom(1)
	s := m.snap.Data

	var b strings.Builder
	b.WriteString(titleStyle.Render("Payments"))
	b.WriteString("\n")

	switch {
	case m.snap.IsLoading && s.Count == 0:
		b.WriteString(theme.DimmedStyle.Render("Loading payments..."))
		return b.String()
	case m.snap.Err != nil && s.Count == 0:
		b.WriteString(lipgloss.NewStyle().Foreground(theme.ColorRed).Render("Could not load payments. Press r to retry."))
		return b.String()
	case s.Count == 0:
		b.WriteString(theme.DimmedStyle.Render("No payments yet."))
		return b.String()
	}

	fmt.Fprintf(&b, "%d payments, %s paid (%s)\n\n",
		s.Count, theme.AmountStyle.Render(s.Paid.Total.StringFixed(2)+" "+s.Currency), s.Currency)

	header := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBlue)
	b.WriteString(header.Render("By method"))
	b.WriteString("\n")
	for _, method := range s.Methods() {
		bucket := s.ByMethod[method]
		fmt.Fprintf(&b, "  %-16s %4d  %12s\n", method, bucket.Count, bucket.Total.StringFixed(2))
	}

	b.WriteString("\n")
	b.WriteString(header.Render("By status"))
	b.WriteString("\n")
	for _, status := range []model.SaleStatus{model.SaleStatusPaid, model.SaleStatusPending, model.SaleStatusCancelled} {
		bucket, ok := s.ByStatus[status]
		if !ok {
			continue
		}
		label := theme.SaleStatusStyle(string(status)).Width(14).Render(string(status))
		fmt.Fprintf(&b, " %s %4d  %12s\n", label, bucket.Count, bucket.Total.StringFixed(2))
	}

	if s.Skipped > 0 {
		fmt.Fprintf(&b, "\n%s\n", theme.HelpStyle.Render(
			fmt.Sprintf("%d payments in other currencies are not included.", s.Skipped)))
	}
	if !m.snap.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "\n%s", theme.DimmedStyle.Render("Updated "+feed.RelativeTime(m.snap.UpdatedAt)))
	}

	return b.String()
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}
