package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/coursedesk/internal/theme"
)

// Layout manages the terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	TabsHeight      int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions. The
// header, tab row and status bar are one line each.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		TabsHeight:      1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.TabsHeight - l.StatusBarHeight
	if h < 0 {
		return 0
	}
	return h
}

// Tab is one entry of the queue switcher.
type Tab struct {
	Label  string
	Active bool
}

// RenderHeader renders the top bar with a title on the left and status on
// the right.
func (l Layout) RenderHeader(title string, status string) string {
	titleRendered := theme.HeaderStyle.Render(title)

	statusRendered := theme.HeaderStyle.
		Align(lipgloss.Right).
		Render(status)

	return l.fill(theme.HeaderStyle, titleRendered, statusRendered)
}

// RenderTabs renders the queue switcher row.
func (l Layout) RenderTabs(tabs []Tab) string {
	parts := make([]string, 0, len(tabs))
	for _, t := range tabs {
		if t.Active {
			parts = append(parts, theme.ActiveTabStyle.Render(t.Label))
		} else {
			parts = append(parts, theme.InactiveTabStyle.Render(t.Label))
		}
	}
	row := lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	return lipgloss.NewStyle().MaxWidth(l.Width).Render(row)
}

// RenderStatusBar renders the bottom bar. A non-empty notice (an already
// styled toast) is placed before the hints.
func (l Layout) RenderStatusBar(notice, hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)
	if notice != "" {
		rendered = lipgloss.JoinHorizontal(lipgloss.Top, notice, rendered)
	}
	return l.fill(theme.StatusBarStyle, rendered, "")
}

// fill pads the gap between left and right with style's background so the
// bar spans the full width.
func (l Layout) fill(style lipgloss.Style, left, right string) string {
	gap := l.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, tab row, content area and status bar.
func (l Layout) RenderWithFrame(
	header string,
	tabs string,
	content string,
	statusBar string,
) string {
	content = lipgloss.NewStyle().
		Height(l.ContentHeight()).
		MaxHeight(l.ContentHeight()).
		Render(content)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		tabs,
		content,
		statusBar,
	)
}
