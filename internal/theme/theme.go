package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for top-level section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// DetailPanelStyle wraps the detail view content area.
var DetailPanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// ListItemStyle is the base style for items in a list.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the currently focused list item.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// BorderStyle provides a standard rounded border for panels.
var BorderStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// DimmedStyle renders secondary text such as timestamps and read items.
var DimmedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// UnreadBadgeStyle marks items the user has not seen yet.
var UnreadBadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorOrange)

// AmountStyle renders money values.
var AmountStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorGreen)

// Tab styles for the queue switcher.
var (
	ActiveTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite).
			Background(ColorBlue).
			Padding(0, 1)

	InactiveTabStyle = lipgloss.NewStyle().
				Foreground(ColorGray).
				Padding(0, 1)
)

// SaleStatusStyle returns a color-coded style for a sale status.
func SaleStatusStyle(status string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch status {
	case "Pendiente":
		return base.Foreground(ColorYellow)
	case "Pagado":
		return base.Foreground(ColorGreen)
	case "Cancelado":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// RefundStatusStyle returns a color-coded style for a refund status.
func RefundStatusStyle(status string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch status {
	case "pending":
		return base.Foreground(ColorYellow)
	case "approved", "processing":
		return base.Foreground(ColorBlue)
	case "completed":
		return base.Foreground(ColorGreen)
	case "rejected", "failed":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// BankStatusStyle returns a color-coded style for a bank verification
// status.
func BankStatusStyle(status string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch status {
	case "pending":
		return base.Foreground(ColorYellow)
	case "verified":
		return base.Foreground(ColorGreen)
	case "rejected":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// RatingStyle colors a review by its star rating.
func RatingStyle(rating int) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch {
	case rating >= 4:
		return base.Foreground(ColorGreen)
	case rating == 3:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorRed)
	}
}

// ConnectionStyle returns the style of the realtime indicator in the
// header.
func ConnectionStyle(connected bool) lipgloss.Style {
	if connected {
		return lipgloss.NewStyle().Foreground(ColorGreen)
	}
	return lipgloss.NewStyle().Foreground(ColorRed)
}

// ToastStyle returns the status bar style for a toast of the given level.
func ToastStyle(level string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch level {
	case "error":
		return base.Foreground(ColorWhite).Background(ColorRed)
	case "warning":
		return base.Foreground(lipgloss.Color("#1A202C")).Background(ColorYellow)
	default:
		return base.Foreground(ColorWhite).Background(ColorBlue)
	}
}
