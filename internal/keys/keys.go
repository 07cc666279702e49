package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the global keybindings for the application.
type KeyMap struct {
	// Navigation
	Down    key.Binding
	Up      key.Binding
	NextTab key.Binding
	PrevTab key.Binding

	// Jump straight to a queue tab.
	TabSales   key.Binding
	TabRefunds key.Binding
	TabReviews key.Binding
	TabBank    key.Binding

	Select key.Binding
	Back   key.Binding
	Quit   key.Binding

	Command key.Binding
	Help    key.Binding

	// Queue actions
	Refresh  key.Binding
	MarkRead key.Binding

	// Screens
	Activity key.Binding
	Payments key.Binding

	Logout  key.Binding
	Dismiss key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		NextTab: key.NewBinding(
			key.WithKeys("tab", "l", "right"),
			key.WithHelp("tab/l", "next queue"),
		),
		PrevTab: key.NewBinding(
			key.WithKeys("shift+tab", "h", "left"),
			key.WithHelp("shift+tab/h", "previous queue"),
		),
		TabSales: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "sales"),
		),
		TabRefunds: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "refunds"),
		),
		TabReviews: key.NewBinding(
			key.WithKeys("3"),
			key.WithHelp("3", "reviews"),
		),
		TabBank: key.NewBinding(
			key.WithKeys("4"),
			key.WithHelp("4", "bank verifications"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open detail"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		Command: key.NewBinding(
			key.WithKeys(":"),
			key.WithHelp(":", "command palette"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh all"),
		),
		MarkRead: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "mark queue read"),
		),
		Activity: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "activity log"),
		),
		Payments: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "payments (admin)"),
		),
		Logout: key.NewBinding(
			key.WithKeys("L"),
			key.WithHelp("L", "sign out"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "dismiss toast"),
		),
	}
}

// TabKeys returns the direct tab bindings in queue display order.
func (k *KeyMap) TabKeys() []key.Binding {
	return []key.Binding{k.TabSales, k.TabRefunds, k.TabReviews, k.TabBank}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.NextTab, k.Up, k.Down, k.Select,
		k.Refresh, k.Quit, k.Help,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.NextTab, k.PrevTab, k.Select, k.Back},
		{k.TabSales, k.TabRefunds, k.TabReviews, k.TabBank},
		{k.Refresh, k.MarkRead, k.Activity, k.Payments, k.Dismiss},
		{k.Command, k.Help, k.Logout, k.Quit},
	}
}
