package feed

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/theme"
)

// Field is one labelled value shown in the detail view.
type Field struct {
	Label string
	Value string
}

// Entry is one notification prepared for display. It wraps the typed
// notification so the list does not care which queue it came from.
type Entry struct {
	Domain  model.Domain
	ID      string
	Heading string
	Status  string
	Amount  string
	Rating  int
	Unread  bool
	When    time.Time
	Fields  []Field
	Body    string
}

// FilterValue returns the string used for fuzzy filtering.
func (e Entry) FilterValue() string { return e.Heading }

// Title returns the entry heading for the list.
func (e Entry) Title() string { return e.Heading }

// Description returns a short summary line for the list.
func (e Entry) Description() string {
	parts := []string{e.Status}
	if e.Amount != "" {
		parts = append(parts, e.Amount)
	}
	parts = append(parts, RelativeTime(e.When))
	return strings.Join(parts, " | ")
}

// SaleEntries converts sales into list entries.
func SaleEntries(sales []model.SaleNotification) []Entry {
	out := make([]Entry, 0, len(sales))
	for _, s := range sales {
		titles := make([]string, 0, len(s.Products))
		for _, p := range s.Products {
			titles = append(titles, p.Title)
		}
		heading := personName(s.Customer)
		if len(titles) > 0 {
			heading += " bought " + strings.Join(titles, ", ")
		}
		out = append(out, Entry{
			Domain:  model.DomainSales,
			ID:      s.ID,
			Heading: heading,
			Status:  string(s.Status),
			Amount:  money(s.Total, s.Currency),
			Unread:  !s.Read,
			When:    s.CreatedAt,
			Fields: []Field{
				{"Customer", personName(s.Customer)},
				{"Email", s.Customer.Email},
				{"Total", money(s.Total, s.Currency)},
				{"Method", s.Method},
				{"Status", string(s.Status)},
				{"Sale ID", s.ID},
			},
			Body: strings.Join(titles, "\n"),
		})
	}
	return out
}

// RefundEntries converts refund requests into list entries.
func RefundEntries(refunds []model.RefundNotification) []Entry {
	out := make([]Entry, 0, len(refunds))
	for _, r := range refunds {
		heading := personName(r.User)
		if r.Product.Title != "" {
			heading += " wants a refund for " + r.Product.Title
		}
		out = append(out, Entry{
			Domain:  model.DomainRefunds,
			ID:      r.ID,
			Heading: heading,
			Status:  string(r.Status),
			Amount:  money(r.Amount, ""),
			Unread:  r.Status == model.RefundStatusPending,
			When:    r.CreatedAt,
			Fields: []Field{
				{"Requested by", personName(r.User)},
				{"Product", r.Product.Title},
				{"Amount", money(r.Amount, "")},
				{"Status", string(r.Status)},
				{"Refund ID", r.ID},
			},
			Body: r.Reason,
		})
	}
	return out
}

// ReviewEntries converts reviews into list entries.
func ReviewEntries(reviews []model.ReviewNotification) []Entry {
	out := make([]Entry, 0, len(reviews))
	for _, r := range reviews {
		heading := fmt.Sprintf("%s rated %s", personName(r.User), stars(r.Rating))
		if r.Product.Title != "" {
			heading += " on " + r.Product.Title
		}
		out = append(out, Entry{
			Domain:  model.DomainReviews,
			ID:      r.ID,
			Heading: heading,
			Status:  fmt.Sprintf("%d/5", r.Rating),
			Rating:  r.Rating,
			Unread:  !r.Read,
			When:    r.CreatedAt,
			Fields: []Field{
				{"Student", personName(r.User)},
				{"Course", r.Product.Title},
				{"Rating", stars(r.Rating)},
				{"Review ID", r.ID},
			},
			Body: r.Comment,
		})
	}
	return out
}

// BankEntries converts bank verifications into list entries.
func BankEntries(items []model.BankVerificationNotification) []Entry {
	out := make([]Entry, 0, len(items))
	for _, b := range items {
		account := b.BankName
		if b.AccountLast4 != "" {
			account = strings.TrimSpace(account + " ****" + b.AccountLast4)
		}
		out = append(out, Entry{
			Domain:  model.DomainBankVerifications,
			ID:      b.ID,
			Heading: personName(b.User) + " submitted " + account,
			Status:  string(b.Status),
			Unread:  b.Status == model.BankVerificationPending,
			When:    b.SubmittedAt,
			Fields: []Field{
				{"Instructor", personName(b.User)},
				{"Email", b.User.Email},
				{"Bank", b.BankName},
				{"Account", account},
				{"Status", string(b.Status)},
				{"Verification ID", b.ID},
			},
		})
	}
	return out
}

// StatusStyle picks the status badge style for the entry's queue.
func (e Entry) StatusStyle() lipgloss.Style {
	switch e.Domain {
	case model.DomainSales:
		return theme.SaleStatusStyle(e.Status)
	case model.DomainRefunds:
		return theme.RefundStatusStyle(e.Status)
	case model.DomainBankVerifications:
		return theme.BankStatusStyle(e.Status)
	default:
		return theme.RatingStyle(e.Rating).Padding(0, 1)
	}
}

// ItemDelegate implements list.ItemDelegate for notification entries.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single entry line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	e, ok := item.(Entry)
	if !ok {
		return
	}

	marker := " "
	if e.Unread {
		marker = theme.UnreadBadgeStyle.Render("●")
	}

	statusBadge := e.StatusStyle().Render(e.Status)

	amount := ""
	if e.Amount != "" {
		amount = " " + theme.AmountStyle.Render(e.Amount)
	}

	timeStr := theme.DimmedStyle.Render(RelativeTime(e.When))

	line := fmt.Sprintf("%s %s %s%s  %s", marker, statusBadge, e.Heading, amount, timeStr)

	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

func personName(u model.UserRef) string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Email != "":
		return u.Email
	default:
		return "Someone"
	}
}

func money(v decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	return v.StringFixed(2) + " " + strings.ToUpper(currency)
}

func stars(rating int) string {
	if rating < 0 {
		rating = 0
	}
	if rating > 5 {
		rating = 5
	}
	return strings.Repeat("★", rating) + strings.Repeat("☆", 5-rating)
}

// RelativeTime returns a human-friendly relative time string.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	}
}
