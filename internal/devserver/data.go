package devserver

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nhle/coursedesk/internal/model"
)

// dataset is the in-memory state served by the REST endpoints.
type dataset struct {
	mu       sync.RWMutex
	sales    []model.SaleNotification
	refunds  []model.RefundNotification
	reviews  []model.ReviewNotification
	bank     []model.BankVerificationNotification
	payments []model.Payment
}

func newDataset(seed bool) *dataset {
	d := &dataset{}
	if !seed {
		return d
	}

	now := time.Now().UTC()
	ana := model.UserRef{ID: "u-ana", Name: "Ana Torres", Email: "ana@example.com"}
	luis := model.UserRef{ID: "u-luis", Name: "Luis Gil", Email: "luis@example.com"}
	goCourse := model.ProductRef{ID: "c-go", Title: "Go desde cero", Type: "course"}
	uiKit := model.ProductRef{ID: "p-ui", Title: "UI kit", Type: "project"}

	d.sales = []model.SaleNotification{
		{ID: "sale-1", Status: model.SaleStatusPending, Total: decimal.RequireFromString("29.99"), Currency: "USD",
			Method: model.PaymentMethodTransfer, Customer: ana, Products: []model.ProductRef{goCourse}, CreatedAt: now.Add(-10 * time.Minute)},
		{ID: "sale-2", Status: model.SaleStatusPaid, Total: decimal.RequireFromString("15.00"), Currency: "USD",
			Method: model.PaymentMethodStripe, Customer: luis, Products: []model.ProductRef{uiKit}, Read: true, CreatedAt: now.Add(-2 * time.Hour)},
	}
	d.refunds = []model.RefundNotification{
		{ID: "refund-1", Status: model.RefundStatusPending, Amount: decimal.RequireFromString("29.99"),
			Reason: "Course content did not match description", User: luis, Product: goCourse, CreatedAt: now.Add(-30 * time.Minute)},
	}
	d.reviews = []model.ReviewNotification{
		{ID: "review-1", Rating: 4, Comment: "Great pacing", User: ana, Product: goCourse, CreatedAt: now.Add(-time.Hour)},
	}
	d.bank = []model.BankVerificationNotification{
		{ID: "bank-1", Status: model.BankVerificationPending, User: ana, BankName: "Banco Demo", AccountLast4: "4821", SubmittedAt: now.Add(-3 * time.Hour)},
	}
	for _, s := range d.sales {
		d.payments = append(d.payments, paymentFor(s))
	}
	return d
}

func paymentFor(s model.SaleNotification) model.Payment {
	return model.Payment{
		ID:        s.ID,
		Method:    s.Method,
		Status:    s.Status,
		Total:     s.Total,
		Currency:  s.Currency,
		CreatedAt: s.CreatedAt,
	}
}

func (d *dataset) unreadSales() int {
	n := 0
	for _, s := range d.sales {
		if !s.Read && s.Status == model.SaleStatusPending {
			n++
		}
	}
	return n
}

func (d *dataset) unreadReviews() int {
	n := 0
	for _, r := range d.reviews {
		if !r.Read {
			n++
		}
	}
	return n
}

func (d *dataset) addSale(s model.SaleNotification) model.SaleNotification {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	d.sales = append([]model.SaleNotification{s}, d.sales...)
	d.payments = append([]model.Payment{paymentFor(s)}, d.payments...)
	return s
}

func (d *dataset) updateSaleStatus(u model.SaleStatusUpdate) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	found := false
	for i := range d.sales {
		if d.sales[i].ID == u.ID {
			d.sales[i].Status = u.Status
			found = true
		}
	}
	for i := range d.payments {
		if d.payments[i].ID == u.ID {
			d.payments[i].Status = u.Status
		}
	}
	return found
}

func (d *dataset) upsertRefund(r model.RefundNotification) model.RefundNotification {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	for i := range d.refunds {
		if d.refunds[i].ID == r.ID {
			d.refunds[i] = r
			return r
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	d.refunds = append([]model.RefundNotification{r}, d.refunds...)
	return r
}

func (d *dataset) addReview(r model.ReviewNotification) model.ReviewNotification {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	d.reviews = append([]model.ReviewNotification{r}, d.reviews...)
	return r
}

func (d *dataset) markSalesRead() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for i := range d.sales {
		if !d.sales[i].Read {
			d.sales[i].Read = true
			n++
		}
	}
	return n
}

func (d *dataset) markReviewsRead() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for i := range d.reviews {
		if !d.reviews[i].Read {
			d.reviews[i].Read = true
			n++
		}
	}
	return n
}
