// Package dashboard is the admin payments overview: recent payments summed
// per method and per status.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nhle/coursedesk/internal/api"
	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/state"
)

// PaymentsAPI is the part of the REST client the dashboard needs.
type PaymentsAPI interface {
	Payments(ctx context.Context) (*api.PaymentsResponse, error)
}

// Bucket is the total of a group of payments.
type Bucket struct {
	Count int
	Total decimal.Decimal
}

func (b Bucket) add(p model.Payment) Bucket {
	return Bucket{Count: b.Count + 1, Total: b.Total.Add(p.Total)}
}

// Summary is the aggregated view of the loaded payments. Totals are only
// meaningful within one currency; payments in other currencies are counted
// in Skipped.
type Summary struct {
	Currency string
	ByMethod map[string]Bucket
	ByStatus map[model.SaleStatus]Bucket
	Paid     Bucket
	Skipped  int
	Count    int
}

// Methods returns the payment methods present, the known ones first in a
// fixed order.
func (s Summary) Methods() []string {
	order := map[string]int{
		model.PaymentMethodStripe:   0,
		model.PaymentMethodTransfer: 1,
		model.PaymentMethodWallet:   2,
	}
	out := make([]string, 0, len(s.ByMethod))
	for m := range s.ByMethod {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := order[out[i]]
		oj, jok := order[out[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// Summarize groups payments. The currency of the first payment (or "USD"
// when it has none) is the summary currency.
func Summarize(payments []model.Payment) Summary {
	s := Summary{
		ByMethod: make(map[string]Bucket),
		ByStatus: make(map[model.SaleStatus]Bucket),
	}
	for _, p := range payments {
		cur := strings.ToUpper(p.Currency)
		if cur == "" {
			cur = "USD"
		}
		if s.Currency == "" {
			s.Currency = cur
		}
		if cur != s.Currency {
			s.Skipped++
			continue
		}

		method := p.Method
		if method == "" {
			method = "unknown"
		}
		s.ByMethod[method] = s.ByMethod[method].add(p)
		s.ByStatus[p.Status] = s.ByStatus[p.Status].add(p)
		if p.Status == model.SaleStatusPaid {
			s.Paid = s.Paid.add(p)
		}
		s.Count++
	}
	return s
}

// Service loads payments into a state container.
type Service struct {
	client PaymentsAPI
	res    *state.Resource[Summary]
	log    *logger.Logger
}

// NewService returns a Service with an empty summary.
func NewService(client PaymentsAPI, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		client: client,
		res:    state.New(Summarize(nil)),
		log:    log,
	}
}

// Load fetches payments and recomputes the summary. Overlapping loads are
// allowed; only the newest response is applied.
func (s *Service) Load(ctx context.Context) error {
	ticket := s.res.Begin()

	resp, err := s.client.Payments(ctx)
	if err != nil {
		s.res.Fail(ticket, err)
		s.log.Warn("dashboard: load failed: %v", err)
		return fmt.Errorf("loading payments: %w", err)
	}

	s.res.Succeed(ticket, Summarize(resp.Payments))
	return nil
}

// Snapshot returns the current summary with its loading state.
func (s *Service) Snapshot() state.Snapshot[Summary] {
	return s.res.Get()
}

// Subscribe registers fn for every summary change.
func (s *Service) Subscribe(fn func(state.Snapshot[Summary])) func() {
	return s.res.Subscribe(fn)
}

// Reset drops the loaded summary.
func (s *Service) Reset() {
	s.res.Reset(Summarize(nil))
}

// LastUpdated returns when the summary was last replaced.
func (s *Service) LastUpdated() time.Time {
	return s.res.Get().UpdatedAt
}
