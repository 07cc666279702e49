package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/coursedesk/internal/api"
	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/scheduler"
)

// SalesAPI is the part of the REST client the sales queue needs.
type SalesAPI interface {
	RecentSales(ctx context.Context) (*api.SalesResponse, error)
	MarkSalesRead(ctx context.Context) (*api.MarkReadResponse, error)
}

// Sales is the instructor's recent-sales queue.
type Sales struct {
	*Aggregator[model.SaleNotification]
	client SalesAPI
}

// SalesPolicy keeps every sale that is not cancelled and counts the ones
// still awaiting payment.
func SalesPolicy(interval time.Duration) Policy[model.SaleNotification] {
	return Policy[model.SaleNotification]{
		Domain:   model.DomainSales,
		Merge:    true,
		Keep:     func(s model.SaleNotification) bool { return s.Status != model.SaleStatusCancelled },
		Pending:  func(s model.SaleNotification) bool { return s.Status == model.SaleStatusPending },
		Interval: interval,
		Limit:    200,
	}
}

// NewSales returns the sales queue.
func NewSales(client SalesAPI, sched *scheduler.Scheduler, interval time.Duration, log *logger.Logger) *Sales {
	fetch := func(ctx context.Context) (Batch[model.SaleNotification], error) {
		resp, err := client.RecentSales(ctx)
		if err != nil {
			return Batch[model.SaleNotification]{}, err
		}
		unread := resp.UnreadCount
		return Batch[model.SaleNotification]{Items: resp.Sales, Unread: &unread}, nil
	}
	return &Sales{
		Aggregator: New(SalesPolicy(interval), fetch, sched, log),
		client:     client,
	}
}

// AddNewSale records a pushed sale. A new, unread sale awaiting payment
// bumps the unread counter. Duplicates are ignored.
func (s *Sales) AddNewSale(sale model.SaleNotification) bool {
	return s.AddCounted(sale, func(sale model.SaleNotification) int {
		if sale.Status == model.SaleStatusPending && !sale.Read {
			return 1
		}
		return 0
	})
}

// UpdateSaleStatus applies a pushed status change. Only a Pendiente to
// Pagado transition lowers the unread counter. Unknown sales are ignored.
// A cancelled sale shows its new status until the next load drops it.
func (s *Sales) UpdateSaleStatus(u model.SaleStatusUpdate) bool {
	setStatus := func(sale model.SaleNotification) model.SaleNotification {
		sale.Status = u.Status
		return sale
	}
	paid := func(prev, next model.SaleNotification) int {
		if prev.Status == model.SaleStatusPending && next.Status == model.SaleStatusPaid {
			return -1
		}
		return 0
	}
	_, _, ok := s.UpdateCounted(u.ID, setStatus, paid)
	return ok
}

// MarkAllRead marks every sale notification read on the server and
// locally.
func (s *Sales) MarkAllRead(ctx context.Context) error {
	if _, err := s.client.MarkSalesRead(ctx); err != nil {
		return fmt.Errorf("marking sales read: %w", err)
	}
	s.MarkAllReadLocally(func(sale model.SaleNotification) model.SaleNotification {
		sale.Read = true
		return sale
	})
	return nil
}
