package aggregator

import (
	"context"
	"time"

	"github.com/nhle/coursedesk/internal/api"
	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/scheduler"
)

// RefundsAPI is the part of the REST client the refunds queue needs.
type RefundsAPI interface {
	Refunds(ctx context.Context) (*api.RefundsResponse, error)
}

// Refunds is the queue of refund requests.
type Refunds struct {
	*Aggregator[model.RefundNotification]
}

func refundActive(r model.RefundNotification) bool {
	return r.Status == model.RefundStatusPending || r.Status == model.RefundStatusProcessing
}

// RefundsPolicy keeps pending and processing requests from each fetch.
func RefundsPolicy(interval time.Duration) Policy[model.RefundNotification] {
	return Policy[model.RefundNotification]{
		Domain:   model.DomainRefunds,
		Merge:    true,
		Keep:     refundActive,
		Pending:  func(r model.RefundNotification) bool { return r.Status == model.RefundStatusPending },
		Interval: interval,
		Limit:    200,
	}
}

// NewRefunds returns the refunds queue.
func NewRefunds(client RefundsAPI, sched *scheduler.Scheduler, interval time.Duration, log *logger.Logger) *Refunds {
	fetch := func(ctx context.Context) (Batch[model.RefundNotification], error) {
		resp, err := client.Refunds(ctx)
		if err != nil {
			return Batch[model.RefundNotification]{}, err
		}
		return Batch[model.RefundNotification]{Items: resp.Refunds}, nil
	}
	return &Refunds{Aggregator: New(RefundsPolicy(interval), fetch, sched, log)}
}

// Apply records a pushed refund request or status change. It reports
// whether the refund was already known.
func (r *Refunds) Apply(refund model.RefundNotification) bool {
	_, existed := r.Upsert(refund)
	return existed
}

// Processing returns the refunds currently being processed.
func (r *Refunds) Processing() []model.RefundNotification {
	return r.Filter(func(x model.RefundNotification) bool {
		return x.Status == model.RefundStatusProcessing
	})
}
