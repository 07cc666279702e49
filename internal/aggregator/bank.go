package aggregator

import (
	"context"
	"time"

	"github.com/nhle/coursedesk/internal/api"
	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/scheduler"
)

// BankAPI is the part of the REST client the bank verification queue needs.
type BankAPI interface {
	PendingBankVerifications(ctx context.Context) (*api.BankVerificationsResponse, error)
}

// Bank is the admin queue of bank accounts awaiting verification. It has
// no realtime feed and is kept current by polling only.
type Bank struct {
	*Aggregator[model.BankVerificationNotification]
}

// BankPolicy replaces the list on every fetch.
func BankPolicy(interval time.Duration) Policy[model.BankVerificationNotification] {
	return Policy[model.BankVerificationNotification]{
		Domain: model.DomainBankVerifications,
		Pending: func(b model.BankVerificationNotification) bool {
			return b.Status == "" || b.Status == model.BankVerificationPending
		},
		Interval: interval,
	}
}

// NewBank returns the bank verification queue.
func NewBank(client BankAPI, sched *scheduler.Scheduler, interval time.Duration, log *logger.Logger) *Bank {
	fetch := func(ctx context.Context) (Batch[model.BankVerificationNotification], error) {
		resp, err := client.PendingBankVerifications(ctx)
		if err != nil {
			return Batch[model.BankVerificationNotification]{}, err
		}
		return Batch[model.BankVerificationNotification]{Items: resp.Verifications}, nil
	}
	return &Bank{Aggregator: New(BankPolicy(interval), fetch, sched, log)}
}
