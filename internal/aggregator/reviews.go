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

// ReviewsAPI is the part of the REST client the reviews queue needs.
type ReviewsAPI interface {
	PendingReviews(ctx context.Context) (*api.ReviewsResponse, error)
	MarkReviewsRead(ctx context.Context) (*api.MarkReadResponse, error)
}

// Reviews is the queue of reviews waiting for an instructor reply.
type Reviews struct {
	*Aggregator[model.ReviewNotification]
	client ReviewsAPI
}

// ReviewsPolicy replaces the list on every fetch; every listed review is
// pending a reply.
func ReviewsPolicy(interval time.Duration) Policy[model.ReviewNotification] {
	return Policy[model.ReviewNotification]{
		Domain:   model.DomainReviews,
		Pending:  func(model.ReviewNotification) bool { return true },
		Interval: interval,
	}
}

// NewReviews returns the reviews queue.
func NewReviews(client ReviewsAPI, sched *scheduler.Scheduler, interval time.Duration, log *logger.Logger) *Reviews {
	fetch := func(ctx context.Context) (Batch[model.ReviewNotification], error) {
		resp, err := client.PendingReviews(ctx)
		if err != nil {
			return Batch[model.ReviewNotification]{}, err
		}
		unread := resp.UnreadCount
		return Batch[model.ReviewNotification]{Items: resp.Reviews, Unread: &unread}, nil
	}
	return &Reviews{
		Aggregator: New(ReviewsPolicy(interval), fetch, sched, log),
		client:     client,
	}
}

// AddNewReview records a pushed review and bumps the unread counter.
func (r *Reviews) AddNewReview(review model.ReviewNotification) bool {
	return r.AddCounted(review, func(rv model.ReviewNotification) int {
		if rv.Read {
			return 0
		}
		return 1
	})
}

// MarkAllRead marks every review notification read on the server and
// locally.
func (r *Reviews) MarkAllRead(ctx context.Context) error {
	if _, err := r.client.MarkReviewsRead(ctx); err != nil {
		return fmt.Errorf("marking reviews read: %w", err)
	}
	r.MarkAllReadLocally(func(rv model.ReviewNotification) model.ReviewNotification {
		rv.Read = true
		return rv
	})
	return nil
}
