package api

import (
	"context"
	"fmt"

	"github.com/nhle/coursedesk/internal/model"
)

// REST paths relative to the API root.
const (
	PathRecentSales     = "sales/recent-notifications"
	PathMarkSalesRead   = "sales/mark-notifications-read"
	PathRefunds         = "refunds/list"
	PathPendingBank     = "admin/bank-verifications/pending"
	PathPendingReviews  = "reviews/instructor/pending-replies"
	PathMarkReviewsRead = "reviews/instructor/mark-all-read"
	PathPaymentsSummary = "admin/payments/summary"
)

// SalesResponse is the envelope of GET sales/recent-notifications.
type SalesResponse struct {
	Sales       []model.SaleNotification `json:"sales"`
	Count       int                      `json:"count"`
	UnreadCount int                      `json:"unread_count"`
}

// RefundsResponse is the envelope of GET refunds/list.
type RefundsResponse struct {
	Refunds []model.RefundNotification `json:"refunds"`
	Count   int                        `json:"count"`
}

// BankVerificationsResponse is the envelope of
// GET admin/bank-verifications/pending.
type BankVerificationsResponse struct {
	Verifications []model.BankVerificationNotification `json:"verifications"`
	Count         int                                  `json:"count"`
}

// ReviewsResponse is the envelope of GET reviews/instructor/pending-replies.
type ReviewsResponse struct {
	Reviews     []model.ReviewNotification `json:"reviews"`
	Count       int                        `json:"count"`
	UnreadCount int                        `json:"unread_count"`
}

// PaymentsResponse is the envelope of GET admin/payments/summary.
type PaymentsResponse struct {
	Payments []model.Payment `json:"payments"`
	Count    int             `json:"count"`
}

// MarkReadResponse is returned by the mark-as-read endpoints.
type MarkReadResponse struct {
	Updated int `json:"updated"`
}

// RecentSales fetches the sales notifications of the signed-in instructor.
func (c *Client) RecentSales(ctx context.Context) (*SalesResponse, error) {
	var resp SalesResponse
	if err := c.Get(ctx, PathRecentSales, &resp); err != nil {
		return nil, fmt.Errorf("fetching recent sales: %w", err)
	}
	return &resp, nil
}

// MarkSalesRead marks every sales notification as read.
func (c *Client) MarkSalesRead(ctx context.Context) (*MarkReadResponse, error) {
	var resp MarkReadResponse
	if err := c.Post(ctx, PathMarkSalesRead, struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("marking sales read: %w", err)
	}
	return &resp, nil
}

// Refunds fetches the refund requests visible to the current user.
func (c *Client) Refunds(ctx context.Context) (*RefundsResponse, error) {
	var resp RefundsResponse
	if err := c.Get(ctx, PathRefunds, &resp); err != nil {
		return nil, fmt.Errorf("fetching refunds: %w", err)
	}
	return &resp, nil
}

// PendingBankVerifications fetches bank accounts awaiting admin review.
func (c *Client) PendingBankVerifications(ctx context.Context) (*BankVerificationsResponse, error) {
	var resp BankVerificationsResponse
	if err := c.Get(ctx, PathPendingBank, &resp); err != nil {
		return nil, fmt.Errorf("fetching bank verifications: %w", err)
	}
	return &resp, nil
}

// PendingReviews fetches reviews that still need an instructor reply.
func (c *Client) PendingReviews(ctx context.Context) (*ReviewsResponse, error) {
	var resp ReviewsResponse
	if err := c.Get(ctx, PathPendingReviews, &resp); err != nil {
		return nil, fmt.Errorf("fetching pending reviews: %w", err)
	}
	return &resp, nil
}

// MarkReviewsRead marks every review notification as read.
func (c *Client) MarkReviewsRead(ctx context.Context) (*MarkReadResponse, error) {
	var resp MarkReadResponse
	if err := c.Post(ctx, PathMarkReviewsRead, struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("marking reviews read: %w", err)
	}
	return &resp, nil
}

// Payments fetches the recent payments used by the admin dashboard.
func (c *Client) Payments(ctx context.Context) (*PaymentsResponse, error) {
	var resp PaymentsResponse
	if err := c.Get(ctx, PathPaymentsSummary, &resp); err != nil {
		return nil, fmt.Errorf("fetching payments: %w", err)
	}
	return &resp, nil
}
