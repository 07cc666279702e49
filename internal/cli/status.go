package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nhle/coursedesk/internal/aggregator"
	"github.com/nhle/coursedesk/internal/dashboard"
	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/session"
)

type queueStatus struct {
	Domain  model.Domain `json:"domain"`
	Count   int          `json:"count"`
	Pending int          `json:"pending"`
	Unread  int          `json:"unread"`
	Error   string       `json:"error,omitempty"`
}

type paymentsStatus struct {
	Count    int    `json:"count"`
	Paid     string `json:"paid"`
	Currency string `json:"currency"`
	Skipped  int    `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

type statusReport struct {
	UserID   string          `json:"user_id"`
	Role     string          `json:"role"`
	APIURL   string          `json:"api_url"`
	Queues   []queueStatus   `json:"queues"`
	Payments *paymentsStatus `json:"payments,omitempty"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Load every queue once and print the counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts, logger.Discard())
			if err != nil {
				return err
			}
			defer e.Close()

			id, err := e.requireIdentity()
			if err != nil {
				return err
			}

			report, failed := collectStatus(ctx, e, id)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("encoding status: %w", err)
				}
			} else {
				printStatus(cmd.OutOrStdout(), report)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d sources failed to load", failed, len(report.Queues))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// loader is the part of an aggregator status needs.
type loader interface {
	Load(ctx context.Context) error
	PendingCount() int
	Unread() int
}

func collectStatus(ctx context.Context, e *env, id session.Identity) (statusReport, int) {
	client := e.client()
	sales := aggregator.NewSales(client, nil, 0, e.log)
	refunds := aggregator.NewRefunds(client, nil, 0, e.log)
	reviews := aggregator.NewReviews(client, nil, 0, e.log)

	type source struct {
		domain model.Domain
		queue  loader
		count  func() int
	}
	sources := []source{
		{model.DomainSales, sales, func() int { return len(sales.Items()) }},
		{model.DomainRefunds, refunds, func() int { return len(refunds.Items()) }},
		{model.DomainReviews, reviews, func() int { return len(reviews.Items()) }},
	}
	if id.IsAdmin() {
		bank := aggregator.NewBank(client, nil, 0, e.log)
		sources = append(sources, source{model.DomainBankVerifications, bank, func() int { return len(bank.Items()) }})
	}

	report := statusReport{UserID: id.UserID, Role: id.Role, APIURL: e.apiURL}
	failed := 0
	for _, s := range sources {
		qs := queueStatus{Domain: s.domain}
		if err := s.queue.Load(ctx); err != nil {
			qs.Error = err.Error()
			failed++
		}
		qs.Count = s.count()
		qs.Pending = s.queue.PendingCount()
		qs.Unread = s.queue.Unread()
		report.Queues = append(report.Queues, qs)
	}

	if id.IsAdmin() {
		svc := dashboard.NewService(client, e.log)
		ps := &paymentsStatus{}
		if err := svc.Load(ctx); err != nil {
			ps.Error = err.Error()
			failed++
		}
		sum := svc.Snapshot().Data
		ps.Count = sum.Count
		ps.Paid = sum.Paid.Total.StringFixed(2)
		ps.Currency = sum.Currency
		ps.Skipped = sum.Skipped
		report.Payments = ps
	}
	return report, failed
}

func printStatus(w io.Writer, r statusReport) {
	fmt.Fprintf(w, "Signed in as %s (%s) at %s\n\n", r.UserID, r.Role, r.APIURL)
	for _, q := range r.Queues {
		if q.Error != "" {
			fmt.Fprintf(w, "  %-20s error: %s\n", q.Domain.Label(), q.Error)
			continue
		}
		fmt.Fprintf(w, "  %-20s %3d items  %3d pending  %3d unread\n", q.Domain.Label(), q.Count, q.Pending, q.Unread)
	}
	if p := r.Payments; p != nil {
		if p.Error != "" {
			fmt.Fprintf(w, "  %-20s error: %s\n", "Payments", p.Error)
			return
		}
		fmt.Fprintf(w, "  %-20s %3d payments, %s %s paid\n", "Payments", p.Count, p.Paid, p.Currency)
	}
}
