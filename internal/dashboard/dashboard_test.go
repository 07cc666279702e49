package dashboard

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/coursedesk/internal/api"
	"github.com/nhle/coursedesk/internal/model"
)

type fakePayments struct {
	resp *api.PaymentsResponse
	err  error
}

func (f *fakePayments) Payments(context.Context) (*api.PaymentsResponse, error) {
	return f.resp, f.err
}

func pay(method string, status model.SaleStatus, total string) model.Payment {
	return model.Payment{Method: method, Status: status, Total: decimal.RequireFromString(total), Currency: "usd"}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]model.Payment{
		pay(model.PaymentMethodStripe, model.SaleStatusPaid, "19.99"),
		pay(model.PaymentMethodStripe, model.SaleStatusPaid, "0.01"),
		pay(model.PaymentMethodTransfer, model.SaleStatusPending, "50"),
		pay(model.PaymentMethodWallet, model.SaleStatusCancelled, "5.5"),
		{Method: model.PaymentMethodStripe, Status: model.SaleStatusPaid, Total: decimal.NewFromInt(99), Currency: "EUR"},
	})

	assert.Equal(t, "USD", s.Currency)
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 1, s.Skipped)

	stripe := s.ByMethod[model.PaymentMethodStripe]
	assert.Equal(t, 2, stripe.Count)
	assert.True(t, stripe.Total.Equal(decimal.NewFromInt(20)), stripe.Total.String())

	assert.True(t, s.Paid.Total.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 1, s.ByStatus[model.SaleStatusPending].Count)
	assert.Equal(t, []string{"stripe", "transferencia", "wallet"}, s.Methods())
}

func TestMethodsOrdersUnknownLast(t *testing.T) {
	s := Summarize([]model.Payment{
		pay("paypal", model.SaleStatusPaid, "1"),
		pay(model.PaymentMethodWallet, model.SaleStatusPaid, "1"),
		pay("", model.SaleStatusPaid, "1"),
	})
	assert.Equal(t, []string{"wallet", "paypal", "unknown"}, s.Methods())
}

func TestServiceLoad(t *testing.T) {
	f := &fakePayments{resp: &api.PaymentsResponse{Payments: []model.Payment{
		pay(model.PaymentMethodStripe, model.SaleStatusPaid, "10"),
	}}}
	svc := NewService(f, nil)

	require.NoError(t, svc.Load(context.Background()))
	snap := svc.Snapshot()
	assert.False(t, snap.IsLoading)
	assert.Equal(t, 1, snap.Data.Count)
	assert.False(t, svc.LastUpdated().IsZero())

	f.err = errors.New("down")
	require.Error(t, svc.Load(context.Background()))
	snap = svc.Snapshot()
	assert.Equal(t, 1, snap.Data.Count, "previous summary kept")
	assert.Error(t, snap.Err)

	svc.Reset()
	snap = svc.Snapshot()
	assert.Zero(t, snap.Data.Count)
	assert.NoError(t, snap.Err)
}
