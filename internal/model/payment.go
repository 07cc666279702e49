package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods accepted by the marketplace.
const (
	PaymentMethodStripe   = "stripe"
	PaymentMethodTransfer = "transferencia"
	PaymentMethodWallet   = "wallet"
)

// Payment is one checkout as reported by the payments summary endpoint.
type Payment struct {
	ID        string          `json:"_id"`
	Method    string          `json:"method_payment"`
	Status    SaleStatus      `json:"status"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"createdAt"`
}
