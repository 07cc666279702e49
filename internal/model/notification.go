package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Domain identifies one notification queue.
type Domain string

const (
	DomainSales             Domain = "sales"
	DomainRefunds           Domain = "refunds"
	DomainReviews           Domain = "reviews"
	DomainBankVerifications Domain = "bank_verifications"
)

// Domains lists every notification queue in display order.
var Domains = []Domain{
	DomainSales,
	DomainRefunds,
	DomainReviews,
	DomainBankVerifications,
}

// Label returns the human-readable name of the domain.
func (d Domain) Label() string {
	switch d {
	case DomainSales:
		return "Sales"
	case DomainRefunds:
		return "Refunds"
	case DomainReviews:
		return "Reviews"
	case DomainBankVerifications:
		return "Bank verifications"
	default:
		return string(d)
	}
}

// Item is implemented by every notification variant. Key returns the
// stable backend id used for deduplication.
type Item interface {
	Key() string
}

// SaleStatus values are the backend's own (Spanish) status names.
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "Pendiente"
	SaleStatusPaid      SaleStatus = "Pagado"
	SaleStatusCancelled SaleStatus = "Cancelado"
)

// RefundStatus is the lifecycle state of a refund request.
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusApproved   RefundStatus = "approved"
	RefundStatusRejected   RefundStatus = "rejected"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

// BankVerificationStatus is the review state of a submitted bank account.
type BankVerificationStatus string

const (
	BankVerificationPending  BankVerificationStatus = "pending"
	BankVerificationVerified BankVerificationStatus = "verified"
	BankVerificationRejected BankVerificationStatus = "rejected"
)

// UserRef is the denormalized user snapshot embedded in notifications.
type UserRef struct {
	ID    string `json:"_id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// ProductRef is the denormalized course/project snapshot embedded in
// notifications.
type ProductRef struct {
	ID    string `json:"_id,omitempty"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type,omitempty"`
}

// SaleNotification is a recent sale awaiting attention.
type SaleNotification struct {
	ID        string          `json:"_id" validate:"required"`
	Status    SaleStatus      `json:"status" validate:"required,oneof=Pendiente Pagado Cancelado"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency,omitempty"`
	Method    string          `json:"method_payment,omitempty"`
	Customer  UserRef         `json:"user"`
	Products  []ProductRef    `json:"products,omitempty"`
	Read      bool            `json:"read,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (s SaleNotification) Key() string { return s.ID }

// SaleStatusUpdate is the payload of a sale_status_updated push.
type SaleStatusUpdate struct {
	ID     string     `json:"_id" validate:"required"`
	Status SaleStatus `json:"status" validate:"required,oneof=Pendiente Pagado Cancelado"`
}

// RefundNotification is a refund request and its current state.
type RefundNotification struct {
	ID        string          `json:"_id" validate:"required"`
	Status    RefundStatus    `json:"status" validate:"required,oneof=pending approved rejected processing completed failed"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
	User      UserRef         `json:"user"`
	Product   ProductRef      `json:"product"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (r RefundNotification) Key() string { return r.ID }

// ReviewNotification is a student review waiting for an instructor reply.
type ReviewNotification struct {
	ID        string     `json:"_id" validate:"required"`
	Rating    int        `json:"rating" validate:"min=0,max=5"`
	Comment   string     `json:"comment,omitempty"`
	User      UserRef    `json:"user"`
	Product   ProductRef `json:"product"`
	Read      bool       `json:"read,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (r ReviewNotification) Key() string { return r.ID }

// BankVerificationNotification is a bank account submitted for admin review.
type BankVerificationNotification struct {
	ID           string                 `json:"_id" validate:"required"`
	Status       BankVerificationStatus `json:"status"`
	User         UserRef                `json:"user"`
	BankName     string                 `json:"bank_name,omitempty"`
	AccountLast4 string                 `json:"account_last4,omitempty"`
	SubmittedAt  time.Time              `json:"submittedAt"`
}

func (b BankVerificationNotification) Key() string { return b.ID }

// The backend is not consistent about "_id" versus "id". Each variant
// accepts both on decode.

func (s *SaleNotification) UnmarshalJSON(data []byte) error {
	type alias SaleNotification
	var aux struct {
		alias
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = SaleNotification(aux.alias)
	if s.ID == "" {
		s.ID = aux.AltID
	}
	return nil
}

func (u *SaleStatusUpdate) UnmarshalJSON(data []byte) error {
	type alias SaleStatusUpdate
	var aux struct {
		alias
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*u = SaleStatusUpdate(aux.alias)
	if u.ID == "" {
		u.ID = aux.AltID
	}
	return nil
}

func (r *RefundNotification) UnmarshalJSON(data []byte) error {
	type alias RefundNotification
	var aux struct {
		alias
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = RefundNotification(aux.alias)
	if r.ID == "" {
		r.ID = aux.AltID
	}
	return nil
}

func (r *ReviewNotification) UnmarshalJSON(data []byte) error {
	type alias ReviewNotification
	var aux struct {
		alias
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = ReviewNotification(aux.alias)
	if r.ID == "" {
		r.ID = aux.AltID
	}
	return nil
}

func (b *BankVerificationNotification) UnmarshalJSON(data []byte) error {
	type alias BankVerificationNotification
	var aux struct {
		alias
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*b = BankVerificationNotification(aux.alias)
	if b.ID == "" {
		b.ID = aux.AltID
	}
	return nil
}
