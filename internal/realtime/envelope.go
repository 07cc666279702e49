package realtime

import "encoding/json"

// Event names of the realtime protocol.
const (
	EventAuthenticate        = "authenticate"
	EventAuthenticated       = "authenticated"
	EventNewSale             = "new_sale"
	EventSaleStatusUpdated   = "sale_status_updated"
	EventNewRefundRequest    = "new_refund_request"
	EventRefundStatusUpdated = "refund_status_updated"
	EventNewReview           = "new_review"
)

// Envelope is the frame exchanged over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes data as the payload of event.
func NewEnvelope(event string, data interface{}) (Envelope, error) {
	if data == nil {
		return Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// AuthenticatePayload identifies the session on a fresh connection.
type AuthenticatePayload struct {
	UserID string `json:"userId" validate:"required"`
	Role   string `json:"role" validate:"required"`
}
