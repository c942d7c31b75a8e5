package entities

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway value types. The core never sees gateway SDK types; the adapter
// translates between these and whatever the provider speaks.

// CheckoutItem is one line item presented on the hosted checkout page.

type CheckoutItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CheckoutSessionParams carries everything the gateway needs to open a
// hosted checkout session.

type CheckoutSessionParams struct {
	OrderID       string
	CustomerEmail string
	Amount        decimal.Decimal
	Currency      string
	Items         []CheckoutItem
	Metadata      map[string]string
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession identifies a gateway-hosted payment collection flow.

type CheckoutSession struct {
	SessionID string
	URL       string
	ExpiresAt time.Time
}

// CheckoutSessionDetail is the gateway's current view of a session.

type CheckoutSessionDetail struct {
	SessionID       string
	URL             string
	PaymentIntentID string
	ExpiresAt       time.Time
}

// RefundDescriptor is the gateway's record of a created refund. Amount is
// in major units; the adapter converts from the gateway's minor units.

type RefundDescriptor struct {
	RefundID string
	IntentID string
	Amount   decimal.Decimal
	Status   string
}

// WebhookEventType is the recognized set of inbound callback kinds.
// Anything outside this set is acknowledged and dropped so the gateway
// does not retry events the core intentionally ignores.

type WebhookEventType string

const (
	WebhookEventSessionCompleted WebhookEventType = "checkout.session.completed"
	WebhookEventSessionExpired   WebhookEventType = "checkout.session.expired"
	WebhookEventIntentFailed     WebhookEventType = "payment_intent.failed"
)

// Recognized reports whether the core processes this event type.
func (t WebhookEventType) Recognized() bool {
	switch t {
	case WebhookEventSessionCompleted, WebhookEventSessionExpired, WebhookEventIntentFailed:
		return true
	}
	return false
}

// WebhookEvent is a signature-verified, parsed gateway callback.
//
// EventID is the gateway's unique identifier for one delivery and is the
// deduplication token for at-least-once redelivery.

type WebhookEvent struct {
	EventID         string           `json:"id"`
	Type            WebhookEventType `json:"type"`
	SessionID       string           `json:"session_id"`
	PaymentIntentID string           `json:"payment_intent_id,omitempty"`
	AmountMinor     int64            `json:"amount,omitempty"`
	Currency        string           `json:"currency,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	Raw             json.RawMessage  `json:"-"`
}
