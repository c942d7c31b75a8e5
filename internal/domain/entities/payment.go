package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the lifecycle state of a payment attempt.
//
// Transitions are monotonic: PENDING moves to SUCCEEDED, FAILED or
// CANCELLED; SUCCEEDED may still move to REFUNDED. FAILED, CANCELLED and
// REFUNDED are terminal. PROCESSING is reserved for gateways with an
// explicit authorization step; nothing transitions into it today.

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusSucceeded  PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusCancelled  PaymentStatus = "CANCELLED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

// IsActive reports whether the status blocks a new payment for the same
// order. At most one active payment may exist per order at a time.
func (s PaymentStatus) IsActive() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusSucceeded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave the status.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s
// to target. Regressions and re-entry into SUCCEEDED are always rejected.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		switch target {
		case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled:
			return true
		}
	case PaymentStatusSucceeded:
		return target == PaymentStatusRefunded
	}
	return false
}

// Payment is one attempt to collect funds for one order.
//
// Storage model (DynamoDB):
//   - PK: id
//   - GSI1 (order_id-index): order_id
//   - GSI2 (session_id-index): gateway_session_id
//   - GSI3 (idempotency_key-index): idempotency_key
//
// Monetary representation:
//   - Amount is a decimal in major currency units. The gateway adapter owns
//     the only conversion to/from the gateway's minor units.
//   - Amount is immutable after creation; refunds are recorded on their own
//     transaction rows, never by mutating Amount.
//
// Payments are never deleted (audit requirement).

type Payment struct {
	ID                     string            `json:"id"`
	OrderID                string            `json:"order_id"`
	UserID                 string            `json:"user_id"`
	GatewaySessionID       string            `json:"gateway_session_id"`
	GatewayPaymentIntentID string            `json:"gateway_payment_intent_id,omitempty"`
	Amount                 decimal.Decimal   `json:"amount"`
	Currency               string            `json:"currency"`
	Status                 PaymentStatus     `json:"status"`
	IdempotencyKey         string            `json:"idempotency_key"`
	Metadata               map[string]string `json:"metadata,omitempty"`
	ErrorMessage           string            `json:"error_message,omitempty"`
	CheckoutURL            string            `json:"checkout_url,omitempty"`
	SessionExpiresAt       time.Time         `json:"session_expires_at"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
	ProcessedAt            *time.Time        `json:"processed_at,omitempty"`
}
