package entities

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies one discrete lifecycle event of a payment.

type TransactionType string

const (
	TransactionTypeSessionCreated   TransactionType = "SESSION_CREATED"
	TransactionTypeSessionCompleted TransactionType = "SESSION_COMPLETED"
	TransactionTypeSessionExpired   TransactionType = "SESSION_EXPIRED"
	TransactionTypeIntentFailed     TransactionType = "INTENT_FAILED"
	TransactionTypeRefundCreated    TransactionType = "REFUND_CREATED"
)

type TransactionStatus string

const (
	TransactionStatusSuccess TransactionStatus = "SUCCESS"
	TransactionStatusFailed  TransactionStatus = "FAILED"
)

// PaymentTransaction is the append-only audit record of one lifecycle
// event. Rows are created once per accepted event and never mutated or
// deleted.
//
// Storage model (DynamoDB):
//   - PK: id
//   - GSI1 (payment_id-index): payment_id
//
// GatewayEventID, when present, is globally unique; that uniqueness is what
// makes at-least-once webhook delivery safe to apply exactly once.

type PaymentTransaction struct {
	ID               string            `json:"id"`
	PaymentID        string            `json:"payment_id"`
	Type             TransactionType   `json:"type"`
	Status           TransactionStatus `json:"status"`
	Amount           decimal.Decimal   `json:"amount"`
	Currency         string            `json:"currency"`
	GatewayEventID   string            `json:"gateway_event_id,omitempty"`
	GatewayEventType string            `json:"gateway_event_type,omitempty"`
	RawPayload       json.RawMessage   `json:"raw_payload,omitempty"`
	ErrorDetails     string            `json:"error_details,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}
