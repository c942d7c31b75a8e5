package interfaces

import (
	"context"
	"errors"

	"shop_payments/internal/domain/entities"

	"github.com/shopspring/decimal"
)

// Adapter error sentinels. Implementations wrap provider failures with
// these so the core can classify without depending on SDK types.
var (
	ErrGatewayCall         = errors.New("payment gateway call failed")
	ErrSessionNotFound     = errors.New("checkout session not found")
	ErrBadWebhookSignature = errors.New("webhook signature verification failed")
)

// IPaymentGateway abstracts the external payment provider (e.g. Mercado
// Pago). It is the only component allowed to reach the network, and it
// owns the bounded timeout on every call.
//
// The gateway speaks minor currency units (cents); the adapter performs
// the sole conversion to and from the core's major-unit decimals.

type IPaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, params entities.CheckoutSessionParams) (entities.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (entities.CheckoutSessionDetail, error)
	// CreateRefund refunds the intent. A nil amount refunds in full.
	CreateRefund(ctx context.Context, intentID string, amount *decimal.Decimal, reason string) (entities.RefundDescriptor, error)
	// VerifyWebhookSignature authenticates the callback against the shared
	// signing secret over the exact raw body and returns the parsed event.
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) (entities.WebhookEvent, error)
}
