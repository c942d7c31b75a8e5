package interfaces

import (
	"context"
	"errors"

	"shop_payments/internal/domain/entities"
)

// Storage conflict sentinels. The repository enforces the uniqueness
// invariants atomically (conditional writes inside one DynamoDB
// transaction) and reports which claim lost the race; an application-level
// read-then-write check alone cannot close the window between two
// concurrent requests.
var (
	// ErrIdempotencyKeyClaimed: another payment already holds this
	// idempotency key.
	ErrIdempotencyKeyClaimed = errors.New("idempotency key already claimed")
	// ErrOrderPaymentActive: the order already has a payment in an active
	// status (PENDING, PROCESSING or SUCCEEDED).
	ErrOrderPaymentActive = errors.New("order already has an active payment")
	// ErrGatewayEventClaimed: a transaction for this gateway event id was
	// already recorded; the delivery is a duplicate.
	ErrGatewayEventClaimed = errors.New("gateway event already recorded")
	// ErrPaymentStateChanged: the payment left the expected status before
	// the transition committed.
	ErrPaymentStateChanged = errors.New("payment status changed concurrently")
)

// IPaymentRepository abstracts DynamoDB persistence for Payment and its
// append-only PaymentTransaction history.
//
// Create and ApplyTransition are transactional: the payment write, the
// transaction row and the uniqueness claims commit together or not at all,
// so no failure leaves a payment observable in a half-applied state.

type IPaymentRepository interface {
	// Create persists a new payment plus its genesis transaction, claiming
	// the idempotency key and the active-payment-per-order slot.
	Create(ctx context.Context, p entities.Payment, genesis entities.PaymentTransaction) (entities.Payment, error)

	GetByID(ctx context.Context, id string) (entities.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (entities.Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (entities.Payment, error)
	GetBySessionID(ctx context.Context, sessionID string) (entities.Payment, error)

	// ApplyTransition moves the payment from fromStatus to updated.Status,
	// appends tx, claims tx.GatewayEventID when present, and releases the
	// order's active-payment slot when updated.Status is terminal.
	ApplyTransition(ctx context.Context, updated entities.Payment, fromStatus entities.PaymentStatus, tx entities.PaymentTransaction) (entities.Payment, error)

	ListTransactionsByPaymentID(ctx context.Context, paymentID string) ([]entities.PaymentTransaction, error)

	// GatewayEventSeen reports whether a transaction for this gateway event
	// id was already recorded. A fast path only; the authoritative check is
	// the claim condition inside ApplyTransition.
	GatewayEventSeen(ctx context.Context, eventID string) (bool, error)
}
