package interfaces

import "context"

// Lifecycle event names published to downstream subsystems (order
// management, notifications).
const (
	EventPaymentCreated   = "payment.created"
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentExpired   = "payment.expired"
	EventPaymentRefunded  = "payment.refunded"
)

// IEventPublisher notifies downstream subsystems of lifecycle events.
//
// Delivery is fire-and-forget and at-most-once: callers log a failed
// publish and continue; the state change is never rolled back because an
// event could not be emitted.

type IEventPublisher interface {
	Publish(ctx context.Context, eventName string, payload any) error
}
