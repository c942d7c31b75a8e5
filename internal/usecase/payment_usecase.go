package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"shop_payments/internal/domain/entities"
	"shop_payments/internal/usecase/interfaces"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrInvalidPaymentRequest   = errors.New("invalid payment request")
	ErrIdempotencyConflict     = errors.New("idempotency key already used by a non-replayable payment")
	ErrOrderPaymentConflict    = errors.New("order already has an active payment")
	ErrInvalidRefundState      = errors.New("payment is not refundable in its current state")
	ErrInvalidRefundAmount     = errors.New("invalid refund amount")
	ErrInvalidWebhookEvent     = errors.New("invalid webhook event")
	ErrUnsupportedWebhookEvent = errors.New("unsupported webhook event type")
)

// CreatePaymentInput is the caller's view of one payment creation attempt.
// IdempotencyKey makes resending the whole request safe.

type CreatePaymentInput struct {
	OrderID        string
	CustomerEmail  string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Items          []entities.CheckoutItem
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
}

// IPaymentUseCase is the payment lifecycle manager: creation, status reads,
// webhook-driven transitions and refunds. The state machine lives here.

type IPaymentUseCase interface {
	CreatePayment(ctx context.Context, userID string, in CreatePaymentInput) (entities.Payment, error)
	GetByID(ctx context.Context, id string) (entities.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (entities.Payment, error)
	ProcessWebhookEvent(ctx context.Context, event entities.WebhookEvent) error
	CreateRefund(ctx context.Context, paymentID string, amount *decimal.Decimal, reason string) (entities.Payment, error)
	ListTransactions(ctx context.Context, paymentID string) ([]entities.PaymentTransaction, error)
}

type PaymentUseCase struct {
	repo      interfaces.IPaymentRepository
	gateway   interfaces.IPaymentGateway
	publisher interfaces.IEventPublisher
}

var _ IPaymentUseCase = (*PaymentUseCase)(nil)

func NewPaymentUseCase(repo interfaces.IPaymentRepository, gateway interfaces.IPaymentGateway, publisher interfaces.IEventPublisher) *PaymentUseCase {
	return &PaymentUseCase{repo: repo, gateway: gateway, publisher: publisher}
}

func (u *PaymentUseCase) CreatePayment(ctx context.Context, userID string, in CreatePaymentInput) (entities.Payment, error) {
	log.Printf("[payment][usecase] create start order_id=%s idempotency_key=%s", in.OrderID, in.IdempotencyKey)

	in.OrderID = strings.TrimSpace(in.OrderID)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	userID = strings.TrimSpace(userID)
	if in.OrderID == "" || in.IdempotencyKey == "" || in.Currency == "" || len(in.Items) == 0 || !in.Amount.IsPositive() {
		log.Printf("[payment][usecase] invalid create request order_id=%q", in.OrderID)
		return entities.Payment{}, ErrInvalidPaymentRequest
	}
	if u.gateway == nil {
		return entities.Payment{}, errors.New("payment gateway not configured")
	}

	// Idempotency fast path: the same key replays a live PENDING session.
	existing, err := u.repo.GetByIdempotencyKey(ctx, in.IdempotencyKey)
	if err != nil {
		return entities.Payment{}, err
	}
	if existing.ID != "" {
		return u.replayExisting(ctx, existing)
	}

	// Friendly pre-check for the active-payment-per-order rule. The claim
	// write below is what actually enforces it.
	active, err := u.repo.GetByOrderID(ctx, in.OrderID)
	if err != nil {
		return entities.Payment{}, err
	}
	if active.ID != "" && active.Status.IsActive() {
		log.Printf("[payment][usecase] order has active payment order_id=%s payment_id=%s status=%s", in.OrderID, active.ID, active.Status)
		return entities.Payment{}, ErrOrderPaymentConflict
	}

	// Gateway first: a gateway failure must leave no payment row. The
	// reverse failure (persist after session) only orphans a session that
	// expires on its own; no compensating call is issued.
	session, err := u.gateway.CreateCheckoutSession(ctx, entities.CheckoutSessionParams{
		OrderID:       in.OrderID,
		CustomerEmail: in.CustomerEmail,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Items:         in.Items,
		Metadata:      in.Metadata,
		SuccessURL:    in.SuccessURL,
		CancelURL:     in.CancelURL,
	})
	if err != nil {
		log.Printf("[payment][usecase] gateway session create failed order_id=%s err=%v", in.OrderID, err)
		return entities.Payment{}, err
	}

	now := time.Now().UTC()
	p := entities.Payment{
		ID:               uuid.NewString(),
		OrderID:          in.OrderID,
		UserID:           userID,
		GatewaySessionID: session.SessionID,
		Amount:           in.Amount,
		Currency:         in.Currency,
		Status:           entities.PaymentStatusPending,
		IdempotencyKey:   in.IdempotencyKey,
		Metadata:         in.Metadata,
		CheckoutURL:      session.URL,
		SessionExpiresAt: session.ExpiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	genesis := entities.PaymentTransaction{
		ID:        uuid.NewString(),
		PaymentID: p.ID,
		Type:      entities.TransactionTypeSessionCreated,
		Status:    entities.TransactionStatusSuccess,
		Amount:    in.Amount,
		Currency:  in.Currency,
		CreatedAt: now,
	}

	created, err := u.repo.Create(ctx, p, genesis)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrIdempotencyKeyClaimed):
			// Lost a race on the key: reconcile against the winner.
			log.Printf("[payment][usecase] idempotency race lost order_id=%s key=%s", in.OrderID, in.IdempotencyKey)
			winner, rerr := u.repo.GetByIdempotencyKey(ctx, in.IdempotencyKey)
			if rerr != nil {
				return entities.Payment{}, rerr
			}
			if winner.ID == "" {
				return entities.Payment{}, ErrIdempotencyConflict
			}
			return u.replayExisting(ctx, winner)
		case errors.Is(err, interfaces.ErrOrderPaymentActive):
			return entities.Payment{}, ErrOrderPaymentConflict
		}
		log.Printf("[payment][usecase] persist failed order_id=%s session_id=%s err=%v", in.OrderID, session.SessionID, err)
		return entities.Payment{}, err
	}

	u.publish(ctx, interfaces.EventPaymentCreated, created)
	log.Printf("[payment][usecase] create success payment_id=%s order_id=%s session_id=%s", created.ID, created.OrderID, created.GatewaySessionID)
	return created, nil
}

// replayExisting resolves an idempotency-key hit: a live PENDING payment is
// returned with a fresh checkout URL, anything else is a conflict.
func (u *PaymentUseCase) replayExisting(ctx context.Context, p entities.Payment) (entities.Payment, error) {
	if p.Status != entities.PaymentStatusPending || !time.Now().UTC().Before(p.SessionExpiresAt) {
		log.Printf("[payment][usecase] idempotency conflict payment_id=%s status=%s", p.ID, p.Status)
		return entities.Payment{}, ErrIdempotencyConflict
	}

	detail, err := u.gateway.GetCheckoutSession(ctx, p.GatewaySessionID)
	if err != nil {
		// The stored URL is still usable; keep the replay cheap.
		log.Printf("[payment][usecase] session refresh failed payment_id=%s err=%v", p.ID, err)
	} else if detail.URL != "" {
		p.CheckoutURL = detail.URL
	}
	log.Printf("[payment][usecase] idempotent replay payment_id=%s session_id=%s", p.ID, p.GatewaySessionID)
	return p, nil
}

func (u *PaymentUseCase) GetByID(ctx context.Context, id string) (entities.Payment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return entities.Payment{}, ErrInvalidPaymentRequest
	}

	p, err := u.repo.GetByID(ctx, id)
	if err != nil {
		return entities.Payment{}, err
	}
	if p.ID == "" {
		return entities.Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (u *PaymentUseCase) GetByOrderID(ctx context.Context, orderID string) (entities.Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return entities.Payment{}, ErrInvalidPaymentRequest
	}

	p, err := u.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return entities.Payment{}, err
	}
	if p.ID == "" {
		return entities.Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

// ProcessWebhookEvent applies one gateway callback to the state machine.
// Duplicate deliveries (same gateway event id) and transitions the machine
// no longer permits are silent no-ops; they must not make the gateway
// retry. Every other failure propagates so the gateway redelivers.
func (u *PaymentUseCase) ProcessWebhookEvent(ctx context.Context, event entities.WebhookEvent) error {
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.SessionID) == "" {
		return ErrInvalidWebhookEvent
	}
	log.Printf("[payment][usecase] webhook start event_id=%s type=%s session_id=%s", event.EventID, event.Type, event.SessionID)

	seen, err := u.repo.GatewayEventSeen(ctx, event.EventID)
	if err != nil {
		return err
	}
	if seen {
		log.Printf("[payment][usecase] webhook duplicate event_id=%s", event.EventID)
		return nil
	}

	p, err := u.repo.GetBySessionID(ctx, event.SessionID)
	if err != nil {
		return err
	}
	if p.ID == "" {
		log.Printf("[payment][usecase] webhook payment not found session_id=%s event_id=%s", event.SessionID, event.EventID)
		return ErrPaymentNotFound
	}

	var (
		target    entities.PaymentStatus
		txType    entities.TransactionType
		txStatus  entities.TransactionStatus
		eventName string
	)
	updated := p
	now := time.Now().UTC()

	switch event.Type {
	case entities.WebhookEventSessionCompleted:
		target = entities.PaymentStatusSucceeded
		txType = entities.TransactionTypeSessionCompleted
		txStatus = entities.TransactionStatusSuccess
		eventName = interfaces.EventPaymentSucceeded
		updated.ProcessedAt = &now
		updated.GatewayPaymentIntentID = event.PaymentIntentID
	case entities.WebhookEventIntentFailed:
		target = entities.PaymentStatusFailed
		txType = entities.TransactionTypeIntentFailed
		txStatus = entities.TransactionStatusFailed
		eventName = interfaces.EventPaymentFailed
		updated.ErrorMessage = event.ErrorMessage
		if updated.ErrorMessage == "" {
			updated.ErrorMessage = "payment failed at gateway"
		}
	case entities.WebhookEventSessionExpired:
		target = entities.PaymentStatusCancelled
		txType = entities.TransactionTypeSessionExpired
		txStatus = entities.TransactionStatusSuccess
		eventName = interfaces.EventPaymentExpired
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedWebhookEvent, event.Type)
	}

	if !p.Status.CanTransitionTo(target) {
		// A fresh event id asking for a transition the machine has moved
		// past. Redelivery can never make it applicable, so acknowledge.
		log.Printf("[payment][usecase] webhook not applicable payment_id=%s status=%s target=%s event_id=%s", p.ID, p.Status, target, event.EventID)
		return nil
	}
	updated.Status = target

	tx := entities.PaymentTransaction{
		ID:               uuid.NewString(),
		PaymentID:        p.ID,
		Type:             txType,
		Status:           txStatus,
		Amount:           p.Amount,
		Currency:         p.Currency,
		GatewayEventID:   event.EventID,
		GatewayEventType: string(event.Type),
		RawPayload:       event.Raw,
		ErrorDetails:     updated.ErrorMessage,
		CreatedAt:        now,
	}

	applied, err := u.repo.ApplyTransition(ctx, updated, p.Status, tx)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrGatewayEventClaimed):
			log.Printf("[payment][usecase] webhook duplicate (raced) event_id=%s", event.EventID)
			return nil
		case errors.Is(err, interfaces.ErrPaymentStateChanged):
			log.Printf("[payment][usecase] webhook superseded payment_id=%s event_id=%s", p.ID, event.EventID)
			return nil
		}
		return err
	}

	u.publish(ctx, eventName, applied)
	log.Printf("[payment][usecase] webhook applied payment_id=%s %s->%s event_id=%s", p.ID, p.Status, applied.Status, event.EventID)
	return nil
}

func (u *PaymentUseCase) CreateRefund(ctx context.Context, paymentID string, amount *decimal.Decimal, reason string) (entities.Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return entities.Payment{}, ErrInvalidPaymentRequest
	}
	log.Printf("[payment][usecase] refund start payment_id=%s partial=%t", paymentID, amount != nil)

	p, err := u.repo.GetByID(ctx, paymentID)
	if err != nil {
		return entities.Payment{}, err
	}
	if p.ID == "" {
		return entities.Payment{}, ErrPaymentNotFound
	}
	if p.Status != entities.PaymentStatusSucceeded || p.GatewayPaymentIntentID == "" {
		log.Printf("[payment][usecase] refund rejected payment_id=%s status=%s intent_set=%t", p.ID, p.Status, p.GatewayPaymentIntentID != "")
		return entities.Payment{}, ErrInvalidRefundState
	}
	if amount != nil && (!amount.IsPositive() || amount.GreaterThan(p.Amount)) {
		return entities.Payment{}, ErrInvalidRefundAmount
	}

	desc, err := u.gateway.CreateRefund(ctx, p.GatewayPaymentIntentID, amount, reason)
	if err != nil {
		log.Printf("[payment][usecase] gateway refund failed payment_id=%s err=%v", p.ID, err)
		return entities.Payment{}, err
	}

	refunded := p.Amount
	if amount != nil {
		refunded = *amount
	}
	if desc.Amount.IsPositive() {
		refunded = desc.Amount
	}

	// Even a partial amount moves the payment fully to REFUNDED; there is
	// no remaining-balance state. The transaction row keeps the amount.
	now := time.Now().UTC()
	updated := p
	updated.Status = entities.PaymentStatusRefunded

	tx := entities.PaymentTransaction{
		ID:               uuid.NewString(),
		PaymentID:        p.ID,
		Type:             entities.TransactionTypeRefundCreated,
		Status:           entities.TransactionStatusSuccess,
		Amount:           refunded,
		Currency:         p.Currency,
		GatewayEventType: "refund." + desc.Status,
		ErrorDetails:     reason,
		CreatedAt:        now,
	}

	applied, err := u.repo.ApplyTransition(ctx, updated, entities.PaymentStatusSucceeded, tx)
	if err != nil {
		if errors.Is(err, interfaces.ErrPaymentStateChanged) {
			return entities.Payment{}, ErrInvalidRefundState
		}
		return entities.Payment{}, err
	}

	u.publish(ctx, interfaces.EventPaymentRefunded, applied)
	log.Printf("[payment][usecase] refund success payment_id=%s refund_id=%s amount=%s", p.ID, desc.RefundID, refunded.String())
	return applied, nil
}

func (u *PaymentUseCase) ListTransactions(ctx context.Context, paymentID string) ([]entities.PaymentTransaction, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, ErrInvalidPaymentRequest
	}

	p, err := u.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, ErrPaymentNotFound
	}
	return u.repo.ListTransactionsByPaymentID(ctx, paymentID)
}

// publish is fire-and-forget: a failed emit is logged and never rolls back
// the state change it describes.
func (u *PaymentUseCase) publish(ctx context.Context, eventName string, p entities.Payment) {
	if u.publisher == nil {
		return
	}
	payload := map[string]any{
		"payment_id": p.ID,
		"order_id":   p.OrderID,
		"user_id":    p.UserID,
		"amount":     p.Amount.String(),
		"currency":   p.Currency,
		"status":     string(p.Status),
	}
	if p.ErrorMessage != "" {
		payload["error_message"] = p.ErrorMessage
	}
	if err := u.publisher.Publish(ctx, eventName, payload); err != nil {
		log.Printf("[payment][usecase] publish failed event=%s payment_id=%s err=%v", eventName, p.ID, err)
	}
}
