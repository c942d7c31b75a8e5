package usecase

import (
	"context"
	"errors"
	"log"

	"shop_payments/internal/usecase/interfaces"
)

// IWebhookUseCase is the webhook ingestion pipeline: authenticate the raw
// callback, classify it, delegate to the lifecycle manager.

type IWebhookUseCase interface {
	Process(ctx context.Context, rawBody []byte, signatureHeader string) error
}

type WebhookUseCase struct {
	gateway  interfaces.IPaymentGateway
	payments IPaymentUseCase
}

var _ IWebhookUseCase = (*WebhookUseCase)(nil)

func NewWebhookUseCase(gateway interfaces.IPaymentGateway, payments IPaymentUseCase) *WebhookUseCase {
	return &WebhookUseCase{gateway: gateway, payments: payments}
}

// Process validates the signature over the exact raw body before anything
// else; a bad signature rejects with no further action. Unrecognized event
// types are acknowledged and dropped so the gateway does not retry events
// this service intentionally ignores. Any failure after successful
// verification propagates to the caller: the resulting server error makes
// the gateway redeliver, and redelivery is safe because the event id is
// deduplicated at the storage layer.
func (u *WebhookUseCase) Process(ctx context.Context, rawBody []byte, signatureHeader string) error {
	if u.gateway == nil {
		return errors.New("payment gateway not configured")
	}

	event, err := u.gateway.VerifyWebhookSignature(rawBody, signatureHeader)
	if err != nil {
		log.Printf("[webhook][usecase] signature rejected err=%v", err)
		return err
	}

	if !event.Type.Recognized() {
		log.Printf("[webhook][usecase] ignoring event event_id=%s type=%s", event.EventID, event.Type)
		return nil
	}

	if err := u.payments.ProcessWebhookEvent(ctx, event); err != nil {
		log.Printf("[webhook][usecase] dispatch failed event_id=%s type=%s err=%v", event.EventID, event.Type, err)
		return err
	}
	return nil
}
