package response

import (
	"time"

	"shop_payments/internal/domain/entities"

	"github.com/shopspring/decimal"
)

type PaymentResponse struct {
	PaymentID              string            `json:"payment_id"`
	OrderID                string            `json:"order_id"`
	UserID                 string            `json:"user_id,omitempty"`
	Status                 string            `json:"status"`
	Amount                 decimal.Decimal   `json:"amount"`
	Currency               string            `json:"currency"`
	CheckoutURL            string            `json:"checkout_url,omitempty"`
	GatewaySessionID       string            `json:"gateway_session_id,omitempty"`
	GatewayPaymentIntentID string            `json:"gateway_payment_intent_id,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`
	ErrorMessage           string            `json:"error_message,omitempty"`
	SessionExpiresAt       *time.Time        `json:"session_expires_at,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
	ProcessedAt            *time.Time        `json:"processed_at,omitempty"`
}

func FromPayment(p entities.Payment) PaymentResponse {
	resp := PaymentResponse{
		PaymentID:              p.ID,
		OrderID:                p.OrderID,
		UserID:                 p.UserID,
		Status:                 string(p.Status),
		Amount:                 p.Amount,
		Currency:               p.Currency,
		CheckoutURL:            p.CheckoutURL,
		GatewaySessionID:       p.GatewaySessionID,
		GatewayPaymentIntentID: p.GatewayPaymentIntentID,
		Metadata:               p.Metadata,
		ErrorMessage:           p.ErrorMessage,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
		ProcessedAt:            p.ProcessedAt,
	}
	if !p.SessionExpiresAt.IsZero() {
		t := p.SessionExpiresAt
		resp.SessionExpiresAt = &t
	}
	return resp
}

type TransactionResponse struct {
	TransactionID    string          `json:"transaction_id"`
	PaymentID        string          `json:"payment_id"`
	Type             string          `json:"type"`
	Status           string          `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	GatewayEventID   string          `json:"gateway_event_id,omitempty"`
	GatewayEventType string          `json:"gateway_event_type,omitempty"`
	ErrorDetails     string          `json:"error_details,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func FromTransaction(tx entities.PaymentTransaction) TransactionResponse {
	return TransactionResponse{
		TransactionID:    tx.ID,
		PaymentID:        tx.PaymentID,
		Type:             string(tx.Type),
		Status:           string(tx.Status),
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		GatewayEventID:   tx.GatewayEventID,
		GatewayEventType: tx.GatewayEventType,
		ErrorDetails:     tx.ErrorDetails,
		CreatedAt:        tx.CreatedAt,
	}
}

func FromTransactions(txs []entities.PaymentTransaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, FromTransaction(tx))
	}
	return out
}

// WebhookAckResponse acknowledges an accepted gateway callback.
type WebhookAckResponse struct {
	Received bool `json:"received"`
}
