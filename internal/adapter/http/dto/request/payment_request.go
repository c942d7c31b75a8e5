package request

import (
	"errors"
	"strings"

	"shop_payments/internal/domain/entities"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")
	ErrNoItems              = errors.New("at least one item is required")
)

type PaymentItemRequest struct {
	Name      string          `json:"name" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" binding:"required"`
}

// PaymentCreateRequest is the payload for POST /payments. The caller
// supplies the idempotency key so the whole request can be resent safely.
type PaymentCreateRequest struct {
	OrderID        string               `json:"order_id" binding:"required"`
	CustomerEmail  string               `json:"customer_email" binding:"required,email"`
	Amount         decimal.Decimal      `json:"amount" binding:"required"`
	Currency       string               `json:"currency" binding:"required"`
	IdempotencyKey string               `json:"idempotency_key" binding:"required"`
	Items          []PaymentItemRequest `json:"items" binding:"required,min=1"`
	Metadata       map[string]string    `json:"metadata"`
	SuccessURL     string               `json:"success_url"`
	CancelURL      string               `json:"cancel_url"`
}

func (r PaymentCreateRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return ErrInvalidPaymentAmount
	}
	if len(r.Items) == 0 {
		return ErrNoItems
	}
	for _, it := range r.Items {
		if strings.TrimSpace(it.Name) == "" || it.Quantity <= 0 || !it.UnitPrice.IsPositive() {
			return ErrInvalidPaymentAmount
		}
	}
	return nil
}

func (r PaymentCreateRequest) ResolveItems() []entities.CheckoutItem {
	items := make([]entities.CheckoutItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, entities.CheckoutItem{
			Name:      strings.TrimSpace(it.Name),
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return items
}

// RefundRequest is the payload for POST /payments/{id}/refund. A nil
// amount requests a full refund.
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}
