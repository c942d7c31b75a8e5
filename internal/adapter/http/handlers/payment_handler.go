package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	request "shop_payments/internal/adapter/http/dto/request"
	response "shop_payments/internal/adapter/http/dto/response"
	"shop_payments/internal/usecase"
	"shop_payments/internal/usecase/interfaces"
	"shop_payments/pkg"

	"github.com/gin-gonic/gin"
)

// PaymentHandler handles HTTP requests for the payment lifecycle.

type PaymentHandler struct {
	usecase usecase.IPaymentUseCase
}

func NewPaymentHandler(uc usecase.IPaymentUseCase) *PaymentHandler {
	return &PaymentHandler{usecase: uc}
}

// CreatePayment opens a hosted checkout session for an order.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var payload request.PaymentCreateRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Printf("[payment][handler] create bind failed err=%v", err)
		appErr := pkg.NewDomainErrorSimple("INVALID_REQUEST", "Invalid request", http.StatusBadRequest)
		c.JSON(appErr.HTTPStatus, appErr.ToHTTPError())
		return
	}
	if err := payload.Validate(); err != nil {
		log.Printf("[payment][handler] create validation failed order_id=%s err=%v", payload.OrderID, err)
		appErr := pkg.NewDomainErrorSimple("INVALID_REQUEST", "Invalid request", http.StatusBadRequest)
		c.JSON(appErr.HTTPStatus, appErr.ToHTTPError())
		return
	}

	userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
	created, err := h.usecase.CreatePayment(c.Request.Context(), userID, usecase.CreatePaymentInput{
		OrderID:        payload.OrderID,
		CustomerEmail:  payload.CustomerEmail,
		Amount:         payload.Amount,
		Currency:       payload.Currency,
		IdempotencyKey: payload.IdempotencyKey,
		Items:          payload.ResolveItems(),
		Metadata:       payload.Metadata,
		SuccessURL:     payload.SuccessURL,
		CancelURL:      payload.CancelURL,
	})
	if err != nil {
		log.Printf("[payment][handler] create failed order_id=%s err=%v", payload.OrderID, err)
		appErr := mapPaymentError(err)
		c.JSON(appErr.HTTPStatus, appErr.ToHTTPError())
		return
	}
	log.Printf("[payment][handler] create success payment_id=%s order_id=%s status=%s", created.ID, created.OrderID, created.Status)

	c.JSON(http.StatusCreated, response.FromPayment(created))
}

// GetPayment returns a payment by its id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id := c.Param("id")

	p, err := h.usecase.GetByID(c.Request.Context(), id)
	if err != nil {
		appErr := mapPaymentError(err)
		c.JSON(appErr.HTTPStatus, appErr.ToHTTPError())
		return
	}

	c.JSON(http.StatusOK, response.FromPayment(p))
}

// GetPaymentByOrderID returns the latest payment for an order.
func (h *PaymentHandler) GetPaymentByOrderID(c *gin.Context) {
	orderID := c.Param("order_id")

	p, err := h.usecase.GetByOrderID(c.Request.Context(), orderID)
	if err != nil {
		appErr := mapPaymentError(err)
		c.JSON(appErr.HTTPStatus, appErr.ToHTTPError())
		return
	}

	c.JSON(http.StatusOK, response.FromPayment(p))
}

// ListTransactions returns the append-only lifecycle history of a payment.
func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	id := c.Param("id")

	txs, err := h.usecase.ListTransactions(c.Request.Context(), id)
	if err != nil {
		appErr := mapPaymentError(err)
		c.JSON(appErr.HTTPStatus, appErr.ToHTTPError())
		return
	}

	c.JSON(http.StatusOK, response.FromTransactions(txs))
}

// CreateRefund refunds a succeeded payment, fully or partially.
func (h *PaymentHandler) CreateRefund(c *gin.Context) {
	id := c.Param("id")

	var payload request.RefundRequest
	if err := c.ShouldBindJSON(&payload); err != nil && err.Error() != "EOF" {
		log.Printf("[payment][handler] refund bind failed payment_id=%s err=%v", id, err)
		appErr := pkg.NewDomainErrorSimple("INVALID_REQUEST", "Invalid request", http.StatusBadRequest)
		c.JSON(appErr.HTTPStatus, appErr.ToHTTPError())
		return
	}

	p, err := h.usecase.CreateRefund(c.Request.Context(), id, payload.Amount, payload.Reason)
	if err != nil {
		log.Printf("[payment][handler] refund failed payment_id=%s err=%v", id, err)
		appErr := mapPaymentError(err)
		c.JSON(appErr.HTTPStatus, appErr.ToHTTPError())
		return
	}
	log.Printf("[payment][handler] refund success payment_id=%s status=%s", p.ID, p.Status)

	c.JSON(http.StatusOK, response.FromPayment(p))
}

func mapPaymentError(err error) *pkg.AppError {
	switch {
	case errors.Is(err, usecase.ErrInvalidPaymentRequest), errors.Is(err, usecase.ErrInvalidRefundAmount):
		return pkg.NewDomainErrorSimple("INVALID_REQUEST", "Invalid request", http.StatusBadRequest)
	case errors.Is(err, usecase.ErrIdempotencyConflict):
		return pkg.NewDomainErrorSimple("IDEMPOTENCY_CONFLICT", "Idempotency key already used by a non-replayable payment", http.StatusConflict)
	case errors.Is(err, usecase.ErrOrderPaymentConflict):
		return pkg.NewDomainErrorSimple("ORDER_PAYMENT_EXISTS", "Order already has an active payment", http.StatusConflict)
	case errors.Is(err, usecase.ErrPaymentNotFound):
		return pkg.NewDomainErrorSimple("PAYMENT_NOT_FOUND", "Payment not found", http.StatusNotFound)
	case errors.Is(err, usecase.ErrInvalidRefundState):
		return pkg.NewDomainErrorSimple("PAYMENT_NOT_REFUNDABLE", "Payment is not refundable in its current state", http.StatusBadRequest)
	case errors.Is(err, interfaces.ErrGatewayCall), errors.Is(err, interfaces.ErrSessionNotFound):
		return pkg.NewDomainErrorSimple("PAYMENT_GATEWAY_ERROR", "Payment gateway call failed", http.StatusBadGateway)
	default:
		return pkg.NewDomainError("INTERNAL_ERROR", "An internal error occurred", err, http.StatusInternalServerError)
	}
}
