package handlers

import (
	"errors"
	"log"
	"net/http"

	response "shop_payments/internal/adapter/http/dto/response"
	"shop_payments/internal/usecase"
	"shop_payments/internal/usecase/interfaces"
	"shop_payments/pkg"

	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the HMAC of the exact raw request body.
const SignatureHeader = "X-Payment-Signature"

// WebhookHandler receives asynchronous callbacks from the payment gateway.

type WebhookHandler struct {
	usecase usecase.IWebhookUseCase
}

func NewWebhookHandler(uc usecase.IWebhookUseCase) *WebhookHandler {
	return &WebhookHandler{usecase: uc}
}

// HandleWebhook authenticates and processes one gateway callback. The raw
// body is read before any parsing because the signature covers its exact
// bytes. A rejected signature returns 400 with no side effects; any
// post-verification failure returns 500 on purpose, so the gateway's own
// retry redelivers the event.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	rawBody, err := c.GetRawData()
	if err != nil {
		log.Printf("[webhook][handler] body read failed err=%v", err)
		appErr := pkg.NewDomainErrorSimple("INVALID_REQUEST", "Invalid request", http.StatusBadRequest)
		c.JSON(appErr.HTTPStatus, appErr.ToHTTPError())
		return
	}

	if err := h.usecase.Process(c.Request.Context(), rawBody, c.GetHeader(SignatureHeader)); err != nil {
		appErr := mapWebhookError(err)
		c.JSON(appErr.HTTPStatus, appErr.ToHTTPError())
		return
	}

	c.JSON(http.StatusOK, response.WebhookAckResponse{Received: true})
}

func mapWebhookError(err error) *pkg.AppError {
	switch {
	case errors.Is(err, interfaces.ErrBadWebhookSignature):
		return pkg.NewDomainErrorSimple("BAD_SIGNATURE", "Webhook signature verification failed", http.StatusBadRequest)
	case errors.Is(err, usecase.ErrInvalidWebhookEvent):
		return pkg.NewDomainErrorSimple("INVALID_EVENT", "Invalid webhook event", http.StatusBadRequest)
	default:
		// Deliberate 500: the gateway retries with backoff and the event-id
		// claim makes the redelivery safe.
		return pkg.NewDomainError("WEBHOOK_PROCESSING_FAILED", "Webhook processing failed", err, http.StatusInternalServerError)
	}
}
