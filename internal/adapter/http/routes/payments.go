package routes

import (
	"net/http"

	"shop_payments/internal/adapter/http/handlers"

	"github.com/gin-gonic/gin"
)

const (
	PathPayments = "/payments"
	PathWebhooks = "/webhooks"
)

func addPaymentRoutes(rg *gin.RouterGroup, paymentHandler *handlers.PaymentHandler, webhookHandler *handlers.WebhookHandler) {
	payments := rg.Group(PathPayments)
	{
		payments.POST("", paymentHandler.CreatePayment)
		payments.GET("/order/:order_id", paymentHandler.GetPaymentByOrderID)
		payments.GET("/:id", paymentHandler.GetPayment)
		payments.GET("/:id/transactions", paymentHandler.ListTransactions)
		payments.POST("/:id/refund", paymentHandler.CreateRefund)
	}

	rg.POST(PathWebhooks, webhookHandler.HandleWebhook)
}

func addPingRoutes(rg *gin.RouterGroup) {
	rg.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
}
