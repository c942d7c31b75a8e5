package routes

import (
	"log"
	"os"
	"strconv"

	_ "shop_payments/docs" // This will be auto-generated
	"shop_payments/internal/adapter/http/handlers"
	repository2 "shop_payments/internal/adapter/persistence/repository"
	"shop_payments/internal/infrastructure/database"
	"shop_payments/internal/infrastructure/events"
	"shop_payments/internal/infrastructure/payments"
	"shop_payments/internal/usecase"
	"shop_payments/internal/usecase/interfaces"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

var router = gin.Default()

const PORT = 8080

// Run will start the server
func Run() {
	setMiddlewares()

	// Swagger documentation endpoint
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	getRoutes()

	err := router.Run(":" + strconv.Itoa(PORT))
	if err != nil {
		log.Fatalf("Failed to startup the application: %v", err.Error())
	}
}

func getRoutes() {
	ddb := database.ConnectDynamoDB()

	paymentRepo := repository2.NewPaymentDynamoRepository(ddb)

	gateway, err := payments.NewMercadoPagoGateway(
		os.Getenv("MERCADOPAGO_ACCESS_TOKEN"),
		os.Getenv("PAYMENT_WEBHOOK_SECRET"),
	)
	if err != nil {
		log.Fatalf("Payment gateway not configured: %v", err)
	}

	var publisher interfaces.IEventPublisher
	if broker := os.Getenv("KAFKA_BROKER"); broker != "" {
		kafkaPublisher, err := events.NewKafkaPublisher(broker)
		if err != nil {
			log.Printf("Kafka publisher not configured, falling back to log-only: %v", err)
			publisher = events.LogPublisher{}
		} else {
			publisher = kafkaPublisher
		}
	} else {
		log.Printf("KAFKA_BROKER not set, lifecycle events are log-only")
		publisher = events.LogPublisher{}
	}

	paymentUseCase := usecase.NewPaymentUseCase(paymentRepo, gateway, publisher)
	webhookUseCase := usecase.NewWebhookUseCase(gateway, paymentUseCase)

	paymentHandler := handlers.NewPaymentHandler(paymentUseCase)
	webhookHandler := handlers.NewWebhookHandler(webhookUseCase)

	v1 := router.Group("/v1")
	addPingRoutes(v1)
	addPaymentRoutes(v1, paymentHandler, webhookHandler)
}

func setMiddlewares() {
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Printf("Recovered from panic: %v", recovered)
		c.AbortWithStatus(500)
	}))
}
