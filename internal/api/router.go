package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/bill-reconciler/internal/auth"
	"github.com/akylbek/payment-system/bill-reconciler/internal/handlers"
	"github.com/akylbek/payment-system/bill-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/bill-reconciler/internal/service"
	"github.com/akylbek/payment-system/bill-reconciler/internal/telemetry"
)

// Dependencies are the services the HTTP API is built on.
type Dependencies struct {
	Store        interfaces.LedgerStore
	Orchestrator *service.Orchestrator
	Checkout     *service.CheckoutService
	Parser       service.NotificationParser
	JWTSecret    []byte
}

func NewRouter(deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "bill-reconciler"})
	})

	// Gateway callbacks authenticate by signature, not JWT.
	webhookHandler := handlers.NewWebhookHandler(deps.Orchestrator, deps.Parser)
	r.POST("/webhooks/midtrans", webhookHandler.MidtransNotification)

	authed := r.Group("/", auth.Middleware(deps.JWTSecret))

	billHandler := handlers.NewBillHandler(deps.Store)
	authed.GET("/bills/:id", billHandler.GetBill)
	authed.GET("/bills/:id/installments", billHandler.ListInstallments)
	authed.GET("/installments", auth.RequireRole(auth.RoleStudent), billHandler.ListOwnerInstallments)

	paymentHandler := handlers.NewPaymentHandler(deps.Orchestrator, deps.Checkout)
	student := authed.Group("/payments", auth.RequireRole(auth.RoleStudent))
	student.POST("/confirm", paymentHandler.ConfirmPayment)
	student.POST("/checkout", paymentHandler.CreateCheckout)
	student.GET("/history", billHandler.PaymentHistory)

	adminHandler := handlers.NewAdminHandler(deps.Orchestrator)
	admin := authed.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/bills/:id/payments", adminHandler.RecordManualPayment)
	admin.POST("/bills/:id/verify", adminHandler.VerifyBill)
	admin.GET("/payments", billHandler.ListBills)

	return r
}
