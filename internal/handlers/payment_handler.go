package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/bill-reconciler/internal/auth"
	"github.com/akylbek/payment-system/bill-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
	"github.com/akylbek/payment-system/bill-reconciler/internal/service"
	"github.com/akylbek/payment-system/bill-reconciler/internal/telemetry"
)

type PaymentHandler struct {
	orchestrator *service.Orchestrator
	checkout     *service.CheckoutService
	now          func() time.Time
}

func NewPaymentHandler(orchestrator *service.Orchestrator, checkout *service.CheckoutService) *PaymentHandler {
	return &PaymentHandler{
		orchestrator: orchestrator,
		checkout:     checkout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type confirmPaymentRequest struct {
	BillID        int64         `json:"bill_id" binding:"required"`
	OrderID       string        `json:"order_id"`
	Amount        *models.Money `json:"amount"`
	PaymentType   string        `json:"payment_type"`
	TransactionID string        `json:"transaction_id"`
}

// ConfirmPayment applies a payment the student's app reports after the gateway flow.
// Without an amount the gateway is queried for the settled amount.
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)

	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.Logger.Error("Error decoding payment confirmation", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": false, "error": "invalid request body"})
		return
	}

	event := models.PaymentEvent{
		Source:          models.SourceClientReported,
		BillID:          req.BillID,
		ExternalOrderID: req.OrderID,
		MethodLabel:     req.PaymentType,
		TransactionID:   req.TransactionID,
		OccurredAt:      h.now(),
		CallerID:        claims.UserID,
	}
	if req.Amount != nil {
		if *req.Amount <= 0 {
			respondError(c, models.ErrNonPositiveAmount)
			return
		}
		event.Amount = *req.Amount
	}
	if req.OrderID != "" {
		kind, billID, err := gateway.ParseOrderID(req.OrderID)
		if err != nil {
			respondError(c, err)
			return
		}
		if billID != req.BillID {
			respondError(c, models.ErrMalformedOrderID)
			return
		}
		event.Kind = kind
	}

	outcome, err := h.orchestrator.Reconcile(c.Request.Context(), event)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOutcome(c, outcome)
}

type checkoutRequest struct {
	BillID      int64        `json:"bill_id" binding:"required"`
	Amount      models.Money `json:"amount"`
	Installment bool         `json:"installment"`
}

// CreateCheckout opens a gateway payment page for a full or installment payment.
func (h *PaymentHandler) CreateCheckout(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false, "error": "invalid request body"})
		return
	}

	result, err := h.checkout.CreateCheckout(c.Request.Context(), service.CheckoutRequest{
		CallerID:    claims.UserID,
		BillID:      req.BillID,
		Amount:      req.Amount,
		Installment: req.Installment,
		Customer: models.Customer{
			Name:  claims.Name,
			Email: claims.Email,
			Phone: claims.Phone,
		},
	})
	if err != nil {
		telemetry.Logger.Warn("Checkout rejected",
			zap.Int64("bill_id", req.BillID),
			zap.Int64("amount", req.Amount.Int64()),
			zap.Error(err),
		)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":             true,
		"snap_token":         result.Session.Token,
		"redirect_url":       result.Session.RedirectURL,
		"order_id":           result.OrderID,
		"amount":             result.Amount,
		"remaining_after":    result.RemainingAfter,
		"will_be_fully_paid": result.WillBeFullyPaid,
		"bill":               billView(result.Bill),
	})
}
