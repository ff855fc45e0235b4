package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/bill-reconciler/internal/auth"
	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
	"github.com/akylbek/payment-system/bill-reconciler/internal/service"
)

type AdminHandler struct {
	orchestrator *service.Orchestrator
	now          func() time.Time
}

func NewAdminHandler(orchestrator *service.Orchestrator) *AdminHandler {
	return &AdminHandler{
		orchestrator: orchestrator,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type manualPaymentRequest struct {
	Amount         models.Money `json:"amount"`
	PaymentMethod  string       `json:"payment_method"`
	IdempotencyKey string       `json:"idempotency_key"`
}

// RecordManualPayment applies a payment an administrator received in person.
func (h *AdminHandler) RecordManualPayment(c *gin.Context) {
	billID, ok := billIDParam(c)
	if !ok {
		return
	}

	var req manualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false, "error": "invalid request body"})
		return
	}
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = c.GetHeader("Idempotency-Key")
	}

	outcome, err := h.orchestrator.Reconcile(c.Request.Context(), models.PaymentEvent{
		Source:         models.SourceAdminManual,
		BillID:         billID,
		Amount:         req.Amount,
		MethodLabel:    req.PaymentMethod,
		OccurredAt:     h.now(),
		Actor:          actorName(c),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOutcome(c, outcome)
}

type verifyRequest struct {
	Status string `json:"status" binding:"required"`
}

// VerifyBill settles the remaining balance (verified) or fails an unpaid bill (rejected).
func (h *AdminHandler) VerifyBill(c *gin.Context) {
	billID, ok := billIDParam(c)
	if !ok {
		return
	}

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false, "error": "invalid request body"})
		return
	}

	switch strings.ToLower(req.Status) {
	case "verified", "paid":
		outcome, err := h.orchestrator.Reconcile(c.Request.Context(), models.PaymentEvent{
			Source:       models.SourceAdminManual,
			BillID:       billID,
			OccurredAt:   h.now(),
			Actor:        actorName(c),
			SettleInFull: true,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondOutcome(c, outcome)
	case "rejected", "failed":
		bill, err := h.orchestrator.Reject(c.Request.Context(), billID, actorName(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": true, "bill": billView(bill)})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"status": false, "error": "status must be verified or rejected"})
	}
}

func billIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": false, "error": "invalid bill id"})
		return 0, false
	}
	return id, true
}

func actorName(c *gin.Context) string {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		return ""
	}
	if claims.Name != "" {
		return claims.Name
	}
	return fmt.Sprintf("user:%d", claims.UserID)
}
