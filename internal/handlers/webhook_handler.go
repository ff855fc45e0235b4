package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
	"github.com/akylbek/payment-system/bill-reconciler/internal/service"
	"github.com/akylbek/payment-system/bill-reconciler/internal/telemetry"
)

const maxNotificationBytes = 64 << 10

type WebhookHandler struct {
	orchestrator *service.Orchestrator
	parser       service.NotificationParser
}

func NewWebhookHandler(orchestrator *service.Orchestrator, parser service.NotificationParser) *WebhookHandler {
	return &WebhookHandler{orchestrator: orchestrator, parser: parser}
}

// MidtransNotification reconciles an HTTP notification from the gateway.
// Non-2xx answers make the gateway redeliver, so only retryable failures get 503.
func (h *WebhookHandler) MidtransNotification(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false, "error": "unreadable body"})
		return
	}

	event, err := h.parser.Parse(raw)
	if err != nil {
		telemetry.Logger.Warn("Rejected gateway notification",
			zap.String("outcome", models.Tag(models.Outcome{}, err)),
			zap.Error(err),
		)
		respondError(c, err)
		return
	}

	outcome, err := h.orchestrator.Reconcile(c.Request.Context(), event)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOutcome(c, outcome)
}
