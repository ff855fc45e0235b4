package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

func TestDedupeKey(t *testing.T) {
	key, ok := DedupeKey(webhookEvent(models.OrderKindFull, 150000, models.GatewayStateSettlement))
	assert.True(t, ok)
	assert.Equal(t, "order:SPP-42-1705287600", key)

	// A client report and a webhook for one order share a key.
	client := models.PaymentEvent{Source: models.SourceClientReported, BillID: 42, ExternalOrderID: "SPP-42-1705287600"}
	clientKey, _ := DedupeKey(client)
	assert.Equal(t, key, clientKey)

	key, ok = DedupeKey(models.PaymentEvent{Source: models.SourceAdminManual, BillID: 42, IdempotencyKey: "receipt-1"})
	assert.True(t, ok)
	assert.Equal(t, "admin:receipt-1", key)

	_, ok = DedupeKey(models.PaymentEvent{Source: models.SourceAdminManual, BillID: 42, Amount: 1000})
	assert.False(t, ok)

	key, ok = DedupeKey(models.PaymentEvent{Source: models.SourceClientReported, BillID: 42, Amount: 50000, OccurredAt: paidAt})
	assert.True(t, ok)
	assert.Equal(t, "client_reported:42:50000:1705287600", key)
}
