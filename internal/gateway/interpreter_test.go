package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

const testServerKey = "SB-Mid-server-test"

func notificationBody(t *testing.T, n Notification) []byte {
	t.Helper()
	raw, err := json.Marshal(n)
	require.NoError(t, err)
	return raw
}

func signed(n Notification) Notification {
	n.SignatureKey = Signature(n.OrderID, n.StatusCode, n.GrossAmount, testServerKey)
	return n
}

func settlement(orderID, amount string) Notification {
	return Notification{
		OrderID:           orderID,
		TransactionStatus: "settlement",
		GrossAmount:       amount,
		PaymentType:       "bank_transfer",
		TransactionTime:   "2024-01-15 10:00:00",
		TransactionID:     "9aed5972-5b6a-401e-894b-a32c91ed1a3a",
		StatusCode:        "200",
	}
}

func TestParseSettlement(t *testing.T) {
	interp := NewInterpreter(WithServerKey(testServerKey))

	event, err := interp.Parse(notificationBody(t, signed(settlement("SPP-42-1705287600", "150000.00"))))
	require.NoError(t, err)

	assert.Equal(t, models.SourceGatewayWebhook, event.Source)
	assert.Equal(t, int64(42), event.BillID)
	assert.Equal(t, models.OrderKindFull, event.Kind)
	assert.Equal(t, models.Money(150000), event.Amount)
	assert.Equal(t, models.GatewayStateSettlement, event.GatewayState)
	assert.Equal(t, "bank_transfer", event.MethodLabel)
	assert.Equal(t, time.Date(2024, 1, 15, 3, 0, 0, 0, time.UTC), event.OccurredAt)
}

func TestParseInstallmentOrder(t *testing.T) {
	event, err := NewInterpreter().Parse(notificationBody(t, settlement("CICILAN-42-1705287600", "50000.00")))
	require.NoError(t, err)
	assert.Equal(t, models.OrderKindInstallment, event.Kind)
	assert.True(t, event.IsInstallment())
}

func TestParseRejectsBadSignature(t *testing.T) {
	n := signed(settlement("SPP-42-1705287600", "150000.00"))
	n.GrossAmount = "1500000.00"

	_, err := NewInterpreter(WithServerKey(testServerKey)).Parse(notificationBody(t, n))
	assert.ErrorIs(t, err, models.ErrInvalidSignature)
}

func TestParseMalformed(t *testing.T) {
	interp := NewInterpreter()
	cases := map[string][]byte{
		"not json":          []byte(`{`),
		"missing order":     notificationBody(t, settlement("", "150000.00")),
		"unknown prefix":    notificationBody(t, settlement("INV-42-1", "150000.00")),
		"short installment": notificationBody(t, settlement("CICILAN-42", "50000.00")),
		"non numeric bill":  notificationBody(t, settlement("SPP-abc-1", "150000.00")),
		"bad amount":        notificationBody(t, settlement("SPP-42-1", "lots")),
		"missing amount":    notificationBody(t, settlement("SPP-42-1", "")),
	}
	for name, raw := range cases {
		_, err := interp.Parse(raw)
		assert.ErrorIs(t, err, models.ErrMalformedEvent, name)
	}
}

func TestParsePendingWithoutAmount(t *testing.T) {
	n := settlement("SPP-42-1705287600", "")
	n.TransactionStatus = "pending"

	event, err := NewInterpreter().Parse(notificationBody(t, n))
	require.NoError(t, err)
	assert.Equal(t, models.GatewayStatePending, event.GatewayState)
	assert.Equal(t, models.Money(0), event.Amount)
}

func TestParseNumericGrossAmount(t *testing.T) {
	raw := []byte(`{"order_id":"SPP-42-1705287600","transaction_status":"settlement","gross_amount":150000,"status_code":"200"}`)

	event, err := NewInterpreter().Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, models.Money(150000), event.Amount)
}

func TestParseUsesClockWithoutTransactionTime(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	n := settlement("SPP-42-1705287600", "150000.00")
	n.TransactionTime = ""

	event, err := NewInterpreter(WithInterpreterClock(func() time.Time { return now })).Parse(notificationBody(t, n))
	require.NoError(t, err)
	assert.Equal(t, now, event.OccurredAt)
}

func TestNormalizeState(t *testing.T) {
	cases := []struct {
		status, fraud string
		want          models.GatewayState
	}{
		{"capture", "accept", models.GatewayStateCaptureAccepted},
		{"capture", "challenge", models.GatewayStateUnknown},
		{"settlement", "", models.GatewayStateSettlement},
		{"pending", "", models.GatewayStatePending},
		{"deny", "", models.GatewayStateDenied},
		{"cancel", "", models.GatewayStateCancelled},
		{"expire", "", models.GatewayStateExpired},
		{"refund", "", models.GatewayStateUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeState(tc.status, tc.fraud), tc.status+"/"+tc.fraud)
	}
}

func TestParseOrderID(t *testing.T) {
	kind, billID, err := ParseOrderID("SPP-7")
	require.NoError(t, err)
	assert.Equal(t, models.OrderKindFull, kind)
	assert.Equal(t, int64(7), billID)

	_, _, err = ParseOrderID("CICILAN-7")
	assert.ErrorIs(t, err, models.ErrMalformedOrderID)
	_, _, err = ParseOrderID("SPP-0-1")
	assert.ErrorIs(t, err, models.ErrMalformedOrderID)
}
