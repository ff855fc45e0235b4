package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

var paidAt = time.Date(2024, 1, 15, 3, 0, 0, 0, time.UTC)

func januaryBill() models.Bill {
	return models.Bill{
		ID:       42,
		OwnerID:  7,
		Period:   models.Period{Month: "Januari", Year: 2024},
		TotalDue: 150000,
		Status:   models.StatusUnpaid,
	}
}

func webhookEvent(kind models.OrderKind, amount models.Money, state models.GatewayState) models.PaymentEvent {
	return models.PaymentEvent{
		Source:          models.SourceGatewayWebhook,
		BillID:          42,
		ExternalOrderID: string(kind) + "-42-1705287600",
		Kind:            kind,
		Amount:          amount,
		MethodLabel:     "bank_transfer",
		OccurredAt:      paidAt,
		GatewayState:    state,
	}
}

func TestApplyFullSettlement(t *testing.T) {
	result, err := Engine{}.Apply(januaryBill(), webhookEvent(models.OrderKindFull, 150000, models.GatewayStateSettlement))
	require.NoError(t, err)

	assert.Equal(t, models.Money(150000), result.Bill.AmountPaid)
	assert.Equal(t, models.StatusPaid, result.Bill.Status)
	assert.Equal(t, "bank_transfer", result.Bill.LastPaymentMethod)
	require.NotNil(t, result.Bill.LastPaymentAt)
	assert.Equal(t, paidAt, *result.Bill.LastPaymentAt)
	assert.Equal(t, "Pembayaran SPP Lunas", result.Notification.Title)
	assert.Equal(t, int64(7), result.Notification.OwnerID)
}

func TestApplyInstallmentThenCompletion(t *testing.T) {
	bill := januaryBill()

	first, err := Engine{}.Apply(bill, webhookEvent(models.OrderKindInstallment, 50000, models.GatewayStateSettlement))
	require.NoError(t, err)
	assert.Equal(t, models.Money(50000), first.Bill.AmountPaid)
	assert.Equal(t, models.StatusPartial, first.Bill.Status)
	assert.Equal(t, "bank_transfer (Cicilan)", first.Bill.LastPaymentMethod)
	assert.Equal(t, "Cicilan SPP Berhasil", first.Notification.Title)
	assert.Equal(t, int64(100000), first.Notification.Payload["remaining"])
	assert.Contains(t, first.Notification.Message, "Sisa tagihan: Rp 100.000")

	second, err := Engine{}.Apply(first.Bill, webhookEvent(models.OrderKindInstallment, 100000, models.GatewayStateCaptureAccepted))
	require.NoError(t, err)
	assert.Equal(t, models.Money(150000), second.Bill.AmountPaid)
	assert.Equal(t, models.StatusPaid, second.Bill.Status)
	assert.Equal(t, "Pembayaran SPP Lunas", second.Notification.Title)
}

func TestApplyClampsGatewayOverpayment(t *testing.T) {
	bill := januaryBill()
	bill.AmountPaid = 120000
	bill.Status = models.StatusPartial

	result, err := Engine{}.Apply(bill, webhookEvent(models.OrderKindInstallment, 50000, models.GatewayStateSettlement))
	require.NoError(t, err)

	assert.Equal(t, models.Money(150000), result.Bill.AmountPaid)
	assert.Equal(t, models.StatusPaid, result.Bill.Status)
	assert.Equal(t, models.Money(30000), result.Applied)
	assert.Equal(t, models.Money(20000), result.Excess)
	assert.Equal(t, int64(20000), result.Notification.Payload["excess_amount"])
	assert.Equal(t, int64(50000), result.Notification.Payload["requested_amount"])
}

func TestApplyRejectsDirectOverpayment(t *testing.T) {
	bill := januaryBill()
	bill.AmountPaid = 120000
	bill.Status = models.StatusPartial

	for _, source := range []models.Source{models.SourceClientReported, models.SourceAdminManual} {
		_, err := Engine{}.Apply(bill, models.PaymentEvent{
			Source:     source,
			BillID:     bill.ID,
			Amount:     50000,
			OccurredAt: paidAt,
		})
		var overLimit *models.OverLimitError
		require.ErrorAs(t, err, &overLimit, source)
		assert.Equal(t, models.Money(30000), overLimit.Remaining)
	}
}

func TestApplyNeverRegressesPaidBill(t *testing.T) {
	bill := januaryBill()
	bill.AmountPaid = 150000
	bill.Status = models.StatusPaid

	_, err := Engine{}.Apply(bill, webhookEvent(models.OrderKindFull, 150000, models.GatewayStateSettlement))
	assert.ErrorIs(t, err, models.ErrAlreadySettled)
}

func TestApplyIgnoresUnsettledGatewayStates(t *testing.T) {
	states := []models.GatewayState{
		models.GatewayStatePending,
		models.GatewayStateDenied,
		models.GatewayStateCancelled,
		models.GatewayStateExpired,
		models.GatewayStateUnknown,
	}
	for _, state := range states {
		_, err := Engine{}.Apply(januaryBill(), webhookEvent(models.OrderKindFull, 150000, state))
		assert.ErrorIs(t, err, models.ErrGatewayNotSettled, state)
	}
}

func TestApplyRejectsNonPositiveAmount(t *testing.T) {
	_, err := Engine{}.Apply(januaryBill(), webhookEvent(models.OrderKindFull, 0, models.GatewayStateSettlement))
	assert.ErrorIs(t, err, models.ErrNonPositiveAmount)
}

func TestApplyManualBelowMinimum(t *testing.T) {
	_, err := Engine{}.Apply(januaryBill(), models.PaymentEvent{
		Source:     models.SourceAdminManual,
		BillID:     42,
		Amount:     500,
		OccurredAt: paidAt,
	})
	assert.ErrorIs(t, err, models.ErrBelowMinimum)

	bill := januaryBill()
	bill.AmountPaid = 149500
	result, err := Engine{}.Apply(bill, models.PaymentEvent{
		Source:     models.SourceAdminManual,
		BillID:     42,
		Amount:     500,
		OccurredAt: paidAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, result.Bill.Status)
	assert.Equal(t, "Manual (Petugas)", result.Bill.LastPaymentMethod)
}

func TestApplySettleInFull(t *testing.T) {
	bill := januaryBill()
	bill.AmountPaid = 50000
	bill.Status = models.StatusPartial

	result, err := Engine{}.Apply(bill, models.PaymentEvent{
		Source:       models.SourceAdminManual,
		BillID:       42,
		OccurredAt:   paidAt,
		SettleInFull: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.Money(100000), result.Applied)
	assert.Equal(t, models.StatusPaid, result.Bill.Status)
	assert.Equal(t, "Verifikasi Petugas", result.Bill.LastPaymentMethod)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	bill := januaryBill()
	_, err := Engine{}.Apply(bill, webhookEvent(models.OrderKindInstallment, 50000, models.GatewayStateSettlement))
	require.NoError(t, err)
	assert.Equal(t, januaryBill(), bill)
}

func TestMarkFailed(t *testing.T) {
	failed, err := Engine{}.MarkFailed(januaryBill())
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)

	partial := januaryBill()
	partial.AmountPaid = 50000
	partial.Status = models.StatusPartial
	_, err = Engine{}.MarkFailed(partial)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}
