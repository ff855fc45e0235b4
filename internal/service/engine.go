package service

import (
	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

const (
	methodGateway      = "Midtrans"
	methodManual       = "Manual (Petugas)"
	methodVerification = "Verifikasi Petugas"
	installmentSuffix  = " (Cicilan)"
)

// Result is the engine's decision for an accepted event.
type Result struct {
	Bill         models.Bill
	Requested    models.Money
	Applied      models.Money
	Excess       models.Money
	Notification models.NotificationIntent
}

// Engine decides how a payment event changes a bill. It holds no state and never
// reads the clock, so the same inputs always produce the same result.
type Engine struct{}

// Apply computes the bill after event. The input bill is never modified.
//
// Gateway webhooks are clamped to the remaining balance because the money has
// already been captured; direct client and admin payments are rejected with an
// *models.OverLimitError instead so the caller can correct the amount.
func (Engine) Apply(bill models.Bill, event models.PaymentEvent) (Result, error) {
	if bill.Status == models.StatusPaid || bill.Remaining() == 0 {
		return Result{}, models.ErrAlreadySettled
	}
	if event.Source == models.SourceGatewayWebhook && !event.GatewayState.IsSuccess() {
		return Result{}, models.ErrGatewayNotSettled
	}

	remaining := bill.Remaining()
	requested := event.Amount
	if event.SettleInFull {
		requested = remaining
	}
	if requested <= 0 {
		return Result{}, models.ErrNonPositiveAmount
	}

	applied := requested
	if requested > remaining {
		if event.Source != models.SourceGatewayWebhook {
			return Result{}, &models.OverLimitError{Requested: requested, Remaining: remaining}
		}
		applied = remaining
	}
	if event.Source == models.SourceAdminManual && !event.SettleInFull {
		if minimum := models.MinMoney(models.MinManualPayment, remaining); requested < minimum {
			return Result{}, &models.BelowMinimumError{Requested: requested, Minimum: minimum}
		}
	}

	next := bill
	next.AmountPaid = bill.AmountPaid + applied
	next.Status = models.DeriveStatus(next.TotalDue, next.AmountPaid)
	next.LastPaymentMethod = methodLabel(event)
	occurredAt := event.OccurredAt
	next.LastPaymentAt = &occurredAt

	result := Result{
		Bill:      next,
		Requested: requested,
		Applied:   applied,
		Excess:    requested - applied,
	}
	result.Notification = composeNotification(next, event, result)
	return result, nil
}

// MarkFailed moves a bill with nothing paid to failed.
func (Engine) MarkFailed(bill models.Bill) (models.Bill, error) {
	switch {
	case bill.Status == models.StatusFailed:
		return bill, nil
	case bill.Status == models.StatusPaid, bill.AmountPaid > 0:
		return bill, models.ErrInvalidTransition
	}
	next := bill
	next.Status = models.StatusFailed
	return next, nil
}

func methodLabel(event models.PaymentEvent) string {
	label := event.MethodLabel
	if label == "" {
		switch {
		case event.Source == models.SourceAdminManual && event.SettleInFull:
			label = methodVerification
		case event.Source == models.SourceAdminManual:
			label = methodManual
		default:
			label = methodGateway
		}
	}
	if event.IsInstallment() {
		label += installmentSuffix
	}
	return label
}
