package service

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

const (
	titlePaid        = "Pembayaran SPP Lunas"
	titleInstallment = "Cicilan SPP Berhasil"
	inboxTypePayment = "Pembayaran"
)

var rupiahPrinter = message.NewPrinter(language.Indonesian)

// formatRupiah renders an amount with Indonesian digit grouping, e.g. 150.000.
func formatRupiah(m models.Money) string {
	return rupiahPrinter.Sprintf("%d", m.Int64())
}

// composeNotification builds the user-facing message for an applied event.
func composeNotification(bill models.Bill, event models.PaymentEvent, result Result) models.NotificationIntent {
	remaining := bill.Remaining()
	title, msg := notificationText(bill.Status, bill.Period, result.Applied, remaining)

	payload := map[string]any{
		"bill_id":          bill.ID,
		"month":            bill.Period.Month,
		"year":             bill.Period.Year,
		"amount":           result.Applied.Int64(),
		"requested_amount": result.Requested.Int64(),
		"total_due":        bill.TotalDue.Int64(),
		"amount_paid":      bill.AmountPaid.Int64(),
		"remaining":        remaining.Int64(),
		"status":           string(bill.Status),
		"is_installment":   bill.Status == models.StatusPartial || event.IsInstallment(),
		"source":           string(event.Source),
		"payment_method":   bill.LastPaymentMethod,
		"paid_at":          event.OccurredAt.UTC(),
	}
	if event.ExternalOrderID != "" {
		payload["order_id"] = event.ExternalOrderID
	}
	if result.Excess > 0 {
		payload["excess_amount"] = result.Excess.Int64()
	}

	return models.NotificationIntent{
		OwnerID: bill.OwnerID,
		Title:   title,
		Message: msg,
		Payload: payload,
	}
}

func notificationText(status models.Status, period models.Period, applied, remaining models.Money) (string, string) {
	if status == models.StatusPaid {
		return titlePaid, fmt.Sprintf(
			"Pembayaran SPP %s sebesar Rp %s berhasil. Tagihan telah lunas, terima kasih!",
			period.String(), formatRupiah(applied),
		)
	}
	return titleInstallment, fmt.Sprintf(
		"Cicilan SPP %s sebesar Rp %s berhasil. Sisa tagihan: Rp %s",
		period.String(), formatRupiah(applied), formatRupiah(remaining),
	)
}
