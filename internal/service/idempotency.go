package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/bill-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

// Guard discards payment events that were already applied. It only reads and
// appends AppliedEventRecords and must run inside the same LedgerTx as the bill
// write, otherwise two deliveries of one webhook can both pass the check.
type Guard struct{}

// DedupeKey returns the idempotency key of event. Admin entries without a
// caller-supplied token have no key and are always applied.
func DedupeKey(event models.PaymentEvent) (string, bool) {
	if orderID := strings.TrimSpace(event.ExternalOrderID); orderID != "" {
		return "order:" + orderID, true
	}
	switch event.Source {
	case models.SourceAdminManual:
		if token := strings.TrimSpace(event.IdempotencyKey); token != "" {
			return "admin:" + token, true
		}
		return "", false
	default:
		return fmt.Sprintf("%s:%d:%d:%d", event.Source, event.BillID, event.Amount, event.OccurredAt.Unix()), true
	}
}

// ShouldApply reports whether event has not been applied yet.
func (Guard) ShouldApply(ctx context.Context, tx interfaces.LedgerTx, event models.PaymentEvent) (bool, error) {
	key, ok := DedupeKey(event)
	if !ok {
		return true, nil
	}
	seen, err := tx.HasAppliedEvent(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check applied event %s: %w", key, err)
	}
	return !seen, nil
}

// Record appends record; a key collision means a concurrent delivery won.
func (Guard) Record(ctx context.Context, tx interfaces.LedgerTx, record models.AppliedEventRecord) error {
	inserted, err := tx.AppendAppliedEvent(ctx, record)
	if err != nil {
		return fmt.Errorf("append applied event: %w", err)
	}
	if !inserted {
		return models.ErrDuplicateEvent
	}
	return nil
}

func newAppliedRecord(event models.PaymentEvent, result Result, recordedAt time.Time) models.AppliedEventRecord {
	key, _ := DedupeKey(event)
	return models.AppliedEventRecord{
		ID:              uuid.NewString(),
		BillID:          result.Bill.ID,
		OwnerID:         result.Bill.OwnerID,
		DedupeKey:       key,
		Source:          event.Source,
		ExternalOrderID: event.ExternalOrderID,
		RequestedAmount: result.Requested,
		AppliedAmount:   result.Applied,
		MethodLabel:     result.Bill.LastPaymentMethod,
		TransactionID:   event.TransactionID,
		OccurredAt:      event.OccurredAt,
		RecordedAt:      recordedAt,
	}
}
