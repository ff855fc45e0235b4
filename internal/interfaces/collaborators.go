package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

// GatewayClient talks to the payment gateway.
type GatewayClient interface {
	CreateCheckout(ctx context.Context, order models.CheckoutOrder) (models.CheckoutSession, error)
	QueryStatus(ctx context.Context, orderID string) (models.GatewayStatus, error)
}

// Notifier delivers push notifications to a device.
type Notifier interface {
	Send(ctx context.Context, deviceToken string, notification models.NotificationIntent) error
}

// EventPublisher emits domain events after a committed state change.
type EventPublisher interface {
	PublishBillPayment(ctx context.Context, bill models.Bill, record models.AppliedEventRecord) error
}

// BillLocker serializes reconciliations of one bill across instances.
type BillLocker interface {
	// TryLock returns false when another worker holds the bill.
	TryLock(ctx context.Context, billID int64, ttl time.Duration) (unlock func(), ok bool, err error)
}
