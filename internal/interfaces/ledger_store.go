package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

// LedgerStore defines the contract for bill data access
type LedgerStore interface {
	GetBill(ctx context.Context, id int64) (*models.Bill, error)
	// WithinUnit runs fn in one transaction; any error from fn rolls it back.
	WithinUnit(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
	InsertNotificationInbox(ctx context.Context, entry models.InboxEntry) error
	ListAppliedEvents(ctx context.Context, billID int64) ([]models.AppliedEventRecord, error)
	// ListOwnerAppliedEvents returns every applied payment of ownerID, newest first.
	ListOwnerAppliedEvents(ctx context.Context, ownerID int64) ([]models.AppliedEventRecord, error)
	ListBillsByOwner(ctx context.Context, ownerID int64) ([]models.Bill, error)
	// ListBills returns bills matching filter, most recently updated first.
	ListBills(ctx context.Context, filter models.BillFilter) ([]models.Bill, error)
	InsertCheckout(ctx context.Context, checkout models.Checkout) error
	// GetCheckout returns models.ErrCheckoutNotFound for unknown orders.
	GetCheckout(ctx context.Context, orderID string) (*models.Checkout, error)
	UpdateCheckoutStatus(ctx context.Context, orderID string, status models.CheckoutStatus) error
	DeviceToken(ctx context.Context, ownerID int64) (string, error)
}

// LedgerTx is the transactional view used by one reconciliation.
type LedgerTx interface {
	GetBill(ctx context.Context, id int64) (*models.Bill, error)
	// UpdateBill writes bill when the stored version still equals expectedVersion.
	UpdateBill(ctx context.Context, bill models.Bill, expectedVersion int64) (bool, error)
	HasAppliedEvent(ctx context.Context, dedupeKey string) (bool, error)
	// AppendAppliedEvent returns false when the dedupe key already exists.
	AppendAppliedEvent(ctx context.Context, record models.AppliedEventRecord) (bool, error)
}
