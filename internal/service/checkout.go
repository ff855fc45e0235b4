package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/bill-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
	"github.com/akylbek/payment-system/bill-reconciler/internal/telemetry"
)

// CheckoutRequest asks the gateway for a payment page on one bill.
type CheckoutRequest struct {
	CallerID    int64
	BillID      int64
	Amount      models.Money
	Installment bool
	Customer    models.Customer
}

// CheckoutResult is what the student needs to open the gateway payment page.
type CheckoutResult struct {
	Session         models.CheckoutSession
	OrderID         string
	Amount          models.Money
	Bill            models.Bill
	RemainingAfter  models.Money
	WillBeFullyPaid bool
}

type CheckoutService struct {
	store   interfaces.LedgerStore
	gateway interfaces.GatewayClient
	now     func() time.Time
}

func NewCheckoutService(store interfaces.LedgerStore, gateway interfaces.GatewayClient, now func() time.Time) *CheckoutService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &CheckoutService{store: store, gateway: gateway, now: now}
}

// OrderID encodes kind and bill as KIND-bill-unix, the format the webhook interpreter reads back.
func OrderID(kind models.OrderKind, billID int64, at time.Time) string {
	return fmt.Sprintf("%s-%d-%d", kind, billID, at.Unix())
}

// CreateCheckout validates the amount against the bill and opens a gateway checkout.
// Full payments always charge the remaining balance.
func (s *CheckoutService) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	bill, err := s.store.GetBill(ctx, req.BillID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if req.CallerID != 0 && bill.OwnerID != req.CallerID {
		return CheckoutResult{}, models.ErrForbidden
	}
	remaining := bill.Remaining()
	if bill.Status == models.StatusPaid || remaining == 0 {
		return CheckoutResult{}, models.ErrAlreadySettled
	}

	kind := models.OrderKindFull
	amount := remaining
	if req.Installment {
		kind = models.OrderKindInstallment
		amount = req.Amount
		if amount <= 0 {
			return CheckoutResult{}, models.ErrNonPositiveAmount
		}
		if amount > remaining {
			return CheckoutResult{}, &models.OverLimitError{Requested: amount, Remaining: remaining}
		}
		if minimum := bill.MinimumPayment(); amount < minimum {
			return CheckoutResult{}, &models.BelowMinimumError{Requested: amount, Minimum: minimum}
		}
	}

	now := s.now()
	orderID := OrderID(kind, bill.ID, now)
	itemID := fmt.Sprintf("spp-%d", bill.ID)
	description := "SPP " + bill.Period.String()
	if kind == models.OrderKindInstallment {
		itemID = fmt.Sprintf("cicilan-spp-%d", bill.ID)
		description = "Cicilan SPP " + bill.Period.String()
	}

	session, err := s.gateway.CreateCheckout(ctx, models.CheckoutOrder{
		OrderID:         orderID,
		Amount:          amount,
		CustomerName:    req.Customer.Name,
		CustomerEmail:   req.Customer.Email,
		CustomerPhone:   req.Customer.Phone,
		ItemID:          itemID,
		ItemDescription: description,
	})
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: create checkout %s: %w", models.ErrRetryable, orderID, err)
	}

	if err := s.store.InsertCheckout(ctx, models.Checkout{
		OrderID:   orderID,
		BillID:    bill.ID,
		OwnerID:   bill.OwnerID,
		Amount:    amount,
		Kind:      kind,
		Token:     session.Token,
		Status:    models.CheckoutPending,
		CreatedAt: now,
	}); err != nil {
		// The gateway session exists; the webhook reconciles it without the pending row.
		telemetry.Logger.Warn("Failed to store pending checkout",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}

	telemetry.Logger.Info("Checkout created",
		zap.Int64("bill_id", bill.ID),
		zap.String("order_id", orderID),
		zap.Int64("amount", amount.Int64()),
	)

	return CheckoutResult{
		Session:         session,
		OrderID:         orderID,
		Amount:          amount,
		Bill:            *bill,
		RemainingAfter:  remaining - amount,
		WillBeFullyPaid: amount >= remaining,
	}, nil
}
