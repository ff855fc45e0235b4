package models

import (
	"errors"
	"fmt"
)

var (
	// ErrBillNotFound is returned when a bill or order cannot be resolved.
	ErrBillNotFound = errors.New("bill: not found")
	// ErrCheckoutNotFound is returned when no checkout was opened for an order.
	ErrCheckoutNotFound = errors.New("checkout: not found")
	// ErrForbidden is returned when the caller does not own the bill.
	ErrForbidden = errors.New("bill: forbidden")
	// ErrMalformedEvent is returned for unparsable payment events.
	ErrMalformedEvent = errors.New("payment: malformed event")
	// ErrMalformedOrderID is returned when an order id does not match KIND-bill-timestamp.
	ErrMalformedOrderID = fmt.Errorf("%w: malformed order id", ErrMalformedEvent)
	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("payment: invalid signature")
	// ErrNonPositiveAmount is returned when an event carries no money.
	ErrNonPositiveAmount = errors.New("payment: amount must be positive")
	// ErrBelowMinimum is returned when a checkout amount is under the minimum installment.
	ErrBelowMinimum = errors.New("payment: amount below minimum")
	// ErrAlreadySettled is returned when the bill is already paid.
	ErrAlreadySettled = errors.New("bill: already settled")
	// ErrGatewayNotSettled is returned for gateway states that carry no money.
	ErrGatewayNotSettled = errors.New("payment: gateway transaction not settled")
	// ErrInvalidTransition is returned for status changes the bill cannot take.
	ErrInvalidTransition = errors.New("bill: invalid status transition")
	// ErrStorageConflict is returned when a concurrent write changed the bill.
	ErrStorageConflict = errors.New("bill: concurrent update")
	// ErrDuplicateEvent is returned when an idempotency key was already recorded.
	ErrDuplicateEvent = errors.New("payment: duplicate event")
	// ErrRetryable marks failures the caller should retry.
	ErrRetryable = errors.New("payment: retryable failure")
)

// OverLimitError is returned when a direct payment exceeds the remaining balance.
type OverLimitError struct {
	Requested Money
	Remaining Money
}

func (e *OverLimitError) Error() string {
	return fmt.Sprintf("payment: amount %d exceeds remaining balance %d", e.Requested, e.Remaining)
}

// BelowMinimumError carries the minimum accepted amount.
type BelowMinimumError struct {
	Requested Money
	Minimum   Money
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("payment: amount %d below minimum %d", e.Requested, e.Minimum)
}

func (e *BelowMinimumError) Unwrap() error { return ErrBelowMinimum }
