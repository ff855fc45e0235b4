package models

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusUnpaid  Status = "unpaid"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// DeriveStatus is the only place a bill status is computed from amounts.
func DeriveStatus(totalDue, amountPaid Money) Status {
	switch {
	case amountPaid >= totalDue:
		return StatusPaid
	case amountPaid > 0:
		return StatusPartial
	default:
		return StatusUnpaid
	}
}

// ParseStatus normalizes stored status values, including legacy synonyms.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "unpaid", "pending", "":
		return StatusUnpaid, nil
	case "partial", "cicilan":
		return StatusPartial, nil
	case "paid", "lunas", "verified":
		return StatusPaid, nil
	case "failed", "rejected":
		return StatusFailed, nil
	}
	return "", fmt.Errorf("unknown bill status %q", raw)
}

// Synonyms returns every stored spelling that ParseStatus maps onto s.
func (s Status) Synonyms() []string {
	switch s {
	case StatusUnpaid:
		return []string{"unpaid", "pending"}
	case StatusPartial:
		return []string{"partial", "cicilan"}
	case StatusPaid:
		return []string{"paid", "lunas", "verified"}
	case StatusFailed:
		return []string{"failed", "rejected"}
	}
	return nil
}

// IsOpen reports whether the bill still expects money.
func (s Status) IsOpen() bool {
	return s == StatusUnpaid || s == StatusPartial
}

// BillFilter selects bills for administrative listings. A zero Status lists all.
type BillFilter struct {
	Status Status
	Limit  int
}

// Period is the month/year a bill covers. Display only.
type Period struct {
	Month string `json:"month"`
	Year  int    `json:"year"`
}

var monthNumbers = map[string]int{
	"januari": 1, "februari": 2, "maret": 3, "april": 4, "mei": 5, "juni": 6,
	"juli": 7, "agustus": 8, "september": 9, "oktober": 10, "november": 11, "desember": 12,
}

// MonthNumber returns 1-12 for Indonesian month names and 99 for anything else.
func (p Period) MonthNumber() int {
	if n, ok := monthNumbers[strings.ToLower(strings.TrimSpace(p.Month))]; ok {
		return n
	}
	return 99
}

func (p Period) String() string {
	if p.Month == "" {
		return fmt.Sprintf("%d", p.Year)
	}
	return fmt.Sprintf("%s %d", p.Month, p.Year)
}

// Bill is a single period's amount owed by one account.
type Bill struct {
	ID                int64      `json:"id"`
	OwnerID           int64      `json:"owner_id"`
	Period            Period     `json:"period"`
	TotalDue          Money      `json:"total_due"`
	AmountPaid        Money      `json:"amount_paid"`
	Status            Status     `json:"status"`
	LastPaymentMethod string     `json:"last_payment_method,omitempty"`
	LastPaymentAt     *time.Time `json:"last_payment_at,omitempty"`
	Version           int64      `json:"version"`
}

// Remaining returns the outstanding balance, never negative.
func (b Bill) Remaining() Money {
	if b.AmountPaid >= b.TotalDue {
		return 0
	}
	return b.TotalDue - b.AmountPaid
}

// MinimumPayment is the smallest installment accepted for checkout.
func (b Bill) MinimumPayment() Money {
	return MinMoney(MinInstallment, b.Remaining())
}

// MinInstallment is the floor for gateway installment checkouts.
const MinInstallment Money = 50000

// MinManualPayment is the floor for administrator-entered payments.
const MinManualPayment Money = 1000
