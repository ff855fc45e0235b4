package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in the smallest currency unit (rupiah).
type Money int64

// ParseMoney converts a gateway amount string such as "150000.00" to Money.
func ParseMoney(raw string) (Money, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("money: empty amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", raw, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("money: negative amount %q", raw)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("money: fractional amount %q", raw)
	}
	if d.GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("money: amount out of range %q", raw)
	}
	return Money(d.IntPart()), nil
}

// Int64 returns the raw amount.
func (m Money) Int64() int64 { return int64(m) }

func (m Money) String() string {
	return decimal.NewFromInt(int64(m)).String()
}

// MinMoney returns the smaller of a and b.
func MinMoney(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}
