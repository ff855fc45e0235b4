package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		raw  string
		want Money
	}{
		{"150000", 150000},
		{"150000.00", 150000},
		{" 50000.0 ", 50000},
		{"0", 0},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseMoneyRejects(t *testing.T) {
	for _, raw := range []string{"", "abc", "-100", "100.50", "1e30"} {
		_, err := ParseMoney(raw)
		assert.Error(t, err, raw)
	}
}

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, StatusUnpaid, DeriveStatus(150000, 0))
	assert.Equal(t, StatusPartial, DeriveStatus(150000, 1))
	assert.Equal(t, StatusPartial, DeriveStatus(150000, 149999))
	assert.Equal(t, StatusPaid, DeriveStatus(150000, 150000))
	assert.Equal(t, StatusPaid, DeriveStatus(0, 0))
}

func TestParseStatusSynonyms(t *testing.T) {
	cases := map[string]Status{
		"unpaid":   StatusUnpaid,
		"pending":  StatusUnpaid,
		"":         StatusUnpaid,
		"Partial":  StatusPartial,
		"cicilan":  StatusPartial,
		"lunas":    StatusPaid,
		"verified": StatusPaid,
		"rejected": StatusFailed,
	}
	for raw, want := range cases {
		got, err := ParseStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseStatus("refunded")
	assert.Error(t, err)
}

func TestBillRemainingAndMinimum(t *testing.T) {
	bill := Bill{TotalDue: 150000, AmountPaid: 120000}
	assert.Equal(t, Money(30000), bill.Remaining())
	assert.Equal(t, Money(30000), bill.MinimumPayment())

	bill.AmountPaid = 0
	assert.Equal(t, MinInstallment, bill.MinimumPayment())

	bill.AmountPaid = 200000
	assert.Equal(t, Money(0), bill.Remaining())
}

func TestTag(t *testing.T) {
	assert.Equal(t, "applied", Tag(Outcome{Kind: OutcomeApplied}, nil))
	assert.Equal(t, "not_found", Tag(Outcome{}, ErrBillNotFound))
	assert.Equal(t, "forbidden", Tag(Outcome{}, ErrForbidden))
	assert.Equal(t, "rejected:over_limit", Tag(Outcome{}, &OverLimitError{Requested: 2, Remaining: 1}))
	assert.Equal(t, "rejected:below_minimum", Tag(Outcome{}, &BelowMinimumError{Requested: 1, Minimum: 2}))
	assert.Equal(t, "rejected:malformed_event", Tag(Outcome{}, ErrMalformedOrderID))
	assert.Equal(t, "retryable_failure", Tag(Outcome{}, ErrRetryable))
}
