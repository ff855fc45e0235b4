package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

// statusFor maps a reconciliation error onto an HTTP status.
func statusFor(err error) int {
	var (
		overLimit    *models.OverLimitError
		belowMinimum *models.BelowMinimumError
	)
	switch {
	case errors.Is(err, models.ErrBillNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden), errors.Is(err, models.ErrInvalidSignature):
		return http.StatusForbidden
	case errors.Is(err, models.ErrRetryable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrAlreadySettled):
		return http.StatusConflict
	case errors.As(err, &overLimit), errors.As(err, &belowMinimum),
		errors.Is(err, models.ErrNonPositiveAmount), errors.Is(err, models.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrMalformedEvent):
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

func respondError(c *gin.Context, err error) {
	body := gin.H{
		"status":  false,
		"outcome": models.Tag(models.Outcome{}, err),
		"error":   err.Error(),
	}
	var (
		overLimit    *models.OverLimitError
		belowMinimum *models.BelowMinimumError
	)
	switch {
	case errors.As(err, &overLimit):
		body["remaining"] = overLimit.Remaining
	case errors.As(err, &belowMinimum):
		body["minimum_payment"] = belowMinimum.Minimum
	}
	if statusFor(err) == http.StatusServiceUnavailable {
		body["error"] = "temporarily unavailable, retry later"
	}
	c.JSON(statusFor(err), body)
}

func respondOutcome(c *gin.Context, outcome models.Outcome) {
	body := gin.H{
		"status":  true,
		"outcome": string(outcome.Kind),
		"bill":    billView(outcome.Bill),
	}
	if outcome.Reason != "" {
		body["reason"] = outcome.Reason
	}
	if outcome.Kind == models.OutcomeApplied {
		body["applied_amount"] = outcome.Applied
	}
	c.JSON(http.StatusOK, body)
}

func billView(bill models.Bill) gin.H {
	return gin.H{
		"id":                  bill.ID,
		"owner_id":            bill.OwnerID,
		"month":               bill.Period.Month,
		"year":                bill.Period.Year,
		"total_due":           bill.TotalDue,
		"amount_paid":         bill.AmountPaid,
		"remaining":           bill.Remaining(),
		"status":              bill.Status,
		"last_payment_method": bill.LastPaymentMethod,
		"last_payment_at":     bill.LastPaymentAt,
	}
}
