package models

import "errors"

type OutcomeKind string

const (
	OutcomeApplied   OutcomeKind = "applied"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeNoOp      OutcomeKind = "noop"
)

// Outcome is the successful result of one reconciliation.
type Outcome struct {
	Kind         OutcomeKind
	Bill         Bill
	Reason       string
	Applied      Money
	Notification *NotificationIntent
}

// Tag renders the response contract tag for a reconciliation result.
func Tag(outcome Outcome, err error) string {
	if err == nil {
		return string(outcome.Kind)
	}
	var overLimit *OverLimitError
	switch {
	case errors.Is(err, ErrBillNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrRetryable):
		return "retryable_failure"
	case errors.As(err, &overLimit):
		return "rejected:over_limit"
	case errors.Is(err, ErrBelowMinimum):
		return "rejected:below_minimum"
	case errors.Is(err, ErrNonPositiveAmount):
		return "rejected:non_positive_amount"
	case errors.Is(err, ErrInvalidSignature):
		return "rejected:invalid_signature"
	case errors.Is(err, ErrMalformedEvent):
		return "rejected:malformed_event"
	case errors.Is(err, ErrInvalidTransition):
		return "rejected:invalid_transition"
	case errors.Is(err, ErrAlreadySettled):
		return "rejected:already_settled"
	}
	return "retryable_failure"
}
