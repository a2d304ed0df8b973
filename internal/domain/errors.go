package domain

import "errors"

var (
	// ErrNotFound is returned when a booking or catalog row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed or inconsistent input to booking
	// creation (bad dates, zero guests). Surfaced synchronously, not retried.
	ErrValidation = errors.New("validation failed")

	// ErrPricing is returned when the requested room/rate no longer matches
	// the property's current catalog.
	ErrPricing = errors.New("no applicable rate")

	// ErrPaymentUnavailable marks a failed or timed-out checkout-session
	// creation. The pending booking has already been rolled back; callers
	// may retry.
	ErrPaymentUnavailable = errors.New("payment service unavailable")

	// ErrMalformedEvent marks a webhook payload missing required
	// correlation data. Rejected non-2xx so the sender retries or alerts.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrRateUnavailable is the non-fatal signal that no exchange rate
	// exists for a requested pair; conversion fell back to identity.
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// ErrForbidden is returned when the requester does not own the booking.
	ErrForbidden = errors.New("forbidden")

	// ErrNotCancellable is returned when the booking status or rate plan
	// policy does not permit cancellation.
	ErrNotCancellable = errors.New("not cancellable")

	// ErrNoChargeToRefund signals a refund request against a booking with
	// no settled charge; there is nothing to reverse.
	ErrNoChargeToRefund = errors.New("no charge to refund")

	// ErrConflict is returned when a conditional status update applied to
	// zero rows: someone else already handled the transition.
	ErrConflict = errors.New("conflicting status transition")
)
