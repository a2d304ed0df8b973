package domain

import "time"

// Status is the lifecycle state of a booking. Transitions are applied with
// conditional updates (expected current status), so concurrent writers cannot
// both succeed.
type Status string

const (
	StatusPending           Status = "pending"
	StatusConfirmed         Status = "confirmed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusChargeback        Status = "chargeback"
	StatusNoShow            Status = "no_show"
)

// CanTransition reports whether the state machine permits from -> to.
// Confirmation only applies from pending; a cancelled booking is never
// downgraded back to confirmed by a late webhook.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed
	case StatusConfirmed:
		switch to {
		case StatusCancelled, StatusRefunded, StatusPartiallyRefunded, StatusChargeback, StatusNoShow:
			return true
		}
	case StatusCancelled:
		return to == StatusRefunded
	case StatusPartiallyRefunded:
		// may accept further refunds or a dispute; full refund closes it
		return to == StatusRefunded || to == StatusPartiallyRefunded || to == StatusChargeback
	}
	return false
}

// Booking is the central entity. Money fields are integer minor units in the
// canonical currency, except TotalDisplayMinor which is frozen in the user's
// display currency at creation time and never recomputed.
type Booking struct {
	ID         string
	UserID     string
	PropertyID int64
	RoomTypeID int64
	RatePlanID int64

	CheckIn  time.Time // calendar date, time-of-day ignored
	CheckOut time.Time
	Guests   int

	Currency          string // canonical accounting currency (USD)
	TotalMinor        int64
	DisplayCurrency   string
	TotalDisplayMinor int64

	Status Status

	// Populated exclusively on confirmation.
	CommissionMinor *int64
	PartnerNetMinor *int64
	ProcessorTxnID  *string

	CreatedAt time.Time
}

// Nights returns the stay duration in nights: ceil(days), minimum 1.
// Check-in/check-out carry no time-of-day significance.
func (b Booking) Nights() int {
	return NightsBetween(b.CheckIn, b.CheckOut)
}

func NightsBetween(checkIn, checkOut time.Time) int {
	const day = 24 * time.Hour
	d := checkOut.Sub(checkIn)
	n := int(d / day)
	if d%day != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

// PaymentRecord is the immutable audit row of what the processor reported,
// kept distinct from the booking so later corrections never erase it.
type PaymentRecord struct {
	ID          string
	BookingID   string
	TxnID       string
	AmountMinor int64
	Currency    string
	Captured    bool
	CreatedAt   time.Time
}

// RefundJob records a refund owed after the local cancellation already
// happened but the external refund call failed. Worked off manually.
type RefundJob struct {
	ID          int64
	BookingID   string
	TxnID       string
	AmountMinor int64
	Reason      string
	CreatedAt   time.Time
}
