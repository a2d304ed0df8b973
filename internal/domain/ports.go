package domain

import "context"

// BookingStore is the persisted booking/ledger port. Status-changing writes
// are conditional on the expected current status; Confirm and ApplyRefund
// are atomic units so a booking is never marked without its ledger entries
// or vice versa.
type BookingStore interface {
	InsertBooking(ctx context.Context, b Booking) error
	// DeletePendingBooking is the compensating rollback when checkout-session
	// creation fails; it only removes rows still in pending.
	DeletePendingBooking(ctx context.Context, id string) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	// GetSettlementView loads the booking joined with its property's owning
	// tenant and that tenant's commission rate.
	GetSettlementView(ctx context.Context, id string) (SettlementView, error)
	// UpdateStatus applies "set status=to where status=from". Zero affected
	// rows yields ErrConflict: someone else already handled the transition.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	// Confirm atomically flips pending->confirmed, stores the processor txn
	// id and commission split, records the payment and inserts the ledger
	// triple. Returns false without side effects when the booking was not
	// pending anymore.
	Confirm(ctx context.Context, c Confirmation) (bool, error)
	// ApplyRefund atomically applies a status transition and inserts
	// compensating entries. Returns false without side effects when the
	// transition no longer applies or the same Ref was already recorded.
	ApplyRefund(ctx context.Context, r RefundApplication) (bool, error)
	InsertRefundJob(ctx context.Context, j RefundJob) error
	ListLedgerEntries(ctx context.Context, bookingID string) ([]LedgerEntry, error)
}

// CatalogReader reads the property/room/rate catalog. Read-only here.
type CatalogReader interface {
	// GetRoomRate returns the joined view, verifying that rate, room and
	// property form one chain. ErrPricing when they do not.
	GetRoomRate(ctx context.Context, propertyID, roomTypeID, ratePlanID int64) (RoomRateView, error)
}

// RateStore persists the exchange-rate table keyed by (base, quote).
type RateStore interface {
	LoadRates(ctx context.Context, base string) (map[string]float64, error)
	UpsertRates(ctx context.Context, base string, rates map[string]float64) error
}

// RateFeed is the external exchange-rate provider.
type RateFeed interface {
	FetchRates(ctx context.Context, base string) (map[string]float64, error)
}

// PaymentProvider is the external processor boundary.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error)
	RefundCharge(ctx context.Context, txnID string, amountMinor int64) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// EventPublisher emits best-effort domain events for downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

// SettlementView is the read-only join consumed by the settlement handler.
type SettlementView struct {
	Booking       Booking
	TenantID      int64
	CommissionBps int
}

// Confirmation is the atomic write unit for a verified payment-completed
// event.
type Confirmation struct {
	BookingID       string
	TxnID           string
	CommissionMinor int64
	PartnerNetMinor int64
	Payment         PaymentRecord
	Entries         []LedgerEntry
}

// RefundApplication is the atomic write unit for refund/chargeback
// corrections. From lists the statuses the transition may apply from.
type RefundApplication struct {
	BookingID string
	From      []Status
	To        Status
	Ref       string
	Entries   []LedgerEntry
}

// CheckoutParams carries what the payment-session endpoint needs; the
// booking id is echoed back verbatim by the completion webhook.
type CheckoutParams struct {
	Reference   string // booking id
	AmountMinor int64
	Currency    string // display currency
	Description string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the opaque handle used to redirect the payer.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentEvent is a processor webhook payload after parsing, independent of
// the delivery mechanism.
type PaymentEvent struct {
	Type        string // checkout.completed | charge.refunded | charge.dispute.created
	TxnID       string
	RefundID    string
	BookingID   string // correlation key passed at session creation
	AmountMinor int64
	Currency    string
}

const (
	EventCheckoutCompleted = "checkout.completed"
	EventChargeRefunded    = "charge.refunded"
	EventChargeDisputed    = "charge.dispute.created"
)
