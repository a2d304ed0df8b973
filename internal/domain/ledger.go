package domain

import "time"

// EntryKind classifies one financial effect of a booking event.
type EntryKind string

const (
	EntryCredit     EntryKind = "credit"
	EntryDebit      EntryKind = "debit"
	EntryFee        EntryKind = "fee"
	EntryRefund     EntryKind = "refund"
	EntryFeeRefund  EntryKind = "fee_refund"
	EntryChargeback EntryKind = "chargeback"
	EntryPayout     EntryKind = "payout"
)

// LedgerEntry is an append-only accounting record. Amounts are signed minor
// units in the canonical currency: money received by the platform is
// positive, money owed or paid out is negative. A confirmation inserts the
// balanced triple credit(+total), debit(-partnerNet), fee(-commission);
// compensating entries restore the per-booking sum to zero after a refund.
// Entries are never mutated or deleted; corrections insert new entries.
type LedgerEntry struct {
	ID          int64
	TenantID    int64
	BookingID   string
	AmountMinor int64
	Currency    string
	Kind        EntryKind
	Ref         string // processor reference, dedupes compensating entries
	CreatedAt   time.Time
}

// NetMinor sums signed entry amounts for one booking. Zero after the initial
// triple, and zero again once a full refund has been compensated.
func NetMinor(entries []LedgerEntry) int64 {
	var n int64
	for _, e := range entries {
		n += e.AmountMinor
	}
	return n
}

// ConfirmationEntries builds the initial triple for a confirmed booking.
// total == commission + partnerNet must hold.
func ConfirmationEntries(tenantID int64, bookingID, currency, ref string, total, commission, partnerNet int64) []LedgerEntry {
	return []LedgerEntry{
		{TenantID: tenantID, BookingID: bookingID, AmountMinor: total, Currency: currency, Kind: EntryCredit, Ref: ref},
		{TenantID: tenantID, BookingID: bookingID, AmountMinor: -partnerNet, Currency: currency, Kind: EntryDebit, Ref: ref},
		{TenantID: tenantID, BookingID: bookingID, AmountMinor: -commission, Currency: currency, Kind: EntryFee, Ref: ref},
	}
}

// RefundEntries builds the compensating set for a refund of amount refunded
// with feeRefund of the original commission returned. The partner-net
// reversal is the remainder, so the three entries sum to zero against the
// original triple.
func RefundEntries(tenantID int64, bookingID, currency, ref string, refunded, feeRefund int64) []LedgerEntry {
	return []LedgerEntry{
		{TenantID: tenantID, BookingID: bookingID, AmountMinor: -refunded, Currency: currency, Kind: EntryRefund, Ref: ref},
		{TenantID: tenantID, BookingID: bookingID, AmountMinor: feeRefund, Currency: currency, Kind: EntryFeeRefund, Ref: ref},
		{TenantID: tenantID, BookingID: bookingID, AmountMinor: refunded - feeRefund, Currency: currency, Kind: EntryDebit, Ref: ref},
	}
}

// ChargebackEntries mirrors RefundEntries for a processor-side dispute: the
// gross is clawed back and the original triple is reversed.
func ChargebackEntries(tenantID int64, bookingID, currency, ref string, total, commission int64) []LedgerEntry {
	return []LedgerEntry{
		{TenantID: tenantID, BookingID: bookingID, AmountMinor: -total, Currency: currency, Kind: EntryChargeback, Ref: ref},
		{TenantID: tenantID, BookingID: bookingID, AmountMinor: commission, Currency: currency, Kind: EntryFeeRefund, Ref: ref},
		{TenantID: tenantID, BookingID: bookingID, AmountMinor: total - commission, Currency: currency, Kind: EntryDebit, Ref: ref},
	}
}

// CommissionMinor computes the platform's cut with floor semantics via
// integer basis-point math, so the partner never receives less than the
// exact complement.
func CommissionMinor(totalMinor int64, commissionBps int) int64 {
	return totalMinor * int64(commissionBps) / 10000
}
