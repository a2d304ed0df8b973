package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"staybook/internal/domain"
)

// RefundService executes the monetary consequence of an already-authorized
// state change. It never decides cancellation eligibility; that guard lives
// in the booking lifecycle manager.
type RefundService struct {
	store    domain.BookingStore
	provider domain.PaymentProvider
	now      func() time.Time
}

func NewRefundService(store domain.BookingStore, provider domain.PaymentProvider) *RefundService {
	return &RefundService{store: store, provider: provider, now: time.Now}
}

// Refund is called after the booking has already been flipped to cancelled.
// It invokes the external refund endpoint and, on success, inserts the
// compensating ledger entries. Failures are not rolled back into the
// booking state: the cancellation intent stands, and a durable refund-owed
// job is recorded for manual reconciliation.
func (s *RefundService) Refund(ctx context.Context, b domain.Booking) {
	if b.ProcessorTxnID == nil || *b.ProcessorTxnID == "" {
		// payment never settled, nothing to reverse
		log.Info().Str("booking", b.ID).Msg("no charge to refund, skipping external call")
		return
	}
	txn := *b.ProcessorTxnID

	if err := s.provider.RefundCharge(ctx, txn, b.TotalDisplayMinor); err != nil {
		log.Error().Err(err).Str("booking", b.ID).Str("txn", txn).Msg("ALERT external refund failed, manual reconciliation required")
		if jerr := s.store.InsertRefundJob(ctx, domain.RefundJob{
			BookingID:   b.ID,
			TxnID:       txn,
			AmountMinor: b.TotalDisplayMinor,
			Reason:      err.Error(),
			CreatedAt:   s.now().UTC(),
		}); jerr != nil {
			log.Error().Err(jerr).Str("booking", b.ID).Msg("recording refund-owed job failed")
		}
		return
	}

	if err := s.compensate(ctx, b.ID, txn); err != nil {
		log.Error().Err(err).Str("booking", b.ID).Msg("ledger compensation after refund failed")
	}
}

// HandleProcessorRefund applies a processor-side charge-refunded event.
// The amount is reconciled against what the ledger already compensated:
// it is capped at the uncompensated remainder, so replays and overlapping
// full/partial events cannot record more refunded than was charged. The
// booking closes out to refunded once cumulative compensation reaches the
// charge, even when the final event carries only the residue.
func (s *RefundService) HandleProcessorRefund(ctx context.Context, ev domain.PaymentEvent) error {
	view, err := s.loadSettled(ctx, ev)
	if err != nil {
		return err
	}
	b := view.Booking
	commission := int64(0)
	if b.CommissionMinor != nil {
		commission = *b.CommissionMinor
	}

	refundedSoFar, feeSoFar, err := s.compensatedSoFar(ctx, b.ID)
	if err != nil {
		return err
	}
	remaining := b.TotalMinor - refundedSoFar
	if remaining <= 0 {
		log.Info().Str("booking", b.ID).Msg("charge already fully compensated, refund event ignored")
		return nil
	}

	refunded := s.canonicalRefund(b, ev.AmountMinor, ev.Currency)
	if refunded > remaining {
		refunded = remaining
	}
	ref := ev.RefundID
	if ref == "" {
		ref = ev.TxnID
	}

	to := domain.StatusPartiallyRefunded
	from := []domain.Status{domain.StatusConfirmed, domain.StatusPartiallyRefunded}
	feeRefund := int64(0)
	if b.TotalMinor > 0 {
		feeRefund = commission * refunded / b.TotalMinor
	}
	if refundedSoFar+refunded >= b.TotalMinor {
		to = domain.StatusRefunded
		from = append(from, domain.StatusCancelled)
		// the closing set returns whatever commission the earlier
		// increments have not yet given back
		feeRefund = commission - feeSoFar
	}

	applied, err := s.store.ApplyRefund(ctx, domain.RefundApplication{
		BookingID: b.ID,
		From:      from,
		To:        to,
		Ref:       ref,
		Entries:   domain.RefundEntries(view.TenantID, b.ID, b.Currency, ref, refunded, feeRefund),
	})
	if err != nil {
		return err
	}
	if !applied {
		log.Info().Str("booking", b.ID).Str("ref", ref).Msg("refund already compensated, duplicate event ignored")
		return nil
	}
	log.Info().Str("booking", b.ID).Int64("refunded_minor", refunded).Str("status", string(to)).Msg("refund recorded")
	return nil
}

// HandleChargeback applies a processor dispute: the uncompensated remainder
// of the gross is clawed back and the original triple reversed.
func (s *RefundService) HandleChargeback(ctx context.Context, ev domain.PaymentEvent) error {
	view, err := s.loadSettled(ctx, ev)
	if err != nil {
		return err
	}
	b := view.Booking
	commission := int64(0)
	if b.CommissionMinor != nil {
		commission = *b.CommissionMinor
	}

	refundedSoFar, feeSoFar, err := s.compensatedSoFar(ctx, b.ID)
	if err != nil {
		return err
	}
	remaining := b.TotalMinor - refundedSoFar
	if remaining <= 0 {
		log.Info().Str("booking", b.ID).Msg("charge already fully compensated, dispute event ignored")
		return nil
	}

	ref := ev.RefundID
	if ref == "" {
		ref = ev.TxnID + ":dispute"
	}

	applied, err := s.store.ApplyRefund(ctx, domain.RefundApplication{
		BookingID: b.ID,
		From:      []domain.Status{domain.StatusConfirmed, domain.StatusPartiallyRefunded},
		To:        domain.StatusChargeback,
		Ref:       ref,
		Entries:   domain.ChargebackEntries(view.TenantID, b.ID, b.Currency, ref, remaining, commission-feeSoFar),
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	log.Warn().Str("booking", b.ID).Str("ref", ref).Int64("clawed_back_minor", remaining).Msg("chargeback recorded")
	return nil
}

// compensate inserts the post-cancellation compensating entries once the
// external refund succeeded. Idempotent through the status guard: a booking
// already in refunded is left untouched.
func (s *RefundService) compensate(ctx context.Context, bookingID, ref string) error {
	view, err := s.store.GetSettlementView(ctx, bookingID)
	if err != nil {
		return err
	}
	b := view.Booking
	commission := int64(0)
	if b.CommissionMinor != nil {
		commission = *b.CommissionMinor
	}
	applied, err := s.store.ApplyRefund(ctx, domain.RefundApplication{
		BookingID: bookingID,
		From:      []domain.Status{domain.StatusCancelled},
		To:        domain.StatusRefunded,
		Ref:       ref,
		Entries:   domain.RefundEntries(view.TenantID, bookingID, b.Currency, ref, b.TotalMinor, commission),
	})
	if err != nil {
		return err
	}
	if !applied {
		log.Info().Str("booking", bookingID).Msg("refund compensation already applied")
		return nil
	}
	log.Info().Str("booking", bookingID).Int64("refunded_minor", b.TotalMinor).Msg("refund compensated in ledger")
	return nil
}

// loadSettled resolves the event's booking and verifies it carries a
// settled charge to reverse.
func (s *RefundService) loadSettled(ctx context.Context, ev domain.PaymentEvent) (domain.SettlementView, error) {
	if ev.BookingID == "" {
		return domain.SettlementView{}, fmt.Errorf("%w: missing booking reference", domain.ErrMalformedEvent)
	}
	view, err := s.store.GetSettlementView(ctx, ev.BookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SettlementView{}, fmt.Errorf("%w: unknown booking reference %s", domain.ErrMalformedEvent, ev.BookingID)
		}
		return domain.SettlementView{}, err
	}
	if view.Booking.ProcessorTxnID == nil {
		log.Warn().Str("booking", view.Booking.ID).Msg("refund event for booking without settled charge")
		return domain.SettlementView{}, fmt.Errorf("%w: booking %s has no settled charge", domain.ErrNoChargeToRefund, view.Booking.ID)
	}
	return view, nil
}

// compensatedSoFar sums what the ledger already reversed for a booking:
// the magnitudes of refund/chargeback entries and the fee_refund total.
func (s *RefundService) compensatedSoFar(ctx context.Context, bookingID string) (refunded, feeRefunded int64, err error) {
	entries, err := s.store.ListLedgerEntries(ctx, bookingID)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		switch e.Kind {
		case domain.EntryRefund, domain.EntryChargeback:
			refunded += -e.AmountMinor
		case domain.EntryFeeRefund:
			feeRefunded += e.AmountMinor
		}
	}
	return refunded, feeRefunded, nil
}

// canonicalRefund converts an event's refunded amount to canonical minor
// units. Refund events report the charged (display) currency; the ledger is
// always canonical, so partial refunds are scaled against the frozen totals.
func (s *RefundService) canonicalRefund(b domain.Booking, amountMinor int64, cur string) int64 {
	if amountMinor <= 0 {
		return b.TotalMinor
	}
	if cur == "" || cur == b.Currency {
		return amountMinor
	}
	if cur == b.DisplayCurrency && b.TotalDisplayMinor > 0 {
		return b.TotalMinor * amountMinor / b.TotalDisplayMinor
	}
	log.Warn().Str("booking", b.ID).Str("currency", cur).Msg("refund in unexpected currency, treating as full")
	return b.TotalMinor
}
