package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"staybook/internal/domain"
)

// SettlementService consumes payment-processor events. Delivery is
// at-least-once, so every path is safe to run more than once for the same
// event: a booking already confirmed short-circuits, and Confirm itself is
// a conditional atomic unit.
type SettlementService struct {
	store   domain.BookingStore
	refunds *RefundService
	cache   domain.Cache
	events  domain.EventPublisher
	now     func() time.Time
}

func NewSettlementService(store domain.BookingStore, refunds *RefundService, cache domain.Cache, events domain.EventPublisher) *SettlementService {
	return &SettlementService{store: store, refunds: refunds, cache: cache, events: events, now: time.Now}
}

// HandleEvent routes a parsed processor event. Refund and dispute
// notifications go to the ledger-correction path; unrecognized kinds are
// acknowledged and logged so the sender does not retry them forever.
func (s *SettlementService) HandleEvent(ctx context.Context, ev domain.PaymentEvent) error {
	switch ev.Type {
	case domain.EventCheckoutCompleted:
		return s.HandlePaymentCompleted(ctx, ev)
	case domain.EventChargeRefunded:
		return s.refunds.HandleProcessorRefund(ctx, ev)
	case domain.EventChargeDisputed:
		return s.refunds.HandleChargeback(ctx, ev)
	default:
		log.Warn().Str("type", ev.Type).Msg("ignoring unrecognized processor event")
		return nil
	}
}

// HandlePaymentCompleted confirms the referenced booking exactly once:
// it computes the commission split, stores the processor transaction id,
// records the payment and inserts the ledger triple in one transaction.
func (s *SettlementService) HandlePaymentCompleted(ctx context.Context, ev domain.PaymentEvent) error {
	if ev.BookingID == "" || ev.TxnID == "" {
		return fmt.Errorf("%w: missing booking reference or transaction id", domain.ErrMalformedEvent)
	}

	view, err := s.store.GetSettlementView(ctx, ev.BookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown booking reference %s", domain.ErrMalformedEvent, ev.BookingID)
		}
		return err
	}
	b := view.Booking

	// Primary defense against duplicate delivery.
	if b.Status == domain.StatusConfirmed {
		log.Info().Str("booking", b.ID).Msg("booking already confirmed, duplicate event ignored")
		return nil
	}
	if b.Status != domain.StatusPending {
		// e.g. cancelled before the delayed webhook arrived; never downgrade
		log.Warn().Str("booking", b.ID).Str("status", string(b.Status)).Msg("refusing confirmation, booking is not pending")
		return nil
	}

	commission := domain.CommissionMinor(b.TotalMinor, view.CommissionBps)
	partnerNet := b.TotalMinor - commission

	charged := ev.AmountMinor
	chargedCur := ev.Currency
	if charged == 0 {
		charged = b.TotalDisplayMinor
		chargedCur = b.DisplayCurrency
	}

	applied, err := s.store.Confirm(ctx, domain.Confirmation{
		BookingID:       b.ID,
		TxnID:           ev.TxnID,
		CommissionMinor: commission,
		PartnerNetMinor: partnerNet,
		Payment: domain.PaymentRecord{
			ID:          uuid.NewString(),
			BookingID:   b.ID,
			TxnID:       ev.TxnID,
			AmountMinor: charged,
			Currency:    chargedCur,
			Captured:    true,
			CreatedAt:   s.now().UTC(),
		},
		Entries: domain.ConfirmationEntries(view.TenantID, b.ID, b.Currency, ev.TxnID, b.TotalMinor, commission, partnerNet),
	})
	if err != nil {
		return err
	}
	if !applied {
		// lost the race to another delivery of the same event
		log.Info().Str("booking", b.ID).Msg("confirmation already applied concurrently")
		return nil
	}

	_ = s.cache.Del(ctx, bookingCacheKey(b.ID))

	log.Info().
		Str("booking", b.ID).
		Str("txn", ev.TxnID).
		Int64("total_minor", b.TotalMinor).
		Int64("commission_minor", commission).
		Int64("partner_net_minor", partnerNet).
		Msg("booking confirmed")

	if s.events != nil {
		if perr := s.events.Publish(ctx, QueueBookingConfirmed, BookingEvent{BookingID: b.ID, Status: domain.StatusConfirmed, At: s.now().UTC()}); perr != nil {
			log.Warn().Err(perr).Str("booking", b.ID).Msg("publish booking.confirmed failed")
		}
	}
	return nil
}
