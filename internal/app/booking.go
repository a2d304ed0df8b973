package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"staybook/internal/domain"
)

// Queue names for best-effort downstream notifications.
const (
	QueueBookingConfirmed = "booking.confirmed"
	QueueBookingCancelled = "booking.cancelled"
)

// BookingEvent is the payload published on booking lifecycle queues.
type BookingEvent struct {
	BookingID string        `json:"booking_id"`
	Status    domain.Status `json:"status"`
	At        time.Time     `json:"at"`
}

// BookingService owns the booking state machine: it creates pending
// bookings and applies the cancellation transition. All status writes go
// through conditional updates on the store.
type BookingService struct {
	store    domain.BookingStore
	catalog  domain.CatalogReader
	conv     *Converter
	cache    domain.Cache
	refunds  *RefundService
	events   domain.EventPublisher
	base     string // canonical currency
	cacheTTL time.Duration
	now      func() time.Time
}

func NewBookingService(store domain.BookingStore, catalog domain.CatalogReader, conv *Converter, cache domain.Cache, refunds *RefundService, events domain.EventPublisher, baseCurrency string, cacheTTL time.Duration) *BookingService {
	return &BookingService{
		store:    store,
		catalog:  catalog,
		conv:     conv,
		cache:    cache,
		refunds:  refunds,
		events:   events,
		base:     baseCurrency,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

type CreateBookingParams struct {
	UserID          string
	PropertyID      int64
	RoomTypeID      int64
	RatePlanID      int64
	CheckIn         time.Time
	CheckOut        time.Time
	Guests          int
	DisplayCurrency string
}

// CreatePendingBooking validates the request, freezes the total in both the
// canonical and the display currency, and persists the booking in pending.
// The display total is computed exactly once here and never recomputed from
// a later rate snapshot.
func (s *BookingService) CreatePendingBooking(ctx context.Context, p CreateBookingParams) (domain.Booking, error) {
	if p.UserID == "" {
		return domain.Booking{}, fmt.Errorf("%w: missing user", domain.ErrValidation)
	}
	if !p.CheckOut.After(p.CheckIn) {
		return domain.Booking{}, fmt.Errorf("%w: check-out must be after check-in", domain.ErrValidation)
	}
	if p.Guests < 1 {
		return domain.Booking{}, fmt.Errorf("%w: guest count must be at least 1", domain.ErrValidation)
	}

	rr, err := s.catalog.GetRoomRate(ctx, p.PropertyID, p.RoomTypeID, p.RatePlanID)
	if err != nil {
		return domain.Booking{}, err
	}

	nights := Nights(p.CheckIn, p.CheckOut)
	total := TotalCanonicalMinor(rr.Rate.NightlyMinor, nights)

	display := strings.ToUpper(p.DisplayCurrency)
	if display == "" {
		display = s.base
	}
	displayTotal, err := s.conv.Convert(total, s.base, display)
	if err != nil {
		// Best-effort display conversion only: without a rate we cannot
		// freeze a charge in the requested currency, so the payer is
		// charged in the canonical currency instead.
		log.Warn().Str("currency", display).Msg("no rate for display currency, charging canonical")
		display = s.base
		displayTotal = total
	}

	b := domain.Booking{
		ID:                uuid.NewString(),
		UserID:            p.UserID,
		PropertyID:        p.PropertyID,
		RoomTypeID:        p.RoomTypeID,
		RatePlanID:        p.RatePlanID,
		CheckIn:           p.CheckIn,
		CheckOut:          p.CheckOut,
		Guests:            p.Guests,
		Currency:          s.base,
		TotalMinor:        total,
		DisplayCurrency:   display,
		TotalDisplayMinor: displayTotal,
		Status:            domain.StatusPending,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.store.InsertBooking(ctx, b); err != nil {
		return domain.Booking{}, err
	}
	log.Info().
		Str("booking", b.ID).
		Int("nights", nights).
		Int64("total_minor", total).
		Str("display_currency", display).
		Int64("display_minor", displayTotal).
		Msg("pending booking created")
	return b, nil
}

// GetBooking returns a booking to its owner, served from cache when warm.
func (s *BookingService) GetBooking(ctx context.Context, id, requester string) (domain.Booking, error) {
	key := bookingCacheKey(id)
	var b domain.Booking
	ok, _ := s.cache.Get(ctx, key, &b)
	if !ok {
		var err error
		b, err = s.store.GetBooking(ctx, id)
		if err != nil {
			return domain.Booking{}, err
		}
		_ = s.cache.Set(ctx, key, b, int(s.cacheTTL.Seconds()))
	}
	if b.UserID != requester {
		return domain.Booking{}, domain.ErrForbidden
	}
	return b, nil
}

// Cancel applies confirmed->cancelled for the booking's owner. The status
// flips locally before the external refund call so the caller sees the
// cancellation immediately; refund issuance is delegated to the refund
// handler, which records a refund-owed job when the external call fails.
func (s *BookingService) Cancel(ctx context.Context, id, requester string) error {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if b.UserID != requester {
		return domain.ErrForbidden
	}
	if b.Status != domain.StatusConfirmed {
		return fmt.Errorf("%w: status is %s", domain.ErrNotCancellable, b.Status)
	}

	rr, err := s.catalog.GetRoomRate(ctx, b.PropertyID, b.RoomTypeID, b.RatePlanID)
	if err != nil {
		return err
	}
	if !rr.Rate.Refundable {
		return fmt.Errorf("%w: rate plan is non-refundable", domain.ErrNotCancellable)
	}
	if hrs := rr.Rate.CancelDeadlineHours; hrs > 0 {
		deadline := b.CheckIn.Add(-time.Duration(hrs) * time.Hour)
		if !s.now().Before(deadline) {
			return fmt.Errorf("%w: past the cancellation deadline", domain.ErrNotCancellable)
		}
	}

	if err := s.store.UpdateStatus(ctx, id, domain.StatusConfirmed, domain.StatusCancelled); err != nil {
		if err == domain.ErrConflict {
			// someone else already moved the booking on
			return fmt.Errorf("%w: status changed concurrently", domain.ErrNotCancellable)
		}
		return err
	}
	_ = s.cache.Del(ctx, bookingCacheKey(id))

	if s.events != nil {
		if perr := s.events.Publish(ctx, QueueBookingCancelled, BookingEvent{BookingID: id, Status: domain.StatusCancelled, At: s.now().UTC()}); perr != nil {
			log.Warn().Err(perr).Str("booking", id).Msg("publish booking.cancelled failed")
		}
	}

	b.Status = domain.StatusCancelled
	s.refunds.Refund(ctx, b)
	return nil
}

// MarkNoShow applies the operator-side confirmed->no_show transition.
func (s *BookingService) MarkNoShow(ctx context.Context, id string) error {
	if err := s.store.UpdateStatus(ctx, id, domain.StatusConfirmed, domain.StatusNoShow); err != nil {
		return err
	}
	_ = s.cache.Del(ctx, bookingCacheKey(id))
	return nil
}

func bookingCacheKey(id string) string { return "booking:" + id }
