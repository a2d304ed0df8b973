package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"staybook/internal/domain"
)

// CheckoutService hands a pending booking to the payment processor and
// returns the redirect target. It never touches commission or ledger fields;
// those belong to the settlement handler.
type CheckoutService struct {
	store    domain.BookingStore
	provider domain.PaymentProvider
	siteURL  string
	timeout  time.Duration
}

func NewCheckoutService(store domain.BookingStore, provider domain.PaymentProvider, siteURL string, timeout time.Duration) *CheckoutService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CheckoutService{store: store, provider: provider, siteURL: siteURL, timeout: timeout}
}

// Start requests a payment session for the booking's frozen display total,
// passing the booking id as the correlation reference. On failure or timeout
// it deletes the pending row so no orphaned bookings accumulate, then
// surfaces ErrPaymentUnavailable.
func (s *CheckoutService) Start(ctx context.Context, b domain.Booking, description string) (domain.CheckoutSession, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess, err := s.provider.CreateCheckoutSession(cctx, domain.CheckoutParams{
		Reference:   b.ID,
		AmountMinor: b.TotalDisplayMinor,
		Currency:    b.DisplayCurrency,
		Description: description,
		SuccessURL:  s.siteURL + "/bookings/" + b.ID + "/confirmed",
		CancelURL:   s.siteURL + "/bookings/" + b.ID + "/cancelled",
	})
	if err != nil {
		log.Error().Err(err).Str("booking", b.ID).Msg("checkout session creation failed, rolling back pending booking")
		if derr := s.store.DeletePendingBooking(ctx, b.ID); derr != nil {
			log.Error().Err(derr).Str("booking", b.ID).Msg("pending booking rollback failed")
		}
		return domain.CheckoutSession{}, fmt.Errorf("%w: %v", domain.ErrPaymentUnavailable, err)
	}
	log.Info().Str("booking", b.ID).Str("session", sess.ID).Msg("checkout session created")
	return sess, nil
}
