package httpserver

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"staybook/internal/adapters/observability"
	"staybook/internal/app"
	"staybook/internal/domain"
)

type Handlers struct {
	Bookings   *app.BookingService
	Checkout   *app.CheckoutService
	Settlement *app.SettlementService

	JWTSecret     string
	WebhookSecret string
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	// processor webhook authenticates by signature, not bearer token
	s.mux.Post("/v1/webhooks/payment", h.paymentWebhook)

	s.mux.Group(func(g chi.Router) {
		g.Use(Auth(h.JWTSecret))
		g.Post("/v1/bookings", h.createBooking)
		g.Get("/v1/bookings/{id}", h.getBooking)
		g.Post("/v1/bookings/{id}/cancel", h.cancelBooking)
		g.Post("/v1/bookings/{id}/no-show", h.markNoShow)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeDomainErr maps the error taxonomy onto status codes. Policy outcomes
// are 4xx and final; 503 signals a retryable infrastructure failure.
func writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeProblem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, domain.ErrPricing):
		writeProblem(w, http.StatusConflict, "Rate Unavailable", "selected room or rate no longer matches the catalog")
	case errors.Is(err, domain.ErrForbidden):
		writeProblem(w, http.StatusForbidden, "Forbidden", "booking belongs to another user")
	case errors.Is(err, domain.ErrNotCancellable):
		writeProblem(w, http.StatusConflict, "Not Cancellable", err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "booking not found")
	case errors.Is(err, domain.ErrPaymentUnavailable):
		writeProblem(w, http.StatusServiceUnavailable, "Payment Service Unavailable", "checkout could not be started, try again")
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// ---- bookings ----

type createBookingRequest struct {
	PropertyID int64  `json:"property_id"`
	RoomTypeID int64  `json:"room_type_id"`
	RatePlanID int64  `json:"rate_plan_id"`
	CheckIn    string `json:"check_in"`  // YYYY-MM-DD
	CheckOut   string `json:"check_out"` // YYYY-MM-DD
	Guests     int    `json:"guests"`
	Currency   string `json:"currency"` // display currency, optional
}

type bookingResponse struct {
	ID                string  `json:"id"`
	PropertyID        int64   `json:"property_id"`
	RoomTypeID        int64   `json:"room_type_id"`
	RatePlanID        int64   `json:"rate_plan_id"`
	CheckIn           string  `json:"check_in"`
	CheckOut          string  `json:"check_out"`
	Guests            int     `json:"guests"`
	Nights            int     `json:"nights"`
	Currency          string  `json:"currency"`
	TotalMinor        int64   `json:"total_minor"`
	DisplayCurrency   string  `json:"display_currency"`
	TotalDisplayMinor int64   `json:"total_display_minor"`
	Status            string  `json:"status"`
	CommissionMinor   *int64  `json:"commission_minor,omitempty"`
	PartnerNetMinor   *int64  `json:"partner_net_minor,omitempty"`
	CheckoutURL       *string `json:"checkout_url,omitempty"`
}

func toBookingResponse(b domain.Booking) bookingResponse {
	return bookingResponse{
		ID:                b.ID,
		PropertyID:        b.PropertyID,
		RoomTypeID:        b.RoomTypeID,
		RatePlanID:        b.RatePlanID,
		CheckIn:           b.CheckIn.Format("2006-01-02"),
		CheckOut:          b.CheckOut.Format("2006-01-02"),
		Guests:            b.Guests,
		Nights:            b.Nights(),
		Currency:          b.Currency,
		TotalMinor:        b.TotalMinor,
		DisplayCurrency:   b.DisplayCurrency,
		TotalDisplayMinor: b.TotalDisplayMinor,
		Status:            string(b.Status),
		CommissionMinor:   b.CommissionMinor,
		PartnerNetMinor:   b.PartnerNetMinor,
	}
}

// createBooking freezes a quote, persists the pending booking and hands it
// to the processor, returning the redirect target for the payer.
func (h *Handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	checkIn, err := time.Parse("2006-01-02", req.CheckIn)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Request", "check_in must be YYYY-MM-DD")
		return
	}
	checkOut, err := time.Parse("2006-01-02", req.CheckOut)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Request", "check_out must be YYYY-MM-DD")
		return
	}

	b, err := h.Bookings.CreatePendingBooking(r.Context(), app.CreateBookingParams{
		UserID:          UserID(r),
		PropertyID:      req.PropertyID,
		RoomTypeID:      req.RoomTypeID,
		RatePlanID:      req.RatePlanID,
		CheckIn:         checkIn,
		CheckOut:        checkOut,
		Guests:          req.Guests,
		DisplayCurrency: req.Currency,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	desc := fmt.Sprintf("Stay %s to %s, %d guest(s)", req.CheckIn, req.CheckOut, req.Guests)
	sess, err := h.Checkout.Start(r.Context(), b, desc)
	if err != nil {
		// the pending row has already been rolled back
		writeDomainErr(w, err)
		return
	}

	observability.ObserveTransition("", string(domain.StatusPending))
	resp := toBookingResponse(b)
	resp.CheckoutURL = &sess.URL
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to write createBooking body")
	}
}

func (h *Handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := h.Bookings.GetBooking(r.Context(), id, UserID(r))
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	etag, body := calcETagAndBody(toBookingResponse(b))
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write getBooking body")
	}
}

func (h *Handlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Bookings.Cancel(r.Context(), id, UserID(r)); err != nil {
		writeDomainErr(w, err)
		return
	}
	observability.ObserveTransition(string(domain.StatusConfirmed), string(domain.StatusCancelled))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"cancelled"}`))
}

func (h *Handlers) markNoShow(w http.ResponseWriter, r *http.Request) {
	if Role(r) != "operator" {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator role required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Bookings.MarkNoShow(r.Context(), id); err != nil {
		writeDomainErr(w, err)
		return
	}
	observability.ObserveTransition(string(domain.StatusConfirmed), string(domain.StatusNoShow))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"no_show"}`))
}

// ---- processor webhook ----

type webhookPayload struct {
	Type string `json:"type"`
	Data struct {
		TransactionID string `json:"transaction_id"`
		RefundID      string `json:"refund_id"`
		Reference     string `json:"reference"` // booking id echoed back
		AmountMinor   int64  `json:"amount_minor"`
		Currency      string `json:"currency"`
	} `json:"data"`
}

// paymentWebhook verifies the HMAC signature, parses the event and hands it
// to the settlement handler. Non-2xx responses make the sender redeliver.
func (h *Handlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Malformed Event", "unreadable body")
		return
	}
	if h.WebhookSecret != "" {
		sig := r.Header.Get("X-Processor-Signature")
		if !validSignature(h.WebhookSecret, body, sig) {
			log.Warn().Msg("webhook signature mismatch")
			observability.ObserveWebhook("unknown", "rejected")
			writeProblem(w, http.StatusBadRequest, "Malformed Event", "invalid signature")
			return
		}
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		observability.ObserveWebhook("unknown", "malformed")
		writeProblem(w, http.StatusBadRequest, "Malformed Event", "invalid JSON payload")
		return
	}

	ev := domain.PaymentEvent{
		Type:        p.Type,
		TxnID:       p.Data.TransactionID,
		RefundID:    p.Data.RefundID,
		BookingID:   p.Data.Reference,
		AmountMinor: p.Data.AmountMinor,
		Currency:    p.Data.Currency,
	}
	if err := h.Settlement.HandleEvent(r.Context(), ev); err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			observability.ObserveWebhook(ev.Type, "malformed")
			writeProblem(w, http.StatusBadRequest, "Malformed Event", err.Error())
			return
		}
		// infrastructure failure: signal retry
		log.Error().Err(err).Str("type", ev.Type).Msg("webhook processing failed")
		observability.ObserveWebhook(ev.Type, "error")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	observability.ObserveWebhook(ev.Type, "ok")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}

func validSignature(secret string, body []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(header))
}
