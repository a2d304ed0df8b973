package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"staybook/internal/app"
	"staybook/internal/domain"
)

// ---- fakes ----

type fakeStore struct {
	bookings map[string]domain.Booking
	tenantID int64
	bps      int
	entries  []domain.LedgerEntry
	payments []domain.PaymentRecord
	jobs     []domain.RefundJob
	deleted  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{bookings: map[string]domain.Booking{}, tenantID: 7, bps: 1500}
}

func (f *fakeStore) InsertBooking(ctx context.Context, b domain.Booking) error {
	f.bookings[b.ID] = b
	return nil
}

func (f *fakeStore) DeletePendingBooking(ctx context.Context, id string) error {
	if b, ok := f.bookings[id]; ok && b.Status == domain.StatusPending {
		delete(f.bookings, id)
		f.deleted = append(f.deleted, id)
	}
	return nil
}

func (f *fakeStore) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) GetSettlementView(ctx context.Context, id string) (domain.SettlementView, error) {
	b, ok := f.bookings[id]
	if !ok {
		return domain.SettlementView{}, domain.ErrNotFound
	}
	return domain.SettlementView{Booking: b, TenantID: f.tenantID, CommissionBps: f.bps}, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, from, to domain.Status) error {
	b, ok := f.bookings[id]
	if !ok {
		return domain.ErrNotFound
	}
	if b.Status != from {
		return domain.ErrConflict
	}
	b.Status = to
	f.bookings[id] = b
	return nil
}

func (f *fakeStore) Confirm(ctx context.Context, c domain.Confirmation) (bool, error) {
	b, ok := f.bookings[c.BookingID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if b.Status != domain.StatusPending {
		return false, nil
	}
	b.Status = domain.StatusConfirmed
	b.ProcessorTxnID = &c.TxnID
	b.CommissionMinor = &c.CommissionMinor
	b.PartnerNetMinor = &c.PartnerNetMinor
	f.bookings[c.BookingID] = b
	f.payments = append(f.payments, c.Payment)
	f.entries = append(f.entries, c.Entries...)
	return true, nil
}

func (f *fakeStore) ApplyRefund(ctx context.Context, r domain.RefundApplication) (bool, error) {
	b, ok := f.bookings[r.BookingID]
	if !ok {
		return false, domain.ErrNotFound
	}
	allowed := false
	for _, from := range r.From {
		if b.Status == from {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	for _, e := range f.entries {
		if e.BookingID == r.BookingID && e.Ref == r.Ref &&
			(e.Kind == domain.EntryRefund || e.Kind == domain.EntryChargeback) {
			return false, nil
		}
	}
	b.Status = r.To
	f.bookings[r.BookingID] = b
	f.entries = append(f.entries, r.Entries...)
	return true, nil
}

func (f *fakeStore) InsertRefundJob(ctx context.Context, j domain.RefundJob) error {
	f.jobs = append(f.jobs, j)
	return nil
}

func (f *fakeStore) ListLedgerEntries(ctx context.Context, bookingID string) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for _, e := range f.entries {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	rr  domain.RoomRateView
	err error
}

func (f *fakeCatalog) GetRoomRate(ctx context.Context, propertyID, roomTypeID, ratePlanID int64) (domain.RoomRateView, error) {
	if f.err != nil {
		return domain.RoomRateView{}, f.err
	}
	return f.rr, nil
}

type fakeProvider struct {
	sessions   []domain.CheckoutParams
	refunds    []string
	sessionErr error
	refundErr  error
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, p domain.CheckoutParams) (domain.CheckoutSession, error) {
	if f.sessionErr != nil {
		return domain.CheckoutSession{}, f.sessionErr
	}
	f.sessions = append(f.sessions, p)
	return domain.CheckoutSession{ID: "cs_1", URL: "https://pay.example/cs_1"}, nil
}

func (f *fakeProvider) RefundCharge(ctx context.Context, txnID string, amountMinor int64) error {
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refunds = append(f.refunds, txnID)
	return nil
}

type fakeCache struct {
	store map[string]domain.Booking
	dels  []string
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if c.store == nil {
		return false, nil
	}
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	if d, ok := dst.(*domain.Booking); ok {
		*d = v
	}
	return true, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	if c.store == nil {
		c.store = map[string]domain.Booking{}
	}
	if b, ok := v.(domain.Booking); ok {
		c.store[key] = b
	}
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error {
	delete(c.store, key)
	c.dels = append(c.dels, key)
	return nil
}

type fakePublisher struct {
	published []string
}

func (p *fakePublisher) Publish(ctx context.Context, queue string, payload any) error {
	p.published = append(p.published, queue)
	return nil
}

func stdCatalog() *fakeCatalog {
	return &fakeCatalog{rr: domain.RoomRateView{
		Tenant:   domain.Tenant{ID: 7, CommissionBps: 1500},
		Property: domain.Property{ID: 1, TenantID: 7},
		Room:     domain.RoomType{ID: 2, PropertyID: 1},
		Rate:     domain.RatePlan{ID: 3, RoomTypeID: 2, NightlyMinor: 4000, Currency: "USD", Refundable: true},
	}}
}

func newBookingService(store *fakeStore, catalog *fakeCatalog, provider *fakeProvider, cache *fakeCache) *app.BookingService {
	conv := app.NewConverterWithRates("USD", map[string]float64{"EUR": 0.92})
	refunds := app.NewRefundService(store, provider)
	return app.NewBookingService(store, catalog, conv, cache, refunds, &fakePublisher{}, "USD", 5*time.Minute)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ---- tests ----

func TestCreatePendingBooking_FreezesDisplayTotal(t *testing.T) {
	store := newFakeStore()
	svc := newBookingService(store, stdCatalog(), &fakeProvider{}, &fakeCache{})

	b, err := svc.CreatePendingBooking(context.Background(), app.CreateBookingParams{
		UserID:          "u1",
		PropertyID:      1,
		RoomTypeID:      2,
		RatePlanID:      3,
		CheckIn:         date(2027, 6, 1),
		CheckOut:        date(2027, 6, 5),
		Guests:          2,
		DisplayCurrency: "eur",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if b.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", b.Status)
	}
	// 4 nights x 4000 = 16000 canonical, 16000 x 0.92 = 14720 display
	if b.TotalMinor != 16000 || b.Currency != "USD" {
		t.Fatalf("unexpected canonical total: %d %s", b.TotalMinor, b.Currency)
	}
	if b.TotalDisplayMinor != 14720 || b.DisplayCurrency != "EUR" {
		t.Fatalf("unexpected display total: %d %s", b.TotalDisplayMinor, b.DisplayCurrency)
	}
	if _, ok := store.bookings[b.ID]; !ok {
		t.Fatal("booking not persisted")
	}
}

func TestCreatePendingBooking_Validation(t *testing.T) {
	svc := newBookingService(newFakeStore(), stdCatalog(), &fakeProvider{}, &fakeCache{})
	base := app.CreateBookingParams{
		UserID: "u1", PropertyID: 1, RoomTypeID: 2, RatePlanID: 3,
		CheckIn: date(2027, 6, 1), CheckOut: date(2027, 6, 5), Guests: 2,
	}

	cases := []struct {
		name   string
		mutate func(*app.CreateBookingParams)
	}{
		{"missing user", func(p *app.CreateBookingParams) { p.UserID = "" }},
		{"checkout before checkin", func(p *app.CreateBookingParams) { p.CheckOut = date(2027, 5, 30) }},
		{"checkout equals checkin", func(p *app.CreateBookingParams) { p.CheckOut = p.CheckIn }},
		{"zero guests", func(p *app.CreateBookingParams) { p.Guests = 0 }},
	}
	for _, tc := range cases {
		p := base
		tc.mutate(&p)
		if _, err := svc.CreatePendingBooking(context.Background(), p); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestCreatePendingBooking_UnknownRateIsPricingError(t *testing.T) {
	catalog := &fakeCatalog{err: domain.ErrPricing}
	svc := newBookingService(newFakeStore(), catalog, &fakeProvider{}, &fakeCache{})

	_, err := svc.CreatePendingBooking(context.Background(), app.CreateBookingParams{
		UserID: "u1", PropertyID: 1, RoomTypeID: 2, RatePlanID: 99,
		CheckIn: date(2027, 6, 1), CheckOut: date(2027, 6, 3), Guests: 1,
	})
	if !errors.Is(err, domain.ErrPricing) {
		t.Fatalf("expected ErrPricing, got %v", err)
	}
}

func TestCreatePendingBooking_MissingRateChargesCanonical(t *testing.T) {
	store := newFakeStore()
	svc := newBookingService(store, stdCatalog(), &fakeProvider{}, &fakeCache{})

	b, err := svc.CreatePendingBooking(context.Background(), app.CreateBookingParams{
		UserID: "u1", PropertyID: 1, RoomTypeID: 2, RatePlanID: 3,
		CheckIn: date(2027, 6, 1), CheckOut: date(2027, 6, 5), Guests: 1,
		DisplayCurrency: "GBP", // no GBP rate loaded
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if b.DisplayCurrency != "USD" || b.TotalDisplayMinor != b.TotalMinor {
		t.Fatalf("expected canonical fallback, got %d %s", b.TotalDisplayMinor, b.DisplayCurrency)
	}
}

func TestGetBooking_OwnerAndCache(t *testing.T) {
	store := newFakeStore()
	cache := &fakeCache{}
	svc := newBookingService(store, stdCatalog(), &fakeProvider{}, cache)

	store.bookings["b1"] = domain.Booking{ID: "b1", UserID: "u1", Status: domain.StatusConfirmed, TotalMinor: 16000}

	b, err := svc.GetBooking(context.Background(), "b1", "u1")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if b.ID != "b1" {
		t.Fatalf("unexpected booking: %+v", b)
	}

	// second read must come from cache
	delete(store.bookings, "b1")
	if _, err := svc.GetBooking(context.Background(), "b1", "u1"); err != nil {
		t.Fatalf("expected cached read, got %v", err)
	}

	// another user never sees the booking
	if _, err := svc.GetBooking(context.Background(), "b1", "u2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCancel_RefundsAndCompensates(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{}
	svc := newBookingService(store, stdCatalog(), provider, &fakeCache{})

	txn := "txn_1"
	commission := int64(2400)
	net := int64(13600)
	store.bookings["b1"] = domain.Booking{
		ID: "b1", UserID: "u1", PropertyID: 1, RoomTypeID: 2, RatePlanID: 3,
		CheckIn: date(2027, 6, 1), CheckOut: date(2027, 6, 5),
		Currency: "USD", TotalMinor: 16000, DisplayCurrency: "USD", TotalDisplayMinor: 16000,
		Status: domain.StatusConfirmed, ProcessorTxnID: &txn,
		CommissionMinor: &commission, PartnerNetMinor: &net,
	}
	store.entries = domain.ConfirmationEntries(7, "b1", "USD", txn, 16000, commission, net)

	if err := svc.Cancel(context.Background(), "b1", "u1"); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(provider.refunds) != 1 || provider.refunds[0] != txn {
		t.Fatalf("expected one external refund for %s, got %v", txn, provider.refunds)
	}
	// the successful refund is compensated straight through to refunded
	if got := store.bookings["b1"].Status; got != domain.StatusRefunded {
		t.Fatalf("expected refunded, got %s", got)
	}
	entries, _ := store.ListLedgerEntries(context.Background(), "b1")
	if len(entries) != 6 {
		t.Fatalf("expected 6 ledger entries, got %d", len(entries))
	}
	if n := domain.NetMinor(entries); n != 0 {
		t.Fatalf("ledger must net to zero after full refund, got %d", n)
	}
}

func TestCancel_ExternalFailureRecordsRefundJob(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{refundErr: errors.New("processor down")}
	svc := newBookingService(store, stdCatalog(), provider, &fakeCache{})

	txn := "txn_1"
	store.bookings["b1"] = domain.Booking{
		ID: "b1", UserID: "u1", PropertyID: 1, RoomTypeID: 2, RatePlanID: 3,
		CheckIn: date(2027, 6, 1), CheckOut: date(2027, 6, 5),
		Currency: "USD", TotalMinor: 16000, DisplayCurrency: "USD", TotalDisplayMinor: 16000,
		Status: domain.StatusConfirmed, ProcessorTxnID: &txn,
	}

	// the local cancellation still succeeds
	if err := svc.Cancel(context.Background(), "b1", "u1"); err != nil {
		t.Fatalf("err: %v", err)
	}
	if got := store.bookings["b1"].Status; got != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
	if len(store.jobs) != 1 || store.jobs[0].TxnID != txn {
		t.Fatalf("expected a refund-owed job, got %+v", store.jobs)
	}
}

func TestCancel_Guards(t *testing.T) {
	txn := "txn_1"
	confirmed := domain.Booking{
		ID: "b1", UserID: "u1", PropertyID: 1, RoomTypeID: 2, RatePlanID: 3,
		CheckIn: date(2027, 6, 1), CheckOut: date(2027, 6, 5),
		Currency: "USD", TotalMinor: 16000,
		Status: domain.StatusConfirmed, ProcessorTxnID: &txn,
	}

	t.Run("wrong owner", func(t *testing.T) {
		store := newFakeStore()
		store.bookings["b1"] = confirmed
		svc := newBookingService(store, stdCatalog(), &fakeProvider{}, &fakeCache{})
		if err := svc.Cancel(context.Background(), "b1", "intruder"); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("not confirmed", func(t *testing.T) {
		store := newFakeStore()
		b := confirmed
		b.Status = domain.StatusPending
		store.bookings["b1"] = b
		svc := newBookingService(store, stdCatalog(), &fakeProvider{}, &fakeCache{})
		if err := svc.Cancel(context.Background(), "b1", "u1"); !errors.Is(err, domain.ErrNotCancellable) {
			t.Fatalf("expected ErrNotCancellable, got %v", err)
		}
	})

	t.Run("non-refundable rate", func(t *testing.T) {
		store := newFakeStore()
		store.bookings["b1"] = confirmed
		catalog := stdCatalog()
		catalog.rr.Rate.Refundable = false
		provider := &fakeProvider{}
		svc := newBookingService(store, catalog, provider, &fakeCache{})
		if err := svc.Cancel(context.Background(), "b1", "u1"); !errors.Is(err, domain.ErrNotCancellable) {
			t.Fatalf("expected ErrNotCancellable, got %v", err)
		}
		if len(provider.refunds) != 0 {
			t.Fatal("no refund may be issued for a non-refundable rate")
		}
		if got := store.bookings["b1"].Status; got != domain.StatusConfirmed {
			t.Fatalf("status must not change, got %s", got)
		}
	})

	t.Run("past the deadline", func(t *testing.T) {
		store := newFakeStore()
		b := confirmed
		b.CheckIn = time.Now().UTC().Add(2 * time.Hour)
		b.CheckOut = b.CheckIn.Add(48 * time.Hour)
		store.bookings["b1"] = b
		catalog := stdCatalog()
		catalog.rr.Rate.CancelDeadlineHours = 24
		svc := newBookingService(store, catalog, &fakeProvider{}, &fakeCache{})
		if err := svc.Cancel(context.Background(), "b1", "u1"); !errors.Is(err, domain.ErrNotCancellable) {
			t.Fatalf("expected ErrNotCancellable, got %v", err)
		}
	})
}

func TestMarkNoShow(t *testing.T) {
	store := newFakeStore()
	svc := newBookingService(store, stdCatalog(), &fakeProvider{}, &fakeCache{})

	store.bookings["b1"] = domain.Booking{ID: "b1", UserID: "u1", Status: domain.StatusConfirmed}
	if err := svc.MarkNoShow(context.Background(), "b1"); err != nil {
		t.Fatalf("err: %v", err)
	}
	if got := store.bookings["b1"].Status; got != domain.StatusNoShow {
		t.Fatalf("expected no_show, got %s", got)
	}

	store.bookings["b2"] = domain.Booking{ID: "b2", UserID: "u1", Status: domain.StatusPending}
	if err := svc.MarkNoShow(context.Background(), "b2"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
