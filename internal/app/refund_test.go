package app_test

import (
	"context"
	"errors"
	"testing"

	"staybook/internal/app"
	"staybook/internal/domain"
)

// confirmedBooking returns a settled booking with its ledger triple already
// in the store, as HandlePaymentCompleted would have left it.
func confirmedBooking(store *fakeStore, total, commission int64) domain.Booking {
	txn := "txn_1"
	net := total - commission
	b := domain.Booking{
		ID: "b1", UserID: "u1", PropertyID: 1, RoomTypeID: 2, RatePlanID: 3,
		CheckIn: date(2027, 6, 1), CheckOut: date(2027, 6, 5),
		Currency: "USD", TotalMinor: total, DisplayCurrency: "USD", TotalDisplayMinor: total,
		Status: domain.StatusConfirmed, ProcessorTxnID: &txn,
		CommissionMinor: &commission, PartnerNetMinor: &net,
	}
	store.bookings[b.ID] = b
	store.entries = domain.ConfirmationEntries(store.tenantID, b.ID, "USD", txn, total, commission, net)
	return b
}

func TestHandleProcessorRefund_FullNetsToZero(t *testing.T) {
	store := newFakeStore()
	confirmedBooking(store, 16000, 2400)
	svc := app.NewRefundService(store, &fakeProvider{})

	err := svc.HandleProcessorRefund(context.Background(), domain.PaymentEvent{
		Type: domain.EventChargeRefunded, BookingID: "b1", TxnID: "txn_1", RefundID: "re_1",
		AmountMinor: 16000, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got := store.bookings["b1"].Status; got != domain.StatusRefunded {
		t.Fatalf("expected refunded, got %s", got)
	}
	entries, _ := store.ListLedgerEntries(context.Background(), "b1")
	if len(entries) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(entries))
	}
	if n := domain.NetMinor(entries); n != 0 {
		t.Fatalf("full refund must net to zero, got %d", n)
	}
}

func TestHandleProcessorRefund_Partial(t *testing.T) {
	store := newFakeStore()
	confirmedBooking(store, 16000, 2400)
	svc := app.NewRefundService(store, &fakeProvider{})

	err := svc.HandleProcessorRefund(context.Background(), domain.PaymentEvent{
		Type: domain.EventChargeRefunded, BookingID: "b1", TxnID: "txn_1", RefundID: "re_1",
		AmountMinor: 8000, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got := store.bookings["b1"].Status; got != domain.StatusPartiallyRefunded {
		t.Fatalf("expected partially_refunded, got %s", got)
	}

	entries, _ := store.ListLedgerEntries(context.Background(), "b1")
	byKind := map[domain.EntryKind]int64{}
	for _, e := range entries[3:] {
		byKind[e.Kind] = e.AmountMinor
	}
	// half the total refunded, so half the commission is returned
	if byKind[domain.EntryRefund] != -8000 || byKind[domain.EntryFeeRefund] != 1200 || byKind[domain.EntryDebit] != 6800 {
		t.Fatalf("unexpected compensation: %+v", byKind)
	}

	// a processor "full refund" event after the partial is capped at the
	// uncompensated remainder, never re-reversing what is already back
	err = svc.HandleProcessorRefund(context.Background(), domain.PaymentEvent{
		Type: domain.EventChargeRefunded, BookingID: "b1", TxnID: "txn_1", RefundID: "re_2",
		AmountMinor: 16000, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got := store.bookings["b1"].Status; got != domain.StatusRefunded {
		t.Fatalf("expected refunded, got %s", got)
	}

	entries, _ = store.ListLedgerEntries(context.Background(), "b1")
	if len(entries) != 9 {
		t.Fatalf("expected 9 entries (triple + two compensating sets), got %d", len(entries))
	}
	var refunded, feeBack int64
	for _, e := range entries {
		switch e.Kind {
		case domain.EntryRefund:
			refunded += -e.AmountMinor
		case domain.EntryFeeRefund:
			feeBack += e.AmountMinor
		}
	}
	if refunded != 16000 {
		t.Fatalf("cumulative refund must equal the charge, got %d", refunded)
	}
	if feeBack != 2400 {
		t.Fatalf("cumulative fee refund must equal the commission, got %d", feeBack)
	}
	if n := domain.NetMinor(entries); n != 0 {
		t.Fatalf("ledger must net to zero, got %d", n)
	}

	// once fully compensated, further refund events are acknowledged no-ops
	err = svc.HandleProcessorRefund(context.Background(), domain.PaymentEvent{
		Type: domain.EventChargeRefunded, BookingID: "b1", TxnID: "txn_1", RefundID: "re_3",
		AmountMinor: 16000, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("post-closure delivery: %v", err)
	}
	if entries, _ = store.ListLedgerEntries(context.Background(), "b1"); len(entries) != 9 {
		t.Fatalf("fully compensated booking must not gain entries, got %d", len(entries))
	}
}

func TestHandleProcessorRefund_ResidueClosesOut(t *testing.T) {
	store := newFakeStore()
	confirmedBooking(store, 16000, 2400)
	svc := app.NewRefundService(store, &fakeProvider{})

	for _, ref := range []string{"re_1", "re_2"} {
		err := svc.HandleProcessorRefund(context.Background(), domain.PaymentEvent{
			Type: domain.EventChargeRefunded, BookingID: "b1", TxnID: "txn_1", RefundID: ref,
			AmountMinor: 8000, Currency: "USD",
		})
		if err != nil {
			t.Fatalf("%s: %v", ref, err)
		}
	}
	// second half carries only the residue, yet the booking still closes out
	if got := store.bookings["b1"].Status; got != domain.StatusRefunded {
		t.Fatalf("expected refunded, got %s", got)
	}
	entries, _ := store.ListLedgerEntries(context.Background(), "b1")
	var feeBack int64
	for _, e := range entries {
		if e.Kind == domain.EntryFeeRefund {
			feeBack += e.AmountMinor
		}
	}
	if feeBack != 2400 {
		t.Fatalf("closing set must return the remaining commission, got total %d", feeBack)
	}
	if n := domain.NetMinor(entries); n != 0 {
		t.Fatalf("ledger must net to zero, got %d", n)
	}
}

func TestHandleProcessorRefund_DuplicateRef(t *testing.T) {
	store := newFakeStore()
	confirmedBooking(store, 16000, 2400)
	svc := app.NewRefundService(store, &fakeProvider{})

	ev := domain.PaymentEvent{
		Type: domain.EventChargeRefunded, BookingID: "b1", TxnID: "txn_1", RefundID: "re_1",
		AmountMinor: 8000, Currency: "USD",
	}
	if err := svc.HandleProcessorRefund(context.Background(), ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.HandleProcessorRefund(context.Background(), ev); err != nil {
		t.Fatalf("second delivery must be acknowledged, got %v", err)
	}
	entries, _ := store.ListLedgerEntries(context.Background(), "b1")
	if len(entries) != 6 {
		t.Fatalf("duplicate ref must not add entries, got %d", len(entries))
	}
}

func TestHandleProcessorRefund_NoSettledCharge(t *testing.T) {
	store := newFakeStore()
	store.bookings["b1"] = domain.Booking{ID: "b1", UserID: "u1", Status: domain.StatusPending, Currency: "USD", TotalMinor: 16000}
	svc := app.NewRefundService(store, &fakeProvider{})

	err := svc.HandleProcessorRefund(context.Background(), domain.PaymentEvent{
		Type: domain.EventChargeRefunded, BookingID: "b1", TxnID: "txn_1",
	})
	if !errors.Is(err, domain.ErrNoChargeToRefund) {
		t.Fatalf("expected ErrNoChargeToRefund, got %v", err)
	}
}

func TestHandleChargeback(t *testing.T) {
	store := newFakeStore()
	confirmedBooking(store, 16000, 2400)
	svc := app.NewRefundService(store, &fakeProvider{})

	err := svc.HandleChargeback(context.Background(), domain.PaymentEvent{
		Type: domain.EventChargeDisputed, BookingID: "b1", TxnID: "txn_1",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got := store.bookings["b1"].Status; got != domain.StatusChargeback {
		t.Fatalf("expected chargeback, got %s", got)
	}
	entries, _ := store.ListLedgerEntries(context.Background(), "b1")
	if n := domain.NetMinor(entries); n != 0 {
		t.Fatalf("chargeback must net to zero, got %d", n)
	}
	var clawback bool
	for _, e := range entries {
		if e.Kind == domain.EntryChargeback && e.AmountMinor == -16000 {
			clawback = true
		}
	}
	if !clawback {
		t.Fatalf("expected a -16000 chargeback entry, got %+v", entries)
	}
}

func TestHandleChargeback_AfterPartialRefundClawsBackRemainder(t *testing.T) {
	store := newFakeStore()
	confirmedBooking(store, 16000, 2400)
	svc := app.NewRefundService(store, &fakeProvider{})

	err := svc.HandleProcessorRefund(context.Background(), domain.PaymentEvent{
		Type: domain.EventChargeRefunded, BookingID: "b1", TxnID: "txn_1", RefundID: "re_1",
		AmountMinor: 8000, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}

	err = svc.HandleChargeback(context.Background(), domain.PaymentEvent{
		Type: domain.EventChargeDisputed, BookingID: "b1", TxnID: "txn_1",
	})
	if err != nil {
		t.Fatalf("chargeback: %v", err)
	}
	if got := store.bookings["b1"].Status; got != domain.StatusChargeback {
		t.Fatalf("expected chargeback, got %s", got)
	}

	entries, _ := store.ListLedgerEntries(context.Background(), "b1")
	var clawed, reversed, feeBack int64
	for _, e := range entries {
		switch e.Kind {
		case domain.EntryChargeback:
			clawed += -e.AmountMinor
		case domain.EntryRefund:
			reversed += -e.AmountMinor
		case domain.EntryFeeRefund:
			feeBack += e.AmountMinor
		}
	}
	if clawed != 8000 {
		t.Fatalf("dispute must claw back only the uncompensated 8000, got %d", clawed)
	}
	if reversed+clawed != 16000 {
		t.Fatalf("total reversal must equal the charge, got %d", reversed+clawed)
	}
	if feeBack != 2400 {
		t.Fatalf("cumulative fee refund must equal the commission, got %d", feeBack)
	}
	if n := domain.NetMinor(entries); n != 0 {
		t.Fatalf("ledger must net to zero, got %d", n)
	}
}

func TestRefund_SkipsWithoutCharge(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{}
	svc := app.NewRefundService(store, provider)

	// cancelled before any payment settled
	svc.Refund(context.Background(), domain.Booking{ID: "b1", Status: domain.StatusCancelled})
	if len(provider.refunds) != 0 || len(store.jobs) != 0 {
		t.Fatal("nothing to reverse, no external call or job expected")
	}
}
