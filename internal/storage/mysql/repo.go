package mysql

import (
	"context"
	"database/sql"
	"strings"

	"staybook/internal/domain"
)

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) InsertBooking(ctx context.Context, b domain.Booking) error {
	_, err := r.db.ExecContext(ctx, insertBookingSQL,
		b.ID, b.UserID, b.PropertyID, b.RoomTypeID, b.RatePlanID,
		b.CheckIn.Format("2006-01-02"), b.CheckOut.Format("2006-01-02"), b.Guests,
		b.Currency, b.TotalMinor, b.DisplayCurrency, b.TotalDisplayMinor,
		string(b.Status), b.CreatedAt,
	)
	return err
}

func (r *Repo) DeletePendingBooking(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, deletePendingBookingSQL, id)
	return err
}

func (r *Repo) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	row := r.db.QueryRowContext(ctx, getBookingSQL, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, err
}

func (r *Repo) GetSettlementView(ctx context.Context, id string) (domain.SettlementView, error) {
	row := r.db.QueryRowContext(ctx, getSettlementViewSQL, id)

	var b domain.Booking
	var status string
	var commission, partnerNet sql.NullInt64
	var txnID sql.NullString
	var tenantID int64
	var bps int
	err := row.Scan(
		&b.ID, &b.UserID, &b.PropertyID, &b.RoomTypeID, &b.RatePlanID,
		&b.CheckIn, &b.CheckOut, &b.Guests,
		&b.Currency, &b.TotalMinor, &b.DisplayCurrency, &b.TotalDisplayMinor,
		&status, &commission, &partnerNet, &txnID,
		&b.CreatedAt,
		&tenantID, &bps,
	)
	if err == sql.ErrNoRows {
		return domain.SettlementView{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SettlementView{}, err
	}
	b.Status = domain.Status(status)
	applyNullableMoney(&b, commission, partnerNet, txnID)
	return domain.SettlementView{Booking: b, TenantID: tenantID, CommissionBps: bps}, nil
}

func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to domain.Status) error {
	res, err := r.db.ExecContext(ctx, updateStatusSQL, string(to), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var cur string
		if err := r.db.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, id).Scan(&cur); err != nil {
			if err == sql.ErrNoRows {
				return domain.ErrNotFound
			}
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

// Confirm groups the status flip, payment record and ledger triple into one
// transaction so partial application cannot occur. The conditional update is
// the idempotency backstop: a booking no longer pending applies to zero rows
// and the whole unit becomes a no-op.
func (r *Repo) Confirm(ctx context.Context, c domain.Confirmation) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, confirmBookingSQL, c.TxnID, c.CommissionMinor, c.PartnerNetMinor, c.BookingID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	p := c.Payment
	if _, err := tx.ExecContext(ctx, insertPaymentSQL,
		p.ID, p.BookingID, p.TxnID, p.AmountMinor, p.Currency, p.Captured, p.CreatedAt,
	); err != nil {
		return false, err
	}
	if err := insertEntries(ctx, tx, c.Entries); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ApplyRefund locks the booking row, checks the status guard and the
// processor reference dedupe, then writes the transition together with its
// compensating entries.
func (r *Repo) ApplyRefund(ctx context.Context, ra domain.RefundApplication) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var cur string
	if err := tx.QueryRowContext(ctx, lockBookingStatusSQL, ra.BookingID).Scan(&cur); err != nil {
		if err == sql.ErrNoRows {
			return false, domain.ErrNotFound
		}
		return false, err
	}
	if !statusIn(domain.Status(cur), ra.From) {
		return false, nil
	}

	var seen int
	if err := tx.QueryRowContext(ctx, countRefundRefSQL, ra.BookingID, ra.Ref).Scan(&seen); err != nil {
		return false, err
	}
	if seen > 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, setStatusSQL, string(ra.To), ra.BookingID); err != nil {
		return false, err
	}
	if err := insertEntries(ctx, tx, ra.Entries); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (r *Repo) InsertRefundJob(ctx context.Context, j domain.RefundJob) error {
	_, err := r.db.ExecContext(ctx, insertRefundJobSQL, j.BookingID, j.TxnID, j.AmountMinor, j.Reason)
	return err
}

func (r *Repo) ListLedgerEntries(ctx context.Context, bookingID string) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, listLedgerEntriesSQL, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var kind string
		var ref sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &e.BookingID, &e.AmountMinor, &e.Currency, &kind, &ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = domain.EntryKind(kind)
		if ref.Valid {
			e.Ref = ref.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) GetRoomRate(ctx context.Context, propertyID, roomTypeID, ratePlanID int64) (domain.RoomRateView, error) {
	row := r.db.QueryRowContext(ctx, getRoomRateSQL, ratePlanID, roomTypeID, propertyID)

	var v domain.RoomRateView
	var country, city, policy sql.NullString
	err := row.Scan(
		&v.Tenant.ID, &v.Tenant.Name, &v.Tenant.CommissionBps,
		&v.Property.ID, &v.Property.TenantID, &v.Property.Name, &country, &city,
		&v.Room.ID, &v.Room.PropertyID, &v.Room.Name,
		&v.Rate.ID, &v.Rate.RoomTypeID, &v.Rate.Name, &v.Rate.NightlyMinor, &v.Rate.Currency,
		&v.Rate.Refundable, &v.Rate.CancelDeadlineHours, &policy,
	)
	if err == sql.ErrNoRows {
		return domain.RoomRateView{}, domain.ErrPricing
	}
	if err != nil {
		return domain.RoomRateView{}, err
	}
	if country.Valid {
		s := country.String
		v.Property.Country = &s
	}
	if city.Valid {
		s := city.String
		v.Property.City = &s
	}
	if policy.Valid {
		s := policy.String
		v.Rate.PolicyText = &s
	}
	return v, nil
}

func (r *Repo) LoadRates(ctx context.Context, base string) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, loadRatesSQL, base)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var quote string
		var rate float64
		if err := rows.Scan(&quote, &rate); err != nil {
			return nil, err
		}
		out[quote] = rate
	}
	return out, rows.Err()
}

func (r *Repo) UpsertRates(ctx context.Context, base string, rates map[string]float64) error {
	if len(rates) == 0 {
		return nil
	}
	values := make([]string, 0, len(rates))
	args := make([]any, 0, len(rates)*3)
	for quote, rate := range rates {
		values = append(values, "(?,?,?)")
		args = append(args, base, quote, rate)
	}
	sqlStr := upsertRatePrefix + strings.Join(values, ",") + upsertRateOnDup
	_, err := r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ---- scanning helpers ----

type rowScanner interface{ Scan(dest ...any) error }

func scanBooking(row rowScanner) (domain.Booking, error) {
	var b domain.Booking
	var status string
	var commission, partnerNet sql.NullInt64
	var txnID sql.NullString
	err := row.Scan(
		&b.ID, &b.UserID, &b.PropertyID, &b.RoomTypeID, &b.RatePlanID,
		&b.CheckIn, &b.CheckOut, &b.Guests,
		&b.Currency, &b.TotalMinor, &b.DisplayCurrency, &b.TotalDisplayMinor,
		&status, &commission, &partnerNet, &txnID,
		&b.CreatedAt,
	)
	if err != nil {
		return domain.Booking{}, err
	}
	b.Status = domain.Status(status)
	applyNullableMoney(&b, commission, partnerNet, txnID)
	return b, nil
}

func applyNullableMoney(b *domain.Booking, commission, partnerNet sql.NullInt64, txnID sql.NullString) {
	if commission.Valid {
		v := commission.Int64
		b.CommissionMinor = &v
	}
	if partnerNet.Valid {
		v := partnerNet.Int64
		b.PartnerNetMinor = &v
	}
	if txnID.Valid {
		s := txnID.String
		b.ProcessorTxnID = &s
	}
}

func insertEntries(ctx context.Context, tx *sql.Tx, entries []domain.LedgerEntry) error {
	for _, e := range entries {
		var ref any
		if e.Ref != "" {
			ref = e.Ref
		}
		if _, err := tx.ExecContext(ctx, insertLedgerEntrySQL,
			e.TenantID, e.BookingID, e.AmountMinor, e.Currency, string(e.Kind), ref,
		); err != nil {
			return err
		}
	}
	return nil
}

func statusIn(s domain.Status, in []domain.Status) bool {
	for _, v := range in {
		if s == v {
			return true
		}
	}
	return false
}
