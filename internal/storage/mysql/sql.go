package mysql

const insertBookingSQL = `
INSERT INTO bookings
  (id, user_id, property_id, room_type_id, rate_plan_id,
   check_in, check_out, guests,
   currency, total_minor, display_currency, total_display_minor,
   status, created_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Rollback of a failed checkout only ever removes rows still in pending.
const deletePendingBookingSQL = `
DELETE FROM bookings WHERE id = ? AND status = 'pending'
`

const bookingColumns = `
  b.id, b.user_id, b.property_id, b.room_type_id, b.rate_plan_id,
  b.check_in, b.check_out, b.guests,
  b.currency, b.total_minor, b.display_currency, b.total_display_minor,
  b.status, b.commission_minor, b.partner_net_minor, b.processor_txn_id,
  b.created_at`

const getBookingSQL = `
SELECT` + bookingColumns + `
FROM bookings b
WHERE b.id = ?
`

// Booking joined with the owning tenant's commission rate; read-only.
const getSettlementViewSQL = `
SELECT` + bookingColumns + `,
  t.id, t.commission_bps
FROM bookings b
JOIN properties p ON p.id = b.property_id
JOIN tenants t    ON t.id = p.tenant_id
WHERE b.id = ?
`

// Conditional transition: the loser of a race applies to zero rows.
const updateStatusSQL = `
UPDATE bookings SET status = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = ?
`

const confirmBookingSQL = `
UPDATE bookings
SET status = 'confirmed',
    processor_txn_id  = ?,
    commission_minor  = ?,
    partner_net_minor = ?,
    updated_at        = CURRENT_TIMESTAMP
WHERE id = ? AND status = 'pending'
`

const insertPaymentSQL = `
INSERT INTO payments (id, booking_id, txn_id, amount_minor, currency, captured, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

const insertLedgerEntrySQL = `
INSERT INTO ledger_entries (tenant_id, booking_id, amount_minor, currency, kind, ref)
VALUES (?, ?, ?, ?, ?, ?)
`

const lockBookingStatusSQL = `
SELECT status FROM bookings WHERE id = ? FOR UPDATE
`

const countRefundRefSQL = `
SELECT COUNT(*) FROM ledger_entries
WHERE booking_id = ? AND ref = ? AND kind IN ('refund', 'chargeback')
`

const setStatusSQL = `
UPDATE bookings SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
`

const insertRefundJobSQL = `
INSERT INTO refund_jobs (booking_id, txn_id, amount_minor, reason)
VALUES (?, ?, ?, ?)
`

const listLedgerEntriesSQL = `
SELECT id, tenant_id, booking_id, amount_minor, currency, kind, ref, created_at
FROM ledger_entries
WHERE booking_id = ?
ORDER BY id
`

// Verifies the rate -> room -> property chain in one query; zero rows means
// the selection no longer matches the catalog.
const getRoomRateSQL = `
SELECT
  t.id, t.name, t.commission_bps,
  p.id, p.tenant_id, p.name, p.country, p.city,
  rt.id, rt.property_id, rt.name,
  rp.id, rp.room_type_id, rp.name, rp.nightly_minor, rp.currency,
  rp.refundable, rp.cancel_deadline_hours, rp.policy_text
FROM rate_plans rp
JOIN room_types rt ON rt.id = rp.room_type_id
JOIN properties p  ON p.id = rt.property_id
JOIN tenants t     ON t.id = p.tenant_id
WHERE rp.id = ? AND rt.id = ? AND p.id = ?
`

const loadRatesSQL = `
SELECT quote, rate FROM fx_rates WHERE base = ?
`

const upsertRatePrefix = `INSERT INTO fx_rates (base, quote, rate) VALUES `

const upsertRateOnDup = ` ON DUPLICATE KEY UPDATE
  rate       = VALUES(rate),
  fetched_at = CURRENT_TIMESTAMP
`
