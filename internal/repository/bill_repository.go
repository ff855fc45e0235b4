package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/bill-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

const defaultListLimit = 50

type BillRepository struct {
	db *sql.DB
}

func NewBillRepository(db *sql.DB) *BillRepository {
	return &BillRepository{db: db}
}

func (r *BillRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bills (
			id BIGSERIAL PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			period_month VARCHAR(20) NOT NULL DEFAULT '',
			period_year INT NOT NULL DEFAULT 0,
			total_due BIGINT NOT NULL CHECK (total_due >= 0),
			amount_paid BIGINT NOT NULL DEFAULT 0 CHECK (amount_paid >= 0),
			status VARCHAR(20) NOT NULL DEFAULT 'unpaid',
			last_payment_method VARCHAR(100),
			last_payment_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bills_owner ON bills(owner_id)`,
		`CREATE TABLE IF NOT EXISTS applied_payment_events (
			id UUID PRIMARY KEY,
			bill_id BIGINT NOT NULL REFERENCES bills(id),
			owner_id BIGINT NOT NULL,
			dedupe_key VARCHAR(255) UNIQUE,
			source VARCHAR(50) NOT NULL,
			order_id VARCHAR(255),
			requested_amount BIGINT NOT NULL,
			applied_amount BIGINT NOT NULL,
			payment_method VARCHAR(100),
			transaction_id VARCHAR(255),
			occurred_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_applied_payment_events_bill ON applied_payment_events(bill_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_applied_payment_events_owner ON applied_payment_events(owner_id, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS notification_inbox (
			id UUID PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			title VARCHAR(255) NOT NULL,
			message TEXT NOT NULL,
			payload JSONB,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_inbox_owner ON notification_inbox(owner_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS payment_checkouts (
			order_id VARCHAR(255) PRIMARY KEY,
			bill_id BIGINT NOT NULL REFERENCES bills(id),
			owner_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			kind VARCHAR(20) NOT NULL,
			snap_token VARCHAR(255),
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS student_devices (
			owner_id BIGINT PRIMARY KEY,
			device_token VARCHAR(512) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const billColumns = `
	id, owner_id, period_month, period_year, total_due, amount_paid, status,
	COALESCE(last_payment_method, ''), last_payment_at, version`

const selectBill = `SELECT ` + billColumns + ` FROM bills WHERE id = $1`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (*models.Bill, error) {
	var (
		bill   models.Bill
		status string
		paidAt sql.NullTime
	)
	if err := row.Scan(
		&bill.ID, &bill.OwnerID, &bill.Period.Month, &bill.Period.Year,
		&bill.TotalDue, &bill.AmountPaid, &status,
		&bill.LastPaymentMethod, &paidAt, &bill.Version,
	); err != nil {
		return nil, err
	}
	var err error
	bill.Status, err = models.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("bill %d: %w", bill.ID, err)
	}
	if paidAt.Valid {
		at := paidAt.Time.UTC()
		bill.LastPaymentAt = &at
	}
	return &bill, nil
}

func getBill(ctx context.Context, q queryer, id int64) (*models.Bill, error) {
	bill, err := scanBill(q.QueryRowContext(ctx, selectBill, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: bill %d", models.ErrBillNotFound, id)
	}
	return bill, err
}

func scanBills(rows *sql.Rows) ([]models.Bill, error) {
	defer rows.Close()
	var bills []models.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *bill)
	}
	return bills, rows.Err()
}

func (r *BillRepository) GetBill(ctx context.Context, id int64) (*models.Bill, error) {
	return getBill(ctx, r.db, id)
}

// CreateBill inserts a new unpaid bill and returns its id.
func (r *BillRepository) CreateBill(ctx context.Context, bill models.Bill) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO bills (owner_id, period_month, period_year, total_due)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, bill.OwnerID, bill.Period.Month, bill.Period.Year, bill.TotalDue).Scan(&id)
	return id, err
}

func (r *BillRepository) ListBillsByOwner(ctx context.Context, ownerID int64) ([]models.Bill, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+billColumns+` FROM bills WHERE owner_id = $1 ORDER BY period_year DESC, id ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	return scanBills(rows)
}

// ListBills matches every stored spelling of the requested status so rows
// written with legacy values are still found.
func (r *BillRepository) ListBills(ctx context.Context, filter models.BillFilter) ([]models.Bill, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if filter.Status == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+billColumns+` FROM bills ORDER BY updated_at DESC, id DESC LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+billColumns+` FROM bills WHERE status = ANY($1) ORDER BY updated_at DESC, id DESC LIMIT $2`,
			pq.Array(filter.Status.Synonyms()), limit)
	}
	if err != nil {
		return nil, err
	}
	return scanBills(rows)
}

func (r *BillRepository) WithinUnit(ctx context.Context, fn func(ctx context.Context, tx interfaces.LedgerTx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin unit: %w", err)
	}
	if err := fn(ctx, &billTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit unit: %w", err)
	}
	return nil
}

func (r *BillRepository) InsertNotificationInbox(ctx context.Context, entry models.InboxEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode inbox payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notification_inbox (id, owner_id, type, title, message, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.OwnerID, entry.Type, entry.Title, entry.Message, payload, entry.CreatedAt)
	return err
}

const appliedEventColumns = `
	id, bill_id, owner_id, COALESCE(dedupe_key, ''), source, COALESCE(order_id, ''),
	requested_amount, applied_amount, COALESCE(payment_method, ''),
	COALESCE(transaction_id, ''), occurred_at, recorded_at`

func (r *BillRepository) ListAppliedEvents(ctx context.Context, billID int64) ([]models.AppliedEventRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+appliedEventColumns+`
		FROM applied_payment_events
		WHERE bill_id = $1
		ORDER BY occurred_at ASC, recorded_at ASC
	`, billID)
	if err != nil {
		return nil, err
	}
	return scanAppliedEvents(rows)
}

func (r *BillRepository) ListOwnerAppliedEvents(ctx context.Context, ownerID int64) ([]models.AppliedEventRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+appliedEventColumns+`
		FROM applied_payment_events
		WHERE owner_id = $1
		ORDER BY occurred_at DESC, recorded_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	return scanAppliedEvents(rows)
}

func scanAppliedEvents(rows *sql.Rows) ([]models.AppliedEventRecord, error) {
	defer rows.Close()
	var records []models.AppliedEventRecord
	for rows.Next() {
		var rec models.AppliedEventRecord
		if err := rows.Scan(
			&rec.ID, &rec.BillID, &rec.OwnerID, &rec.DedupeKey, &rec.Source, &rec.ExternalOrderID,
			&rec.RequestedAmount, &rec.AppliedAmount, &rec.MethodLabel,
			&rec.TransactionID, &rec.OccurredAt, &rec.RecordedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *BillRepository) InsertCheckout(ctx context.Context, checkout models.Checkout) error {
	status := checkout.Status
	if status == "" {
		status = models.CheckoutPending
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_checkouts (order_id, bill_id, owner_id, amount, kind, snap_token, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO NOTHING
	`, checkout.OrderID, checkout.BillID, checkout.OwnerID, checkout.Amount, checkout.Kind,
		nullString(checkout.Token), status, checkout.CreatedAt)
	return err
}

func (r *BillRepository) GetCheckout(ctx context.Context, orderID string) (*models.Checkout, error) {
	var c models.Checkout
	err := r.db.QueryRowContext(ctx, `
		SELECT order_id, bill_id, owner_id, amount, kind, COALESCE(snap_token, ''), status, created_at
		FROM payment_checkouts WHERE order_id = $1
	`, orderID).Scan(&c.OrderID, &c.BillID, &c.OwnerID, &c.Amount, &c.Kind, &c.Token, &c.Status, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", models.ErrCheckoutNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *BillRepository) UpdateCheckoutStatus(ctx context.Context, orderID string, status models.CheckoutStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_checkouts SET status = $1 WHERE order_id = $2
	`, status, orderID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: order %s", models.ErrCheckoutNotFound, orderID)
	}
	return nil
}

// DeviceToken returns the registered push token of ownerID, or "" when none exists.
func (r *BillRepository) DeviceToken(ctx context.Context, ownerID int64) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx,
		`SELECT device_token FROM student_devices WHERE owner_id = $1`, ownerID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return token, err
}

// RegisterDevice stores the push token of ownerID.
func (r *BillRepository) RegisterDevice(ctx context.Context, ownerID int64, token string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO student_devices (owner_id, device_token, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (owner_id) DO UPDATE SET device_token = EXCLUDED.device_token, updated_at = NOW()
	`, ownerID, token)
	return err
}

type billTx struct {
	tx *sql.Tx
}

func (t *billTx) GetBill(ctx context.Context, id int64) (*models.Bill, error) {
	return getBill(ctx, t.tx, id)
}

func (t *billTx) UpdateBill(ctx context.Context, bill models.Bill, expectedVersion int64) (bool, error) {
	var paidAt any
	if bill.LastPaymentAt != nil {
		paidAt = *bill.LastPaymentAt
	}
	result, err := t.tx.ExecContext(ctx, `
		UPDATE bills
		SET amount_paid = $1, status = $2, last_payment_method = $3, last_payment_at = $4,
			version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6
	`, bill.AmountPaid, bill.Status, nullString(bill.LastPaymentMethod), paidAt, bill.ID, expectedVersion)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (t *billTx) HasAppliedEvent(ctx context.Context, dedupeKey string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM applied_payment_events WHERE dedupe_key = $1)`, dedupeKey).Scan(&exists)
	return exists, err
}

func (t *billTx) AppendAppliedEvent(ctx context.Context, rec models.AppliedEventRecord) (bool, error) {
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO applied_payment_events (
			id, bill_id, owner_id, dedupe_key, source, order_id, requested_amount,
			applied_amount, payment_method, transaction_id, occurred_at, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, rec.ID, rec.BillID, rec.OwnerID, nullString(rec.DedupeKey), rec.Source, nullString(rec.ExternalOrderID),
		rec.RequestedAmount, rec.AppliedAmount, nullString(rec.MethodLabel), nullString(rec.TransactionID),
		rec.OccurredAt, recordedAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
