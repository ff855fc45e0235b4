package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/bill-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

var billRowColumns = []string{
	"id", "owner_id", "period_month", "period_year", "total_due", "amount_paid", "status",
	"last_payment_method", "last_payment_at", "version",
}

func newMockRepository(t *testing.T) (*BillRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBillRepository(db), mock
}

func TestWithinUnitCommits(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := repo.WithinUnit(context.Background(), func(context.Context, interfaces.LedgerTx) error { return nil })
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinUnitRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepository(t)
	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bills`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := repo.WithinUnit(context.Background(), func(ctx context.Context, tx interfaces.LedgerTx) error {
		ok, err := tx.UpdateBill(ctx, models.Bill{ID: 42, AmountPaid: 50000, Status: models.StatusPartial}, 0)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinUnitCommitFailure(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection lost"))

	err := repo.WithinUnit(context.Background(), func(context.Context, interfaces.LedgerTx) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit unit")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBillVersionMismatch(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bills .* WHERE id = \$5 AND version = \$6`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(42), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.WithinUnit(context.Background(), func(ctx context.Context, tx interfaces.LedgerTx) error {
		ok, err := tx.UpdateBill(ctx, models.Bill{ID: 42, AmountPaid: 150000, Status: models.StatusPaid}, 3)
		require.NoError(t, err)
		assert.False(t, ok)
		return models.ErrStorageConflict
	})
	assert.ErrorIs(t, err, models.ErrStorageConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendAppliedEventKeyConflict(t *testing.T) {
	repo, mock := newMockRepository(t)
	occurred := time.Date(2024, 1, 15, 3, 0, 0, 0, time.UTC)
	rec := models.AppliedEventRecord{
		ID: "r1", BillID: 42, OwnerID: 7, DedupeKey: "order:SPP-42-1705287600",
		Source: models.SourceGatewayWebhook, ExternalOrderID: "SPP-42-1705287600",
		RequestedAmount: 150000, AppliedAmount: 150000, OccurredAt: occurred, RecordedAt: occurred,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO applied_payment_events .* ON CONFLICT \(dedupe_key\) DO NOTHING`).
		WithArgs("r1", int64(42), int64(7), "order:SPP-42-1705287600", "gateway_webhook", "SPP-42-1705287600",
			int64(150000), int64(150000), nil, nil, occurred, occurred).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.WithinUnit(context.Background(), func(ctx context.Context, tx interfaces.LedgerTx) error {
		inserted, err := tx.AppendAppliedEvent(ctx, rec)
		require.NoError(t, err)
		assert.False(t, inserted)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendAppliedEventWithoutKeyWritesNull(t *testing.T) {
	repo, mock := newMockRepository(t)
	rec := models.AppliedEventRecord{
		ID: "r2", BillID: 42, OwnerID: 7, Source: models.SourceAdminManual,
		RequestedAmount: 20000, AppliedAmount: 20000, MethodLabel: "Tunai", OccurredAt: time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO applied_payment_events`).
		WithArgs("r2", int64(42), int64(7), nil, "admin_manual", nil,
			int64(20000), int64(20000), "Tunai", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithinUnit(context.Background(), func(ctx context.Context, tx interfaces.LedgerTx) error {
		inserted, err := tx.AppendAppliedEvent(ctx, rec)
		require.NoError(t, err)
		assert.True(t, inserted)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasAppliedEvent(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("order:SPP-42-1705287600").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	err := repo.WithinUnit(context.Background(), func(ctx context.Context, tx interfaces.LedgerTx) error {
		seen, err := tx.HasAppliedEvent(ctx, "order:SPP-42-1705287600")
		assert.True(t, seen)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBillDecodesLegacyStatus(t *testing.T) {
	cases := map[string]models.Status{
		"lunas":    models.StatusPaid,
		"verified": models.StatusPaid,
		"cicilan":  models.StatusPartial,
		"pending":  models.StatusUnpaid,
		"rejected": models.StatusFailed,
	}
	for raw, want := range cases {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(`FROM bills WHERE id = \$1`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows(billRowColumns).
				AddRow(int64(42), int64(7), "Januari", int64(2024), int64(150000), int64(0), raw, "", nil, int64(3)))

		bill, err := repo.GetBill(context.Background(), 42)
		require.NoError(t, err, raw)
		assert.Equal(t, want, bill.Status, raw)
		assert.Equal(t, int64(3), bill.Version)
		assert.Nil(t, bill.LastPaymentAt)
		require.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestGetBillUnknownStatus(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(`FROM bills WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(billRowColumns).
			AddRow(int64(42), int64(7), "Januari", int64(2024), int64(150000), int64(0), "refunded", "", nil, int64(0)))

	_, err := repo.GetBill(context.Background(), 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown bill status")
}

func TestGetBillNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(`FROM bills WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(billRowColumns))

	_, err := repo.GetBill(context.Background(), 9)
	assert.ErrorIs(t, err, models.ErrBillNotFound)
}

func TestListBillsMatchesStatusSynonyms(t *testing.T) {
	repo, mock := newMockRepository(t)
	paidAt := time.Date(2024, 1, 15, 3, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM bills WHERE status = ANY\(\$1\)`).
		WithArgs(`{"paid","lunas","verified"}`, int64(10)).
		WillReturnRows(sqlmock.NewRows(billRowColumns).
			AddRow(int64(43), int64(7), "Desember", int64(2023), int64(150000), int64(150000), "lunas", "qris", paidAt, int64(2)).
			AddRow(int64(41), int64(8), "November", int64(2023), int64(150000), int64(150000), "verified", "", nil, int64(1)))

	bills, err := repo.ListBills(context.Background(), models.BillFilter{Status: models.StatusPaid, Limit: 10})
	require.NoError(t, err)
	require.Len(t, bills, 2)
	assert.Equal(t, models.StatusPaid, bills[0].Status)
	assert.Equal(t, models.StatusPaid, bills[1].Status)
	require.NotNil(t, bills[0].LastPaymentAt)
	assert.Equal(t, paidAt, *bills[0].LastPaymentAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBillsDefaultLimit(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(`FROM bills ORDER BY updated_at DESC, id DESC LIMIT \$1`).
		WithArgs(int64(defaultListLimit)).
		WillReturnRows(sqlmock.NewRows(billRowColumns))

	bills, err := repo.ListBills(context.Background(), models.BillFilter{})
	require.NoError(t, err)
	assert.Empty(t, bills)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCheckoutStatusUnknownOrder(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectExec(`UPDATE payment_checkouts SET status`).
		WithArgs("settled", "SPP-42-1705287600").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateCheckoutStatus(context.Background(), "SPP-42-1705287600", models.CheckoutSettled)
	assert.ErrorIs(t, err, models.ErrCheckoutNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCheckout(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM payment_checkouts WHERE order_id = \$1`).
		WithArgs("CICILAN-42-1705287600").
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "bill_id", "owner_id", "amount", "kind", "snap_token", "status", "created_at"}).
			AddRow("CICILAN-42-1705287600", int64(42), int64(7), int64(50000), "CICILAN", "tok", "pending", created))

	checkout, err := repo.GetCheckout(context.Background(), "CICILAN-42-1705287600")
	require.NoError(t, err)
	assert.Equal(t, models.Money(50000), checkout.Amount)
	assert.Equal(t, models.OrderKindInstallment, checkout.Kind)
	assert.Equal(t, models.CheckoutPending, checkout.Status)

	mock.ExpectQuery(`FROM payment_checkouts`).WithArgs("missing").WillReturnRows(
		sqlmock.NewRows([]string{"order_id", "bill_id", "owner_id", "amount", "kind", "snap_token", "status", "created_at"}))
	_, err = repo.GetCheckout(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrCheckoutNotFound)
}
