package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/akylbek/payment-system/bill-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

// MemoryLedger is an in-process LedgerStore for tests and local tooling.
// Units buffer their writes and commit them atomically with the same version
// and dedupe-key checks the Postgres store enforces.
type MemoryLedger struct {
	mu        sync.Mutex
	bills     map[int64]models.Bill
	events    []models.AppliedEventRecord
	keys      map[string]struct{}
	inbox     []models.InboxEntry
	checkouts map[string]models.Checkout
	devices   map[int64]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		bills:     make(map[int64]models.Bill),
		keys:      make(map[string]struct{}),
		checkouts: make(map[string]models.Checkout),
		devices:   make(map[int64]string),
	}
}

// PutBill stores bill as-is.
func (m *MemoryLedger) PutBill(bill models.Bill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bills[bill.ID] = bill
}

func (m *MemoryLedger) RegisterDevice(_ context.Context, ownerID int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[ownerID] = token
	return nil
}

func (m *MemoryLedger) GetBill(ctx context.Context, id int64) (*models.Bill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bill, ok := m.bills[id]
	if !ok {
		return nil, fmt.Errorf("%w: bill %d", models.ErrBillNotFound, id)
	}
	return &bill, nil
}

func (m *MemoryLedger) WithinUnit(ctx context.Context, fn func(ctx context.Context, tx interfaces.LedgerTx) error) error {
	tx := &memoryTx{
		ledger: m,
		bills:  make(map[int64]pendingBill),
		keys:   make(map[string]struct{}),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (m *MemoryLedger) InsertNotificationInbox(_ context.Context, entry models.InboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = append(m.inbox, entry)
	return nil
}

// Inbox returns the in-app notifications stored for ownerID.
func (m *MemoryLedger) Inbox(ownerID int64) []models.InboxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.InboxEntry
	for _, e := range m.inbox {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryLedger) ListAppliedEvents(_ context.Context, billID int64) ([]models.AppliedEventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AppliedEventRecord
	for _, rec := range m.events {
		if rec.BillID == billID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// ListOwnerAppliedEvents returns the applied payments of ownerID, newest first.
func (m *MemoryLedger) ListOwnerAppliedEvents(_ context.Context, ownerID int64) ([]models.AppliedEventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AppliedEventRecord
	for _, rec := range m.events {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

func (m *MemoryLedger) ListBillsByOwner(_ context.Context, ownerID int64) ([]models.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Bill
	for _, bill := range m.bills {
		if bill.OwnerID == ownerID {
			out = append(out, bill)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListBills orders by last payment, newest first, then by id.
func (m *MemoryLedger) ListBills(_ context.Context, filter models.BillFilter) ([]models.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Bill
	for _, bill := range m.bills {
		if filter.Status == "" || bill.Status == filter.Status {
			out = append(out, bill)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := lastPaymentUnix(out[i]), lastPaymentUnix(out[j])
		if a != b {
			return a > b
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func lastPaymentUnix(bill models.Bill) int64 {
	if bill.LastPaymentAt == nil {
		return 0
	}
	return bill.LastPaymentAt.Unix()
}

func (m *MemoryLedger) InsertCheckout(_ context.Context, checkout models.Checkout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if checkout.Status == "" {
		checkout.Status = models.CheckoutPending
	}
	if _, ok := m.checkouts[checkout.OrderID]; !ok {
		m.checkouts[checkout.OrderID] = checkout
	}
	return nil
}

func (m *MemoryLedger) GetCheckout(_ context.Context, orderID string) (*models.Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.checkouts[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", models.ErrCheckoutNotFound, orderID)
	}
	return &c, nil
}

func (m *MemoryLedger) UpdateCheckoutStatus(_ context.Context, orderID string, status models.CheckoutStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.checkouts[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", models.ErrCheckoutNotFound, orderID)
	}
	c.Status = status
	m.checkouts[orderID] = c
	return nil
}

func (m *MemoryLedger) DeviceToken(_ context.Context, ownerID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[ownerID], nil
}

type pendingBill struct {
	bill            models.Bill
	expectedVersion int64
}

type memoryTx struct {
	ledger *MemoryLedger
	bills  map[int64]pendingBill
	events []models.AppliedEventRecord
	keys   map[string]struct{}
}

func (t *memoryTx) GetBill(ctx context.Context, id int64) (*models.Bill, error) {
	if p, ok := t.bills[id]; ok {
		bill := p.bill
		return &bill, nil
	}
	return t.ledger.GetBill(ctx, id)
}

func (t *memoryTx) UpdateBill(_ context.Context, bill models.Bill, expectedVersion int64) (bool, error) {
	t.ledger.mu.Lock()
	current, ok := t.ledger.bills[bill.ID]
	t.ledger.mu.Unlock()
	if !ok || current.Version != expectedVersion {
		return false, nil
	}
	bill.Version = expectedVersion + 1
	t.bills[bill.ID] = pendingBill{bill: bill, expectedVersion: expectedVersion}
	return true, nil
}

func (t *memoryTx) HasAppliedEvent(_ context.Context, dedupeKey string) (bool, error) {
	if _, ok := t.keys[dedupeKey]; ok {
		return true, nil
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	_, ok := t.ledger.keys[dedupeKey]
	return ok, nil
}

func (t *memoryTx) AppendAppliedEvent(ctx context.Context, rec models.AppliedEventRecord) (bool, error) {
	if rec.DedupeKey != "" {
		seen, err := t.HasAppliedEvent(ctx, rec.DedupeKey)
		if err != nil || seen {
			return false, err
		}
		t.keys[rec.DedupeKey] = struct{}{}
	}
	t.events = append(t.events, rec)
	return true, nil
}

func (t *memoryTx) commit() error {
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()

	for id, p := range t.bills {
		if t.ledger.bills[id].Version != p.expectedVersion {
			return models.ErrStorageConflict
		}
	}
	for key := range t.keys {
		if _, ok := t.ledger.keys[key]; ok {
			return models.ErrDuplicateEvent
		}
	}

	for id, p := range t.bills {
		t.ledger.bills[id] = p.bill
	}
	for key := range t.keys {
		t.ledger.keys[key] = struct{}{}
	}
	t.ledger.events = append(t.ledger.events, t.events...)
	return nil
}
