package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/akylbek/payment-system/bill-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

type sentPush struct {
	token  string
	intent models.NotificationIntent
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []sentPush
}

func (n *fakeNotifier) Send(_ context.Context, token string, intent models.NotificationIntent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentPush{token: token, intent: intent})
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakePublisher struct {
	mu      sync.Mutex
	records []models.AppliedEventRecord
}

func (p *fakePublisher) PublishBillPayment(_ context.Context, _ models.Bill, record models.AppliedEventRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, record)
	return nil
}

type fakeGateway struct {
	status  models.GatewayStatus
	err     error
	orders  []models.CheckoutOrder
	queried []string
}

func (g *fakeGateway) CreateCheckout(_ context.Context, order models.CheckoutOrder) (models.CheckoutSession, error) {
	if g.err != nil {
		return models.CheckoutSession{}, g.err
	}
	g.orders = append(g.orders, order)
	return models.CheckoutSession{Token: "snap-token", RedirectURL: "https://pay.example/" + order.OrderID}, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, orderID string) (models.GatewayStatus, error) {
	g.queried = append(g.queried, orderID)
	return g.status, g.err
}

// conflictingStore makes the first n bill writes lose their version check.
type conflictingStore struct {
	interfaces.LedgerStore
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) WithinUnit(ctx context.Context, fn func(ctx context.Context, tx interfaces.LedgerTx) error) error {
	return s.LedgerStore.WithinUnit(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		return fn(ctx, &conflictingTx{LedgerTx: tx, store: s})
	})
}

type conflictingTx struct {
	interfaces.LedgerTx
	store *conflictingStore
}

func (t *conflictingTx) UpdateBill(ctx context.Context, bill models.Bill, expectedVersion int64) (bool, error) {
	t.store.mu.Lock()
	if t.store.conflicts > 0 {
		t.store.conflicts--
		t.store.mu.Unlock()
		return false, nil
	}
	t.store.mu.Unlock()
	return t.LedgerTx.UpdateBill(ctx, bill, expectedVersion)
}

// failingStore fails every unit with err.
type failingStore struct {
	interfaces.LedgerStore
	err error
}

func (s *failingStore) WithinUnit(context.Context, func(ctx context.Context, tx interfaces.LedgerTx) error) error {
	return s.err
}

var errConnectionReset = errors.New("connection reset by peer")

// flakyStore fails the first n units with err, then delegates.
type flakyStore struct {
	interfaces.LedgerStore
	mu       sync.Mutex
	failures int
	err      error
}

func (s *flakyStore) WithinUnit(ctx context.Context, fn func(ctx context.Context, tx interfaces.LedgerTx) error) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return s.err
	}
	s.mu.Unlock()
	return s.LedgerStore.WithinUnit(ctx, fn)
}

// fakeLocker reports the bill as held for the first busy attempts.
type fakeLocker struct {
	mu       sync.Mutex
	busy     int
	attempts int
	held     bool
	releases int
}

func (l *fakeLocker) TryLock(_ context.Context, _ int64, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.busy > 0 || l.held {
		if l.busy > 0 {
			l.busy--
		}
		return nil, false, nil
	}
	l.held = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.releases++
	}, true, nil
}
