package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/bill-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
	"github.com/akylbek/payment-system/bill-reconciler/internal/telemetry"
)

const (
	defaultMaxAttempts    = 3
	defaultStorageTimeout = 5 * time.Second
	defaultNotifyTimeout  = 3 * time.Second
	defaultLockTTL        = 10 * time.Second
	conflictBackoff       = 20 * time.Millisecond
)

type Orchestrator struct {
	store     interfaces.LedgerStore
	gateway   interfaces.GatewayClient
	notifier  interfaces.Notifier
	publisher interfaces.EventPublisher
	locker    interfaces.BillLocker
	engine    Engine
	guard     Guard
	now       func() time.Time

	maxAttempts    int
	storageTimeout time.Duration
	notifyTimeout  time.Duration
	lockTTL        time.Duration
	asyncDispatch  bool
	inflight       sync.WaitGroup
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithPublisher emits a domain event for every applied payment.
func WithPublisher(publisher interfaces.EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = publisher }
}

// WithLocker narrows same-bill races with a distributed lock before the CAS write.
func WithLocker(locker interfaces.BillLocker, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.locker = locker
		if ttl > 0 {
			o.lockTTL = ttl
		}
	}
}

// WithClock overrides the clock used to stamp applied records.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMaxAttempts bounds optimistic retries of the atomic step.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithTimeouts sets the storage unit and notification dispatch timeouts.
func WithTimeouts(storage, notify time.Duration) Option {
	return func(o *Orchestrator) {
		if storage > 0 {
			o.storageTimeout = storage
		}
		if notify > 0 {
			o.notifyTimeout = notify
		}
	}
}

// WithAsyncDispatch sends notifications after Reconcile has returned.
func WithAsyncDispatch(async bool) Option {
	return func(o *Orchestrator) { o.asyncDispatch = async }
}

func NewOrchestrator(
	store interfaces.LedgerStore,
	gateway interfaces.GatewayClient,
	notifier interfaces.Notifier,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		store:          store,
		gateway:        gateway,
		notifier:       notifier,
		now:            func() time.Time { return time.Now().UTC() },
		maxAttempts:    defaultMaxAttempts,
		storageTimeout: defaultStorageTimeout,
		notifyTimeout:  defaultNotifyTimeout,
		lockTTL:        defaultLockTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// appliedChange is a committed mutation waiting for its side effects.
type appliedChange struct {
	result Result
	record models.AppliedEventRecord
}

// Reconcile applies event to its bill at most once.
//
// Applied, duplicate and no-op results are returned as an Outcome. Permanent
// rejections come back as errors (ErrBillNotFound, ErrForbidden, ErrMalformedEvent,
// ErrNonPositiveAmount, *OverLimitError, *BelowMinimumError); storage trouble is
// wrapped in ErrRetryable.
func (o *Orchestrator) Reconcile(ctx context.Context, event models.PaymentEvent) (outcome models.Outcome, err error) {
	start := time.Now()
	ctx, span := telemetry.Tracer.Start(ctx, "orchestrator.Reconcile", trace.WithAttributes(
		attribute.Int64("bill.id", event.BillID),
		attribute.String("payment.source", string(event.Source)),
		attribute.String("payment.order_id", event.ExternalOrderID),
	))
	defer func() {
		tag := models.Tag(outcome, err)
		span.SetAttributes(attribute.String("reconcile.outcome", tag))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		telemetry.ObserveReconcile(string(event.Source), tag, time.Since(start))
	}()

	if event.Source == models.SourceGatewayWebhook {
		telemetry.IncGatewayState(string(event.GatewayState))
	}

	bill, err := o.loadBill(ctx, event.BillID)
	if err != nil {
		return models.Outcome{}, err
	}
	if event.CallerID != 0 && bill.OwnerID != event.CallerID {
		return models.Outcome{}, models.ErrForbidden
	}

	if needsGatewayAmount(event) {
		// Replays are answered without a gateway round trip.
		seen, err := o.alreadyApplied(ctx, event)
		if err != nil {
			return models.Outcome{}, err
		}
		if seen {
			o.logDuplicate(event)
			return models.Outcome{Kind: models.OutcomeDuplicate, Bill: *bill}, nil
		}
	}

	event, err = o.resolveAmount(ctx, event)
	if errors.Is(err, models.ErrGatewayNotSettled) {
		o.logNoOp(ctx, event, err)
		return models.Outcome{Kind: models.OutcomeNoOp, Bill: *bill, Reason: "gateway_not_settled"}, nil
	}
	if err != nil {
		return models.Outcome{}, err
	}

	var change *appliedChange
	err = o.retryConflicts(ctx, event.BillID, func(ctx context.Context) error {
		var stepErr error
		outcome, change, stepErr = o.applyOnce(ctx, event)
		return stepErr
	})
	if err != nil {
		telemetry.Logger.Warn("Payment reconciliation failed",
			append(telemetry.TraceFields(ctx),
				zap.Int64("bill_id", event.BillID),
				zap.String("order_id", event.ExternalOrderID),
				zap.String("source", string(event.Source)),
				zap.Error(err),
			)...,
		)
		return models.Outcome{}, err
	}

	switch outcome.Kind {
	case models.OutcomeApplied:
		telemetry.Logger.Info("Payment applied",
			append(telemetry.TraceFields(ctx),
				zap.Int64("bill_id", outcome.Bill.ID),
				zap.String("order_id", event.ExternalOrderID),
				zap.String("source", string(event.Source)),
				zap.Int64("requested_amount", change.result.Requested.Int64()),
				zap.Int64("applied_amount", change.result.Applied.Int64()),
				zap.Int64("amount_paid", outcome.Bill.AmountPaid.Int64()),
				zap.String("status", string(outcome.Bill.Status)),
			)...,
		)
		if change.result.Excess > 0 {
			telemetry.Logger.Warn("Gateway amount exceeded remaining balance, clamped",
				zap.Int64("bill_id", outcome.Bill.ID),
				zap.String("order_id", event.ExternalOrderID),
				zap.Int64("excess_amount", change.result.Excess.Int64()),
			)
		}
		o.scheduleDispatch(ctx, *change)
	case models.OutcomeDuplicate:
		o.logDuplicate(event)
	case models.OutcomeNoOp:
		o.logNoOp(ctx, event, errors.New(outcome.Reason))
		o.closeCheckout(ctx, event)
	}
	return outcome, nil
}

// retryConflicts runs step under the bill lock and retries it with linear
// backoff while it reports ErrStorageConflict.
func (o *Orchestrator) retryConflicts(ctx context.Context, billID int64, step func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := o.withBillLock(ctx, billID, step)
		if !errors.Is(err, models.ErrStorageConflict) {
			return err
		}
		telemetry.IncReconcileConflict()
		if attempt >= o.maxAttempts {
			return fmt.Errorf("%w: bill %d: %w after %d attempts", models.ErrRetryable, billID, err, attempt)
		}
		if sleepErr := sleepContext(ctx, time.Duration(attempt)*conflictBackoff); sleepErr != nil {
			return fmt.Errorf("%w: %w", models.ErrRetryable, sleepErr)
		}
	}
}

// withBillLock holds the distributed bill lock, when configured, around fn.
// A lock held elsewhere is reported as a storage conflict.
func (o *Orchestrator) withBillLock(ctx context.Context, billID int64, fn func(ctx context.Context) error) error {
	if o.locker == nil {
		return fn(ctx)
	}
	unlock, ok, err := o.locker.TryLock(ctx, billID, o.lockTTL)
	if err != nil {
		return fmt.Errorf("%w: lock bill %d: %w", models.ErrRetryable, billID, err)
	}
	if !ok {
		return fmt.Errorf("bill %d is locked: %w", billID, models.ErrStorageConflict)
	}
	defer unlock()
	return fn(ctx)
}

// applyOnce runs guard, engine and persistence as one unit of work.
func (o *Orchestrator) applyOnce(ctx context.Context, event models.PaymentEvent) (models.Outcome, *appliedChange, error) {
	unitCtx, cancel := context.WithTimeout(ctx, o.storageTimeout)
	defer cancel()

	var (
		outcome models.Outcome
		change  *appliedChange
	)
	err := o.store.WithinUnit(unitCtx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		bill, err := tx.GetBill(ctx, event.BillID)
		if err != nil {
			return err
		}

		fresh, err := o.guard.ShouldApply(ctx, tx, event)
		if err != nil {
			return err
		}
		if !fresh {
			outcome = models.Outcome{Kind: models.OutcomeDuplicate, Bill: *bill}
			return nil
		}

		result, err := o.engine.Apply(*bill, event)
		switch {
		case errors.Is(err, models.ErrAlreadySettled):
			outcome = models.Outcome{Kind: models.OutcomeNoOp, Bill: *bill, Reason: "already_settled"}
			return nil
		case errors.Is(err, models.ErrGatewayNotSettled):
			outcome = models.Outcome{Kind: models.OutcomeNoOp, Bill: *bill, Reason: "gateway_not_settled"}
			return nil
		case err != nil:
			return err
		}

		updated, err := tx.UpdateBill(ctx, result.Bill, bill.Version)
		if err != nil {
			return fmt.Errorf("update bill %d: %w", bill.ID, err)
		}
		if !updated {
			return models.ErrStorageConflict
		}
		result.Bill.Version = bill.Version + 1

		record := newAppliedRecord(event, result, o.now())
		if err := o.guard.Record(ctx, tx, record); err != nil {
			return err
		}

		notification := result.Notification
		outcome = models.Outcome{
			Kind:         models.OutcomeApplied,
			Bill:         result.Bill,
			Applied:      result.Applied,
			Notification: &notification,
		}
		change = &appliedChange{result: result, record: record}
		return nil
	})

	if errors.Is(err, models.ErrDuplicateEvent) {
		bill, loadErr := o.loadBill(ctx, event.BillID)
		if loadErr != nil {
			return models.Outcome{}, nil, loadErr
		}
		return models.Outcome{Kind: models.OutcomeDuplicate, Bill: *bill}, nil, nil
	}
	if err != nil {
		return models.Outcome{}, nil, classifyStorageError(err)
	}
	return outcome, change, nil
}

// Reject marks a bill with nothing paid as failed (administrator rejection).
func (o *Orchestrator) Reject(ctx context.Context, billID int64, actor string) (models.Bill, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "orchestrator.Reject", trace.WithAttributes(attribute.Int64("bill.id", billID)))
	defer span.End()

	var next models.Bill
	err := o.retryConflicts(ctx, billID, func(ctx context.Context) error {
		unitCtx, cancel := context.WithTimeout(ctx, o.storageTimeout)
		defer cancel()
		return o.store.WithinUnit(unitCtx, func(ctx context.Context, tx interfaces.LedgerTx) error {
			bill, err := tx.GetBill(ctx, billID)
			if err != nil {
				return err
			}
			next, err = o.engine.MarkFailed(*bill)
			if err != nil || next.Status == bill.Status {
				return err
			}
			updated, err := tx.UpdateBill(ctx, next, bill.Version)
			if err != nil {
				return fmt.Errorf("update bill %d: %w", bill.ID, err)
			}
			if !updated {
				return models.ErrStorageConflict
			}
			next.Version = bill.Version + 1
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return models.Bill{}, classifyStorageError(err)
	}

	telemetry.Logger.Info("Bill rejected",
		zap.Int64("bill_id", billID),
		zap.String("actor", actor),
		zap.String("status", string(next.Status)),
	)
	return next, nil
}

// Wait blocks until asynchronous notification dispatches have finished.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

func (o *Orchestrator) loadBill(ctx context.Context, id int64) (*models.Bill, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: bill id %d", models.ErrMalformedEvent, id)
	}
	unitCtx, cancel := context.WithTimeout(ctx, o.storageTimeout)
	defer cancel()
	bill, err := o.store.GetBill(unitCtx, id)
	if err != nil {
		return nil, classifyStorageError(err)
	}
	return bill, nil
}

func needsGatewayAmount(event models.PaymentEvent) bool {
	return event.Source == models.SourceClientReported && event.Amount <= 0 && !event.SettleInFull
}

// alreadyApplied is a read-only guard check outside the write path. The
// authoritative check still runs inside applyOnce.
func (o *Orchestrator) alreadyApplied(ctx context.Context, event models.PaymentEvent) (bool, error) {
	if event.ExternalOrderID == "" {
		return false, nil
	}
	unitCtx, cancel := context.WithTimeout(ctx, o.storageTimeout)
	defer cancel()

	var fresh bool
	err := o.store.WithinUnit(unitCtx, func(ctx context.Context, tx interfaces.LedgerTx) error {
		var err error
		fresh, err = o.guard.ShouldApply(ctx, tx, event)
		return err
	})
	if err != nil {
		return false, classifyStorageError(err)
	}
	return !fresh, nil
}

// resolveAmount asks the gateway for the paid amount when a client report omits it.
func (o *Orchestrator) resolveAmount(ctx context.Context, event models.PaymentEvent) (models.PaymentEvent, error) {
	if !needsGatewayAmount(event) {
		return event, nil
	}
	if event.ExternalOrderID == "" || o.gateway == nil {
		return event, fmt.Errorf("%w: amount absent and no order to query", models.ErrMalformedEvent)
	}
	status, err := o.gateway.QueryStatus(ctx, event.ExternalOrderID)
	if err != nil {
		return event, fmt.Errorf("%w: query gateway status %s: %w", models.ErrRetryable, event.ExternalOrderID, err)
	}
	telemetry.Logger.Info("Resolved payment amount from gateway",
		zap.String("order_id", event.ExternalOrderID),
		zap.Int64("amount", status.Amount.Int64()),
		zap.String("gateway_state", string(status.State)),
	)
	event.GatewayState = status.State
	if !status.State.IsSuccess() {
		return event, models.ErrGatewayNotSettled
	}
	event.Amount = status.Amount
	return event, nil
}

func (o *Orchestrator) scheduleDispatch(ctx context.Context, change appliedChange) {
	ctx = context.WithoutCancel(ctx)
	if !o.asyncDispatch {
		o.dispatch(ctx, change)
		return
	}
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		o.dispatch(ctx, change)
	}()
}

// dispatch delivers the side effects of a committed change. Every failure here is
// logged and swallowed: the payment is already committed.
func (o *Orchestrator) dispatch(ctx context.Context, change appliedChange) {
	ctx, cancel := context.WithTimeout(ctx, o.notifyTimeout)
	defer cancel()

	intent := change.result.Notification
	fields := []zap.Field{
		zap.Int64("bill_id", change.result.Bill.ID),
		zap.Int64("owner_id", intent.OwnerID),
		zap.String("order_id", change.record.ExternalOrderID),
	}

	entry := models.InboxEntry{
		ID:        uuid.NewString(),
		OwnerID:   intent.OwnerID,
		Type:      inboxTypePayment,
		Title:     intent.Title,
		Message:   intent.Message,
		Payload:   intent.Payload,
		CreatedAt: o.now(),
	}
	if err := o.store.InsertNotificationInbox(ctx, entry); err != nil {
		telemetry.IncDispatchFailure("inbox")
		telemetry.Logger.Error("Failed to store in-app notification", append(fields, zap.Error(err))...)
	}

	if o.notifier != nil {
		o.push(ctx, intent, fields)
	}

	if o.publisher != nil {
		if err := o.publisher.PublishBillPayment(ctx, change.result.Bill, change.record); err != nil {
			telemetry.IncDispatchFailure("events")
			telemetry.Logger.Error("Failed to publish bill payment event", append(fields, zap.Error(err))...)
		}
	}

	if change.record.Source == models.SourceGatewayWebhook && change.record.ExternalOrderID != "" {
		o.settleCheckout(ctx, change.record)
	}
}

// settleCheckout compares the captured amount with the opened checkout and
// marks it settled.
func (o *Orchestrator) settleCheckout(ctx context.Context, record models.AppliedEventRecord) {
	fields := []zap.Field{
		zap.Int64("bill_id", record.BillID),
		zap.String("order_id", record.ExternalOrderID),
	}
	checkout, err := o.store.GetCheckout(ctx, record.ExternalOrderID)
	if errors.Is(err, models.ErrCheckoutNotFound) {
		telemetry.Logger.Warn("Settled order has no stored checkout", fields...)
		return
	}
	if err != nil {
		telemetry.IncDispatchFailure("checkout")
		telemetry.Logger.Error("Failed to load checkout", append(fields, zap.Error(err))...)
		return
	}
	if checkout.BillID != record.BillID || checkout.Amount != record.RequestedAmount {
		telemetry.Logger.Warn("Gateway amount differs from checkout",
			append(fields,
				zap.Int64("checkout_bill_id", checkout.BillID),
				zap.Int64("checkout_amount", checkout.Amount.Int64()),
				zap.Int64("gateway_amount", record.RequestedAmount.Int64()),
			)...,
		)
	}
	if err := o.store.UpdateCheckoutStatus(ctx, checkout.OrderID, models.CheckoutSettled); err != nil {
		telemetry.IncDispatchFailure("checkout")
		telemetry.Logger.Error("Failed to mark checkout settled", append(fields, zap.Error(err))...)
	}
}

// closeCheckout records a terminal failure state of a gateway order.
func (o *Orchestrator) closeCheckout(ctx context.Context, event models.PaymentEvent) {
	if event.Source != models.SourceGatewayWebhook || event.ExternalOrderID == "" {
		return
	}
	status, ok := models.CheckoutStatusFor(event.GatewayState)
	if !ok || status == models.CheckoutSettled {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.storageTimeout)
	defer cancel()
	err := o.store.UpdateCheckoutStatus(ctx, event.ExternalOrderID, status)
	if err != nil && !errors.Is(err, models.ErrCheckoutNotFound) {
		telemetry.Logger.Error("Failed to close checkout",
			zap.String("order_id", event.ExternalOrderID),
			zap.String("checkout_status", string(status)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) push(ctx context.Context, intent models.NotificationIntent, fields []zap.Field) {
	token, err := o.store.DeviceToken(ctx, intent.OwnerID)
	if err != nil {
		telemetry.IncDispatchFailure("push")
		telemetry.Logger.Error("Failed to load device token", append(fields, zap.Error(err))...)
		return
	}
	if token == "" {
		telemetry.Logger.Warn("No device token for owner, push skipped", fields...)
		return
	}
	if err := o.notifier.Send(ctx, token, intent); err != nil {
		telemetry.IncDispatchFailure("push")
		telemetry.Logger.Error("Push notification failed", append(fields, zap.Error(err))...)
		return
	}
	telemetry.Logger.Info("Push notification sent", fields...)
}

func (o *Orchestrator) logDuplicate(event models.PaymentEvent) {
	telemetry.Logger.Info("Duplicate payment event ignored",
		zap.Int64("bill_id", event.BillID),
		zap.String("order_id", event.ExternalOrderID),
		zap.String("source", string(event.Source)),
	)
}

func (o *Orchestrator) logNoOp(ctx context.Context, event models.PaymentEvent, reason error) {
	telemetry.Logger.Info("Payment event recorded without mutation",
		append(telemetry.TraceFields(ctx),
			zap.Int64("bill_id", event.BillID),
			zap.String("order_id", event.ExternalOrderID),
			zap.String("source", string(event.Source)),
			zap.String("gateway_state", string(event.GatewayState)),
			zap.String("reason", reason.Error()),
		)...,
	)
}

// classifyStorageError keeps domain errors and marks everything else retryable.
func classifyStorageError(err error) error {
	var overLimit *models.OverLimitError
	switch {
	case errors.Is(err, models.ErrBillNotFound),
		errors.Is(err, models.ErrForbidden),
		errors.Is(err, models.ErrMalformedEvent),
		errors.Is(err, models.ErrNonPositiveAmount),
		errors.Is(err, models.ErrBelowMinimum),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrStorageConflict),
		errors.Is(err, models.ErrRetryable),
		errors.As(err, &overLimit):
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrRetryable, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
