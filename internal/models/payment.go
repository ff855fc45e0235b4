package models

import "time"

type Source string

const (
	SourceClientReported Source = "client_reported"
	SourceAdminManual    Source = "admin_manual"
	SourceGatewayWebhook Source = "gateway_webhook"
)

// OrderKind is encoded as the order-id prefix.
type OrderKind string

const (
	OrderKindFull        OrderKind = "SPP"
	OrderKindInstallment OrderKind = "CICILAN"
)

// GatewayState is the normalized gateway transaction state.
type GatewayState string

const (
	GatewayStateCaptureAccepted GatewayState = "capture_accepted"
	GatewayStateSettlement      GatewayState = "settlement"
	GatewayStatePending         GatewayState = "pending"
	GatewayStateDenied          GatewayState = "denied"
	GatewayStateCancelled       GatewayState = "cancelled"
	GatewayStateExpired         GatewayState = "expired"
	GatewayStateUnknown         GatewayState = "unknown"
)

// IsSuccess reports whether money has been received for the transaction.
func (s GatewayState) IsSuccess() bool {
	return s == GatewayStateCaptureAccepted || s == GatewayStateSettlement
}

// PaymentEvent is the normalized input to the reconciliation engine.
type PaymentEvent struct {
	Source          Source       `json:"source"`
	BillID          int64        `json:"bill_id"`
	ExternalOrderID string       `json:"external_order_id,omitempty"`
	Kind            OrderKind    `json:"kind,omitempty"`
	Amount          Money        `json:"amount"`
	MethodLabel     string       `json:"method_label"`
	OccurredAt      time.Time    `json:"occurred_at"`
	GatewayState    GatewayState `json:"gateway_state,omitempty"`
	TransactionID   string       `json:"transaction_id,omitempty"`

	// CallerID is the authenticated student; zero skips the ownership check.
	CallerID int64 `json:"caller_id,omitempty"`
	// Actor names the administrator for admin_manual events.
	Actor string `json:"actor,omitempty"`
	// IdempotencyKey is an optional caller-supplied token for admin_manual events.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	// SettleInFull pays whatever balance remains, ignoring Amount.
	SettleInFull bool `json:"settle_in_full,omitempty"`
}

// IsInstallment reports whether the event came from an installment checkout.
func (e PaymentEvent) IsInstallment() bool {
	return e.Kind == OrderKindInstallment
}

// AppliedEventRecord is the append-only log of applied payment events.
type AppliedEventRecord struct {
	ID              string    `json:"id"`
	BillID          int64     `json:"bill_id"`
	OwnerID         int64     `json:"owner_id"`
	DedupeKey       string    `json:"-"`
	Source          Source    `json:"source"`
	ExternalOrderID string    `json:"order_id,omitempty"`
	RequestedAmount Money     `json:"requested_amount"`
	AppliedAmount   Money     `json:"amount"`
	MethodLabel     string    `json:"payment_method"`
	TransactionID   string    `json:"transaction_id,omitempty"`
	OccurredAt      time.Time `json:"paid_at"`
	RecordedAt      time.Time `json:"created_at"`
}

// NotificationIntent is the user-facing message produced by a state change.
type NotificationIntent struct {
	OwnerID int64          `json:"owner_id"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Payload map[string]any `json:"data"`
}

// InboxEntry is an in-app notification row.
type InboxEntry struct {
	ID        string
	OwnerID   int64
	Type      string
	Title     string
	Message   string
	Payload   map[string]any
	CreatedAt time.Time
}

// CheckoutOrder is sent to the gateway to open a payment page.
type CheckoutOrder struct {
	OrderID         string
	Amount          Money
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ItemID          string
	ItemDescription string
}

// CheckoutSession is the gateway's answer to a checkout request.
type CheckoutSession struct {
	Token       string `json:"snap_token"`
	RedirectURL string `json:"redirect_url"`
}

// CheckoutStatus tracks a gateway checkout until its webhook arrives.
type CheckoutStatus string

const (
	CheckoutPending CheckoutStatus = "pending"
	CheckoutSettled CheckoutStatus = "settled"
	CheckoutFailed  CheckoutStatus = "failed"
	CheckoutExpired CheckoutStatus = "expired"
)

// CheckoutStatusFor maps a terminal gateway state onto a checkout status.
func CheckoutStatusFor(state GatewayState) (CheckoutStatus, bool) {
	switch state {
	case GatewayStateCaptureAccepted, GatewayStateSettlement:
		return CheckoutSettled, true
	case GatewayStateDenied, GatewayStateCancelled:
		return CheckoutFailed, true
	case GatewayStateExpired:
		return CheckoutExpired, true
	}
	return "", false
}

// Checkout is a gateway payment opened by a student.
type Checkout struct {
	OrderID   string
	BillID    int64
	OwnerID   int64
	Amount    Money
	Kind      OrderKind
	Token     string
	Status    CheckoutStatus
	CreatedAt time.Time
}

// GatewayStatus is the gateway's view of one order.
type GatewayStatus struct {
	Amount Money
	State  GatewayState
}

// Customer is the contact data attached to a checkout.
type Customer struct {
	Name  string
	Email string
	Phone string
}
