package gateway

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

const transactionTimeLayout = "2006-01-02 15:04:05"

// Notification is the subset of a Midtrans HTTP notification the service reads.
type Notification struct {
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	TransactionTime   string `json:"transaction_time"`
	TransactionID     string `json:"transaction_id"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
}

// Interpreter turns raw gateway notifications into payment events.
type Interpreter struct {
	serverKey string
	location  *time.Location
	now       func() time.Time
}

// InterpreterOption configures an Interpreter.
type InterpreterOption func(*Interpreter)

// WithServerKey enables signature verification.
func WithServerKey(serverKey string) InterpreterOption {
	return func(i *Interpreter) { i.serverKey = serverKey }
}

// WithInterpreterClock sets the time used when a notification carries no transaction_time.
func WithInterpreterClock(now func() time.Time) InterpreterOption {
	return func(i *Interpreter) {
		if now != nil {
			i.now = now
		}
	}
}

func NewInterpreter(opts ...InterpreterOption) *Interpreter {
	i := &Interpreter{
		location: jakarta(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Parse decodes and validates one notification body.
func (i *Interpreter) Parse(raw []byte) (models.PaymentEvent, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		// gross_amount is sometimes sent as a JSON number.
		var loose map[string]any
		if looseErr := json.Unmarshal(raw, &loose); looseErr != nil {
			return models.PaymentEvent{}, fmt.Errorf("%w: %v", models.ErrMalformedEvent, err)
		}
		n = notificationFromMap(loose)
	}
	return i.Interpret(n)
}

// Interpret validates an already decoded notification.
func (i *Interpreter) Interpret(n Notification) (models.PaymentEvent, error) {
	if strings.TrimSpace(n.OrderID) == "" {
		return models.PaymentEvent{}, fmt.Errorf("%w: order_id missing", models.ErrMalformedEvent)
	}
	if i.serverKey != "" && !VerifySignature(n, i.serverKey) {
		return models.PaymentEvent{}, models.ErrInvalidSignature
	}

	kind, billID, err := ParseOrderID(n.OrderID)
	if err != nil {
		return models.PaymentEvent{}, err
	}

	event := models.PaymentEvent{
		Source:          models.SourceGatewayWebhook,
		BillID:          billID,
		ExternalOrderID: n.OrderID,
		Kind:            kind,
		MethodLabel:     n.PaymentType,
		GatewayState:    NormalizeState(n.TransactionStatus, n.FraudStatus),
		TransactionID:   n.TransactionID,
		OccurredAt:      i.now(),
	}
	if n.GrossAmount != "" {
		amount, err := models.ParseMoney(n.GrossAmount)
		if err != nil {
			return models.PaymentEvent{}, fmt.Errorf("%w: gross_amount: %v", models.ErrMalformedEvent, err)
		}
		event.Amount = amount
	} else if event.GatewayState.IsSuccess() {
		return models.PaymentEvent{}, fmt.Errorf("%w: gross_amount missing", models.ErrMalformedEvent)
	}
	if n.TransactionTime != "" {
		at, err := time.ParseInLocation(transactionTimeLayout, n.TransactionTime, i.location)
		if err != nil {
			return models.PaymentEvent{}, fmt.Errorf("%w: transaction_time: %v", models.ErrMalformedEvent, err)
		}
		event.OccurredAt = at.UTC()
	}
	return event, nil
}

// ParseOrderID extracts the order kind and bill id from KIND-bill-timestamp.
func ParseOrderID(orderID string) (models.OrderKind, int64, error) {
	parts := strings.Split(strings.TrimSpace(orderID), "-")
	kind := models.OrderKind(parts[0])
	switch kind {
	case models.OrderKindInstallment:
		if len(parts) < 3 {
			return "", 0, fmt.Errorf("%w: %q", models.ErrMalformedOrderID, orderID)
		}
	case models.OrderKindFull:
		if len(parts) < 2 {
			return "", 0, fmt.Errorf("%w: %q", models.ErrMalformedOrderID, orderID)
		}
	default:
		return "", 0, fmt.Errorf("%w: %q", models.ErrMalformedOrderID, orderID)
	}
	billID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || billID <= 0 {
		return "", 0, fmt.Errorf("%w: %q", models.ErrMalformedOrderID, orderID)
	}
	return kind, billID, nil
}

// NormalizeState maps the gateway's transaction vocabulary onto GatewayState.
func NormalizeState(transactionStatus, fraudStatus string) models.GatewayState {
	switch strings.ToLower(transactionStatus) {
	case "capture":
		if strings.EqualFold(fraudStatus, "accept") {
			return models.GatewayStateCaptureAccepted
		}
		return models.GatewayStateUnknown
	case "settlement":
		return models.GatewayStateSettlement
	case "pending":
		return models.GatewayStatePending
	case "deny":
		return models.GatewayStateDenied
	case "cancel":
		return models.GatewayStateCancelled
	case "expire":
		return models.GatewayStateExpired
	}
	return models.GatewayStateUnknown
}

// Signature computes sha512(order_id + status_code + gross_amount + server_key) as hex.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature reports whether n was signed with serverKey.
func VerifySignature(n Notification, serverKey string) bool {
	expected := Signature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(n.SignatureKey))) == 1
}

func notificationFromMap(m map[string]any) Notification {
	str := func(key string) string {
		switch v := m[key].(type) {
		case string:
			return v
		case float64:
			if key == "gross_amount" {
				return strconv.FormatFloat(v, 'f', 2, 64)
			}
			return strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}
	return Notification{
		OrderID:           str("order_id"),
		TransactionStatus: str("transaction_status"),
		FraudStatus:       str("fraud_status"),
		GrossAmount:       str("gross_amount"),
		PaymentType:       str("payment_type"),
		TransactionTime:   str("transaction_time"),
		TransactionID:     str("transaction_id"),
		StatusCode:        str("status_code"),
		SignatureKey:      str("signature_key"),
	}
}

func jakarta() *time.Location {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		return time.FixedZone("WIB", 7*60*60)
	}
	return loc
}
