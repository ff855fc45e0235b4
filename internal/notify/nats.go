package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

const PushSubject = "notification.push"

// PushRequest is sent to the push gateway over NATS.
type PushRequest struct {
	DeviceToken string         `json:"device_token"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Data        map[string]any `json:"data,omitempty"`
}

// PushResponse is the push gateway reply.
type PushResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// requester is the part of *nats.Conn the notifier uses.
type requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// NATSNotifier delivers push notifications through a request/reply subject.
type NATSNotifier struct {
	nc      requester
	subject string
	timeout time.Duration
}

func NewNATSNotifier(nc *nats.Conn, timeout time.Duration) *NATSNotifier {
	return newNotifier(nc, timeout)
}

func newNotifier(nc requester, timeout time.Duration) *NATSNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSNotifier{nc: nc, subject: PushSubject, timeout: timeout}
}

func (n *NATSNotifier) Send(ctx context.Context, deviceToken string, intent models.NotificationIntent) error {
	if deviceToken == "" {
		return errors.New("notify: empty device token")
	}
	req := PushRequest{
		DeviceToken: deviceToken,
		Title:       intent.Title,
		Body:        intent.Message,
		Data:        stringifyPayload(intent.Payload),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("notify: encode push: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg, err := n.nc.RequestWithContext(ctx, n.subject, payload)
	if err != nil {
		return fmt.Errorf("notify: request %s: %w", n.subject, err)
	}

	var resp PushResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return fmt.Errorf("notify: decode reply: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("notify: push rejected: %s", resp.Error)
	}
	return nil
}

// stringifyPayload renders data values as strings; FCM data messages only carry strings.
func stringifyPayload(payload map[string]any) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}
