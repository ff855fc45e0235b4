package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
)

const BillPaymentAppliedTopic = "bill.payment.applied"

// BillPaymentApplied is the domain event emitted after a payment changes a bill.
type BillPaymentApplied struct {
	EventID         string        `json:"event_id"`
	BillID          int64         `json:"bill_id"`
	OwnerID         int64         `json:"owner_id"`
	Source          models.Source `json:"source"`
	OrderID         string        `json:"order_id,omitempty"`
	RequestedAmount int64         `json:"requested_amount"`
	AppliedAmount   int64         `json:"applied_amount"`
	AmountPaid      int64         `json:"amount_paid"`
	TotalDue        int64         `json:"total_due"`
	Status          models.Status `json:"status"`
	PaymentMethod   string        `json:"payment_method"`
	OccurredAt      time.Time     `json:"occurred_at"`
	Timestamp       time.Time     `json:"timestamp"`
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes bill payment events keyed by bill id.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaWriter builds the writer for BillPaymentAppliedTopic.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    BillPaymentAppliedTopic,
		Balancer: &kafka.Hash{},
	}
}

func NewKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) PublishBillPayment(ctx context.Context, bill models.Bill, record models.AppliedEventRecord) error {
	event := BillPaymentApplied{
		EventID:         record.ID,
		BillID:          bill.ID,
		OwnerID:         bill.OwnerID,
		Source:          record.Source,
		OrderID:         record.ExternalOrderID,
		RequestedAmount: record.RequestedAmount.Int64(),
		AppliedAmount:   record.AppliedAmount.Int64(),
		AmountPaid:      bill.AmountPaid.Int64(),
		TotalDue:        bill.TotalDue.Int64(),
		Status:          bill.Status,
		PaymentMethod:   record.MethodLabel,
		OccurredAt:      record.OccurredAt,
		Timestamp:       record.RecordedAt,
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(bill.ID, 10)),
		Value: eventJSON,
	})
}
