package events

import (
	"context"
	"encoding/json"
	"time"

	"pointsale/backend/internal/xid"
)

const (
	TopicSales = "pos.sales"

	TypeSaleCompleted = "sale.completed"
	TypeSalePartial   = "sale.partial"

	producerName = "pointsale-backend"
)

// Envelope is the wire format for every published event.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Producer   string          `json:"producer"`
	Payload    json.RawMessage `json:"payload"`
}

// SaleEvent is the payload for sale.completed and sale.partial. A
// partial event names the stage that failed so a downstream consumer
// can reconcile inventory or customer records against the sale.
type SaleEvent struct {
	ReceiptNumber string `json:"receipt_number"`
	TotalCents    int64  `json:"total_cents"`
	ItemCount     int    `json:"item_count"`
	PaymentMethod string `json:"payment_method"`
	CustomerName  string `json:"customer_name,omitempty"`
	FailedStage   string `json:"failed_stage,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

func NewEnvelope(eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:    xid.New("evt"),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Producer:   producerName,
		Payload:    raw,
	}, nil
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ string, _ any) error {
	return nil
}
