package contracts

import (
	"time"

	"github.com/goccy/go-json"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"

	SchemaVersion = "1.0"
)

type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	SourceService string          `json:"source_service"`
	PartitionKey  string          `json:"partition_key"`
	SchemaVersion string          `json:"schema_version"`
	Data          json.RawMessage `json:"data"`
}

type OrderCreatedPayload struct {
	OrderID       string  `json:"order_id"`
	OrderNumber   string  `json:"order_number"`
	CustomerEmail string  `json:"customer_email"`
	ItemCount     int     `json:"item_count"`
	Total         float64 `json:"total"`
	CreatedAt     string  `json:"created_at"`
}

type OrderStatusChangedPayload struct {
	OrderID        string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	ChangedBy      string `json:"changed_by,omitempty"`
	ChangedAt      string `json:"changed_at"`
}

type OrderPaymentPayload struct {
	OrderID       string  `json:"order_id"`
	OrderNumber   string  `json:"order_number"`
	PaymentID     string  `json:"payment_id,omitempty"`
	PaymentStatus string  `json:"payment_status"`
	AmountGross   float64 `json:"amount_gross,omitempty"`
	Total         float64 `json:"total"`
	OccurredAt    string  `json:"occurred_at"`
}
