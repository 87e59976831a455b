package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrMessageClaimed is returned when another worker already took a pending
// outbox message
var ErrMessageClaimed = errors.New("outbox message already claimed")

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Event types published for order changes
const (
	EventOrderCreated       = "order_created"
	EventOrderUpdated       = "order_updated"
	EventOrderStatusChanged = "order_status_changed"
	EventOrderDeleted       = "order_deleted"
)

// EventTypes lists every order event type
var EventTypes = []string{
	EventOrderCreated,
	EventOrderUpdated,
	EventOrderStatusChanged,
	EventOrderDeleted,
}

// OutboxMessage represents a message to be published from the outbox table
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id"`
	AggregateType      string       `db:"aggregate_type" json:"aggregate_type"`
	AggregateID        string       `db:"aggregate_id" json:"aggregate_id"`
	EventType          string       `db:"event_type" json:"event_type"`
	Payload            []byte       `db:"payload" json:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processing_attempts"`
	LastError          *string      `db:"last_error" json:"last_error,omitempty"`
	Status             OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent represents the event data in the outbox message
type OutboxMessageEvent struct {
	EventType   string          `json:"event_type"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// StatusChange is the data of an order_status_changed event
type StatusChange struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	OldStatus   Status `json:"old_status"`
	NewStatus   Status `json:"new_status"`
}

// OrderDeletion is the data of an order_deleted event
type OrderDeletion struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

func newOrderEvent(eventType, orderID string, data interface{}) (*OutboxMessage, error) {
	raw, err := json.Marshal(data)

	if err != nil {
		return nil, err
	}

	event := OutboxMessageEvent{
		EventType:   eventType,
		EventID:     GenerateID("evt"),
		AggregateID: orderID,
		OccurredAt:  GetCurrentTime(),
		Data:        raw,
	}

	payload, err := json.Marshal(event)

	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		EventType:          eventType,
		Payload:            payload,
		AggregateType:      "order",
		AggregateID:        orderID,
		CreatedAt:          GetCurrentTime(),
		ProcessingAttempts: 0,
		Status:             OutboxStatusPending,
	}, nil
}

// NewOrderCreatedEvent creates a new order created event
func NewOrderCreatedEvent(order *Order) (*OutboxMessage, error) {
	return newOrderEvent(EventOrderCreated, order.ID, order)
}

// NewOrderUpdatedEvent creates a new order updated event
func NewOrderUpdatedEvent(order *Order) (*OutboxMessage, error) {
	return newOrderEvent(EventOrderUpdated, order.ID, order)
}

// NewOrderStatusChangedEvent creates a new event for order status change
func NewOrderStatusChangedEvent(order *Order, oldStatus Status) (*OutboxMessage, error) {
	return newOrderEvent(EventOrderStatusChanged, order.ID, StatusChange{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		OldStatus:   oldStatus,
		NewStatus:   order.Status,
	})
}

// NewOrderDeletedEvent creates a new event for a deleted order
func NewOrderDeletedEvent(order *Order) (*OutboxMessage, error) {
	return newOrderEvent(EventOrderDeleted, order.ID, OrderDeletion{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
	})
}
