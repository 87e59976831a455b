package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/dispatch-board/internal/models"
	"github.com/vaidashi/dispatch-board/internal/notify"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

// OrderEventsHandler turns order events from the change feed into
// dispatcher notifications
type OrderEventsHandler struct {
	sink   notify.Sink
	logger logger.Logger
}

// NewOrderEventsHandler creates a new OrderEventsHandler
func NewOrderEventsHandler(sink notify.Sink, logger logger.Logger) *OrderEventsHandler {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &OrderEventsHandler{
		sink:   sink,
		logger: logger,
	}
}

// HandleMessage handles incoming order events from Kafka messages
func (h *OrderEventsHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event models.OutboxMessageEvent

	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("failed to unmarshal message", "error", err)
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	h.logger.Debug("Handling order event",
		"eventType", event.EventType,
		"eventId", event.EventID,
		"aggregateId", event.AggregateID,
		"occurredAt", event.OccurredAt,
	)

	switch event.EventType {
	case models.EventOrderCreated:
		return h.handleOrderCreated(event)
	case models.EventOrderStatusChanged:
		return h.handleOrderStatusChanged(event)
	case models.EventOrderDeleted:
		return h.handleOrderDeleted(event)
	case models.EventOrderUpdated:
		// field edits do not alert dispatchers
		return nil
	default:
		h.logger.Warn("unknown event type", "eventType", event.EventType)
		return nil
	}
}

func (h *OrderEventsHandler) handleOrderCreated(event models.OutboxMessageEvent) error {
	var order models.Order
	if err := json.Unmarshal(event.Data, &order); err != nil {
		return fmt.Errorf("invalid order_created data: %w", err)
	}

	h.sink.OrderChanged(notify.Event{
		Type:        models.EventOrderCreated,
		OrderID:     event.AggregateID,
		OrderNumber: order.OrderNumber,
		NewStatus:   order.DisplayStatus(),
		At:          event.OccurredAt,
	})
	return nil
}

func (h *OrderEventsHandler) handleOrderStatusChanged(event models.OutboxMessageEvent) error {
	var change models.StatusChange
	if err := json.Unmarshal(event.Data, &change); err != nil {
		return fmt.Errorf("invalid order_status_changed data: %w", err)
	}

	oldStatus, newStatus := change.OldStatus.Display(), change.NewStatus.Display()
	if oldStatus == newStatus {
		return nil
	}

	h.sink.OrderChanged(notify.Event{
		Type:        models.EventOrderStatusChanged,
		OrderID:     event.AggregateID,
		OrderNumber: change.OrderNumber,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		At:          event.OccurredAt,
	})
	return nil
}

func (h *OrderEventsHandler) handleOrderDeleted(event models.OutboxMessageEvent) error {
	var deletion models.OrderDeletion
	if err := json.Unmarshal(event.Data, &deletion); err != nil {
		return fmt.Errorf("invalid order_deleted data: %w", err)
	}

	h.sink.OrderChanged(notify.Event{
		Type:        models.EventOrderDeleted,
		OrderID:     event.AggregateID,
		OrderNumber: deletion.OrderNumber,
		At:          event.OccurredAt,
	})
	return nil
}
