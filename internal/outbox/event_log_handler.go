package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vaidashi/dispatch-board/internal/models"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

// EventLogHandler writes each order event to the log with its order number
// and statuses. It stands in for the broker when none is configured.
type EventLogHandler struct {
	logger logger.Logger
}

func NewEventLogHandler(logger logger.Logger) *EventLogHandler {
	return &EventLogHandler{logger: logger}
}

func (h *EventLogHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	var event models.OutboxMessageEvent
	if err := json.Unmarshal(message.Payload, &event); err != nil {
		return fmt.Errorf("invalid outbox payload %d: %w", message.ID, err)
	}

	keyvals := []interface{}{
		"orderID", event.AggregateID,
		"eventID", event.EventID,
		"occurredAt", event.OccurredAt,
	}

	switch event.EventType {
	case models.EventOrderCreated, models.EventOrderUpdated:
		var order models.Order
		if err := json.Unmarshal(event.Data, &order); err != nil {
			return fmt.Errorf("invalid %s data: %w", event.EventType, err)
		}
		keyvals = append(keyvals, "orderNumber", order.OrderNumber, "status", order.DisplayStatus())

	case models.EventOrderStatusChanged:
		var change models.StatusChange
		if err := json.Unmarshal(event.Data, &change); err != nil {
			return fmt.Errorf("invalid %s data: %w", event.EventType, err)
		}
		keyvals = append(keyvals,
			"orderNumber", change.OrderNumber,
			"from", change.OldStatus.Display(),
			"to", change.NewStatus.Display())

	case models.EventOrderDeleted:
		var deletion models.OrderDeletion
		if err := json.Unmarshal(event.Data, &deletion); err != nil {
			return fmt.Errorf("invalid %s data: %w", event.EventType, err)
		}
		keyvals = append(keyvals, "orderNumber", deletion.OrderNumber)

	default:
		return fmt.Errorf("unknown order event %q", event.EventType)
	}

	h.logger.Info("Order event "+event.EventType, keyvals...)
	return nil
}
