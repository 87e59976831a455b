package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/dispatch-board/internal/models"
	"github.com/vaidashi/dispatch-board/internal/notify"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

type collectingSink struct {
	events []notify.Event
}

func (c *collectingSink) OrderChanged(e notify.Event) {
	c.events = append(c.events, e)
}

func consumerMessage(t *testing.T, msg *models.OutboxMessage, err error) *sarama.ConsumerMessage {
	t.Helper()
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "dispatch.orders", Key: []byte(msg.AggregateID), Value: msg.Payload}
}

func TestOrderEventsHandler(t *testing.T) {
	ctx := context.Background()
	sink := &collectingSink{}
	h := NewOrderEventsHandler(sink, logger.NewNop())

	order := &models.Order{ID: "ord-1", OrderNumber: "1001", Status: models.StatusPending}

	created, err := models.NewOrderCreatedEvent(order)
	require.NoError(t, h.HandleMessage(ctx, consumerMessage(t, created, err)))

	updated, err := models.NewOrderUpdatedEvent(order)
	require.NoError(t, h.HandleMessage(ctx, consumerMessage(t, updated, err)))

	order.Status = models.StatusDeclined
	changed, err := models.NewOrderStatusChangedEvent(order, models.StatusPending)
	require.NoError(t, h.HandleMessage(ctx, consumerMessage(t, changed, err)))

	deleted, err := models.NewOrderDeletedEvent(order)
	require.NoError(t, h.HandleMessage(ctx, consumerMessage(t, deleted, err)))

	require.Len(t, sink.events, 3)
	assert.Equal(t, models.EventOrderCreated, sink.events[0].Type)
	assert.Equal(t, "1001", sink.events[0].OrderNumber)
	assert.Equal(t, models.StatusPending, sink.events[0].NewStatus)

	assert.Equal(t, models.EventOrderStatusChanged, sink.events[1].Type)
	assert.Equal(t, models.StatusPending, sink.events[1].OldStatus)
	assert.Equal(t, models.StatusDeclined, sink.events[1].NewStatus)

	assert.Equal(t, models.EventOrderDeleted, sink.events[2].Type)
	assert.Equal(t, "ord-1", sink.events[2].OrderID)
}

func TestOrderEventsHandlerSkipsDisplayNoOps(t *testing.T) {
	sink := &collectingSink{}
	h := NewOrderEventsHandler(sink, logger.NewNop())

	// an unknown stored status already displayed as Pending
	order := &models.Order{ID: "ord-2", OrderNumber: "7", Status: models.StatusPending}
	msg, err := models.NewOrderStatusChangedEvent(order, "legacy")
	require.NoError(t, h.HandleMessage(context.Background(), consumerMessage(t, msg, err)))

	assert.Empty(t, sink.events)
}

func TestOrderEventsHandlerRejectsGarbage(t *testing.T) {
	h := NewOrderEventsHandler(nil, logger.NewNop())

	err := h.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("not json")})
	assert.Error(t, err)

	payload, _ := json.Marshal(models.OutboxMessageEvent{EventType: models.EventOrderStatusChanged, Data: json.RawMessage(`"oops"`)})
	err = h.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: payload})
	assert.Error(t, err)
}
