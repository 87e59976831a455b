package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/dispatch-board/internal/models"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

// Publisher sends a keyed message to a topic
type Publisher interface {
	SendMessage(ctx context.Context, topic string, key string, value []byte) error
}

// KafkaHandler publishes outbox messages to Kafka
type KafkaHandler struct {
	logger   logger.Logger
	producer Publisher
	topic    string
}

// NewKafkaHandler creates a new KafkaHandler
func NewKafkaHandler(producer Publisher, topic string, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// HandleMessage publishes the payload keyed by order id so events for one
// order stay in one partition
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	err := h.producer.SendMessage(ctx, h.topic, message.AggregateID, message.Payload)
	if err != nil {
		h.logger.Error("Failed to publish message to Kafka",
			"error", err,
			"messageID", message.ID,
			"aggregateID", message.AggregateID)
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Debug("Published message to Kafka",
		"topic", h.topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	return nil
}
