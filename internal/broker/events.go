package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bookstore-service/internal/models"
	"bookstore-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedEvent is returned for payloads that cannot be decoded
var ErrMalformedEvent = errors.New("malformed event")

// Publisher hands committed outbox events to an event transport
type Publisher interface {
	Publish(ctx context.Context, event *models.OutboxEvent) error
}

// EventKey is the partition key for events about an order
func EventKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// EventPublisher publishes outbox events to Kafka
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func (ep *EventPublisher) Publish(ctx context.Context, event *models.OutboxEvent) error {
	return ep.producer.Publish(ctx, EventKey(event.AggregateID), event.Payload)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderPlaced func(context.Context, *models.OrderPlacedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnOrderPlaced registers handler for ORDER_PLACED events
func (eh *EventHandler) OnOrderPlaced(handler func(context.Context, *models.OrderPlacedEvent) error) {
	eh.onOrderPlaced = handler
}

// HandleMessage adapts Dispatch to the Kafka consumer
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return eh.Dispatch(ctx, msg.Value)
}

// Dispatch decodes an event and routes it to its registered handler.
// Unknown event types are ignored.
func (eh *EventHandler) Dispatch(ctx context.Context, payload []byte) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(payload, &baseEvent); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderPlaced:
		if eh.onOrderPlaced == nil {
			return nil
		}
		var event models.OrderPlacedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("%w: order placed: %v", ErrMalformedEvent, err)
		}
		return eh.onOrderPlaced(ctx, &event)

	default:
		util.GetLogger().Warn("Unknown event type", zap.String("event_type", baseEvent.EventType))
		return nil
	}
}
