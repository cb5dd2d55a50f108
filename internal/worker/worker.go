package worker

import (
	"context"

	"bookstore-service/internal/broker"
	"bookstore-service/internal/service"
	"bookstore-service/internal/util"
)

// NotificationHandler routes order events to the notification service
func NotificationHandler(notifications *service.NotificationService) *broker.EventHandler {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPlaced(notifications.HandleOrderPlaced)
	return eventHandler
}

// NotificationWorker consumes order events from Kafka and sends confirmations
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifications *service.NotificationService) *NotificationWorker {
	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: NotificationHandler(notifications),
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	util.GetLogger().Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	util.GetLogger().Info("Stopping notification worker")
	return w.consumer.Close()
}
