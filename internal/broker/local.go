package broker

import (
	"context"
	"errors"
	"sync"

	"bookstore-service/internal/models"
	"bookstore-service/internal/util"

	"go.uber.org/zap"
)

// ErrBusClosed is returned when publishing to a LocalBus that is not running
var ErrBusClosed = errors.New("event bus closed")

type delivery struct {
	payload []byte
	result  chan error
}

// LocalBus is an in-process transport for single node deployments.
// A single goroutine handles events one at a time in the order they were
// published. Publish returns only after the handler finished with the event,
// so an event the relay marks published has been handled.
type LocalBus struct {
	handler *EventHandler
	queue   chan delivery
	done    chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

// NewLocalBus creates a bus that queues up to size waiting publishers
func NewLocalBus(handler *EventHandler, size int) *LocalBus {
	return &LocalBus{
		handler: handler,
		queue:   make(chan delivery, size),
		done:    make(chan struct{}),
		logger:  util.GetLogger(),
	}
}

// Publish hands the event to the bus goroutine and waits for the handler result.
// An error leaves the event for the next relay pass.
func (b *LocalBus) Publish(ctx context.Context, event *models.OutboxEvent) error {
	select {
	case <-b.done:
		return ErrBusClosed
	default:
	}

	d := delivery{payload: event.Payload, result: make(chan error, 1)}
	select {
	case b.queue <- d:
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-d.result:
		return err
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start handles events until ctx is cancelled or Close is called. Once it
// returns the bus is closed and Publish fails with ErrBusClosed.
func (b *LocalBus) Start(ctx context.Context) error {
	defer b.Close()

	b.logger.Info("Local event bus started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Local event bus stopped")
			return nil
		case <-b.done:
			b.logger.Info("Local event bus stopped")
			return nil
		case d := <-b.queue:
			d.result <- b.dispatch(ctx, d.payload)
		}
	}
}

func (b *LocalBus) dispatch(ctx context.Context, payload []byte) error {
	err := b.handler.Dispatch(ctx, payload)
	if errors.Is(err, ErrMalformedEvent) {
		b.logger.Error("Dropping malformed event", zap.Error(err))
		return nil
	}
	return err
}

// Close stops the bus. Events not yet handled stay pending in the outbox.
func (b *LocalBus) Close() {
	b.once.Do(func() { close(b.done) })
}
