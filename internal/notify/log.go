package notify

import (
	"context"
	"sync"

	"bookstore-service/internal/models"
	"bookstore-service/internal/util"

	"go.uber.org/zap"
)

// LogNotifier writes confirmations to the log and keeps them in memory.
// It is meant for development.
type LogNotifier struct {
	mu     sync.Mutex
	sent   []string
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

func (n *LogNotifier) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body := Body(order)
	n.logger.Info("[DEV EMAIL] order confirmation",
		zap.Int64("order_id", order.ID),
		zap.String("to", order.Email),
		zap.String("body", body))

	n.mu.Lock()
	n.sent = append(n.sent, body)
	n.mu.Unlock()
	return nil
}

// Sent returns the bodies sent so far
func (n *LogNotifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}
