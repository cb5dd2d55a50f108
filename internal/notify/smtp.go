package notify

import (
	"context"
	"fmt"

	"bookstore-service/config"
	"bookstore-service/internal/models"
	"bookstore-service/internal/util"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// SMTPNotifier sends confirmations through an SMTP relay
type SMTPNotifier struct {
	slot       chan struct{}
	client     *mail.Client
	from       string
	overrideTo string
	logger     *zap.Logger
}

// NewSMTPNotifier creates a notifier for the configured relay
func NewSMTPNotifier(cfg config.MailConfig) (*SMTPNotifier, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	return &SMTPNotifier{
		slot:       make(chan struct{}, 1),
		client:     client,
		from:       cfg.From,
		overrideTo: cfg.OverrideTo,
		logger:     util.GetLogger(),
	}, nil
}

// SendOrderConfirmation sends one message and returns the relay's error, if any
func (n *SMTPNotifier) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	recipient := order.Email
	if n.overrideTo != "" {
		recipient = n.overrideTo
	}
	if recipient == "" {
		return fmt.Errorf("order %d: %w", order.ID, ErrNoRecipient)
	}

	body := Body(order)
	if n.overrideTo != "" {
		body += fmt.Sprintf("\n(Note: overridden recipient %s)\n", recipient)
	}

	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(Subject(order))
	msg.SetBodyString(mail.TypeTextPlain, body)

	// the client keeps one connection, so sends take turns
	select {
	case n.slot <- struct{}{}:
		defer func() { <-n.slot }()
	case <-ctx.Done():
		return fmt.Errorf("smtp send not started: %w", ctx.Err())
	}

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		n.logger.Error("SMTP send failed",
			zap.Int64("order_id", order.ID),
			zap.String("recipient", recipient),
			zap.Error(err))
		return fmt.Errorf("smtp send failed: %w", err)
	}

	n.logger.Info("SMTP email sent",
		zap.Int64("order_id", order.ID),
		zap.String("recipient", recipient))
	return nil
}
