package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

// ConsoleSender logs notifications instead of delivering them. Used in
// development and whenever a real channel is not configured.
type ConsoleSender struct {
	logger *zap.Logger
}

// NewConsoleSender constructs a console sender.
func NewConsoleSender(logger *zap.Logger) *ConsoleSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleSender{logger: logger}
}

// Send writes the notification to the log.
func (s *ConsoleSender) Send(ctx context.Context, n models.Notification) error {
	s.logger.Sugar().Infow("notification",
		"channel", n.Channel,
		"recipient", n.Recipient,
		"subject", n.Subject,
		"body", n.Body,
		"reference", n.Reference,
	)
	return nil
}
