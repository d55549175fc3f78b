package push

import (
	"context"

	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
)

// LogSender is a simple sender that logs deliveries (for development and
// tests). It accepts every target kind.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, target *db.DeliveryTarget, n *db.Notification) error {
	s.logger.Info("logging notification (development mode)",
		zap.String("notification_id", n.ID.String()),
		zap.String("user_id", n.UserID),
		zap.String("target_kind", target.Kind),
		zap.String("title", n.Title),
	)
	return nil
}

func (s *LogSender) Supports(kind string) bool {
	return true
}
