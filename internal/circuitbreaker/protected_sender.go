package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
	"github.com/daybreakhq/daybreak/internal/push"
)

// ProtectedSender wraps a push.Sender with a CircuitBreaker. A rejected
// send surfaces ErrCircuitOpen, which classifies as transient, so the
// affected notifications stay pending until the channel recovers.
type ProtectedSender struct {
	sender  push.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender push.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts delivery through the circuit breaker. Unrecoverable
// addressing errors do not count against the breaker; only channel-level
// failures do.
func (p *ProtectedSender) Send(ctx context.Context, target *db.DeliveryTarget, n *db.Notification) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("notification_id", n.ID.String()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s channel unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.sender.Send(ctx, target, n)
	if err != nil {
		if push.IsUnrecoverable(err) {
			p.breaker.RecordSuccess()
			return err
		}
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Supports delegates to the underlying sender.
func (p *ProtectedSender) Supports(kind string) bool {
	return p.sender.Supports(kind)
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
