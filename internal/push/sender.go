// Package push delivers due notifications to a user's registered delivery
// target. Senders classify failures: an unrecoverable error means the
// address itself is dead and the notification should be failed; anything
// else is transient and the dispatch cycle retries on a later pass.
package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/daybreakhq/daybreak/internal/db"
)

// ErrUnrecoverable marks addressing failures that no retry can fix
// (revoked push token, disabled platform endpoint, bounced address).
var ErrUnrecoverable = errors.New("unrecoverable delivery error")

// Unrecoverable wraps err so IsUnrecoverable reports true for it.
func Unrecoverable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnrecoverable, err)
}

// IsUnrecoverable reports whether err is a permanent addressing failure.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrUnrecoverable)
}

// Sender is the unified interface for all delivery target kinds.
// Implementations: SNS platform endpoints, push gateway webhooks, SES email.
type Sender interface {
	Send(ctx context.Context, target *db.DeliveryTarget, n *db.Notification) error
	Supports(kind string) bool
}

// MultiSender routes a notification to the sender matching the target kind.
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a router over the given senders, tried in order.
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

// Send routes to the first sender supporting the target kind. An unknown
// kind is unrecoverable: no future cycle will ever deliver it.
func (m *MultiSender) Send(ctx context.Context, target *db.DeliveryTarget, n *db.Notification) error {
	for _, s := range m.senders {
		if s.Supports(target.Kind) {
			return s.Send(ctx, target, n)
		}
	}
	return Unrecoverable(fmt.Errorf("no sender for target kind %q", target.Kind))
}

// Supports checks if any underlying sender supports the kind.
func (m *MultiSender) Supports(kind string) bool {
	for _, s := range m.senders {
		if s.Supports(kind) {
			return true
		}
	}
	return false
}
