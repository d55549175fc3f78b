package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
	"github.com/daybreakhq/daybreak/internal/push"
)

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3, RecoveryTimeout: time.Minute}, zap.NewNop())

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed while closed", i)
		}
		cb.RecordFailure()
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}
	if cb.Allow() {
		t.Error("open circuit must reject requests")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3, RecoveryTimeout: time.Minute}, zap.NewNop())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed after interleaved success", cb.GetState())
	}
}

func TestBreaker_ProbeAfterRecoveryTimeout(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1, RecoveryTimeout: 10 * time.Millisecond}, zap.NewNop())

	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected probe to be allowed after recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.GetState())
	}

	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed after successful probe", cb.GetState())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1, RecoveryTimeout: 10 * time.Millisecond}, zap.NewNop())

	cb.Allow()
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	cb.Allow()
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Errorf("state = %s, want open after failed probe", cb.GetState())
	}
}

type flakySender struct {
	err   error
	calls int
}

func (f *flakySender) Send(ctx context.Context, target *db.DeliveryTarget, n *db.Notification) error {
	f.calls++
	return f.err
}

func (f *flakySender) Supports(kind string) bool { return true }

func protectedTestNotification() *db.Notification {
	return &db.Notification{ID: uuid.New(), UserID: "u1", Type: db.TypeGeneric}
}

func TestProtectedSender_FailsFastWhenOpen(t *testing.T) {
	inner := &flakySender{err: errors.New("channel down")}
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Minute}, zap.NewNop())
	s := NewProtectedSender(inner, cb, zap.NewNop())

	target := &db.DeliveryTarget{UserID: "u1", Kind: db.TargetWebhook, Addr: "tok"}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Send(ctx, target, protectedTestNotification()); err == nil {
			t.Fatal("expected send failure")
		}
	}

	err := s.Send(ctx, target, protectedTestNotification())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner sender called %d times, want 2 (fail fast)", inner.calls)
	}
	if push.IsUnrecoverable(err) {
		t.Error("circuit-open must classify transient so notifications stay pending")
	}
}

func TestProtectedSender_UnrecoverableDoesNotTrip(t *testing.T) {
	inner := &flakySender{err: push.Unrecoverable(errors.New("token revoked"))}
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Minute}, zap.NewNop())
	s := NewProtectedSender(inner, cb, zap.NewNop())

	target := &db.DeliveryTarget{UserID: "u1", Kind: db.TargetWebhook, Addr: "tok"}
	ctx := context.Background()

	// Dead addresses are per-recipient problems, not channel problems.
	for i := 0; i < 5; i++ {
		err := s.Send(ctx, target, protectedTestNotification())
		if !push.IsUnrecoverable(err) {
			t.Fatalf("expected unrecoverable error, got: %v", err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed (unrecoverable errors must not trip the breaker)", cb.GetState())
	}
}
