package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
)

func webhookTarget() *db.DeliveryTarget {
	return &db.DeliveryTarget{UserID: "u1", Kind: db.TargetWebhook, Addr: "tok-123"}
}

func TestWebhookSender_Success(t *testing.T) {
	var got gatewayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(WebhookConfig{GatewayURL: srv.URL}, zap.NewNop())
	n := testNotification()

	if err := s.Send(context.Background(), webhookTarget(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Token != "tok-123" {
		t.Errorf("token = %q, want tok-123", got.Token)
	}
	if got.NotificationID != n.ID.String() {
		t.Errorf("notification_id = %q, want %q", got.NotificationID, n.ID)
	}
	if got.Title != n.Title {
		t.Errorf("title = %q, want %q", got.Title, n.Title)
	}
}

func TestWebhookSender_GoneTokenIsUnrecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	s := NewWebhookSender(WebhookConfig{GatewayURL: srv.URL}, zap.NewNop())
	err := s.Send(context.Background(), webhookTarget(), testNotification())
	if err == nil {
		t.Fatal("expected error for gone token")
	}
	if !IsUnrecoverable(err) {
		t.Errorf("410 should be unrecoverable, got: %v", err)
	}
}

func TestWebhookSender_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSender(WebhookConfig{GatewayURL: srv.URL}, zap.NewNop())
	err := s.Send(context.Background(), webhookTarget(), testNotification())
	if err == nil {
		t.Fatal("expected error for 500")
	}
	if IsUnrecoverable(err) {
		t.Errorf("500 must stay transient so the cycle retries, got: %v", err)
	}
}

func TestWebhookSender_ConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	s := NewWebhookSender(WebhookConfig{GatewayURL: srv.URL}, zap.NewNop())
	err := s.Send(context.Background(), webhookTarget(), testNotification())
	if err == nil {
		t.Fatal("expected error for refused connection")
	}
	if IsUnrecoverable(err) {
		t.Errorf("network failure must stay transient, got: %v", err)
	}
}
