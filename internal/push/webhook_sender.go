package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
)

// WebhookSender posts notifications to a self-hosted push gateway that
// fans out to browser/desktop clients. The target address is the device
// token the gateway registered for the user.
type WebhookSender struct {
	client     *http.Client
	gatewayURL string
	logger     *zap.Logger
}

type WebhookConfig struct {
	GatewayURL string
	Timeout    time.Duration
}

// NewWebhookSender creates a new push-gateway sender.
func NewWebhookSender(cfg WebhookConfig, logger *zap.Logger) *WebhookSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WebhookSender{
		client:     &http.Client{Timeout: timeout},
		gatewayURL: cfg.GatewayURL,
		logger:     logger,
	}
}

type gatewayRequest struct {
	Token          string          `json:"token"`
	NotificationID string          `json:"notification_id"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	Context        json.RawMessage `json:"context,omitempty"`
}

// Send posts the notification to the gateway. A 404 or 410 means the token
// is gone for good; other failures are transient and retried by a later
// dispatch cycle.
func (s *WebhookSender) Send(ctx context.Context, target *db.DeliveryTarget, n *db.Notification) error {
	payload := gatewayRequest{
		Token:          target.Addr,
		NotificationID: n.ID.String(),
		Type:           n.Type,
		Title:          n.Title,
		Body:           n.Body,
		Context:        n.Context,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Unrecoverable(fmt.Errorf("marshal gateway request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Daybreak-Notification-ID", n.ID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Info("push delivered via gateway",
			zap.String("notification_id", n.ID.String()),
			zap.Int("status_code", resp.StatusCode),
		)
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return Unrecoverable(fmt.Errorf("gateway rejected token: status %d, body: %s", resp.StatusCode, respBody))
	default:
		return fmt.Errorf("gateway returned status %d, body: %s", resp.StatusCode, respBody)
	}
}

// Supports checks if this sender supports the webhook target kind.
func (s *WebhookSender) Supports(kind string) bool {
	return kind == db.TargetWebhook
}
