// Package events publishes delivery outcomes to an SQS stream for
// downstream consumers (analytics, audit). Publishing is best effort
// and never feeds back into notification state.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
)

// Config holds SQS configuration for the delivery event stream.
type Config struct {
	Region   string
	QueueURL string
}

// DeliveryEvent is the payload sent for each terminal dispatch outcome.
type DeliveryEvent struct {
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	OccurredAt     int64  `json:"occurred_at"`
}

// Producer sends delivery events to SQS.
type Producer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new delivery event producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	logger.Info("delivery event producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Publish emits one delivery event. Failures are logged and swallowed so
// a queue outage never blocks or rolls back a dispatch.
func (p *Producer) Publish(ctx context.Context, notif *db.Notification, status, reason string) {
	event := DeliveryEvent{
		NotificationID: notif.ID.String(),
		UserID:         notif.UserID,
		Type:           notif.Type,
		Status:         status,
		Reason:         reason,
		OccurredAt:     time.Now().UnixNano(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal delivery event", zap.Error(err))
		return
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		p.logger.Warn("failed to publish delivery event",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)
	}
}
