package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
)

// SNSSender publishes mobile pushes to SNS platform endpoints. The target
// address is the endpoint ARN registered for the user's device.
type SNSSender struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSSender creates a new SNS push sender.
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// pushMessage is the payload handed to the platform endpoint. The context
// map passes through opaquely for the client app.
type pushMessage struct {
	NotificationID string          `json:"notification_id"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	Context        json.RawMessage `json:"context,omitempty"`
}

// Send publishes the notification to the target's endpoint ARN.
func (s *SNSSender) Send(ctx context.Context, target *db.DeliveryTarget, n *db.Notification) error {
	msg := pushMessage{
		NotificationID: n.ID.String(),
		Type:           n.Type,
		Title:          n.Title,
		Body:           n.Body,
		Context:        n.Context,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return Unrecoverable(fmt.Errorf("marshal push message: %w", err))
	}

	input := &sns.PublishInput{
		TargetArn: aws.String(target.Addr),
		Message:   aws.String(string(body)),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return classifySNSError(err)
	}

	s.logger.Info("push sent via SNS",
		zap.String("notification_id", n.ID.String()),
		zap.String("user_id", n.UserID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// classifySNSError separates dead endpoints from transient service trouble.
func classifySNSError(err error) error {
	var disabled *types.EndpointDisabledException
	var invalid *types.InvalidParameterException
	var notFound *types.NotFoundException
	if errors.As(err, &disabled) || errors.As(err, &invalid) || errors.As(err, &notFound) {
		return Unrecoverable(err)
	}
	return fmt.Errorf("sns publish failed: %w", err)
}

// Supports checks if this sender supports the SNS target kind.
func (s *SNSSender) Supports(kind string) bool {
	return kind == db.TargetSNS
}
