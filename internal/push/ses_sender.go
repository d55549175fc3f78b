package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
)

// SESSender delivers briefings by email for users whose only registered
// target is an address rather than a device.
type SESSender struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSESSender creates a new SES email sender.
func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SES: %w", err)
	}
	return &SESSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send emails the notification title and body to the target address.
func (s *SESSender) Send(ctx context.Context, target *db.DeliveryTarget, n *db.Notification) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{target.Addr},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(n.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(n.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		var rejected *types.MessageRejected
		var notVerified *types.MailFromDomainNotVerifiedException
		if errors.As(err, &rejected) || errors.As(err, &notVerified) {
			return Unrecoverable(err)
		}
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("briefing emailed via SES",
		zap.String("notification_id", n.ID.String()),
		zap.String("to", target.Addr),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// Supports checks if this sender supports the email target kind.
func (s *SESSender) Supports(kind string) bool {
	return kind == db.TargetEmail
}
