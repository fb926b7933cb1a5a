package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SendRawEmailAPI is the subset of the SES client used for delivery
type SendRawEmailAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// SESNotifier delivers reminders through Amazon SES
type SESNotifier struct {
	client SendRawEmailAPI
	from   string
	logger *zap.Logger
	now    func() time.Time
}

// NewSESNotifier creates an SES notifier
func NewSESNotifier(client SendRawEmailAPI, from string, logger *zap.Logger) *SESNotifier {
	return &SESNotifier{client: client, from: from, logger: logger, now: time.Now}
}

// Send delivers one plain-text message
func (n *SESNotifier) Send(ctx context.Context, to, subject, body string) error {
	data, err := buildMessage(n.from, to, subject, body, n.now())
	if err != nil {
		return err
	}
	recipient, err := envelopeAddress(to)
	if err != nil {
		return err
	}

	out, err := n.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
		Destinations: []string{recipient},
		RawMessage:   &types.RawMessage{Data: data},
	})
	if err != nil {
		return fmt.Errorf("failed to send email via SES: %w", err)
	}

	n.logger.Debug("Sent reminder via SES",
		zap.String("to", recipient),
		zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}
