package mailer

import (
	"context"
	"fmt"

	"members-service/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESSender sends email through Amazon SES.
type SESClient interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

type SESMailer struct {
	client   SESClient
	from     string
	siteName string
	logger   logger.Logger
}

func NewSESMailer(client SESClient, from, siteName string, log logger.Logger) *SESMailer {
	return &SESMailer{
		client:   client,
		from:     from,
		siteName: siteName,
		logger:   log.WithFields(map[string]interface{}{"component": "mailer"}),
	}
}

func (m *SESMailer) SendMagicLink(ctx context.Context, email, intent, signinURL string, tokenData map[string]interface{}) error {
	if !isValidEmail(email) {
		return fmt.Errorf("invalid recipient address: %s", email)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(m.from),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subjectFor(intent, m.siteName)),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(bodyFor(intent, signinURL)),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	m.logger.Info("magic link email sent", map[string]interface{}{
		"to":        email,
		"intent":    intent,
		"messageId": aws.ToString(out.MessageId),
	})
	return nil
}
