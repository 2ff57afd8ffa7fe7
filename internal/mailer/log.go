package mailer

import (
	"context"

	"members-service/internal/common/logger"
)

// LogMailer writes magic links to the log instead of sending email. Used in
// development and in environments without an SES identity.
type LogMailer struct {
	logger logger.Logger
}

func NewLogMailer(log logger.Logger) *LogMailer {
	return &LogMailer{logger: log.WithFields(map[string]interface{}{"component": "mailer"})}
}

func (m *LogMailer) SendMagicLink(ctx context.Context, email, intent, signinURL string, tokenData map[string]interface{}) error {
	if !isValidEmail(email) {
		return nil
	}
	m.logger.Info("magic link (log-only delivery)", map[string]interface{}{
		"to":     email,
		"intent": intent,
		"url":    signinURL,
	})
	return nil
}
