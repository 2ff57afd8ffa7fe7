package mailer

import (
	"context"
	"errors"
	"testing"

	"members-service/internal/common/logger"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSES struct {
	input *ses.SendEmailInput
	err   error
}

func (s *stubSES) SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
	s.input = input
	if s.err != nil {
		return nil, s.err
	}
	return &ses.SendEmailOutput{MessageId: awssdk.String("msg-1")}, nil
}

func TestSESMailer_SendMagicLink(t *testing.T) {
	client := &stubSES{}
	m := NewSESMailer(client, "no-reply@site.example.com", "Example Site", logger.NewTestLogger(t))

	err := m.SendMagicLink(context.Background(), "member@example.com", "signin",
		"https://site.example.com/signin?token=abc", nil)
	require.NoError(t, err)

	require.NotNil(t, client.input)
	assert.Equal(t, "no-reply@site.example.com", awssdk.ToString(client.input.Source))
	assert.Equal(t, []string{"member@example.com"}, client.input.Destination.ToAddresses)
	assert.Contains(t, awssdk.ToString(client.input.Message.Subject.Data), "Example Site")
	assert.Contains(t, awssdk.ToString(client.input.Message.Body.Text.Data), "token=abc")
}

func TestSESMailer_SendMagicLinkRejectsBadAddress(t *testing.T) {
	m := NewSESMailer(&stubSES{}, "no-reply@site.example.com", "Example Site", logger.NewNoOpLogger())

	err := m.SendMagicLink(context.Background(), "not-an-address", "signin", "https://x", nil)
	assert.Error(t, err)
}

func TestSESMailer_SendMagicLinkTransportError(t *testing.T) {
	client := &stubSES{err: errors.New("throttled")}
	m := NewSESMailer(client, "no-reply@site.example.com", "Example Site", logger.NewNoOpLogger())

	err := m.SendMagicLink(context.Background(), "member@example.com", "signin", "https://x", nil)
	assert.Error(t, err)
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		intent string
		want   string
	}{
		{"signup", "Complete your Example Site signup"},
		{"signup-paid", "Complete your Example Site signup"},
		{"subscribe", "Confirm your Example Site subscription"},
		{"signin", "Sign in to Example Site"},
		{"", "Sign in to Example Site"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, subjectFor(tt.intent, "Example Site"), tt.intent)
	}
}
