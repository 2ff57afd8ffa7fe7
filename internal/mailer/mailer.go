// Package mailer delivers magic-link emails. Delivery is fire-and-forget
// from the caller's perspective; failures are the collaborator's concern.
package mailer

import (
	"context"
	"fmt"
	"strings"
)

// Mailer hands a magic link to the outbound email transport.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, intent, signinURL string, tokenData map[string]interface{}) error
}

// subjectFor picks the subject line for a magic-link intent.
func subjectFor(intent, siteName string) string {
	switch intent {
	case "signup", "signup-paid":
		return fmt.Sprintf("Complete your %s signup", siteName)
	case "subscribe":
		return fmt.Sprintf("Confirm your %s subscription", siteName)
	default:
		return fmt.Sprintf("Sign in to %s", siteName)
	}
}

// bodyFor builds the plain-text body around the sign-in URL.
func bodyFor(intent, signinURL string) string {
	var b strings.Builder
	switch intent {
	case "signup", "signup-paid":
		b.WriteString("Welcome! Click the link below to activate your account.\r\n\r\n")
	case "subscribe":
		b.WriteString("Click the link below to confirm your subscription.\r\n\r\n")
	default:
		b.WriteString("Click the link below to sign in.\r\n\r\n")
	}
	b.WriteString(signinURL)
	b.WriteString("\r\n\r\nThis link expires shortly and can be used once. ")
	b.WriteString("If you didn't request it, you can safely ignore this email.\r\n")
	return b.String()
}

// isValidEmail performs basic address validation before handing off.
func isValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	if len(parts[0]) == 0 || len(parts[1]) == 0 {
		return false
	}
	if !strings.Contains(parts[1], ".") {
		return false
	}
	return true
}
