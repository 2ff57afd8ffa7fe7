// Package magiclink issues, decodes and consumes single-use sign-in links.
package magiclink

import (
	"context"
	"net/url"
	"time"

	stderrors "members-service/internal/common/errors"
	"members-service/internal/common/logger"
	"members-service/internal/common/metrics"
	"members-service/internal/mailer"
	"members-service/internal/models"
	"members-service/internal/token"

	"github.com/redis/go-redis/v9"
)

const (
	usedKeyPrefix = "magiclink:used:"
	mailTimeout   = 10 * time.Second
	// minUsedTTL keeps the consumption marker alive even when the token is
	// about to expire, so a concurrent redemption still sees it.
	minUsedTTL = time.Minute
)

// TokenIssuer is the slice of the token service the magic-link flow needs.
type TokenIssuer interface {
	Issue(claims *token.Claims, purpose token.Purpose) (string, error)
	Verify(tokenStr string, purpose token.Purpose) (*token.Claims, error)
}

// SendRequest describes a magic-link request. ForceType bypasses the
// existence check and self-signup policy; only internal callers set it.
type SendRequest struct {
	Email         string
	RequestedType Intent
	Name          string
	Labels        []string
	OldEmail      string
	TokenData     map[string]interface{}
	ForceType     bool
}

// Payload is the decoded content of a magic-link token.
type Payload struct {
	ID        string
	Email     string
	Intent    Intent
	Name      string
	Labels    []string
	OldEmail  string
	TokenData map[string]interface{}
	ExpiresAt time.Time
}

// Service implements the magic-link lifecycle: issue a signed link and email
// it out, then decode and consume it exactly once on redemption.
type Service struct {
	tokens          TokenIssuer
	members         models.MemberRepository
	mailer          mailer.Mailer
	redis           *redis.Client
	signinURL       string
	allowSelfSignup bool
	logger          logger.Logger
	now             func() time.Time
}

func NewService(
	tokens TokenIssuer,
	members models.MemberRepository,
	m mailer.Mailer,
	redisClient *redis.Client,
	signinURL string,
	allowSelfSignup bool,
	log logger.Logger,
) *Service {
	return &Service{
		tokens:          tokens,
		members:         members,
		mailer:          m,
		redis:           redisClient,
		signinURL:       signinURL,
		allowSelfSignup: allowSelfSignup,
		logger:          log.WithFields(map[string]interface{}{"component": "magiclink"}),
		now:             time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Send resolves the effective intent for the address, issues a signed link
// and emails it. A mail transport failure is logged and swallowed so the
// caller's response does not leak whether delivery happened.
func (s *Service) Send(ctx context.Context, req SendRequest) error {
	if req.Email == "" {
		return stderrors.NewValidationFailedError("email is required")
	}

	var exists bool
	if !req.ForceType {
		lookupEmail := req.Email
		if req.OldEmail != "" {
			// Email-change links resolve against the current address.
			lookupEmail = req.OldEmail
		}
		_, err := s.members.GetByEmail(ctx, lookupEmail)
		switch {
		case err == nil:
			exists = true
		case stderrors.IsCode(err, stderrors.ErrCodeMemberNotFound):
			exists = false
		default:
			return err
		}
	}

	intent := EffectiveIntent(exists, req.RequestedType, req.ForceType)

	if !exists && !req.ForceType && !s.allowSelfSignup {
		return stderrors.NewValidationFailedError("self-signup is disabled")
	}

	claims := &token.Claims{
		Email:     req.Email,
		Intent:    string(intent),
		Name:      req.Name,
		Labels:    req.Labels,
		OldEmail:  req.OldEmail,
		TokenData: req.TokenData,
	}
	signed, err := s.tokens.Issue(claims, token.PurposeMagicLink)
	if err != nil {
		return stderrors.NewStorageError("issue magic link token", err)
	}

	link, err := buildSigninURL(s.signinURL, signed)
	if err != nil {
		return stderrors.NewValidationFailedError("signin URL is not valid: " + err.Error())
	}

	mailCtx, cancel := context.WithTimeout(ctx, mailTimeout)
	defer cancel()
	if err := s.mailer.SendMagicLink(mailCtx, req.Email, string(intent), link, req.TokenData); err != nil {
		s.logger.Warn("magic link email delivery failed", map[string]interface{}{
			"email":  req.Email,
			"intent": string(intent),
			"error":  err.Error(),
		})
	}

	metrics.MagicLinksSent.WithLabelValues(string(intent)).Inc()
	s.logger.Info("magic link issued", map[string]interface{}{
		"email":  req.Email,
		"intent": string(intent),
	})
	return nil
}

// Decode verifies a magic-link token and returns its payload. A valid token
// with no email decodes to (nil, nil): there is no identity to resolve.
func (s *Service) Decode(tokenStr string) (*Payload, error) {
	claims, err := s.tokens.Verify(tokenStr, token.PurposeMagicLink)
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, nil
	}

	p := &Payload{
		ID:        claims.ID,
		Email:     claims.Email,
		Intent:    Intent(claims.Intent),
		Name:      claims.Name,
		Labels:    claims.Labels,
		OldEmail:  claims.OldEmail,
		TokenData: claims.TokenData,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// Consume marks the link as used. The second redemption of the same link
// fails with an InvalidToken error. When redis is unreachable the link is
// allowed through: a locked-out member is worse than a rare double use.
func (s *Service) Consume(ctx context.Context, p *Payload) error {
	if p.ID == "" {
		return stderrors.NewInvalidTokenError("token has no id")
	}

	ttl := p.ExpiresAt.Sub(s.now())
	if ttl < minUsedTTL {
		ttl = minUsedTTL
	}

	ok, err := s.redis.SetNX(ctx, usedKeyPrefix+p.ID, 1, ttl).Result()
	if err != nil {
		s.logger.Warn("magic link consumption check degraded, allowing redemption", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	if !ok {
		return stderrors.NewInvalidTokenError("magic link already used")
	}
	return nil
}

func buildSigninURL(base, tokenStr string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", tokenStr)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
