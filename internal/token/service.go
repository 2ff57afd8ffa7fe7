// Package token issues and verifies the compact signed tokens used for
// magic links and identity assertions.
package token

import (
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"members-service/internal/common/config"
	stderrors "members-service/internal/common/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose tags a token with its intended use. Verification fails when the
// purpose does not match, so a magic-link token can never pass as an
// identity token.
type Purpose string

const (
	PurposeMagicLink Purpose = "magiclink"
	PurposeIdentity  Purpose = "identity"
)

// Claims carries the token payload. Optional fields are omitted from the
// serialized token when empty.
type Claims struct {
	Email     string                 `json:"email,omitempty"`
	Intent    string                 `json:"intent,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Labels    []string               `json:"labels,omitempty"`
	OldEmail  string                 `json:"oldEmail,omitempty"`
	TokenData map[string]interface{} `json:"tokenData,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens against a configured RSA key pair and
// issuer. It has no side effects; it is a pure function of the key material.
type Service struct {
	issuer      string
	keyID       string
	privateKey  *rsa.PrivateKey
	magicTTL    time.Duration
	identityTTL time.Duration
	now         func() time.Time
}

// NewService builds a Service from configuration, loading the private key
// from an inline PEM or a file path.
func NewService(cfg config.TokenConfig) (*Service, error) {
	pemBytes := []byte(cfg.PrivateKeyPEM)
	if len(pemBytes) == 0 {
		var err error
		pemBytes, err = os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return NewServiceWithKey(
		key,
		cfg.Issuer,
		cfg.KeyID,
		config.GetSeconds(cfg.MagicLinkTTL),
		config.GetSeconds(cfg.IdentityTokenTTL),
	), nil
}

// NewServiceWithKey builds a Service from an already-parsed key. Used by
// tests and callers that manage key material themselves.
func NewServiceWithKey(key *rsa.PrivateKey, issuer, keyID string, magicTTL, identityTTL time.Duration) *Service {
	return &Service{
		issuer:      issuer,
		keyID:       keyID,
		privateKey:  key,
		magicTTL:    magicTTL,
		identityTTL: identityTTL,
		now:         time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) ttlFor(purpose Purpose) time.Duration {
	if purpose == PurposeIdentity {
		return s.identityTTL
	}
	return s.magicTTL
}

// Issue produces a compact signed token bound to the configured issuer and
// a purpose-specific expiry. Identity tokens carry the email as subject.
func (s *Service) Issue(claims *Claims, purpose Purpose) (string, error) {
	now := s.now()

	claims.Issuer = s.issuer
	claims.Audience = jwt.ClaimStrings{string(purpose)}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttlFor(purpose)))
	claims.ID = uuid.NewString()
	if purpose == PurposeIdentity {
		claims.Subject = claims.Email
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.keyID

	signed, err := tok.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token for the given purpose. Any mismatch of
// signature, issuer, expiry or purpose fails with an InvalidToken error;
// malformed tokens are rejected, never silently truncated.
func (s *Service) Verify(tokenStr string, purpose Purpose) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		tokenStr,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return &s.privateKey.PublicKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(string(purpose)),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		return nil, stderrors.NewInvalidTokenError(err.Error())
	}
	return claims, nil
}
