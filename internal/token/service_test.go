package token

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	stderrors "members-service/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return NewServiceWithKey(key, "https://members.example.com", "test-key", 15*time.Minute, 10*time.Minute)
}

func TestService_RoundTrip(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name    string
		claims  *Claims
		purpose Purpose
	}{
		{
			name: "magic link signup payload",
			claims: &Claims{
				Email:  "new@example.com",
				Intent: "signup",
				Name:   "New Member",
				Labels: []string{"newsletter"},
			},
			purpose: PurposeMagicLink,
		},
		{
			name: "magic link email change payload",
			claims: &Claims{
				Email:    "after@example.com",
				OldEmail: "before@example.com",
				Intent:   "signin",
			},
			purpose: PurposeMagicLink,
		},
		{
			name: "magic link with token data",
			claims: &Claims{
				Email:     "data@example.com",
				Intent:    "subscribe",
				TokenData: map[string]interface{}{"attribution": "homepage"},
			},
			purpose: PurposeMagicLink,
		},
		{
			name:    "identity token",
			claims:  &Claims{Email: "member@example.com"},
			purpose: PurposeIdentity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed, err := svc.Issue(tt.claims, tt.purpose)
			require.NoError(t, err)
			require.NotEmpty(t, signed)

			got, err := svc.Verify(signed, tt.purpose)
			require.NoError(t, err)

			assert.Equal(t, tt.claims.Email, got.Email)
			assert.Equal(t, tt.claims.Intent, got.Intent)
			assert.Equal(t, tt.claims.Name, got.Name)
			assert.Equal(t, tt.claims.Labels, got.Labels)
			assert.Equal(t, tt.claims.OldEmail, got.OldEmail)
			assert.Equal(t, tt.claims.TokenData, got.TokenData)
			assert.NotEmpty(t, got.ID, "tokens must carry a jti")
		})
	}
}

func TestService_IdentityTokenSubject(t *testing.T) {
	svc := newTestService(t)

	signed, err := svc.Issue(&Claims{Email: "member@example.com"}, PurposeIdentity)
	require.NoError(t, err)

	got, err := svc.Verify(signed, PurposeIdentity)
	require.NoError(t, err)
	assert.Equal(t, "member@example.com", got.Subject)
}

func TestService_PurposeMismatch(t *testing.T) {
	svc := newTestService(t)

	signed, err := svc.Issue(&Claims{Email: "member@example.com"}, PurposeMagicLink)
	require.NoError(t, err)

	_, err = svc.Verify(signed, PurposeIdentity)
	assert.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeInvalidToken))
}

func TestService_WrongIssuer(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	issuerA := NewServiceWithKey(key, "https://a.example.com", "k", time.Minute, time.Minute)
	issuerB := NewServiceWithKey(key, "https://b.example.com", "k", time.Minute, time.Minute)

	signed, err := issuerA.Issue(&Claims{Email: "x@example.com"}, PurposeMagicLink)
	require.NoError(t, err)

	_, err = issuerB.Verify(signed, PurposeMagicLink)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeInvalidToken))
}

func TestService_WrongKey(t *testing.T) {
	svcA := newTestService(t)
	svcB := newTestService(t)

	signed, err := svcA.Issue(&Claims{Email: "x@example.com"}, PurposeMagicLink)
	require.NoError(t, err)

	_, err = svcB.Verify(signed, PurposeMagicLink)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeInvalidToken))
}

func TestService_Expiry(t *testing.T) {
	svc := newTestService(t)

	issued := time.Now()
	svc.SetClock(func() time.Time { return issued })

	signed, err := svc.Issue(&Claims{Email: "x@example.com"}, PurposeMagicLink)
	require.NoError(t, err)

	// Still valid just before expiry.
	svc.SetClock(func() time.Time { return issued.Add(14 * time.Minute) })
	_, err = svc.Verify(signed, PurposeMagicLink)
	assert.NoError(t, err)

	// Rejected after expiry.
	svc.SetClock(func() time.Time { return issued.Add(16 * time.Minute) })
	_, err = svc.Verify(signed, PurposeMagicLink)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeInvalidToken))
}

func TestService_MalformedToken(t *testing.T) {
	svc := newTestService(t)

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		_, err := svc.Verify(tok, PurposeMagicLink)
		assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeInvalidToken), "token %q", tok)
	}
}

func TestService_KeySet(t *testing.T) {
	svc := newTestService(t)

	raw, err := svc.KeySet()
	require.NoError(t, err)

	var set struct {
		Keys []map[string]interface{} `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(raw, &set))
	require.Len(t, set.Keys, 1)

	key := set.Keys[0]
	assert.Equal(t, "RSA", key["kty"])
	assert.Equal(t, "test-key", key["kid"])
	assert.Equal(t, "RS256", key["alg"])
	assert.Equal(t, "sig", key["use"])
	assert.NotEmpty(t, key["n"])
	assert.NotEmpty(t, key["e"])
	assert.NotContains(t, key, "d", "private exponent must never be exposed")
}
