package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"members-service/internal/common/config"
	stderrors "members-service/internal/common/errors"
	"members-service/internal/common/logger"
	"members-service/internal/identity"
	"members-service/internal/magiclink"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLinks struct {
	req magiclink.SendRequest
	err error
}

func (s *stubLinks) Send(ctx context.Context, req magiclink.SendRequest) error {
	s.req = req
	return s.err
}

type stubResolver struct {
	identity *identity.Identity
	ip       string
	err      error
}

func (s *stubResolver) Resolve(ctx context.Context, tokenStr, ip string) (*identity.Identity, error) {
	s.ip = ip
	return s.identity, s.err
}

type stubWebhooks struct {
	payload []byte
	sig     string
	err     error
}

func (s *stubWebhooks) Process(ctx context.Context, payload []byte, sigHeader string) error {
	s.payload = payload
	s.sig = sigHeader
	return s.err
}

type stubKeys struct {
	keySet []byte
	err    error
}

func (s *stubKeys) KeySet() ([]byte, error) {
	return s.keySet, s.err
}

type fixture struct {
	links    *stubLinks
	resolver *stubResolver
	webhooks *stubWebhooks
	keys     *stubKeys
	handler  http.Handler
}

func newFixture(t *testing.T, dbPing Pinger) *fixture {
	t.Helper()
	f := &fixture{
		links:    &stubLinks{},
		resolver: &stubResolver{},
		webhooks: &stubWebhooks{},
		keys:     &stubKeys{keySet: []byte(`{"keys":[]}`)},
	}
	log := logger.NewTestLogger(t)
	h := NewHandlers(f.links, f.resolver, f.webhooks, f.keys, dbPing, log)
	f.handler = NewServer(config.ServerConfig{Port: 0}, h, nil, log).Handler()
	return f
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_SendMagicLink(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/members/magic-link",
		`{"email":"  New@Example.COM ","emailType":"subscribe","name":"New Person"}`, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "new@example.com", f.links.req.Email)
	assert.Equal(t, magiclink.IntentSubscribe, f.links.req.RequestedType)
	assert.Equal(t, "New Person", f.links.req.Name)
	assert.False(t, f.links.req.ForceType, "external callers can never force an intent")

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["created"])
}

func TestHandlers_SendMagicLinkMalformedBody(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/members/magic-link", `{broken`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(stderrors.ErrCodeValidationFailed))
}

func TestHandlers_SendMagicLinkValidationError(t *testing.T) {
	f := newFixture(t, nil)
	f.links.err = stderrors.NewValidationFailedError("self-signup is disabled")

	rec := f.do(http.MethodPost, "/api/members/magic-link", `{"email":"x@example.com"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_Redeem(t *testing.T) {
	f := newFixture(t, nil)
	f.resolver.identity = &identity.Identity{
		ID:            uuid.New(),
		Email:         "member@example.com",
		Status:        "paid",
		IdentityToken: "identity-token",
	}

	rec := f.do(http.MethodPost, "/api/members/redeem", `{"token":"signed"}`,
		map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "203.0.113.7", f.resolver.ip)

	var got identity.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "member@example.com", got.Email)
	assert.Equal(t, "identity-token", got.IdentityToken)
}

func TestHandlers_RedeemEmptyIdentity(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/members/redeem", `{"token":"signed"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestHandlers_RedeemInvalidToken(t *testing.T) {
	f := newFixture(t, nil)
	f.resolver.err = stderrors.NewInvalidTokenError("magic link already used")

	rec := f.do(http.MethodPost, "/api/members/redeem", `{"token":"used"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), string(stderrors.ErrCodeInvalidToken))
}

func TestHandlers_RedeemMissingToken(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/members/redeem", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_BillingWebhook(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/webhooks/billing", `{"id":"evt_1"}`,
		map[string]string{"Stripe-Signature": "t=1,v1=abc"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"id":"evt_1"}`, string(f.webhooks.payload))
	assert.Equal(t, "t=1,v1=abc", f.webhooks.sig)
}

func TestHandlers_BillingWebhookAuthFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.webhooks.err = stderrors.NewWebhookAuthFailedError("bad signature")

	rec := f.do(http.MethodPost, "/api/webhooks/billing", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), string(stderrors.ErrCodeWebhookAuthFailed))
}

func TestHandlers_BillingWebhookStorageFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.webhooks.err = stderrors.NewStorageError("claim webhook event", assert.AnError)

	rec := f.do(http.MethodPost, "/api/webhooks/billing", `{}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code,
		"a retryable failure returns 5xx so the processor re-delivers")
}

func TestHandlers_JWKS(t *testing.T) {
	f := newFixture(t, nil)
	f.keys.keySet = []byte(`{"keys":[{"kty":"RSA","kid":"members-signing-key"}]}`)

	rec := f.do(http.MethodGet, "/.well-known/jwks.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "members-signing-key")
}

func TestHandlers_Health(t *testing.T) {
	tests := []struct {
		name       string
		ping       Pinger
		wantStatus int
	}{
		{"healthy", func(ctx context.Context) error { return nil }, http.StatusOK},
		{"no ping configured", nil, http.StatusOK},
		{"database down", func(ctx context.Context) error { return assert.AnError }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.ping)
			rec := f.do(http.MethodGet, "/healthz", "", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
