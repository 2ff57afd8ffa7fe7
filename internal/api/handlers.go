package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	stderrors "members-service/internal/common/errors"
	"members-service/internal/common/logger"
	"members-service/internal/identity"
	"members-service/internal/magiclink"
)

// webhookBodyLimit bounds webhook payloads; the processor's events are far
// smaller than this.
const webhookBodyLimit = 1 << 20

// LinkSender issues magic links on request.
type LinkSender interface {
	Send(ctx context.Context, req magiclink.SendRequest) error
}

// Resolver redeems a magic link into a member identity.
type Resolver interface {
	Resolve(ctx context.Context, tokenStr, ip string) (*identity.Identity, error)
}

// WebhookProcessor verifies and applies one billing event delivery.
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, sigHeader string) error
}

// KeySetProvider serializes the public signing keys for discovery.
type KeySetProvider interface {
	KeySet() ([]byte, error)
}

type Handlers struct {
	links    LinkSender
	resolver Resolver
	webhooks WebhookProcessor
	keys     KeySetProvider
	dbPing   Pinger
	errors   *stderrors.HTTPHandler
	logger   logger.Logger
}

func NewHandlers(links LinkSender, resolver Resolver, webhooks WebhookProcessor, keys KeySetProvider, dbPing Pinger, log logger.Logger) *Handlers {
	return &Handlers{
		links:    links,
		resolver: resolver,
		webhooks: webhooks,
		keys:     keys,
		dbPing:   dbPing,
		errors:   newErrorWriter(log),
		logger:   log,
	}
}

type magicLinkRequest struct {
	Email     string                 `json:"email"`
	EmailType string                 `json:"emailType"`
	Name      string                 `json:"name"`
	Labels    []string               `json:"labels"`
	OldEmail  string                 `json:"oldEmail"`
	TokenData map[string]interface{} `json:"tokenData"`
}

// SendMagicLink issues a magic link for the given address. The response is
// the same whether or not the address belongs to a member.
func (h *Handlers) SendMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.WriteError(w, stderrors.NewValidationFailedError("malformed request body"))
		return
	}

	err := h.links.Send(r.Context(), magiclink.SendRequest{
		Email:         strings.ToLower(strings.TrimSpace(req.Email)),
		RequestedType: magiclink.Intent(req.EmailType),
		Name:          req.Name,
		Labels:        req.Labels,
		OldEmail:      strings.ToLower(strings.TrimSpace(req.OldEmail)),
		TokenData:     req.TokenData,
	})
	if err != nil {
		h.errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"created": true})
}

type redeemRequest struct {
	Token string `json:"token"`
}

// Redeem exchanges a magic link for a member identity. A valid link with no
// email yields an empty success body.
func (h *Handlers) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.WriteError(w, stderrors.NewValidationFailedError("malformed request body"))
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		h.errors.WriteError(w, stderrors.NewValidationFailedError("token is required"))
		return
	}

	member, err := h.resolver.Resolve(r.Context(), req.Token, clientIP(r))
	if err != nil {
		h.errors.WriteError(w, err)
		return
	}
	if member == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}

	writeJSON(w, http.StatusOK, member)
}

// BillingWebhook receives billing processor deliveries. Signature
// verification inside the processor is the endpoint's authentication.
func (h *Handlers) BillingWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.errors.WriteError(w, stderrors.NewValidationFailedError("failed to read request body"))
		return
	}

	if err := h.webhooks.Process(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"received": true})
}

// JWKS serves the public signing keys. Responses are cacheable; the key set
// only changes on deploy.
func (h *Handlers) JWKS(w http.ResponseWriter, r *http.Request) {
	keySet, err := h.keys.KeySet()
	if err != nil {
		h.errors.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(keySet)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.dbPing(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "degraded",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// clientIP prefers the first forwarded address; behind the edge proxy
// RemoteAddr is the proxy itself.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
