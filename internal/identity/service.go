// Package identity turns a redeemed magic link into a member identity:
// resolving or provisioning the member record, recording the login, and
// minting the identity token the caller holds onto.
package identity

import (
	"context"

	stderrors "members-service/internal/common/errors"
	"members-service/internal/common/logger"
	"members-service/internal/common/metrics"
	"members-service/internal/magiclink"
	"members-service/internal/models"
	"members-service/internal/token"

	"github.com/google/uuid"
)

// Identity is the projection returned on a successful redemption.
type Identity struct {
	ID            uuid.UUID                 `json:"id"`
	Email         string                    `json:"email"`
	Name          string                    `json:"name,omitempty"`
	Status        models.MemberStatus       `json:"status"`
	Subscriptions []models.SubscriptionLink `json:"subscriptions,omitempty"`
	IdentityToken string                    `json:"identityToken"`
}

// Links is the slice of the magic-link service redemption needs.
type Links interface {
	Decode(tokenStr string) (*magiclink.Payload, error)
	Consume(ctx context.Context, p *magiclink.Payload) error
}

type Service struct {
	links   Links
	tokens  magiclink.TokenIssuer
	members models.MemberRepository
	events  models.EventRepository
	logger  logger.Logger
}

func NewService(links Links, tokens magiclink.TokenIssuer, members models.MemberRepository, events models.EventRepository, log logger.Logger) *Service {
	return &Service{
		links:   links,
		tokens:  tokens,
		members: members,
		events:  events,
		logger:  log.WithFields(map[string]interface{}{"component": "identity"}),
	}
}

// Resolve redeems a magic link. A valid link with no email resolves to
// (nil, nil); the caller responds with an empty success rather than leaking
// whether an account exists. ip feeds the best-effort geolocation update.
func (s *Service) Resolve(ctx context.Context, tokenStr, ip string) (*Identity, error) {
	payload, err := s.links.Decode(tokenStr)
	if err != nil {
		metrics.MagicLinkRedemptions.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if payload == nil {
		metrics.MagicLinkRedemptions.WithLabelValues("empty").Inc()
		return nil, nil
	}

	if err := s.links.Consume(ctx, payload); err != nil {
		metrics.MagicLinkRedemptions.WithLabelValues("reused").Inc()
		return nil, err
	}

	member, err := s.resolveMember(ctx, payload)
	if err != nil {
		metrics.MagicLinkRedemptions.WithLabelValues("failed").Inc()
		return nil, err
	}

	s.recordLogin(ctx, member, payload, ip)

	// Best-effort: never blocks or fails the redemption.
	_ = s.members.SetGeolocation(ctx, member.Email, ip)

	subscriptions, err := s.members.GetSubscriptions(ctx, member.ID)
	if err != nil {
		metrics.MagicLinkRedemptions.WithLabelValues("failed").Inc()
		return nil, err
	}

	identityToken, err := s.tokens.Issue(&token.Claims{
		Email: member.Email,
		Name:  member.Name,
	}, token.PurposeIdentity)
	if err != nil {
		metrics.MagicLinkRedemptions.WithLabelValues("failed").Inc()
		return nil, stderrors.NewStorageError("issue identity token", err)
	}

	metrics.MagicLinkRedemptions.WithLabelValues("success").Inc()
	return &Identity{
		ID:            member.ID,
		Email:         member.Email,
		Name:          member.Name,
		Status:        effectiveStatus(member),
		Subscriptions: subscriptions,
		IdentityToken: identityToken,
	}, nil
}

// resolveMember finds the member the link belongs to, applying an email
// change when the link carries one and provisioning a new record otherwise.
func (s *Service) resolveMember(ctx context.Context, payload *magiclink.Payload) (*models.Member, error) {
	lookupEmail := payload.Email
	if payload.OldEmail != "" {
		lookupEmail = payload.OldEmail
	}

	member, err := s.members.GetByEmail(ctx, lookupEmail)
	switch {
	case err == nil:
		if payload.OldEmail != "" && member.Email != payload.Email {
			member, err = s.members.UpdateEmail(ctx, member.ID, payload.Email)
			if err != nil {
				// EmailConflict propagates: the new address belongs to
				// someone else and the change must not be applied.
				return nil, err
			}
			s.logger.Info("member email changed", map[string]interface{}{
				"memberId": member.ID.String(),
			})
		}
		return member, nil

	case stderrors.IsCode(err, stderrors.ErrCodeMemberNotFound):
		return s.provisionMember(ctx, payload)

	default:
		return nil, err
	}
}

func (s *Service) provisionMember(ctx context.Context, payload *magiclink.Payload) (*models.Member, error) {
	member, err := s.members.Create(ctx, models.NewMember{
		Email:  payload.Email,
		Name:   payload.Name,
		Labels: payload.Labels,
	})
	if stderrors.IsCode(err, stderrors.ErrCodeEmailConflict) {
		// Lost a creation race; the record that won is the member.
		return s.members.GetByEmail(ctx, payload.Email)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("member provisioned", map[string]interface{}{
		"memberId": member.ID.String(),
		"intent":   string(payload.Intent),
	})
	return member, nil
}

func (s *Service) recordLogin(ctx context.Context, member *models.Member, payload *magiclink.Payload, ip string) {
	add := func(eventType models.EventType, eventPayload map[string]interface{}) {
		if err := s.events.Add(ctx, models.MemberEvent{
			MemberID: member.ID,
			Type:     eventType,
			Payload:  eventPayload,
		}); err != nil {
			s.logger.Warn("failed to record member event", map[string]interface{}{
				"memberId": member.ID.String(),
				"type":     string(eventType),
				"error":    err.Error(),
			})
		}
	}

	if payload.Intent == magiclink.IntentSubscribe {
		add(models.EventSubscribe, map[string]interface{}{"intent": string(payload.Intent)})
	}
	add(models.EventLogin, map[string]interface{}{
		"intent": string(payload.Intent),
		"ip":     ip,
	})
}

// effectiveStatus applies the comped-label override on top of the stored
// status.
func effectiveStatus(m *models.Member) models.MemberStatus {
	if m.HasLabel(models.CompedLabel) {
		return models.StatusComped
	}
	return m.Status
}
