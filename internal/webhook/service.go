// Package webhook reconciles billing processor events into member state.
// Signature verification is the only authentication on the endpoint, and
// every mutation is idempotent so redelivered events are harmless.
package webhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	stderrors "members-service/internal/common/errors"
	"members-service/internal/common/logger"
	"members-service/internal/common/metrics"
	"members-service/internal/magiclink"
	"members-service/internal/models"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// LinkSender issues the post-provisioning magic link.
type LinkSender interface {
	Send(ctx context.Context, req magiclink.SendRequest) error
}

type Repository interface {
	models.MemberRepository
	models.ProductRepository
}

type Service struct {
	secret    string
	tolerance time.Duration
	ledger    *Ledger
	members   Repository
	events    models.EventRepository
	links     LinkSender
	logger    logger.Logger
}

func NewService(secret string, tolerance time.Duration, ledger *Ledger, members Repository, events models.EventRepository, links LinkSender, log logger.Logger) *Service {
	return &Service{
		secret:    secret,
		tolerance: tolerance,
		ledger:    ledger,
		members:   members,
		events:    events,
		links:     links,
		logger:    log.WithFields(map[string]interface{}{"component": "webhook"}),
	}
}

// Process verifies and applies one webhook delivery. An unverifiable payload
// is never parsed beyond the signature check. Redeliveries of an applied
// event id acknowledge without touching state.
func (s *Service) Process(ctx context.Context, payload []byte, sigHeader string) error {
	if err := stripewebhook.ValidatePayloadWithTolerance(payload, sigHeader, s.secret, s.tolerance); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "auth_failed").Inc()
		return stderrors.NewWebhookAuthFailedError(err.Error())
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "malformed").Inc()
		return stderrors.NewValidationFailedError("malformed event envelope: " + err.Error())
	}

	eventType := string(event.Type)
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	claimed, err := s.ledger.Claim(ctx, event.ID)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(eventType, "failed").Inc()
		return err
	}
	if !claimed {
		s.logger.Info("webhook event already applied", map[string]interface{}{
			"eventId": event.ID,
			"type":    eventType,
		})
		metrics.WebhookEvents.WithLabelValues(eventType, "duplicate").Inc()
		return nil
	}

	if err := s.apply(ctx, &event); err != nil {
		// Give the claim back so the processor's retry of this event id
		// is not swallowed as a duplicate.
		if relErr := s.ledger.Release(ctx, event.ID); relErr != nil {
			s.logger.Error("failed to release webhook claim", map[string]interface{}{
				"eventId": event.ID,
				"error":   relErr.Error(),
			})
		}
		metrics.WebhookEvents.WithLabelValues(eventType, "failed").Inc()
		return err
	}

	metrics.WebhookEvents.WithLabelValues(eventType, "processed").Inc()
	return nil
}

func (s *Service) apply(ctx context.Context, event *stripe.Event) error {
	eventTime := time.Unix(event.Created, 0).UTC()

	switch string(event.Type) {
	case "customer.subscription.created", "customer.subscription.updated":
		var sub billingSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return stderrors.NewValidationFailedError("malformed subscription payload: " + err.Error())
		}
		return s.applySubscription(ctx, &sub, sub.Status, eventTime)

	case "customer.subscription.deleted":
		var sub billingSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return stderrors.NewValidationFailedError("malformed subscription payload: " + err.Error())
		}
		return s.applySubscription(ctx, &sub, string(models.SubscriptionCanceled), eventTime)

	case "invoice.payment_succeeded":
		var inv billingInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return stderrors.NewValidationFailedError("malformed invoice payload: " + err.Error())
		}
		return s.applyPayment(ctx, &inv)

	case "checkout.session.completed":
		var session checkoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return stderrors.NewValidationFailedError("malformed checkout payload: " + err.Error())
		}
		return s.applyCheckout(ctx, &session)

	case "customer.updated":
		var customer billingCustomer
		if err := json.Unmarshal(event.Data.Raw, &customer); err != nil {
			return stderrors.NewValidationFailedError("malformed customer payload: " + err.Error())
		}
		return s.applyCustomerUpdate(ctx, &customer)

	case "product.created", "product.updated":
		var product billingProduct
		if err := json.Unmarshal(event.Data.Raw, &product); err != nil {
			return stderrors.NewValidationFailedError("malformed product payload: " + err.Error())
		}
		return s.members.UpsertProduct(ctx, models.Product{
			ProductID: product.ID,
			Name:      product.Name,
			Active:    product.Active,
			UpdatedAt: eventTime,
		})

	default:
		s.logger.Debug("webhook event ignored", map[string]interface{}{
			"eventId": event.ID,
			"type":    string(event.Type),
		})
		return nil
	}
}

// applySubscription reconciles a subscription snapshot: resolve or provision
// the member, upsert the link, then settle the member's derived status.
func (s *Service) applySubscription(ctx context.Context, sub *billingSubscription, status string, eventTime time.Time) error {
	if strings.TrimSpace(sub.Customer.ID) == "" {
		s.logger.Warn("subscription event missing customer", map[string]interface{}{
			"subscriptionId": sub.ID,
		})
		return nil
	}

	subStatus := models.SubscriptionStatus(status)

	member, err := s.members.GetByStripeCustomer(ctx, sub.Customer.ID)
	switch {
	case err == nil:

	case stderrors.IsCode(err, stderrors.ErrCodeMemberNotFound):
		if !subStatus.IsActiveLike() {
			// Nothing to revoke for a member that never existed.
			return nil
		}
		member, err = s.provisionFromSubscription(ctx, sub)
		if err != nil || member == nil {
			return err
		}

	default:
		return err
	}

	priceID, productID := sub.firstPrice()
	if err := s.members.UpsertSubscription(ctx, models.SubscriptionLink{
		MemberID:         member.ID,
		SubscriptionID:   sub.ID,
		CustomerID:       sub.Customer.ID,
		PriceID:          priceID,
		ProductID:        productID,
		Status:           subStatus,
		CurrentPeriodEnd: time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		UpdatedAt:        eventTime,
	}); err != nil {
		return err
	}

	if subStatus.IsActiveLike() {
		s.recordEvent(ctx, member.ID, models.EventPaidSubscription, map[string]interface{}{
			"subscriptionId": sub.ID,
			"status":         status,
		})
	}

	return s.settleStatus(ctx, member)
}

// provisionFromSubscription creates a member for a paid subscription that
// arrived before any signup. Without a resolvable email there is no identity
// to attach, so the event is acknowledged and logged.
func (s *Service) provisionFromSubscription(ctx context.Context, sub *billingSubscription) (*models.Member, error) {
	email := strings.ToLower(strings.TrimSpace(sub.Customer.Email))
	if email == "" {
		s.logger.Warn("paid subscription has no member and no customer email", map[string]interface{}{
			"subscriptionId": sub.ID,
			"customerId":     sub.Customer.ID,
		})
		return nil, nil
	}

	member, err := s.members.Create(ctx, models.NewMember{Email: email})
	if stderrors.IsCode(err, stderrors.ErrCodeEmailConflict) {
		member, err = s.members.GetByEmail(ctx, email)
	}
	if err != nil {
		return nil, err
	}

	if err := s.members.LinkStripeCustomer(ctx, member.ID, sub.Customer.ID); err != nil {
		return nil, err
	}

	// Invite the freshly provisioned member in; delivery failures are the
	// link sender's concern.
	if err := s.links.Send(ctx, magiclink.SendRequest{
		Email:         email,
		RequestedType: magiclink.IntentSignupPaid,
		ForceType:     true,
		TokenData: map[string]interface{}{
			"subscriptionId": sub.ID,
		},
	}); err != nil {
		s.logger.Warn("failed to send provisioning magic link", map[string]interface{}{
			"email": email,
			"error": err.Error(),
		})
	}

	s.recordEvent(ctx, member.ID, models.EventSubscribe, map[string]interface{}{
		"subscriptionId": sub.ID,
		"provisioned":    true,
	})

	s.logger.Info("member provisioned from paid subscription", map[string]interface{}{
		"memberId":       member.ID.String(),
		"subscriptionId": sub.ID,
	})
	return member, nil
}

func (s *Service) applyPayment(ctx context.Context, inv *billingInvoice) error {
	member, err := s.members.GetByStripeCustomer(ctx, inv.Customer.ID)
	if stderrors.IsCode(err, stderrors.ErrCodeMemberNotFound) {
		s.logger.Warn("payment for unknown customer", map[string]interface{}{
			"customerId": inv.Customer.ID,
			"invoiceId":  inv.ID,
		})
		return nil
	}
	if err != nil {
		return err
	}

	s.recordEvent(ctx, member.ID, models.EventPayment, map[string]interface{}{
		"invoiceId": inv.ID,
		"amount":    inv.AmountPaid,
		"currency":  inv.Currency,
	})
	return nil
}

// applyCheckout links the billing customer to the member that completed
// checkout, provisioning the member when the email is new.
func (s *Service) applyCheckout(ctx context.Context, session *checkoutSession) error {
	email := session.email()
	if email == "" {
		s.logger.Warn("checkout session has no customer email", map[string]interface{}{
			"sessionId": session.ID,
		})
		return nil
	}

	member, err := s.members.GetByEmail(ctx, email)
	if stderrors.IsCode(err, stderrors.ErrCodeMemberNotFound) {
		member, err = s.members.Create(ctx, models.NewMember{Email: email})
		if stderrors.IsCode(err, stderrors.ErrCodeEmailConflict) {
			member, err = s.members.GetByEmail(ctx, email)
		}
		if err != nil {
			return err
		}
		s.recordEvent(ctx, member.ID, models.EventSubscribe, map[string]interface{}{
			"sessionId": session.ID,
		})
	} else if err != nil {
		return err
	}

	if session.Customer.ID != "" {
		return s.members.LinkStripeCustomer(ctx, member.ID, session.Customer.ID)
	}
	return nil
}

// applyCustomerUpdate follows a billing-side email change. A conflicting
// address is logged and skipped: billing data never overwrites another
// member's identity.
func (s *Service) applyCustomerUpdate(ctx context.Context, customer *billingCustomer) error {
	email := strings.ToLower(strings.TrimSpace(customer.Email))
	if email == "" {
		return nil
	}

	member, err := s.members.GetByStripeCustomer(ctx, customer.ID)
	if stderrors.IsCode(err, stderrors.ErrCodeMemberNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if strings.EqualFold(member.Email, email) {
		return nil
	}

	if _, err := s.members.UpdateEmail(ctx, member.ID, email); err != nil {
		if stderrors.IsCode(err, stderrors.ErrCodeEmailConflict) {
			s.logger.Warn("billing email change conflicts with another member", map[string]interface{}{
				"memberId": member.ID.String(),
			})
			return nil
		}
		return err
	}
	return nil
}

// settleStatus recomputes the member's derived status from their remaining
// subscriptions. The comped label pins the status regardless of billing.
func (s *Service) settleStatus(ctx context.Context, member *models.Member) error {
	if member.HasLabel(models.CompedLabel) {
		return nil
	}

	active, err := s.members.HasActiveSubscription(ctx, member.ID)
	if err != nil {
		return err
	}

	status := models.StatusFree
	if active {
		status = models.StatusPaid
	}
	return s.members.UpdateStatus(ctx, member.ID, status)
}

func (s *Service) recordEvent(ctx context.Context, memberID uuid.UUID, eventType models.EventType, payload map[string]interface{}) {
	if err := s.events.Add(ctx, models.MemberEvent{
		MemberID: memberID,
		Type:     eventType,
		Payload:  payload,
	}); err != nil {
		s.logger.Warn("failed to record member event", map[string]interface{}{
			"memberId": memberID.String(),
			"type":     string(eventType),
			"error":    err.Error(),
		})
	}
}
