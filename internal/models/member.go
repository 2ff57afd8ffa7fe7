package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MemberStatus is the derived access status of a member.
type MemberStatus string

const (
	StatusFree   MemberStatus = "free"
	StatusPaid   MemberStatus = "paid"
	StatusComped MemberStatus = "comped"
)

// CompedLabel marks a member as complimentary regardless of billing state.
const CompedLabel = "comped"

// SubscriptionStatus mirrors the billing processor's subscription states.
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
)

// ActiveLikeStatuses are the statuses that still grant paid access.
// past_due and unpaid count as paid per the current grace-period policy.
var ActiveLikeStatuses = []SubscriptionStatus{
	SubscriptionActive,
	SubscriptionTrialing,
	SubscriptionPastDue,
	SubscriptionUnpaid,
}

// IsActiveLike reports whether the status grants paid access.
func (s SubscriptionStatus) IsActiveLike() bool {
	for _, a := range ActiveLikeStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// Member represents a membership identity record. Email is the natural key
// for identity resolution; two members must never share an email.
type Member struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	Email            string          `json:"email" db:"email"`
	Name             string          `json:"name" db:"name"`
	Labels           []string        `json:"labels,omitempty" db:"labels"`
	Geolocation      json.RawMessage `json:"geolocation,omitempty" db:"geolocation"`
	Status           MemberStatus    `json:"status" db:"status"`
	StripeCustomerID string          `json:"stripeCustomerId,omitempty" db:"stripe_customer_id"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time       `json:"updatedAt" db:"updated_at"`
}

// HasLabel reports whether the member carries the given label.
func (m *Member) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// NewMember holds the attributes needed to create a member.
type NewMember struct {
	Email  string
	Name   string
	Labels []string
}

// SubscriptionLink relates a member to an external billing subscription.
// Created and updated exclusively by webhook reconciliation.
type SubscriptionLink struct {
	ID               int64              `json:"id" db:"id"`
	MemberID         uuid.UUID          `json:"memberId" db:"member_id"`
	SubscriptionID   string             `json:"subscriptionId" db:"subscription_id"`
	CustomerID       string             `json:"customerId" db:"customer_id"`
	PriceID          string             `json:"priceId" db:"price_id"`
	ProductID        string             `json:"productId" db:"product_id"`
	Status           SubscriptionStatus `json:"status" db:"status"`
	CurrentPeriodEnd time.Time          `json:"currentPeriodEnd" db:"current_period_end"`
	UpdatedAt        time.Time          `json:"updatedAt" db:"updated_at"`
}

// Product is a catalog entry mirrored from the billing processor.
type Product struct {
	ProductID string    `json:"productId" db:"product_id"`
	Name      string    `json:"name" db:"name"`
	Active    bool      `json:"active" db:"active"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// MemberRepository is the sole writer of member records and their
// subscription links. Uniqueness of email and idempotency of webhook
// application are enforced at the storage layer, not here.
type MemberRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Member, error)
	GetByEmail(ctx context.Context, email string) (*Member, error)
	GetByStripeCustomer(ctx context.Context, customerID string) (*Member, error)
	Create(ctx context.Context, attrs NewMember) (*Member, error)
	UpdateEmail(ctx context.Context, id uuid.UUID, newEmail string) (*Member, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status MemberStatus) error
	LinkStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error
	UpsertSubscription(ctx context.Context, link SubscriptionLink) error
	GetSubscriptions(ctx context.Context, memberID uuid.UUID) ([]SubscriptionLink, error)
	HasActiveSubscription(ctx context.Context, memberID uuid.UUID) (bool, error)
	SetGeolocation(ctx context.Context, email, ip string) error
}

// ProductRepository mirrors the billing processor's product catalog.
type ProductRepository interface {
	UpsertProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, productID string) (*Product, error)
}
