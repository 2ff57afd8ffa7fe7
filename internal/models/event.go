package models

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates member lifecycle events.
type EventType string

const (
	EventSubscribe        EventType = "subscribe"
	EventLogin            EventType = "login"
	EventPaidSubscription EventType = "paid-subscription"
	EventPayment          EventType = "payment"
	EventStatusChange     EventType = "status-change"
	EventProductChange    EventType = "product-change"
	EventEmailChange      EventType = "email-change"
)

// MemberEvent is an append-only audit record. Events are never updated or
// deleted; ordering is insertion order.
type MemberEvent struct {
	ID        int64                  `json:"id" db:"id"`
	MemberID  uuid.UUID              `json:"memberId" db:"member_id"`
	Type      EventType              `json:"type" db:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty" db:"payload"`
	CreatedAt time.Time              `json:"createdAt" db:"created_at"`
}

// EventFilter narrows event projections.
type EventFilter struct {
	MemberID uuid.UUID
	Type     EventType
	Limit    int
}

// EventRepository is an append-only log consumed for audit and analytics.
type EventRepository interface {
	Add(ctx context.Context, event MemberEvent) error
	Query(ctx context.Context, filter EventFilter) ([]MemberEvent, error)
	CountByType(ctx context.Context, memberID uuid.UUID, eventType EventType) (int64, error)
}
