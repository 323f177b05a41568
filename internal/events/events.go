// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	OrderCreated   = "order.created"
	OrderUpdated   = "order.updated"
	OrderApproved  = "order.approved"
	OrderDelivered = "order.delivered"
	OrderSigned    = "order.signed"
)

// Event is the envelope written to the topic.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	Key        string    `json:"-"`
	OccurredAt time.Time `json:"occurred_at"`
	ActorID    int64     `json:"actor_id,omitempty"`
	Payload    any       `json:"payload"`
}

// New stamps an event with a fresh id.
func New(eventType, key string, actorID int64, at time.Time, payload any) Event {
	return Event{ID: uuid.New(), Type: eventType, Key: key, OccurredAt: at.UTC(), ActorID: actorID, Payload: payload}
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Nop discards events; used when no brokers are configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, ...Event) error { return nil }
