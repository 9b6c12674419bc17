/*
events.go - Post-commit domain events

PURPOSE:
  The engine notifies external listeners (mail, dashboards, webhooks) through
  a fire-and-forget Publisher. Events are buffered while a unit of work is
  open and dispatched only after commit succeeds, so a listener never observes
  an event for a transaction that rolled back.

DELIVERY:
  At-least-once. Duplicate delivery must be tolerated by listeners; there is
  no outbox or delivery guarantee beyond the post-commit ordering per
  operation.

SEE ALSO:
  - workflow.go: Buffers and flushes events around each unit of work
*/
package engine

import (
	"time"

	"go.uber.org/zap"
)

// EventType identifies a domain event.
type EventType string

const (
	EventBookingCreated     EventType = "booking.created"
	EventBookingConfirmed   EventType = "booking.confirmed"
	EventBookingCancelled   EventType = "booking.cancelled"
	EventBookingCompleted   EventType = "booking.completed"
	EventBookingRescheduled EventType = "booking.rescheduled"
	EventTaskAssigned       EventType = "task.assigned"
	EventTaskCompleted      EventType = "task.completed"
)

// Event carries the tenant, the entity and the minimal payload a listener
// needs without re-fetching.
type Event struct {
	Type       EventType
	TenantID   TenantID
	EntityID   string
	OccurredAt time.Time
	Payload    map[string]any
}

// Publisher delivers events to external listeners. Implementations must be
// safe to call after a transaction has committed; they never participate in
// the unit of work.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher discards events. Used in tests that do not assert on them.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// LogPublisher writes every event to the structured log. The default sink
// when no external broker is wired.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(e Event) {
	p.Logger.Info("event published",
		zap.String("type", string(e.Type)),
		zap.String("tenant_id", string(e.TenantID)),
		zap.String("entity_id", e.EntityID),
		zap.Any("payload", e.Payload),
	)
}

// eventBuffer collects events raised during a unit of work for post-commit
// dispatch. Not safe for concurrent use; one buffer per operation.
type eventBuffer struct {
	events []Event
}

func (b *eventBuffer) add(t EventType, tenant TenantID, entityID string, payload map[string]any) {
	b.events = append(b.events, Event{
		Type:       t,
		TenantID:   tenant,
		EntityID:   entityID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
}

func (b *eventBuffer) flush(p Publisher) {
	if p == nil {
		return
	}
	for _, e := range b.events {
		p.Publish(e)
	}
	b.events = nil
}
