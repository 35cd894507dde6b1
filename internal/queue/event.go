package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a downstream event.
type EventType string

const (
	EventTransition    EventType = "lifecycle.transition"
	EventQueueEntry    EventType = "lifecycle.queue_entry"
	EventOrderLinked   EventType = "lifecycle.order_linked"
	EventCycleComplete EventType = "lifecycle.cycle_complete"
	EventScanConflict  EventType = "scan.conflict_detected"
	EventRiskDetected  EventType = "queue.risk_detected"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTransition, EventQueueEntry, EventOrderLinked,
		EventCycleComplete, EventScanConflict, EventRiskDetected:
		return true
	}
	return false
}

// Event is the envelope written to the stream outbox and to Kafka.
// ID is generated once at construction so consumers can dedupe redeliveries.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	TenantID   string         `json:"tenant_id"`
	CardID     string         `json:"card_id,omitempty"`
	LoopID     string         `json:"loop_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// NewEvent builds an event with a fresh id and the current UTC time.
func NewEvent(t EventType, tenantID, cardID, loopID string, data map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		TenantID:   tenantID,
		CardID:     cardID,
		LoopID:     loopID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Validate rejects malformed envelopes before they reach a consumer.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// partitionKey keeps one card's events on one partition.
func (e Event) partitionKey() string {
	if e.CardID != "" {
		return e.CardID
	}
	return e.TenantID
}

// Publisher is the event bus contract. Delivery is at-least-once.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }
