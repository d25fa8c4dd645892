package bus

import (
	"context"
	"encoding/json"
	"time"
)

// Subject identifies the entity an event is about.
type Subject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Envelope is the wire form of a domain event. OutboxID lets consumers
// deduplicate redelivered events.
type Envelope struct {
	OrgID      string          `json:"org_id"`
	EventType  string          `json:"event_type"`
	Subject    Subject         `json:"subject"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
	OutboxID   string          `json:"outbox_id"`
}

// Publisher delivers event envelopes to an external consumer. Delivery is
// at-least-once; a non-nil error means the caller should retry later.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}
