package bus

import (
	"context"

	"github.com/rs/zerolog"
)

// LogPublisher writes envelopes to the log instead of delivering them.
// Used in development when no event sink is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, env Envelope) error {
	p.logger.Info().
		Str("org_id", env.OrgID).
		Str("event_type", env.EventType).
		Str("subject_type", env.Subject.Type).
		Str("subject_id", env.Subject.ID).
		Str("outbox_id", env.OutboxID).
		RawJSON("payload", env.Payload).
		Msg("event published")
	return nil
}
