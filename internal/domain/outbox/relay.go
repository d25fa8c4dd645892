package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/bus"
)

// RelayConfig tunes one relay instance. A relay drains a single tenant's
// outbox; multiple instances against the same tenant coordinate through
// SKIP LOCKED claims.
type RelayConfig struct {
	Tenant       string
	PollInterval time.Duration
	BatchSize    int
	ReclaimAfter time.Duration
}

// Relay is the background loop that claims pending events and publishes them.
// Delivery is at-least-once; consumers deduplicate on outbox_id.
type Relay struct {
	repo   Repository
	pub    bus.Publisher
	logger zerolog.Logger
	cfg    RelayConfig
	now    func() time.Time
}

func NewRelay(repo Repository, pub bus.Publisher, logger zerolog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.ReclaimAfter <= 0 {
		cfg.ReclaimAfter = 2 * time.Minute
	}
	return &Relay{
		repo:   repo,
		pub:    pub,
		logger: logger.With().Str("component", "outbox_relay").Str("tenant", cfg.Tenant).Logger(),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Start runs the claim/publish loop until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	r.logger.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Msg("outbox relay started")

	for {
		if ctx.Err() != nil {
			r.logger.Info().Msg("outbox relay stopped")
			return
		}

		n, err := r.runOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("relay iteration failed")
			}
			r.sleep(ctx)
			continue
		}
		if n == 0 {
			r.sleep(ctx)
		}
	}
}

// runOnce reclaims stale rows, claims one batch and publishes it in creation
// order. Returns the number of claimed events.
func (r *Relay) runOnce(ctx context.Context) (int, error) {
	reclaimed, err := r.repo.ReclaimStale(ctx, r.now().Add(-r.cfg.ReclaimAfter))
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		r.logger.Warn().Int64("count", reclaimed).Msg("reclaimed stale processing events")
	}

	batch, err := r.repo.ClaimBatch(ctx, r.cfg.BatchSize, r.now())
	if err != nil {
		return 0, err
	}

	for i, ev := range batch {
		if ctx.Err() != nil {
			r.release(batch[i:])
			return len(batch), nil
		}
		r.deliver(ctx, ev)
	}
	return len(batch), nil
}

func (r *Relay) deliver(ctx context.Context, ev *Event) {
	err := r.pub.Publish(ctx, bus.Envelope{
		OrgID:      r.cfg.Tenant,
		EventType:  ev.EventType,
		Subject:    bus.Subject{Type: ev.SubjectType, ID: ev.SubjectID},
		Payload:    ev.Payload,
		OccurredAt: ev.OccurredAt,
		OutboxID:   ev.ID.String(),
	})
	if err != nil {
		ev.Attempts++
		next := r.now().Add(retryDelay(ev.Attempts))
		if mErr := r.repo.MarkFailed(ctx, ev.ID, ev.Attempts, next, truncateError(err.Error())); mErr != nil {
			r.logger.Error().Err(mErr).Str("outbox_id", ev.ID.String()).Msg("mark failed")
			return
		}
		r.logger.Warn().Err(err).
			Str("outbox_id", ev.ID.String()).
			Str("event_type", ev.EventType).
			Int("attempts", ev.Attempts).
			Time("next_attempt_at", next).
			Msg("publish failed")
		return
	}

	if err := r.repo.MarkSent(ctx, ev.ID); err != nil {
		r.logger.Error().Err(err).Str("outbox_id", ev.ID.String()).Msg("mark sent")
	}
}

// release returns unpublished claimed rows to pending on shutdown. Uses a
// fresh context because the loop's context is already cancelled.
func (r *Relay) release(events []*Event) {
	if len(events) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.repo.Release(ctx, ids); err != nil {
		r.logger.Error().Err(err).Int("count", len(ids)).Msg("release claimed events")
		return
	}
	r.logger.Info().Int("count", len(ids)).Msg("released claimed events on shutdown")
}

func (r *Relay) sleep(ctx context.Context) {
	t := time.NewTimer(r.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
