package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Enqueue inserts a pending row using the caller's transaction when one
	// is present in ctx, so the event commits with the domain mutation.
	Enqueue(ctx context.Context, e *Event) error
	// ClaimBatch selects up to limit due pending rows in creation order,
	// skipping rows locked by concurrent relay instances, and marks them
	// processing in one committed transaction.
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*Event, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error
	// Release returns still-processing claimed rows to pending, used when the
	// relay is cancelled mid-batch.
	Release(ctx context.Context, ids []uuid.UUID) error
	// ReclaimStale returns processing rows untouched since the cutoff to
	// pending, recovering rows orphaned by a crashed relay.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
}
