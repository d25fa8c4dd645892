package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *ScheduleWindow) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error)
	List(ctx context.Context, practitionerID, locationID uuid.UUID) ([]*ScheduleWindow, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type HoldRepository interface {
	// AppointmentsInRange returns the effective busy spans of appointments
	// (confirmed span when present, else requested) overlapping [start, end).
	AppointmentsInRange(ctx context.Context, start, end time.Time) ([]Interval, error)
	// HoldsInRange returns spans of unexpired, unused holds for the
	// practitioner+location overlapping [start, end).
	HoldsInRange(ctx context.Context, practitionerID, locationID uuid.UUID, start, end, now time.Time) ([]Interval, error)
	// LockSpan serializes concurrent hold creation for a practitioner+location
	// pair for the remainder of the current transaction.
	LockSpan(ctx context.Context, practitionerID, locationID uuid.UUID) error
	Create(ctx context.Context, h *Hold) error
	GetByToken(ctx context.Context, token string, forUpdate bool) (*Hold, error)
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}
