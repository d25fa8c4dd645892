package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// EventEnqueuer appends an outbox event inside the caller's transaction.
type EventEnqueuer interface {
	Enqueue(ctx context.Context, eventType, subjectType string, subjectID uuid.UUID, payload interface{}) error
}

type Service struct {
	repo   Repository
	events EventEnqueuer
	runTx  func(ctx context.Context, fn func(context.Context) error) error
}

func NewService(repo Repository, events EventEnqueuer, pool *pgxpool.Pool) *Service {
	return &Service{
		repo:   repo,
		events: events,
		runTx: func(ctx context.Context, fn func(context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
	}
}

// Request creates an appointment in requested state.
func (s *Service) Request(ctx context.Context, in RequestInput) (*Appointment, error) {
	if in.RequestedStart != nil && in.RequestedEnd != nil && !in.RequestedEnd.After(*in.RequestedStart) {
		return nil, fmt.Errorf("requested_end must be after requested_start")
	}

	a := &Appointment{
		PatientID:        in.PatientID,
		Status:           StatusRequested,
		ReasonCode:       in.ReasonCode,
		ChannelOrigin:    in.ChannelOrigin,
		RequestedStart:   in.RequestedStart,
		RequestedEnd:     in.RequestedEnd,
		LocationName:     in.LocationName,
		PractitionerName: in.PractitionerName,
		Meta:             in.Meta,
	}
	if err := s.runTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, a)
	}); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return a, nil
}

// Confirm pins the confirmed window. It is reachable from requested,
// pending_confirm, rescheduled and no_show, which covers both the first
// confirmation and re-confirming after a reschedule or no-show.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, in ConfirmInput) (*Appointment, error) {
	if !in.ConfirmedEnd.After(in.ConfirmedStart) {
		return nil, fmt.Errorf("confirmed_end must be after confirmed_start")
	}

	var a *Appointment
	err := s.runTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !confirmableFrom[a.Status] {
			return &TransitionError{From: a.Status, To: StatusConfirmed}
		}

		a.Status = StatusConfirmed
		start, end := in.ConfirmedStart, in.ConfirmedEnd
		a.ConfirmedStart = &start
		a.ConfirmedEnd = &end
		if in.LocationName != nil {
			a.LocationName = in.LocationName
		}
		if in.PractitionerName != nil {
			a.PractitionerName = in.PractitionerName
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}

		return s.events.Enqueue(ctx, "APPT_CONFIRMED", "appointment", a.ID, map[string]interface{}{
			"start": a.ConfirmedStart,
			"end":   a.ConfirmedEnd,
		})
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateFields edits appointment fields. Rejected once the appointment is in
// a terminal state.
func (s *Service) UpdateFields(ctx context.Context, id uuid.UUID, in UpdateInput) (*Appointment, error) {
	var a *Appointment
	err := s.runTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return ErrTerminal
		}

		if in.PatientID != nil {
			a.PatientID = in.PatientID
		}
		if in.ReasonCode != nil {
			a.ReasonCode = in.ReasonCode
		}
		if in.ChannelOrigin != nil {
			a.ChannelOrigin = in.ChannelOrigin
		}
		if in.RequestedStart != nil {
			a.RequestedStart = in.RequestedStart
		}
		if in.RequestedEnd != nil {
			a.RequestedEnd = in.RequestedEnd
		}
		if in.LocationName != nil {
			a.LocationName = in.LocationName
		}
		if in.PractitionerName != nil {
			a.PractitionerName = in.PractitionerName
		}
		if in.Meta != nil {
			a.Meta = in.Meta
		}
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ChangeStatus applies one transition from the lifecycle table, with its side
// effects, and records the change on the outbox.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, next Status) (*Appointment, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("unknown status %q", next)
	}

	var a *Appointment
	err := s.runTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !a.Status.CanTransitionTo(next) {
			return &TransitionError{From: a.Status, To: next}
		}

		prev := a.Status
		switch next {
		case StatusRescheduled:
			a.RescheduleCount++
			a.ConfirmedStart = nil
			a.ConfirmedEnd = nil
		case StatusNoShow:
			a.NoShowFlag = true
		}
		a.Status = next

		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		return s.events.Enqueue(ctx, "APPT_STATUS_CHANGED", "appointment", a.ID, map[string]interface{}{
			"from": prev,
			"to":   next,
		})
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}
