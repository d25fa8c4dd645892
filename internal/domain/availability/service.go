package availability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/domain/appointment"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// EventEnqueuer appends an outbox event inside the caller's transaction.
type EventEnqueuer interface {
	Enqueue(ctx context.Context, eventType, subjectType string, subjectID uuid.UUID, payload interface{}) error
}

// Booker is the slice of the appointment service the booking flow needs.
type Booker interface {
	Request(ctx context.Context, in appointment.RequestInput) (*appointment.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID, in appointment.ConfirmInput) (*appointment.Appointment, error)
}

type Service struct {
	schedules ScheduleRepository
	holds     HoldRepository
	appts     Booker
	events    EventEnqueuer
	holdTTL   time.Duration
	now       func() time.Time
	runTx     func(ctx context.Context, fn func(context.Context) error) error
}

func NewService(schedules ScheduleRepository, holds HoldRepository, appts Booker, events EventEnqueuer, pool *pgxpool.Pool, holdTTL time.Duration) *Service {
	return &Service{
		schedules: schedules,
		holds:     holds,
		appts:     appts,
		events:    events,
		holdTTL:   holdTTL,
		now:       time.Now,
		runTx: func(ctx context.Context, fn func(context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
	}
}

// CreateSchedule stores a new recurring window and announces it.
func (s *Service) CreateSchedule(ctx context.Context, w *ScheduleWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	return s.runTx(ctx, func(ctx context.Context) error {
		if err := s.schedules.Create(ctx, w); err != nil {
			return fmt.Errorf("create schedule: %w", err)
		}
		return s.events.Enqueue(ctx, "SCHEDULE_CREATED", "schedule", w.ID, map[string]interface{}{})
	})
}

// DeactivateSchedule soft-deletes a window. Windows are never removed.
func (s *Service) DeactivateSchedule(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error) {
	var w *ScheduleWindow
	err := s.runTx(ctx, func(ctx context.Context) error {
		if err := s.schedules.Deactivate(ctx, id); err != nil {
			return err
		}
		var err error
		w, err = s.schedules.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) ListSchedules(ctx context.Context, practitionerID, locationID uuid.UUID) ([]*ScheduleWindow, error) {
	return s.schedules.List(ctx, practitionerID, locationID)
}

// SlotsQuery parameterizes a slot search.
type SlotsQuery struct {
	PractitionerID uuid.UUID
	LocationID     uuid.UUID
	Start          time.Time
	End            time.Time
	Duration       int // minutes
}

// SearchSlots enumerates open slots in the query window, treating confirmed
// or requested appointments and active holds as busy.
func (s *Service) SearchSlots(ctx context.Context, q SlotsQuery) ([]Slot, error) {
	if q.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %d", q.Duration)
	}
	if !q.End.After(q.Start) {
		return []Slot{}, nil
	}

	windows, err := s.schedules.List(ctx, q.PractitionerID, q.LocationID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	busy, err := s.busyIntervals(ctx, q.PractitionerID, q.LocationID, q.Start, q.End)
	if err != nil {
		return nil, err
	}

	slots := GenerateSlots(q.PractitionerID, q.LocationID, windows, busy,
		q.Start, q.End, time.Duration(q.Duration)*time.Minute)
	if slots == nil {
		slots = []Slot{}
	}
	return slots, nil
}

func (s *Service) busyIntervals(ctx context.Context, practitionerID, locationID uuid.UUID, start, end time.Time) ([]Interval, error) {
	appts, err := s.holds.AppointmentsInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("appointments in range: %w", err)
	}
	holds, err := s.holds.HoldsInRange(ctx, practitionerID, locationID, start, end, s.now())
	if err != nil {
		return nil, fmt.Errorf("holds in range: %w", err)
	}
	return append(appts, holds...), nil
}

// HoldInput reserves a concrete time span.
type HoldInput struct {
	PractitionerID  uuid.UUID
	LocationID      uuid.UUID
	Start           time.Time
	End             time.Time
	PatientID       *uuid.UUID
	IntakeSessionID *uuid.UUID
}

// CreateHold reserves the span if it is still free. The conflict re-check and
// insert run under a transaction-scoped advisory lock on the
// practitioner+location pair, so two callers racing the same span serialize
// and the loser gets the conflict error.
func (s *Service) CreateHold(ctx context.Context, in HoldInput) (*Hold, error) {
	if !in.End.After(in.Start) {
		return nil, fmt.Errorf("end must be after start")
	}

	token, err := newHoldToken()
	if err != nil {
		return nil, err
	}

	h := &Hold{
		PractitionerID:  in.PractitionerID,
		LocationID:      in.LocationID,
		Start:           in.Start,
		End:             in.End,
		PatientID:       in.PatientID,
		IntakeSessionID: in.IntakeSessionID,
		Token:           token,
	}

	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.holds.LockSpan(ctx, in.PractitionerID, in.LocationID); err != nil {
			return fmt.Errorf("lock span: %w", err)
		}

		appts, err := s.holds.AppointmentsInRange(ctx, in.Start, in.End)
		if err != nil {
			return fmt.Errorf("appointments in range: %w", err)
		}
		for _, iv := range appts {
			if iv.Overlaps(in.Start, in.End) {
				return ErrConflictAppointment
			}
		}

		holds, err := s.holds.HoldsInRange(ctx, in.PractitionerID, in.LocationID, in.Start, in.End, s.now())
		if err != nil {
			return fmt.Errorf("holds in range: %w", err)
		}
		if len(holds) > 0 {
			return ErrConflictHold
		}

		h.ExpiresAt = s.now().Add(s.holdTTL)
		if err := s.holds.Create(ctx, h); err != nil {
			return fmt.Errorf("create hold: %w", err)
		}

		return s.events.Enqueue(ctx, "AVAILABILITY_HOLD_CREATED", "hold", h.ID, map[string]interface{}{
			"token": h.Token,
			"start": h.Start,
			"end":   h.End,
		})
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// BookInput redeems a hold into a confirmed appointment.
type BookInput struct {
	HoldToken       string
	PatientID       uuid.UUID
	IntakeSessionID *uuid.UUID
	ReasonCode      *string
	Meta            map[string]interface{}
}

// BookWithHold redeems the hold and creates a confirmed appointment with the
// hold's span, all in one transaction. If anything fails after the hold is
// marked used, the whole transaction rolls back and the hold stays
// redeemable.
func (s *Service) BookWithHold(ctx context.Context, in BookInput) (*appointment.Appointment, error) {
	var appt *appointment.Appointment

	err := s.runTx(ctx, func(ctx context.Context) error {
		h, err := s.holds.GetByToken(ctx, in.HoldToken, true)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInvalidHold
			}
			return fmt.Errorf("load hold: %w", err)
		}

		now := s.now()
		if !h.ActiveAt(now) {
			return ErrExpiredHold
		}
		if err := s.holds.MarkUsed(ctx, h.ID, now); err != nil {
			return err
		}

		meta := in.Meta
		if in.IntakeSessionID != nil {
			if meta == nil {
				meta = map[string]interface{}{}
			}
			meta["intake_session_id"] = in.IntakeSessionID.String()
		}

		patientID := in.PatientID
		channel := "agent"
		appt, err = s.appts.Request(ctx, appointment.RequestInput{
			PatientID:      &patientID,
			ReasonCode:     in.ReasonCode,
			ChannelOrigin:  &channel,
			RequestedStart: &h.Start,
			RequestedEnd:   &h.End,
			Meta:           meta,
		})
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		appt, err = s.appts.Confirm(ctx, appt.ID, appointment.ConfirmInput{
			ConfirmedStart: h.Start,
			ConfirmedEnd:   h.End,
		})
		if err != nil {
			return fmt.Errorf("confirm appointment: %w", err)
		}

		return s.events.Enqueue(ctx, "AVAILABILITY_BOOKED", "appointment", appt.ID, map[string]interface{}{
			"hold_token": in.HoldToken,
		})
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func newHoldToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate hold token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
