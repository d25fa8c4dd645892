package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conflict and hold redemption outcomes. Handlers map these to HTTP status
// codes; the error strings are the machine-readable reasons on the wire.
var (
	ErrConflictAppointment = errors.New("conflict_appointment")
	ErrConflictHold        = errors.New("conflict_hold")
	ErrInvalidHold         = errors.New("invalid_hold")
	ErrExpiredHold         = errors.New("expired_hold")
)

// ScheduleWindow is a recurring weekly availability window for a practitioner
// at a location. day_of_week 0=Monday .. 6=Sunday; start/end are minutes past
// midnight. Windows are never deleted, only deactivated.
type ScheduleWindow struct {
	ID             uuid.UUID `json:"id" db:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id" db:"practitioner_id"`
	LocationID     uuid.UUID `json:"location_id" db:"location_id"`
	DayOfWeek      int       `json:"day_of_week" db:"day_of_week"`
	StartMinute    int       `json:"start_minute" db:"start_minute"`
	EndMinute      int       `json:"end_minute" db:"end_minute"`
	SlotMinutes    int       `json:"slot_minutes" db:"slot_minutes"`
	Active         bool      `json:"active" db:"active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

func (s *ScheduleWindow) Validate() error {
	if s.PractitionerID == uuid.Nil {
		return fmt.Errorf("practitioner_id is required")
	}
	if s.LocationID == uuid.Nil {
		return fmt.Errorf("location_id is required")
	}
	if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
		return fmt.Errorf("day_of_week must be in [0,6], got %d", s.DayOfWeek)
	}
	if s.StartMinute < 0 || s.EndMinute > 24*60 {
		return fmt.Errorf("window must fall within the day")
	}
	if s.StartMinute >= s.EndMinute {
		return fmt.Errorf("start_minute must be before end_minute")
	}
	if s.SlotMinutes < 5 || s.SlotMinutes > 240 {
		return fmt.Errorf("slot_minutes must be in [5,240], got %d", s.SlotMinutes)
	}
	return nil
}

// Hold is a short-lived tokened reservation on a time range. Expiry is a
// computed predicate over expires_at/used_at; holds are never deleted.
type Hold struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	PractitionerID  uuid.UUID  `json:"practitioner_id" db:"practitioner_id"`
	LocationID      uuid.UUID  `json:"location_id" db:"location_id"`
	Start           time.Time  `json:"start" db:"start_at"`
	End             time.Time  `json:"end" db:"end_at"`
	PatientID       *uuid.UUID `json:"patient_id,omitempty" db:"patient_id"`
	IntakeSessionID *uuid.UUID `json:"intake_session_id,omitempty" db:"intake_session_id"`
	Token           string     `json:"token" db:"token"`
	ExpiresAt       time.Time  `json:"expires_at" db:"expires_at"`
	UsedAt          *time.Time `json:"used_at,omitempty" db:"used_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// ActiveAt reports whether the hold still blocks its time range.
func (h *Hold) ActiveAt(now time.Time) bool {
	return h.UsedAt == nil && h.ExpiresAt.After(now)
}

// Slot is a derived bookable opening. ID is deterministic, composed of
// practitioner, location and start epoch, never stored.
type Slot struct {
	ID             string    `json:"id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	LocationID     uuid.UUID `json:"location_id"`
	State          string    `json:"state"`
}

// Interval is a half-open [Start, End) busy span.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps applies the half-open overlap test against another span.
func (iv Interval) Overlaps(start, end time.Time) bool {
	return start.Before(iv.End) && end.After(iv.Start)
}
