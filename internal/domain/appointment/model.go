package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is an appointment lifecycle state.
type Status string

const (
	StatusRequested      Status = "requested"
	StatusPendingConfirm Status = "pending_confirm"
	StatusConfirmed      Status = "confirmed"
	StatusRescheduled    Status = "rescheduled"
	StatusNoShow         Status = "no_show"
	StatusCompleted      Status = "completed"
	StatusCanceled       Status = "canceled"
)

// validNext is the lifecycle transition table. completed and canceled are
// terminal.
var validNext = map[Status]map[Status]bool{
	StatusRequested:      {StatusPendingConfirm: true, StatusConfirmed: true, StatusCanceled: true},
	StatusPendingConfirm: {StatusConfirmed: true, StatusCanceled: true},
	StatusConfirmed:      {StatusRescheduled: true, StatusCanceled: true, StatusNoShow: true, StatusCompleted: true},
	StatusRescheduled:    {StatusConfirmed: true, StatusCanceled: true},
	StatusNoShow:         {StatusConfirmed: true, StatusCanceled: true},
	StatusCompleted:      {},
	StatusCanceled:       {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0 && s.Valid()
}

// CanTransitionTo reports whether the table allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	return validNext[s][next]
}

// confirmableFrom are the states the privileged confirm operation accepts,
// beyond what the generic table allows.
var confirmableFrom = map[Status]bool{
	StatusRequested:      true,
	StatusPendingConfirm: true,
	StatusRescheduled:    true,
	StatusNoShow:         true,
}

// TransitionError is returned for a status change the table rejects. It
// carries both states so callers can see what was attempted.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid_status_transition: %s -> %s", e.From, e.To)
}

// ErrTerminal rejects field edits on completed or canceled appointments.
var ErrTerminal = errors.New("appointment_terminal")

type Appointment struct {
	ID               uuid.UUID              `json:"id" db:"id"`
	PatientID        *uuid.UUID             `json:"patient_id,omitempty" db:"patient_id"`
	Status           Status                 `json:"status" db:"status"`
	ReasonCode       *string                `json:"reason_code,omitempty" db:"reason_code"`
	ChannelOrigin    *string                `json:"channel_origin,omitempty" db:"channel_origin"`
	RequestedStart   *time.Time             `json:"requested_start,omitempty" db:"requested_start"`
	RequestedEnd     *time.Time             `json:"requested_end,omitempty" db:"requested_end"`
	ConfirmedStart   *time.Time             `json:"confirmed_start,omitempty" db:"confirmed_start"`
	ConfirmedEnd     *time.Time             `json:"confirmed_end,omitempty" db:"confirmed_end"`
	LocationName     *string                `json:"location_name,omitempty" db:"location_name"`
	PractitionerName *string                `json:"practitioner_name,omitempty" db:"practitioner_name"`
	RescheduleCount  int                    `json:"reschedule_count" db:"reschedule_count"`
	NoShowFlag       bool                   `json:"no_show_flag" db:"no_show_flag"`
	Meta             map[string]interface{} `json:"meta,omitempty" db:"meta"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at" db:"updated_at"`
}

// EffectiveSpan is the span the appointment occupies: the confirmed window
// when set, else the requested one.
func (a *Appointment) EffectiveSpan() (start, end *time.Time) {
	if a.ConfirmedStart != nil && a.ConfirmedEnd != nil {
		return a.ConfirmedStart, a.ConfirmedEnd
	}
	return a.RequestedStart, a.RequestedEnd
}

// RequestInput creates an appointment in requested state.
type RequestInput struct {
	PatientID        *uuid.UUID             `json:"patient_id,omitempty"`
	ReasonCode       *string                `json:"reason_code,omitempty"`
	ChannelOrigin    *string                `json:"channel_origin,omitempty"`
	RequestedStart   *time.Time             `json:"requested_start,omitempty"`
	RequestedEnd     *time.Time             `json:"requested_end,omitempty"`
	LocationName     *string                `json:"location_name,omitempty"`
	PractitionerName *string                `json:"practitioner_name,omitempty"`
	Meta             map[string]interface{} `json:"meta,omitempty"`
}

// ConfirmInput pins the confirmed window.
type ConfirmInput struct {
	ConfirmedStart   time.Time `json:"confirmed_start"`
	ConfirmedEnd     time.Time `json:"confirmed_end"`
	LocationName     *string   `json:"location_name,omitempty"`
	PractitionerName *string   `json:"practitioner_name,omitempty"`
}

// UpdateInput edits fields on a non-terminal appointment. Nil fields are left
// untouched.
type UpdateInput struct {
	PatientID        *uuid.UUID             `json:"patient_id,omitempty"`
	ReasonCode       *string                `json:"reason_code,omitempty"`
	ChannelOrigin    *string                `json:"channel_origin,omitempty"`
	RequestedStart   *time.Time             `json:"requested_start,omitempty"`
	RequestedEnd     *time.Time             `json:"requested_end,omitempty"`
	LocationName     *string                `json:"location_name,omitempty"`
	PractitionerName *string                `json:"practitioner_name,omitempty"`
	Meta             map[string]interface{} `json:"meta,omitempty"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Status    Status
	PatientID *uuid.UUID
}
