package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type repoMock struct {
	appts map[uuid.UUID]*Appointment
	order []uuid.UUID
}

func newRepoMock() *repoMock {
	return &repoMock{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *repoMock) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.appts[a.ID] = a
	m.order = append(m.order, a.ID)
	return nil
}

func (m *repoMock) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (m *repoMock) Update(ctx context.Context, a *Appointment) error {
	if _, ok := m.appts[a.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *repoMock) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Appointment, int, error) {
	var all []*Appointment
	for _, id := range m.order {
		a := m.appts[id]
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.PatientID != nil && (a.PatientID == nil || *a.PatientID != *filter.PatientID) {
			continue
		}
		all = append(all, a)
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type eventsMock struct {
	events []string
}

func (m *eventsMock) Enqueue(ctx context.Context, eventType, subjectType string, subjectID uuid.UUID, payload interface{}) error {
	m.events = append(m.events, eventType)
	return nil
}

func newTestService(repo *repoMock, events *eventsMock) *Service {
	return &Service{
		repo:   repo,
		events: events,
		runTx: func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	}
}

func requested(t *testing.T, svc *Service) *Appointment {
	t.Helper()
	pid := uuid.New()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	a, err := svc.Request(context.Background(), RequestInput{
		PatientID:      &pid,
		RequestedStart: &start,
		RequestedEnd:   &end,
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	return a
}

func TestRequestCreatesRequested(t *testing.T) {
	svc := newTestService(newRepoMock(), &eventsMock{})
	a := requested(t, svc)
	if a.Status != StatusRequested {
		t.Errorf("status = %s, want requested", a.Status)
	}
	if a.ID == uuid.Nil {
		t.Error("id not assigned")
	}
}

func TestRequestRejectsInvertedSpan(t *testing.T) {
	svc := newTestService(newRepoMock(), &eventsMock{})
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err := svc.Request(context.Background(), RequestInput{
		RequestedStart: &start,
		RequestedEnd:   &end,
	})
	if err == nil {
		t.Error("inverted requested span should be rejected")
	}
}

func TestConfirmSetsWindowAndEmitsEvent(t *testing.T) {
	events := &eventsMock{}
	svc := newTestService(newRepoMock(), events)
	a := requested(t, svc)

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	got, err := svc.Confirm(context.Background(), a.ID, ConfirmInput{
		ConfirmedStart: start,
		ConfirmedEnd:   end,
	})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", got.Status)
	}
	if got.ConfirmedStart == nil || !got.ConfirmedStart.Equal(start) {
		t.Errorf("confirmed_start = %v, want %s", got.ConfirmedStart, start)
	}
	if len(events.events) == 0 || events.events[len(events.events)-1] != "APPT_CONFIRMED" {
		t.Errorf("events = %v, want APPT_CONFIRMED last", events.events)
	}
}

func TestConfirmRejectedFromConfirmed(t *testing.T) {
	svc := newTestService(newRepoMock(), &eventsMock{})
	a := requested(t, svc)

	in := ConfirmInput{
		ConfirmedStart: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		ConfirmedEnd:   time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
	}
	if _, err := svc.Confirm(context.Background(), a.ID, in); err != nil {
		t.Fatalf("first confirm: %v", err)
	}

	_, err := svc.Confirm(context.Background(), a.ID, in)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("second confirm: got %v, want TransitionError", err)
	}
	if te.From != StatusConfirmed || te.To != StatusConfirmed {
		t.Errorf("transition error = %s -> %s", te.From, te.To)
	}
}

func TestConfirmRejectsInvertedWindow(t *testing.T) {
	svc := newTestService(newRepoMock(), &eventsMock{})
	a := requested(t, svc)
	_, err := svc.Confirm(context.Background(), a.ID, ConfirmInput{
		ConfirmedStart: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		ConfirmedEnd:   time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	})
	if err == nil {
		t.Error("inverted confirmed window should be rejected")
	}
}

func confirm(t *testing.T, svc *Service, id uuid.UUID) *Appointment {
	t.Helper()
	a, err := svc.Confirm(context.Background(), id, ConfirmInput{
		ConfirmedStart: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		ConfirmedEnd:   time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	return a
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusRequested, StatusPendingConfirm, true},
		{StatusRequested, StatusConfirmed, true},
		{StatusRequested, StatusCanceled, true},
		{StatusRequested, StatusCompleted, false},
		{StatusRequested, StatusNoShow, false},
		{StatusPendingConfirm, StatusConfirmed, true},
		{StatusPendingConfirm, StatusCanceled, true},
		{StatusPendingConfirm, StatusRescheduled, false},
		{StatusConfirmed, StatusRescheduled, true},
		{StatusConfirmed, StatusCanceled, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusRequested, false},
		{StatusRescheduled, StatusConfirmed, true},
		{StatusRescheduled, StatusCanceled, true},
		{StatusRescheduled, StatusCompleted, false},
		{StatusNoShow, StatusConfirmed, true},
		{StatusNoShow, StatusCanceled, true},
		{StatusNoShow, StatusCompleted, false},
		{StatusCompleted, StatusCanceled, false},
		{StatusCompleted, StatusConfirmed, false},
		{StatusCanceled, StatusRequested, false},
		{StatusCanceled, StatusConfirmed, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCanceled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusRequested, StatusPendingConfirm, StatusConfirmed, StatusRescheduled, StatusNoShow} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if Status("bogus").Valid() {
		t.Error("unknown status should not be valid")
	}
}

func TestChangeStatusRescheduleSideEffects(t *testing.T) {
	events := &eventsMock{}
	svc := newTestService(newRepoMock(), events)
	a := requested(t, svc)
	confirm(t, svc, a.ID)

	got, err := svc.ChangeStatus(context.Background(), a.ID, StatusRescheduled)
	if err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if got.RescheduleCount != 1 {
		t.Errorf("reschedule_count = %d, want 1", got.RescheduleCount)
	}
	if got.ConfirmedStart != nil || got.ConfirmedEnd != nil {
		t.Error("confirmed window should be cleared on reschedule")
	}
	if events.events[len(events.events)-1] != "APPT_STATUS_CHANGED" {
		t.Errorf("events = %v, want APPT_STATUS_CHANGED last", events.events)
	}

	// Re-confirming after a reschedule is allowed.
	reconfirmed := confirm(t, svc, a.ID)
	if reconfirmed.Status != StatusConfirmed {
		t.Errorf("status after re-confirm = %s", reconfirmed.Status)
	}
	if reconfirmed.RescheduleCount != 1 {
		t.Errorf("re-confirm changed reschedule_count to %d", reconfirmed.RescheduleCount)
	}
}

func TestChangeStatusNoShowSetsFlag(t *testing.T) {
	svc := newTestService(newRepoMock(), &eventsMock{})
	a := requested(t, svc)
	confirm(t, svc, a.ID)

	got, err := svc.ChangeStatus(context.Background(), a.ID, StatusNoShow)
	if err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if !got.NoShowFlag {
		t.Error("no_show_flag not set")
	}
}

func TestChangeStatusRejectsUnknownAndTerminal(t *testing.T) {
	svc := newTestService(newRepoMock(), &eventsMock{})
	a := requested(t, svc)

	if _, err := svc.ChangeStatus(context.Background(), a.ID, Status("bogus")); err == nil {
		t.Error("unknown status should be rejected")
	}

	if _, err := svc.ChangeStatus(context.Background(), a.ID, StatusCanceled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err := svc.ChangeStatus(context.Background(), a.ID, StatusConfirmed)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Errorf("transition out of canceled: got %v, want TransitionError", err)
	}
}

func TestUpdateFieldsMergesNonNil(t *testing.T) {
	svc := newTestService(newRepoMock(), &eventsMock{})
	a := requested(t, svc)

	reason := "checkup"
	got, err := svc.UpdateFields(context.Background(), a.ID, UpdateInput{ReasonCode: &reason})
	if err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if got.ReasonCode == nil || *got.ReasonCode != "checkup" {
		t.Errorf("reason_code = %v", got.ReasonCode)
	}
	if got.PatientID == nil {
		t.Error("nil input field should leave patient_id untouched")
	}
	if got.RequestedStart == nil || !got.RequestedStart.Equal(*a.RequestedStart) {
		t.Error("nil input field should leave requested_start untouched")
	}
}

func TestUpdateFieldsRejectedOnTerminal(t *testing.T) {
	svc := newTestService(newRepoMock(), &eventsMock{})
	a := requested(t, svc)
	if _, err := svc.ChangeStatus(context.Background(), a.ID, StatusCanceled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	reason := "late"
	_, err := svc.UpdateFields(context.Background(), a.ID, UpdateInput{ReasonCode: &reason})
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("got %v, want ErrTerminal", err)
	}
}

func TestListFiltersByStatusAndPatient(t *testing.T) {
	svc := newTestService(newRepoMock(), &eventsMock{})
	a := requested(t, svc)
	requested(t, svc)
	confirm(t, svc, a.ID)

	appts, total, err := svc.List(context.Background(), ListFilter{Status: StatusConfirmed}, 20, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(appts) != 1 || appts[0].ID != a.ID {
		t.Errorf("status filter: total=%d len=%d", total, len(appts))
	}

	appts, total, err = svc.List(context.Background(), ListFilter{PatientID: a.PatientID}, 20, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(appts) != 1 {
		t.Errorf("patient filter: total=%d len=%d", total, len(appts))
	}
}

func TestEffectiveSpanPrefersConfirmed(t *testing.T) {
	svc := newTestService(newRepoMock(), &eventsMock{})
	a := requested(t, svc)

	start, end := a.EffectiveSpan()
	if start == nil || !start.Equal(*a.RequestedStart) {
		t.Errorf("effective start = %v, want requested", start)
	}

	c := confirm(t, svc, a.ID)
	start, end = c.EffectiveSpan()
	if start == nil || !start.Equal(*c.ConfirmedStart) {
		t.Errorf("effective start = %v, want confirmed", start)
	}
	if end == nil || !end.Equal(*c.ConfirmedEnd) {
		t.Errorf("effective end = %v, want confirmed", end)
	}
}
