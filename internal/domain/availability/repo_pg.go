package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

const schedCols = `id, practitioner_id, location_id, day_of_week, start_minute,
	end_minute, slot_minutes, active, created_at, updated_at`

func scanSchedule(row pgx.Row) (*ScheduleWindow, error) {
	var s ScheduleWindow
	err := row.Scan(&s.ID, &s.PractitionerID, &s.LocationID, &s.DayOfWeek, &s.StartMinute,
		&s.EndMinute, &s.SlotMinutes, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *ScheduleWindow) error {
	s.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO schedule_window (id, practitioner_id, location_id, day_of_week,
			start_minute, end_minute, slot_minutes, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		s.ID, s.PractitionerID, s.LocationID, s.DayOfWeek,
		s.StartMinute, s.EndMinute, s.SlotMinutes, s.Active).
		Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error) {
	return scanSchedule(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+schedCols+` FROM schedule_window WHERE id = $1`, id))
}

func (r *scheduleRepoPG) List(ctx context.Context, practitionerID, locationID uuid.UUID) ([]*ScheduleWindow, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+schedCols+` FROM schedule_window
		WHERE practitioner_id = $1 AND location_id = $2 AND active
		ORDER BY day_of_week, start_minute`,
		practitionerID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []*ScheduleWindow
	for rows.Next() {
		w, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func (r *scheduleRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE schedule_window SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// =========== Hold Repository ===========

type holdRepoPG struct{ pool *pgxpool.Pool }

func NewHoldRepoPG(pool *pgxpool.Pool) HoldRepository { return &holdRepoPG{pool: pool} }

func (r *holdRepoPG) AppointmentsInRange(ctx context.Context, start, end time.Time) ([]Interval, error) {
	// Appointments carry display names rather than directory ids, so busy
	// spans are scoped by tenant and time only.
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT COALESCE(confirmed_start, requested_start), COALESCE(confirmed_end, requested_end)
		FROM appointment
		WHERE status <> 'canceled'
		  AND ((confirmed_start IS NOT NULL AND confirmed_end IS NOT NULL
		        AND confirmed_start < $2 AND confirmed_end > $1)
		    OR (confirmed_start IS NULL
		        AND requested_start IS NOT NULL AND requested_end IS NOT NULL
		        AND requested_start < $2 AND requested_end > $1))`,
		start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIntervals(rows)
}

func (r *holdRepoPG) HoldsInRange(ctx context.Context, practitionerID, locationID uuid.UUID, start, end, now time.Time) ([]Interval, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT start_at, end_at FROM availability_hold
		WHERE practitioner_id = $1 AND location_id = $2
		  AND used_at IS NULL AND expires_at > $3
		  AND start_at < $5 AND end_at > $4`,
		practitionerID, locationID, now, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIntervals(rows)
}

func scanIntervals(rows pgx.Rows) ([]Interval, error) {
	var intervals []Interval
	for rows.Next() {
		var iv Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	return intervals, rows.Err()
}

func (r *holdRepoPG) LockSpan(ctx context.Context, practitionerID, locationID uuid.UUID) error {
	// Transaction-scoped advisory lock; released automatically at commit or
	// rollback. Serializes the conflict re-check against concurrent callers
	// racing the same practitioner+location.
	_, err := conn(ctx, r.pool).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
		practitionerID.String(), locationID.String())
	return err
}

const holdCols = `id, practitioner_id, location_id, start_at, end_at,
	patient_id, intake_session_id, token, expires_at, used_at, created_at`

func scanHold(row pgx.Row) (*Hold, error) {
	var h Hold
	err := row.Scan(&h.ID, &h.PractitionerID, &h.LocationID, &h.Start, &h.End,
		&h.PatientID, &h.IntakeSessionID, &h.Token, &h.ExpiresAt, &h.UsedAt, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *holdRepoPG) Create(ctx context.Context, h *Hold) error {
	h.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO availability_hold (id, practitioner_id, location_id, start_at, end_at,
			patient_id, intake_session_id, token, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		h.ID, h.PractitionerID, h.LocationID, h.Start, h.End,
		h.PatientID, h.IntakeSessionID, h.Token, h.ExpiresAt).
		Scan(&h.CreatedAt)
}

func (r *holdRepoPG) GetByToken(ctx context.Context, token string, forUpdate bool) (*Hold, error) {
	query := `SELECT ` + holdCols + ` FROM availability_hold WHERE token = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanHold(conn(ctx, r.pool).QueryRow(ctx, query, token))
}

func (r *holdRepoPG) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE availability_hold SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExpiredHold
	}
	return nil
}
