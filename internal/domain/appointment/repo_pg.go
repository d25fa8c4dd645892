package appointment

import (
	"context"
	"fmt"

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, patient_id, status, reason_code, channel_origin,
	requested_start, requested_end, confirmed_start, confirmed_end,
	location_name, practitioner_name, reschedule_count, no_show_flag, meta,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.Status, &a.ReasonCode, &a.ChannelOrigin,
		&a.RequestedStart, &a.RequestedEnd, &a.ConfirmedStart, &a.ConfirmedEnd,
		&a.LocationName, &a.PractitionerName, &a.RescheduleCount, &a.NoShowFlag, &a.Meta,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, status, reason_code, channel_origin,
			requested_start, requested_end, confirmed_start, confirmed_end,
			location_name, practitioner_name, reschedule_count, no_show_flag, meta)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.Status, a.ReasonCode, a.ChannelOrigin,
		a.RequestedStart, a.RequestedEnd, a.ConfirmedStart, a.ConfirmedEnd,
		a.LocationName, a.PractitionerName, a.RescheduleCount, a.NoShowFlag, a.Meta).
		Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET patient_id=$2, status=$3, reason_code=$4, channel_origin=$5,
			requested_start=$6, requested_end=$7, confirmed_start=$8, confirmed_end=$9,
			location_name=$10, practitioner_name=$11, reschedule_count=$12, no_show_flag=$13,
			meta=$14, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.PatientID, a.Status, a.ReasonCode, a.ChannelOrigin,
		a.RequestedStart, a.RequestedEnd, a.ConfirmedStart, a.ConfirmedEnd,
		a.LocationName, a.PractitionerName, a.RescheduleCount, a.NoShowFlag, a.Meta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	idx := 1

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.PatientID != nil {
		where += fmt.Sprintf(" AND patient_id = $%d", idx)
		args = append(args, *filter.PatientID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM appointment %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		apptCols, where, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var appts []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		appts = append(appts, a)
	}
	return appts, total, rows.Err()
}
