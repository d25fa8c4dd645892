package outbox

import (
	"context"
	"fmt"
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

// repoPG persists outbox rows. Enqueue runs on the request path, where the
// tenant middleware has already set the search_path; the relay methods run on
// bare pool connections, so they qualify the table with the tenant schema
// given at construction.
type repoPG struct {
	pool   *pgxpool.Pool
	schema string
}

func NewRepoPG(pool *pgxpool.Pool, schema string) Repository {
	return &repoPG{pool: pool, schema: schema}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) table() string {
	if r.schema == "" {
		return "outbox_event"
	}
	return r.schema + ".outbox_event"
}

const eventCols = `id, event_type, subject_type, subject_id, payload, occurred_at,
	status, attempts, next_attempt_at, last_error, created_at, updated_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.EventType, &e.SubjectType, &e.SubjectID, &e.Payload, &e.OccurredAt,
		&e.Status, &e.Attempts, &e.NextAttemptAt, &e.LastError, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) Enqueue(ctx context.Context, e *Event) error {
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO outbox_event (id, event_type, subject_type, subject_id, payload,
			occurred_at, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		e.ID, e.EventType, e.SubjectType, e.SubjectID, e.Payload,
		e.OccurredAt, e.Status, e.Attempts, e.NextAttemptAt).
		Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *repoPG) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*Event, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, eventCols, r.table()),
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("select claimable rows: %w", err)
	}

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		ids[i] = e.ID
		e.Status = StatusProcessing
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status = 'processing', updated_at = NOW() WHERE id = ANY($1)`, r.table()),
		ids); err != nil {
		return nil, fmt.Errorf("mark batch processing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return events, nil
}

func (r *repoPG) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status = 'sent', last_error = NULL, updated_at = NOW() WHERE id = $1`, r.table()),
		id)
	return err
}

func (r *repoPG) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'pending', attempts = $2, next_attempt_at = $3,
			last_error = $4, updated_at = NOW()
		WHERE id = $1`, r.table()),
		id, attempts, nextAttemptAt, lastError)
	return err
}

func (r *repoPG) Release(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status = 'pending', updated_at = NOW() WHERE id = ANY($1) AND status = 'processing'`, r.table()),
		ids)
	return err
}

func (r *repoPG) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status = 'pending', updated_at = NOW() WHERE status = 'processing' AND updated_at < $1`, r.table()),
		cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
