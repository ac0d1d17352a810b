package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists jobs in scheduled_jobs.
type PostgresStore struct {
	q Querier
}

func NewPostgresStore(q Querier) *PostgresStore {
	if q == nil {
		panic("jobs: querier required")
	}
	return &PostgresStore{q: q}
}

func (s *PostgresStore) Schedule(ctx context.Context, job Job) error {
	if job.AppointmentID == uuid.Nil || job.Kind == "" {
		return ErrInvalidJob
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	query := `
		INSERT INTO scheduled_jobs (id, appointment_id, kind, run_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.q.Exec(ctx, query, job.ID, job.AppointmentID, job.Kind, job.RunAt, []byte(job.Payload)); err != nil {
		return fmt.Errorf("jobs: insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID, kinds ...string) (int, error) {
	query := `
		UPDATE scheduled_jobs
		SET canceled_at = now()
		WHERE appointment_id = $1
		  AND dispatched_at IS NULL
		  AND canceled_at IS NULL
		  AND (cardinality($2::text[]) = 0 OR kind = ANY($2::text[]))
	`
	if kinds == nil {
		kinds = []string{}
	}
	ct, err := s.q.Exec(ctx, query, appointmentID, kinds)
	if err != nil {
		return 0, fmt.Errorf("jobs: cancel jobs: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *PostgresStore) FetchDue(ctx context.Context, now time.Time, limit int32) ([]Job, error) {
	query := `
		SELECT id, appointment_id, kind, run_at, payload, created_at
		FROM scheduled_jobs
		WHERE dispatched_at IS NULL AND canceled_at IS NULL AND run_at <= $1
		ORDER BY run_at
		LIMIT $2
	`
	rows, err := s.q.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("jobs: fetch due: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var job Job
		var payload []byte
		if err := rows.Scan(&job.ID, &job.AppointmentID, &job.Kind, &job.RunAt, &payload, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("jobs: scan job: %w", err)
		}
		if len(payload) > 0 {
			job.Payload = append([]byte(nil), payload...)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkDispatched(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE scheduled_jobs
		SET dispatched_at = now()
		WHERE id = $1 AND dispatched_at IS NULL AND canceled_at IS NULL
	`
	ct, err := s.q.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("jobs: mark dispatched: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}
