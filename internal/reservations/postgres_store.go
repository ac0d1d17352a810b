package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/booking-core/internal/commitments"
	"github.com/wolfman30/booking-core/internal/jobs"
)

// Querier is satisfied by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the pool surface the store needs.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore serializes writers per bucket key with transaction scoped
// advisory locks, so concurrent holds on one host and date never interleave
// their read-check-write sequences.
type PostgresStore struct {
	pool PgxPool
}

func NewPostgresStore(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("reservations: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) View(ctx context.Context, fn func(ctx context.Context, r Reader) error) error {
	return fn(ctx, &pgTx{q: s.pool})
}

func (s *PostgresStore) InTx(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reservations: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, key := range sortedKeys(keys) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("reservations: lock %s: %w", key, err)
		}
	}
	if err := fn(ctx, &pgTx{q: tx, locking: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reservations: commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	q       Querier
	locking bool
}

const appointmentColumns = `
	id, host_id, participants, start_at, end_at, day, appointment_type_id, status,
	payment_method, payment_status, payment_expires_at, paid_at, overdue_at,
	cancel_code, cancel_note, canceled_by, canceled_at, created_at, updated_at
`

func scanAppointment(row pgx.Row) (Appointment, error) {
	var a Appointment
	var day time.Time
	var status, method, payStatus string
	var cancelCode, cancelNote, canceledBy *string
	var canceledAt *time.Time
	err := row.Scan(
		&a.ID, &a.HostID, &a.Participants, &a.Start, &a.End, &day, &a.AppointmentTypeID, &status,
		&method, &payStatus, &a.Payment.ExpiresAt, &a.Payment.PaidAt, &a.Payment.OverdueAt,
		&cancelCode, &cancelNote, &canceledBy, &canceledAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return Appointment{}, err
	}
	a.Day = civil.DateOf(day)
	a.Status = Status(status)
	a.Payment.Method = PaymentMethod(method)
	a.Payment.Status = PaymentStatus(payStatus)
	if cancelCode != nil {
		reason := CancellationReason{Code: *cancelCode}
		if cancelNote != nil {
			reason.Note = *cancelNote
		}
		if canceledBy != nil {
			reason.CanceledBy = *canceledBy
		}
		if canceledAt != nil {
			reason.CanceledAt = *canceledAt
		}
		a.Cancellation = &reason
	}
	return a, nil
}

func (t *pgTx) Appointment(ctx context.Context, id uuid.UUID) (Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	if t.locking {
		query += ` FOR UPDATE`
	}
	a, err := scanAppointment(t.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Appointment{}, ErrNotFound
	}
	if err != nil {
		return Appointment{}, fmt.Errorf("reservations: get appointment: %w", err)
	}
	return a, nil
}

func (t *pgTx) Appointments(ctx context.Context, ids []uuid.UUID) ([]Appointment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return t.list(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ANY($1)`, ids)
}

func (t *pgTx) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	return t.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'temporarily_reserved' AND payment_expires_at <= $1
		ORDER BY payment_expires_at
		LIMIT $2
	`, now, limit)
}

func (t *pgTx) OverduePayments(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	return t.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND payment_method = 'pay_after'
		  AND payment_status = 'pending'
		  AND overdue_at IS NULL
		  AND payment_expires_at <= $1
		ORDER BY payment_expires_at
		LIMIT $2
	`, now, limit)
}

func (t *pgTx) list(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reservations: query appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("reservations: scan appointment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reservations: iterate appointments: %w", err)
	}
	return out, nil
}

func (t *pgTx) Commitments() commitments.Index { return commitments.NewPostgresIndex(t.q) }

func (t *pgTx) Jobs() jobs.Scheduler { return jobs.NewPostgresStore(t.q) }

func cancelColumns(a Appointment) (code, note, by *string, at *time.Time) {
	if a.Cancellation == nil {
		return nil, nil, nil, nil
	}
	c := a.Cancellation
	return &c.Code, &c.Note, &c.CanceledBy, &c.CanceledAt
}

func (t *pgTx) InsertAppointment(ctx context.Context, a Appointment) error {
	code, note, by, at := cancelColumns(a)
	_, err := t.q.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, a.ID, a.HostID, a.Participants, a.Start, a.End, a.Day.String(), a.AppointmentTypeID, string(a.Status),
		string(a.Payment.Method), string(a.Payment.Status), a.Payment.ExpiresAt, a.Payment.PaidAt, a.Payment.OverdueAt,
		code, note, by, at, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("reservations: insert appointment: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a Appointment) error {
	code, note, by, at := cancelColumns(a)
	ct, err := t.q.Exec(ctx, `
		UPDATE appointments
		SET status = $2, payment_method = $3, payment_status = $4, payment_expires_at = $5,
		    paid_at = $6, overdue_at = $7, cancel_code = $8, cancel_note = $9, canceled_by = $10,
		    canceled_at = $11, updated_at = $12
		WHERE id = $1
	`, a.ID, string(a.Status), string(a.Payment.Method), string(a.Payment.Status), a.Payment.ExpiresAt,
		a.Payment.PaidAt, a.Payment.OverdueAt, code, note, by, at, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("reservations: update appointment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("reservations: delete appointment: %w", err)
	}
	return nil
}

func (t *pgTx) CurrentProvider(ctx context.Context, clientID string) (string, bool, error) {
	var provider string
	err := t.q.QueryRow(ctx, `
		SELECT provider_id FROM client_provider_history
		WHERE client_id = $1 AND ended_at IS NULL
	`, clientID).Scan(&provider)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reservations: current provider: %w", err)
	}
	return provider, true, nil
}

func (t *pgTx) SwitchProvider(ctx context.Context, clientID, from, to string, at time.Time) error {
	if _, err := t.q.Exec(ctx, `
		UPDATE client_provider_history SET ended_at = $2
		WHERE client_id = $1 AND ended_at IS NULL
	`, clientID, at); err != nil {
		return fmt.Errorf("reservations: close provider history: %w", err)
	}
	if _, err := t.q.Exec(ctx, `
		INSERT INTO client_provider_history (client_id, provider_id, started_at)
		VALUES ($1, $2, $3)
	`, clientID, to, at); err != nil {
		return fmt.Errorf("reservations: open provider history: %w", err)
	}
	if from != "" {
		if _, err := t.q.Exec(ctx, `
			DELETE FROM provider_clients WHERE provider_id = $1 AND client_id = $2
		`, from, clientID); err != nil {
			return fmt.Errorf("reservations: remove from roster: %w", err)
		}
	}
	if _, err := t.q.Exec(ctx, `
		INSERT INTO provider_clients (provider_id, client_id, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_id, client_id) DO NOTHING
	`, to, clientID, at); err != nil {
		return fmt.Errorf("reservations: add to roster: %w", err)
	}
	return nil
}
