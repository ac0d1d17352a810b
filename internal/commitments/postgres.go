package commitments

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresIndex stores one row per (user, day, appointment) in
// commitment_entries. The primary key keeps an id out of both lists at once.
type PostgresIndex struct {
	q Querier
}

// NewPostgresIndex binds the index to q, usually the open transaction.
func NewPostgresIndex(q Querier) *PostgresIndex {
	if q == nil {
		panic("commitments: querier required")
	}
	return &PostgresIndex{q: q}
}

func (p *PostgresIndex) Bucket(ctx context.Context, userID string, day civil.Date) (Bucket, error) {
	buckets, err := p.Buckets(ctx, userID, day, day)
	if err != nil {
		return Bucket{}, err
	}
	if len(buckets) == 0 {
		return Bucket{UserID: userID, Day: day}, nil
	}
	return buckets[0], nil
}

func (p *PostgresIndex) Buckets(ctx context.Context, userID string, from, to civil.Date) ([]Bucket, error) {
	rows, err := p.q.Query(ctx, `
		SELECT day, list, appointment_id
		FROM commitment_entries
		WHERE user_id = $1 AND day BETWEEN $2::date AND $3::date
		ORDER BY day, created_at, appointment_id
	`, userID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("commitments: query buckets: %w", err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var day time.Time
		var list string
		var id uuid.UUID
		if err := rows.Scan(&day, &list, &id); err != nil {
			return nil, fmt.Errorf("commitments: scan entry: %w", err)
		}
		d := civil.DateOf(day)
		if len(out) == 0 || out[len(out)-1].Day != d {
			out = append(out, Bucket{UserID: userID, Day: d})
		}
		out[len(out)-1].append(List(list), id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commitments: iterate entries: %w", err)
	}
	return out, nil
}

func (p *PostgresIndex) Add(ctx context.Context, userID string, day civil.Date, list List, id uuid.UUID) error {
	var stored string
	err := p.q.QueryRow(ctx, `
		INSERT INTO commitment_entries (user_id, day, list, appointment_id)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (user_id, day, appointment_id)
		DO UPDATE SET list = commitment_entries.list
		RETURNING list
	`, userID, day.String(), string(list), id).Scan(&stored)
	if err != nil {
		return fmt.Errorf("commitments: add entry: %w", err)
	}
	if List(stored) != list {
		return fmt.Errorf("%w: %s in %s", ErrListMismatch, id, stored)
	}
	return nil
}

func (p *PostgresIndex) Move(ctx context.Context, userID string, day civil.Date, to List, id uuid.UUID) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO commitment_entries (user_id, day, list, appointment_id)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (user_id, day, appointment_id)
		DO UPDATE SET list = EXCLUDED.list
	`, userID, day.String(), string(to), id)
	if err != nil {
		return fmt.Errorf("commitments: move entry: %w", err)
	}
	return nil
}

func (p *PostgresIndex) Remove(ctx context.Context, userID string, day civil.Date, list List, id uuid.UUID) error {
	_, err := p.q.Exec(ctx, `
		DELETE FROM commitment_entries
		WHERE user_id = $1 AND day = $2::date AND list = $3 AND appointment_id = $4
	`, userID, day.String(), string(list), id)
	if err != nil {
		return fmt.Errorf("commitments: remove entry: %w", err)
	}
	return nil
}
