package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool used by the repository.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores availability in the relational database.
type PostgresRepository struct {
	db Querier
}

// NewPostgresRepository initializes a repo backed by a pgx pool.
func NewPostgresRepository(db Querier) *PostgresRepository {
	if db == nil {
		panic("availability: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetAvailability(ctx context.Context, providerID string, from, to civil.Date) (*Availability, error) {
	av := &Availability{ProviderID: providerID}

	var fullStart, fullEnd *int
	err := r.db.QueryRow(ctx, `
		SELECT interval_minutes, future_booking_delay_minutes, full_day_start, full_day_end, timezone
		FROM providers
		WHERE id = $1
	`, providerID).Scan(
		&av.Settings.IntervalMinutes,
		&av.Settings.FutureBookingDelayMinutes,
		&fullStart,
		&fullEnd,
		&av.Settings.Timezone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("availability: load provider: %w", err)
	}
	if fullStart != nil && fullEnd != nil {
		av.Settings.FullDayRange = &TimeRange{Start: Clock(*fullStart), End: Clock(*fullEnd)}
	}

	if av.Recurring, err = r.recurring(ctx, providerID); err != nil {
		return nil, err
	}
	if av.NonRecurring, err = r.nonRecurring(ctx, providerID, from, to); err != nil {
		return nil, err
	}
	if av.Blocked, err = r.blocked(ctx, providerID, from, to, av.Settings.fullDay()); err != nil {
		return nil, err
	}
	return av, nil
}

func (r *PostgresRepository) GetAppointmentType(ctx context.Context, typeID string) (*AppointmentType, error) {
	var t AppointmentType
	err := r.db.QueryRow(ctx, `
		SELECT id, provider_id, name, duration_minutes, price_cents, currency, credit_cost
		FROM appointment_types
		WHERE id = $1
	`, typeID).Scan(&t.ID, &t.ProviderID, &t.Name, &t.DurationMinutes, &t.PriceCents, &t.Currency, &t.CreditCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTypeNotFound
		}
		return nil, fmt.Errorf("availability: load appointment type: %w", err)
	}
	return &t, nil
}

func (r *PostgresRepository) recurring(ctx context.Context, providerID string) ([]RecurringRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT weekday, start_minute, end_minute, appointment_type_ids
		FROM recurring_rules
		WHERE provider_id = $1
		ORDER BY weekday, start_minute
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("availability: query recurring rules: %w", err)
	}
	defer rows.Close()

	byDay := make(map[time.Weekday]int)
	var out []RecurringRule
	for rows.Next() {
		var weekday, start, end int
		var typeIDs []string
		if err := rows.Scan(&weekday, &start, &end, &typeIDs); err != nil {
			return nil, fmt.Errorf("availability: scan recurring rule: %w", err)
		}
		day := time.Weekday(weekday)
		idx, ok := byDay[day]
		if !ok {
			idx = len(out)
			byDay[day] = idx
			out = append(out, RecurringRule{Weekday: day})
		}
		out[idx].Ranges = append(out[idx].Ranges, TimeRange{Start: Clock(start), End: Clock(end), AppointmentTypeIDs: typeIDs})
	}
	return out, rows.Err()
}

func (r *PostgresRepository) nonRecurring(ctx context.Context, providerID string, from, to civil.Date) ([]NonRecurringRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT day, start_minute, end_minute, appointment_type_ids
		FROM non_recurring_rules
		WHERE provider_id = $1 AND day BETWEEN $2::date AND $3::date
		ORDER BY day, start_minute
	`, providerID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("availability: query non-recurring rules: %w", err)
	}
	defer rows.Close()

	byDate := make(map[civil.Date]int)
	var out []NonRecurringRule
	for rows.Next() {
		var day time.Time
		var start, end int
		var typeIDs []string
		if err := rows.Scan(&day, &start, &end, &typeIDs); err != nil {
			return nil, fmt.Errorf("availability: scan non-recurring rule: %w", err)
		}
		date := civil.DateOf(day)
		idx, ok := byDate[date]
		if !ok {
			idx = len(out)
			byDate[date] = idx
			out = append(out, NonRecurringRule{Date: date})
		}
		out[idx].Ranges = append(out[idx].Ranges, TimeRange{Start: Clock(start), End: Clock(end), AppointmentTypeIDs: typeIDs})
	}
	return out, rows.Err()
}

func (r *PostgresRepository) blocked(ctx context.Context, providerID string, from, to civil.Date, fullDay TimeRange) ([]BlockedRange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT day, start_minute, end_minute
		FROM blocked_ranges
		WHERE provider_id = $1 AND day BETWEEN $2::date AND $3::date
		ORDER BY day, start_minute NULLS FIRST
	`, providerID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("availability: query blocked ranges: %w", err)
	}
	defer rows.Close()

	byDate := make(map[civil.Date]int)
	var out []BlockedRange
	for rows.Next() {
		var day time.Time
		var start, end *int
		if err := rows.Scan(&day, &start, &end); err != nil {
			return nil, fmt.Errorf("availability: scan blocked range: %w", err)
		}
		date := civil.DateOf(day)
		idx, ok := byDate[date]
		if !ok {
			idx = len(out)
			byDate[date] = idx
			out = append(out, BlockedRange{Date: date})
		}
		// NULL bounds block the whole day.
		span := fullDay
		if start != nil && end != nil {
			span = TimeRange{Start: Clock(*start), End: Clock(*end)}
		}
		out[idx].Ranges = append(out[idx].Ranges, span)
	}
	return out, rows.Err()
}
