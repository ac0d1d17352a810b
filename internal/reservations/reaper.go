package reservations

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/booking-core/internal/commitments"
	"github.com/wolfman30/booking-core/internal/jobs"
	"github.com/wolfman30/booking-core/pkg/logging"
)

// ReapExpiredHolds releases every held appointment in the bucket of userID
// on day whose payment expiry has passed, and drops ids whose appointment no
// longer exists. Calling it again on the same bucket changes nothing.
func (m *Manager) ReapExpiredHolds(ctx context.Context, userID string, day civil.Date) (int, error) {
	ctx, span := m.tracer.Start(ctx, "reservations.reap_expired_holds")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.user_id", userID),
		attribute.String("booking.date", day.String()),
	)

	now := m.now()
	var expired []Appointment
	var dangling []uuid.UUID
	err := m.store.View(ctx, func(ctx context.Context, r Reader) error {
		bucket, err := r.Commitments().Bucket(ctx, userID, day)
		if err != nil {
			return err
		}
		if len(bucket.TemporarilyReserved) == 0 {
			return nil
		}
		apts, err := r.Appointments(ctx, bucket.TemporarilyReserved)
		if err != nil {
			return err
		}
		found := make(map[uuid.UUID]struct{}, len(apts))
		for _, a := range apts {
			found[a.ID] = struct{}{}
			if a.Expired(now) {
				expired = append(expired, a)
			}
		}
		for _, id := range bucket.TemporarilyReserved {
			if _, ok := found[id]; !ok {
				dangling = append(dangling, id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, systemErr("reap scan", err)
	}

	var errs []error
	released := 0
	for _, a := range expired {
		ok, err := m.reapOne(ctx, a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			released++
		}
	}
	for _, id := range dangling {
		dropped := false
		err := m.store.InTx(ctx, []string{HostKey(userID, day)}, func(ctx context.Context, tx Tx) error {
			if _, err := tx.Appointment(ctx, id); !errors.Is(err, ErrNotFound) {
				return err
			}
			dropped = true
			return tx.Commitments().Remove(ctx, userID, day, commitments.TemporarilyReserved, id)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if dropped {
			m.logger.Warn("dropped dangling hold entry", "appointment_id", id, "user_id", userID, "date", day.String())
		}
	}
	span.SetAttributes(attribute.Int("booking.released", released))
	if len(errs) > 0 {
		return released, systemErr("reap", errors.Join(errs...))
	}
	return released, nil
}

// ReapAll releases up to limit expired holds across every provider.
func (m *Manager) ReapAll(ctx context.Context, limit int) (int, error) {
	var expired []Appointment
	err := m.store.View(ctx, func(ctx context.Context, r Reader) error {
		var err error
		expired, err = r.ExpiredHolds(ctx, m.now(), limit)
		return err
	})
	if err != nil {
		return 0, systemErr("list expired holds", err)
	}
	released := 0
	var errs []error
	for _, a := range expired {
		ok, err := m.reapOne(ctx, a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			released++
		}
	}
	if len(errs) > 0 {
		return released, systemErr("reap all", errors.Join(errs...))
	}
	return released, nil
}

// reapOne releases a if it is still an expired hold once locked.
func (m *Manager) reapOne(ctx context.Context, a Appointment) (bool, error) {
	released := false
	err := m.store.InTx(ctx, []string{HostKey(a.HostID, a.Day)}, func(ctx context.Context, tx Tx) error {
		current, err := tx.Appointment(ctx, a.ID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !current.Expired(m.now()) {
			return nil
		}
		released = true
		return release(ctx, tx, current)
	})
	if err != nil {
		return false, err
	}
	if released {
		m.metrics.ObserveHoldReleased("expired")
		m.logger.Info("expired hold reaped", "appointment_id", a.ID, "provider_id", a.HostID, "date", a.Day.String())
	}
	return released, nil
}

func paymentOverdue(a Appointment, now time.Time) bool {
	return a.Status == StatusConfirmed &&
		a.Payment.Method == PayAfter &&
		a.Payment.Status == PaymentPending &&
		a.Payment.OverdueAt == nil &&
		!a.Payment.ExpiresAt.After(now)
}

// SweepOverduePayments flags confirmed pay-after appointments whose payment
// expiry passed and schedules a payment.overdue job for each.
func (m *Manager) SweepOverduePayments(ctx context.Context, limit int) (int, error) {
	ctx, span := m.tracer.Start(ctx, "reservations.sweep_overdue_payments")
	defer span.End()

	var due []Appointment
	err := m.store.View(ctx, func(ctx context.Context, r Reader) error {
		var err error
		due, err = r.OverduePayments(ctx, m.now(), limit)
		return err
	})
	if err != nil {
		return 0, systemErr("list overdue payments", err)
	}

	flagged := 0
	var errs []error
	for _, a := range due {
		marked := false
		err := m.store.InTx(ctx, []string{HostKey(a.HostID, a.Day)}, func(ctx context.Context, tx Tx) error {
			current, err := tx.Appointment(ctx, a.ID)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			now := m.now().UTC()
			if !paymentOverdue(current, now) {
				return nil
			}
			current.Payment.OverdueAt = &now
			current.UpdatedAt = now
			if err := tx.UpdateAppointment(ctx, current); err != nil {
				return err
			}
			marked = true
			return schedule(ctx, tx, current.ID, jobs.KindPaymentOverdue, now, map[string]string{"host_id": current.HostID})
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if marked {
			flagged++
			m.logger.Warn("payment overdue", "appointment_id", a.ID, "provider_id", a.HostID, "expired_at", a.Payment.ExpiresAt)
		}
	}
	if len(errs) > 0 {
		return flagged, systemErr("sweep overdue payments", errors.Join(errs...))
	}
	return flagged, nil
}

// Reaper periodically releases expired holds and flags overdue payments.
type Reaper struct {
	manager   *Manager
	logger    *logging.Logger
	interval  time.Duration
	batchSize int
}

func NewReaper(manager *Manager, logger *logging.Logger) *Reaper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reaper{
		manager:   manager,
		logger:    logger,
		interval:  time.Minute,
		batchSize: 50,
	}
}

func (r *Reaper) WithInterval(interval time.Duration) *Reaper {
	if interval > 0 {
		r.interval = interval
	}
	return r
}

func (r *Reaper) WithBatchSize(size int) *Reaper {
	if size > 0 {
		r.batchSize = size
	}
	return r
}

func (r *Reaper) Start(ctx context.Context) {
	if r.manager == nil {
		return
	}
	r.logger.Info("reaper started", "interval", r.interval, "batch_size", r.batchSize)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one reap and overdue sweep.
func (r *Reaper) RunOnce(ctx context.Context) (released, overdue int) {
	released, err := r.manager.ReapAll(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("reap expired holds failed", "error", err)
	}
	overdue, err = r.manager.SweepOverduePayments(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("overdue payment sweep failed", "error", err)
	}
	if released > 0 || overdue > 0 {
		r.logger.Info("reaper run", "released", released, "overdue", overdue)
	}
	return released, overdue
}
