package reservations

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/booking-core/internal/availability"
	"github.com/wolfman30/booking-core/internal/commitments"
	"github.com/wolfman30/booking-core/internal/jobs"
	"github.com/wolfman30/booking-core/internal/observability/metrics"
	"github.com/wolfman30/booking-core/pkg/logging"
)

var tracer = otel.Tracer("booking.internal.reservations")

// Config holds lifecycle timings.
type Config struct {
	HoldTTL             time.Duration
	PayLaterLead        time.Duration
	DefaultBookingDelay time.Duration
	OverlapBuffer       time.Duration
	ReminderLead        time.Duration
}

func DefaultConfig() Config {
	return Config{
		HoldTTL:             15 * time.Minute,
		PayLaterLead:        time.Hour,
		DefaultBookingDelay: availability.DefaultFutureBookingDelayMinutes * time.Minute,
		ReminderLead:        24 * time.Hour,
	}
}

// HoldLimiter caps how often a client may request holds.
type HoldLimiter interface {
	AllowHold(ctx context.Context, clientID string) (bool, error)
}

// Manager is the only writer of appointment status.
type Manager struct {
	store   Store
	repo    availability.Repository
	limiter HoldLimiter
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
	tracer  trace.Tracer
	cfg     Config
	now     func() time.Time
}

func NewManager(store Store, repo availability.Repository, cfg Config, logger *logging.Logger) *Manager {
	if store == nil {
		panic("reservations: store required")
	}
	if repo == nil {
		panic("reservations: availability repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	defaults := DefaultConfig()
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = defaults.HoldTTL
	}
	if cfg.PayLaterLead <= 0 {
		cfg.PayLaterLead = defaults.PayLaterLead
	}
	if cfg.DefaultBookingDelay <= 0 {
		cfg.DefaultBookingDelay = defaults.DefaultBookingDelay
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = defaults.ReminderLead
	}
	if cfg.OverlapBuffer < 0 {
		cfg.OverlapBuffer = 0
	}
	return &Manager{
		store:  store,
		repo:   repo,
		logger: logger,
		tracer: tracer,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Manager) WithTracer(t trace.Tracer) *Manager {
	if t != nil {
		m.tracer = t
	}
	return m
}

func (m *Manager) WithLimiter(limiter HoldLimiter) *Manager {
	m.limiter = limiter
	return m
}

func (m *Manager) WithMetrics(bm *metrics.BookingMetrics) *Manager {
	m.metrics = bm
	return m
}

// ResolveSlots returns the bookable slots of a provider for one appointment
// type on date, interpreted in timezone (provider zone when empty).
func (m *Manager) ResolveSlots(ctx context.Context, providerID, typeID string, date civil.Date, timezone string) ([]availability.Slot, error) {
	ctx, span := m.tracer.Start(ctx, "reservations.resolve_slots")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.provider_id", providerID),
		attribute.String("booking.date", date.String()),
	)
	started := time.Now()
	defer func() { m.metrics.ObserveResolveLatency(time.Since(started).Seconds()) }()

	if strings.TrimSpace(providerID) == "" || strings.TrimSpace(typeID) == "" {
		return nil, invalid("provider id and appointment type id are required")
	}
	if !date.IsValid() {
		return nil, invalid("invalid date %q", date)
	}

	typ, av, err := m.lookup(ctx, providerID, typeID, date)
	if err != nil {
		return nil, err
	}
	view, err := location(timezone, av.Settings)
	if err != nil {
		return nil, err
	}
	hostLoc := av.Settings.Location()
	days := availability.ProviderDates(date, view, hostLoc)

	for _, day := range days {
		if _, err := m.ReapExpiredHolds(ctx, providerID, day); err != nil {
			m.logger.Warn("lazy reap failed", "error", err, "provider_id", providerID, "date", day.String())
		}
	}

	var slots []availability.Slot
	err = m.store.View(ctx, func(ctx context.Context, r Reader) error {
		cm, err := hostCommitments(ctx, r, providerID, days[0], days[len(days)-1])
		if err != nil {
			return err
		}
		in := m.input(av, typ, date, hostLoc, cm, m.now())
		in.ViewLocation = view
		slots = availability.Resolve(in)
		return nil
	})
	if err != nil {
		return nil, systemErr("resolve slots", err)
	}
	span.SetAttributes(attribute.Int("booking.slot_count", len(slots)))
	return slots, nil
}

// CreateHold reserves the requested window for HoldTTL. The window must be
// inside a slot resolved against current state in the same transaction.
func (m *Manager) CreateHold(ctx context.Context, req HoldRequest) (Hold, error) {
	ctx, span := m.tracer.Start(ctx, "reservations.create_hold")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.provider_id", req.ProviderID),
		attribute.String("booking.client_id", req.ClientID),
	)

	hold, err := m.createHold(ctx, req)
	if err != nil {
		m.metrics.ObserveHoldRejected(CodeOf(err))
		if KindOf(err) == KindSystem {
			m.logger.Error("create hold failed", "error", err, "provider_id", req.ProviderID, "client_id", req.ClientID)
		}
		return Hold{}, err
	}
	m.metrics.ObserveHoldCreated()
	m.logger.Info("hold created",
		"appointment_id", hold.AppointmentID,
		"provider_id", req.ProviderID,
		"client_id", req.ClientID,
		"start", hold.Start,
		"expires_at", hold.PaymentExpiresAt,
	)
	return hold, nil
}

func (m *Manager) createHold(ctx context.Context, req HoldRequest) (Hold, error) {
	switch {
	case strings.TrimSpace(req.ClientID) == "":
		return Hold{}, invalid("client id is required")
	case strings.TrimSpace(req.ProviderID) == "":
		return Hold{}, invalid("provider id is required")
	case strings.TrimSpace(req.AppointmentTypeID) == "":
		return Hold{}, invalid("appointment type id is required")
	case req.Start.IsZero():
		return Hold{}, invalid("start is required")
	case req.ClientID == req.ProviderID:
		return Hold{}, invalid("provider cannot book itself")
	}

	typ, av, err := m.lookup(ctx, req.ProviderID, req.AppointmentTypeID, civil.DateOf(req.Start.UTC()))
	if err != nil {
		return Hold{}, err
	}
	if _, err := location(req.Timezone, av.Settings); err != nil {
		return Hold{}, err
	}
	// Slots are absolute instants, so the window is checked against the
	// provider's own day whatever zone the client views it in.
	start := req.Start.UTC()
	end := start.Add(typ.Duration())
	hostLoc := av.Settings.Location()
	day := civil.DateOf(start.In(hostLoc))

	if m.limiter != nil {
		allowed, err := m.limiter.AllowHold(ctx, req.ClientID)
		if err != nil {
			m.logger.Warn("hold limiter failed", "error", err, "client_id", req.ClientID)
		} else if !allowed {
			return Hold{}, ErrVelocityExceeded
		}
	}

	if _, err := m.ReapExpiredHolds(ctx, req.ProviderID, day); err != nil {
		m.logger.Warn("lazy reap failed", "error", err, "provider_id", req.ProviderID, "date", day.String())
	}

	keys := spannedKeys(req.ProviderID, start.Add(-m.cfg.OverlapBuffer), end.Add(m.cfg.OverlapBuffer), hostLoc)
	// Holds by one client at different providers both rewrite its current
	// provider row.
	keys = append(keys, ClientKey(req.ClientID))
	var hold Hold
	err = m.store.InTx(ctx, keys, func(ctx context.Context, tx Tx) error {
		now := m.now()
		cm, err := hostCommitments(ctx, tx, req.ProviderID, day, day)
		if err != nil {
			return err
		}
		slots := availability.Resolve(m.input(av, typ, day, hostLoc, cm, now))
		if !availability.Covers(slots, start, end) {
			return ErrSlotUnavailable
		}

		apt := Appointment{
			ID:                uuid.New(),
			HostID:            req.ProviderID,
			Participants:      []string{req.ClientID},
			Start:             start,
			End:               end,
			Day:               day,
			AppointmentTypeID: typ.ID,
			Status:            StatusTemporarilyReserved,
			Payment: Payment{
				Method:    PayBefore,
				Status:    PaymentPending,
				ExpiresAt: now.Add(m.cfg.HoldTTL).UTC(),
			},
			CreatedAt: now.UTC(),
			UpdatedAt: now.UTC(),
		}
		if err := tx.InsertAppointment(ctx, apt); err != nil {
			return err
		}
		for _, party := range apt.Parties() {
			if err := tx.Commitments().Add(ctx, party, day, commitments.TemporarilyReserved, apt.ID); err != nil {
				return err
			}
		}

		current, ok, err := tx.CurrentProvider(ctx, req.ClientID)
		if err != nil {
			return err
		}
		if !ok || current != req.ProviderID {
			if err := tx.SwitchProvider(ctx, req.ClientID, current, req.ProviderID, now.UTC()); err != nil {
				return err
			}
		}

		if err := schedule(ctx, tx, apt.ID, jobs.KindHoldExpiry, apt.Payment.ExpiresAt, nil); err != nil {
			return err
		}
		hold = Hold{AppointmentID: apt.ID, Start: start, End: end, PaymentExpiresAt: apt.Payment.ExpiresAt}
		return nil
	})
	if err != nil {
		return Hold{}, systemErr("create hold", err)
	}
	return hold, nil
}

// PromoteHold confirms a hold. A hold whose TTL already passed is released
// and ErrHoldExpired returned.
func (m *Manager) PromoteHold(ctx context.Context, id uuid.UUID, method PromoteMethod) (Appointment, error) {
	ctx, span := m.tracer.Start(ctx, "reservations.promote_hold")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.appointment_id", id.String()),
		attribute.String("booking.promote_method", string(method)),
	)

	if !method.Valid() {
		return Appointment{}, invalid("unknown promote method %q", method)
	}

	var out Appointment
	expired := false
	err := m.mutate(ctx, id, func(ctx context.Context, tx Tx, a Appointment) error {
		if a.Status != StatusTemporarilyReserved {
			return ErrAlreadyFinalized
		}
		now := m.now().UTC()
		if a.Expired(now) {
			expired = true
			return release(ctx, tx, a)
		}

		a.Status = StatusConfirmed
		a.UpdatedAt = now
		switch method {
		case PayNow:
			a.Payment.Status = PaymentPaid
			a.Payment.PaidAt = &now
		case PayLater:
			a.Payment.Method = PayAfter
			a.Payment.ExpiresAt = payLaterExpiry(a.Start, now, m.cfg.PayLaterLead)
		}
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		for _, party := range a.Parties() {
			if err := tx.Commitments().Move(ctx, party, a.Day, commitments.Booked, a.ID); err != nil {
				return err
			}
		}

		if _, err := tx.Jobs().CancelForAppointment(ctx, a.ID, jobs.KindHoldExpiry); err != nil {
			return err
		}
		if remindAt := a.Start.Add(-m.cfg.ReminderLead); remindAt.After(now) {
			if err := schedule(ctx, tx, a.ID, jobs.KindReminder, remindAt, nil); err != nil {
				return err
			}
		}
		if method == PayLater {
			if err := schedule(ctx, tx, a.ID, jobs.KindPaymentDue, a.Payment.ExpiresAt, nil); err != nil {
				return err
			}
		}
		out = a
		return nil
	})
	if err != nil {
		return Appointment{}, systemErr("promote hold", err)
	}
	if expired {
		m.metrics.ObserveHoldReleased("expired")
		m.logger.Info("expired hold released on promotion", "appointment_id", id)
		return Appointment{}, ErrHoldExpired
	}
	m.metrics.ObservePromotion(string(method))
	m.logger.Info("hold promoted", "appointment_id", id, "method", method, "payment_expires_at", out.Payment.ExpiresAt)
	return out, nil
}

// ReleaseHold deletes a hold and cancels its scheduled jobs.
func (m *Manager) ReleaseHold(ctx context.Context, id uuid.UUID) error {
	ctx, span := m.tracer.Start(ctx, "reservations.release_hold")
	defer span.End()
	span.SetAttributes(attribute.String("booking.appointment_id", id.String()))

	err := m.mutate(ctx, id, func(ctx context.Context, tx Tx, a Appointment) error {
		if a.Status != StatusTemporarilyReserved {
			return ErrAlreadyFinalized
		}
		return release(ctx, tx, a)
	})
	if err != nil {
		return systemErr("release hold", err)
	}
	m.metrics.ObserveHoldReleased("released")
	m.logger.Info("hold released", "appointment_id", id)
	return nil
}

// CancelConfirmed cancels a hold or confirmed appointment and keeps the record.
func (m *Manager) CancelConfirmed(ctx context.Context, id uuid.UUID, reason CancellationReason) (Appointment, error) {
	ctx, span := m.tracer.Start(ctx, "reservations.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("booking.appointment_id", id.String()))

	if strings.TrimSpace(reason.Code) == "" {
		reason.Code = "unspecified"
	}
	var out Appointment
	var from Status
	err := m.mutate(ctx, id, func(ctx context.Context, tx Tx, a Appointment) error {
		switch a.Status {
		case StatusCanceled:
			return ErrAlreadyCanceled
		case StatusCompleted:
			return ErrAlreadyCompleted
		}
		now := m.now().UTC()
		from = a.Status
		if a.Status == StatusTemporarilyReserved {
			for _, party := range a.Parties() {
				if err := tx.Commitments().Remove(ctx, party, a.Day, commitments.TemporarilyReserved, a.ID); err != nil {
					return err
				}
			}
		}
		reason.CanceledAt = now
		a.Status = StatusCanceled
		a.Cancellation = &reason
		a.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		if _, err := tx.Jobs().CancelForAppointment(ctx, a.ID); err != nil {
			return err
		}
		payload := map[string]string{"code": reason.Code, "canceled_by": reason.CanceledBy, "previous_status": string(from)}
		if err := schedule(ctx, tx, a.ID, jobs.KindCanceled, now, payload); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return Appointment{}, systemErr("cancel appointment", err)
	}
	m.metrics.ObserveCancellation(string(from))
	m.logger.Info("appointment canceled", "appointment_id", id, "code", reason.Code, "previous_status", from)
	return out, nil
}

// RecordPayment marks a confirmed pay-after appointment paid.
func (m *Manager) RecordPayment(ctx context.Context, id uuid.UUID) (Appointment, error) {
	ctx, span := m.tracer.Start(ctx, "reservations.record_payment")
	defer span.End()
	span.SetAttributes(attribute.String("booking.appointment_id", id.String()))

	var out Appointment
	err := m.mutate(ctx, id, func(ctx context.Context, tx Tx, a Appointment) error {
		switch {
		case a.Status == StatusCanceled:
			return ErrAlreadyCanceled
		case a.Status == StatusTemporarilyReserved:
			return ErrNotConfirmed
		case a.Payment.Status == PaymentPaid:
			return ErrAlreadyPaid
		}
		now := m.now().UTC()
		a.Payment.Status = PaymentPaid
		a.Payment.PaidAt = &now
		a.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		if _, err := tx.Jobs().CancelForAppointment(ctx, a.ID, jobs.KindPaymentDue, jobs.KindPaymentOverdue); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return Appointment{}, systemErr("record payment", err)
	}
	m.logger.Info("payment recorded", "appointment_id", id)
	return out, nil
}

// Complete marks a confirmed appointment whose end has passed as completed.
func (m *Manager) Complete(ctx context.Context, id uuid.UUID) (Appointment, error) {
	ctx, span := m.tracer.Start(ctx, "reservations.complete")
	defer span.End()
	span.SetAttributes(attribute.String("booking.appointment_id", id.String()))

	var out Appointment
	err := m.mutate(ctx, id, func(ctx context.Context, tx Tx, a Appointment) error {
		switch a.Status {
		case StatusCanceled:
			return ErrAlreadyCanceled
		case StatusCompleted:
			return ErrAlreadyCompleted
		case StatusTemporarilyReserved:
			return ErrNotConfirmed
		}
		now := m.now().UTC()
		if now.Before(a.End) {
			return ErrNotEnded
		}
		a.Status = StatusCompleted
		a.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return Appointment{}, systemErr("complete appointment", err)
	}
	m.logger.Info("appointment completed", "appointment_id", id)
	return out, nil
}

// Get returns one appointment.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (Appointment, error) {
	var out Appointment
	err := m.store.View(ctx, func(ctx context.Context, r Reader) error {
		a, err := r.Appointment(ctx, id)
		out = a
		return err
	})
	if err != nil {
		return Appointment{}, systemErr("get appointment", err)
	}
	return out, nil
}

// mutate locks the host bucket of appointment id and runs fn with the row
// re-read inside the transaction.
func (m *Manager) mutate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx Tx, a Appointment) error) error {
	if id == uuid.Nil {
		return invalid("appointment id is required")
	}
	var current Appointment
	err := m.store.View(ctx, func(ctx context.Context, r Reader) error {
		a, err := r.Appointment(ctx, id)
		current = a
		return err
	})
	if err != nil {
		return err
	}
	return m.store.InTx(ctx, []string{HostKey(current.HostID, current.Day)}, func(ctx context.Context, tx Tx) error {
		a, err := tx.Appointment(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, tx, a)
	})
}

func (m *Manager) lookup(ctx context.Context, providerID, typeID string, around civil.Date) (availability.AppointmentType, availability.Availability, error) {
	typ, err := m.repo.GetAppointmentType(ctx, typeID)
	if err != nil {
		return availability.AppointmentType{}, availability.Availability{}, classifyLookup("load appointment type", err)
	}
	if typ.ProviderID != "" && typ.ProviderID != providerID {
		return availability.AppointmentType{}, availability.Availability{}, ErrTypeNotFound
	}
	// Viewer and provider dates differ by at most two days.
	av, err := m.repo.GetAvailability(ctx, providerID, around.AddDays(-2), around.AddDays(2))
	if err != nil {
		return availability.AppointmentType{}, availability.Availability{}, classifyLookup("load availability", err)
	}
	return *typ, *av, nil
}

func (m *Manager) input(av availability.Availability, typ availability.AppointmentType, day civil.Date, loc *time.Location, cm availability.Commitments, now time.Time) availability.Input {
	return availability.Input{
		Availability:  av,
		Type:          typ,
		Date:          day,
		Location:      loc,
		Commitments:   cm,
		Now:           now,
		DefaultDelay:  m.cfg.DefaultBookingDelay,
		OverlapBuffer: m.cfg.OverlapBuffer,
	}
}

// hostCommitments loads the appointments referenced by the host's buckets
// for provider-local days from..to, padded by one day for windows crossing
// midnight. Status decides how each one conflicts.
func hostCommitments(ctx context.Context, r Reader, hostID string, from, to civil.Date) (availability.Commitments, error) {
	buckets, err := r.Commitments().Buckets(ctx, hostID, from.AddDays(-1), to.AddDays(1))
	if err != nil {
		return availability.Commitments{}, err
	}
	var ids []uuid.UUID
	for _, b := range buckets {
		ids = append(ids, b.IDs()...)
	}
	apts, err := r.Appointments(ctx, ids)
	if err != nil {
		return availability.Commitments{}, err
	}
	var out availability.Commitments
	for _, a := range apts {
		c := availability.Commitment{
			ID:        a.ID.String(),
			Start:     a.Start,
			End:       a.End,
			Canceled:  a.Status == StatusCanceled,
			ExpiresAt: a.Payment.ExpiresAt,
		}
		if a.Status == StatusTemporarilyReserved {
			out.Held = append(out.Held, c)
		} else {
			out.Booked = append(out.Booked, c)
		}
	}
	return out, nil
}

// release removes a hold from every bucket, deletes it and cancels its jobs.
func release(ctx context.Context, tx Tx, a Appointment) error {
	for _, party := range a.Parties() {
		if err := tx.Commitments().Remove(ctx, party, a.Day, commitments.TemporarilyReserved, a.ID); err != nil {
			return err
		}
	}
	if err := tx.DeleteAppointment(ctx, a.ID); err != nil {
		return err
	}
	_, err := tx.Jobs().CancelForAppointment(ctx, a.ID)
	return err
}

func schedule(ctx context.Context, tx Tx, id uuid.UUID, kind string, runAt time.Time, payload any) error {
	job, err := jobs.New(id, kind, runAt, payload)
	if err != nil {
		return err
	}
	return tx.Jobs().Schedule(ctx, job)
}

func payLaterExpiry(start, now time.Time, lead time.Duration) time.Time {
	due := start.Add(-lead)
	if due.Before(now) {
		return now
	}
	return due
}

func location(timezone string, settings availability.Settings) (*time.Location, error) {
	if strings.TrimSpace(timezone) == "" {
		return settings.Location(), nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, invalid("unknown timezone %q", timezone)
	}
	return loc, nil
}

// spannedKeys returns the host keys of every provider-local date touched by
// [from, to]. Two overlapping windows always share at least one key.
func spannedKeys(hostID string, from, to time.Time, loc *time.Location) []string {
	first := civil.DateOf(from.In(loc))
	last := civil.DateOf(to.In(loc))
	var keys []string
	for d := first; !d.After(last); d = d.AddDays(1) {
		keys = append(keys, HostKey(hostID, d))
	}
	return keys
}

