package reservations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wolfman30/booking-core/internal/availability"
	"github.com/wolfman30/booking-core/internal/commitments"
	"github.com/wolfman30/booking-core/internal/jobs"
)

var monday = civil.Date{Year: 2030, Month: time.January, Day: 7}

func at(hour, minute int) time.Time {
	return time.Date(2030, time.January, 7, hour, minute, 0, 0, time.UTC)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	manager *Manager
	store   *MemoryStore
	repo    *availability.MemoryRepository
	clock   *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := availability.NewMemoryRepository()
	zero := 0
	for _, provider := range []string{"prov-1", "prov-2"} {
		repo.PutAvailability(availability.Availability{
			ProviderID: provider,
			Recurring: []availability.RecurringRule{{
				Weekday: time.Monday,
				Ranges: []availability.TimeRange{{
					Start: availability.MustClock("09:00"),
					End:   availability.MustClock("12:00"),
				}},
			}},
			Settings: availability.Settings{IntervalMinutes: 30, FutureBookingDelayMinutes: &zero},
		})
	}
	repo.PutAppointmentType(availability.AppointmentType{ID: "consult", Name: "Consult", DurationMinutes: 30})
	repo.PutAppointmentType(availability.AppointmentType{ID: "other-provider", ProviderID: "prov-9", DurationMinutes: 30})

	clock := &testClock{now: time.Date(2030, time.January, 6, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(nil)
	manager := NewManager(store, repo, DefaultConfig(), nil).WithClock(clock.Now)
	return &fixture{manager: manager, store: store, repo: repo, clock: clock}
}

func (f *fixture) hold(t *testing.T, client string, start time.Time) Hold {
	t.Helper()
	hold, err := f.manager.CreateHold(context.Background(), HoldRequest{
		ClientID:          client,
		ProviderID:        "prov-1",
		AppointmentTypeID: "consult",
		Start:             start,
	})
	require.NoError(t, err)
	return hold
}

func (f *fixture) slotStarts(t *testing.T) []time.Time {
	t.Helper()
	slots, err := f.manager.ResolveSlots(context.Background(), "prov-1", "consult", monday, "")
	require.NoError(t, err)
	out := make([]time.Time, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start)
	}
	return out
}

func (f *fixture) bucket(t *testing.T, user string) commitments.Bucket {
	t.Helper()
	var b commitments.Bucket
	err := f.store.View(context.Background(), func(ctx context.Context, r Reader) error {
		var err error
		b, err = r.Commitments().Bucket(ctx, user, monday)
		return err
	})
	require.NoError(t, err)
	return b
}

func pendingKinds(store *MemoryStore, id uuid.UUID) []string {
	var kinds []string
	for _, job := range store.JobStore().Pending(id) {
		kinds = append(kinds, job.Kind)
	}
	return kinds
}

func TestResolveSlotsMondayScenario(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []time.Time{at(9, 0), at(9, 30), at(10, 0), at(10, 30), at(11, 0), at(11, 30)}, f.slotStarts(t))
}

func TestResolveSlotsBlockedRange(t *testing.T) {
	f := newFixture(t)
	zero := 0
	f.repo.PutAvailability(availability.Availability{
		ProviderID: "prov-1",
		Recurring: []availability.RecurringRule{{
			Weekday: time.Monday,
			Ranges:  []availability.TimeRange{{Start: availability.MustClock("09:00"), End: availability.MustClock("12:00")}},
		}},
		Blocked: []availability.BlockedRange{{
			Date:   monday,
			Ranges: []availability.TimeRange{{Start: availability.MustClock("10:00"), End: availability.MustClock("10:30")}},
		}},
		Settings: availability.Settings{IntervalMinutes: 30, FutureBookingDelayMinutes: &zero},
	})
	assert.Equal(t, []time.Time{at(9, 0), at(9, 30), at(10, 30), at(11, 0), at(11, 30)}, f.slotStarts(t))
}

func TestResolveSlotsErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.ResolveSlots(ctx, "missing", "consult", monday, "")
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = f.manager.ResolveSlots(ctx, "prov-1", "missing", monday, "")
	assert.ErrorIs(t, err, ErrTypeNotFound)

	_, err = f.manager.ResolveSlots(ctx, "prov-1", "other-provider", monday, "")
	assert.ErrorIs(t, err, ErrTypeNotFound)

	_, err = f.manager.ResolveSlots(ctx, "prov-1", "consult", monday, "Mars/Olympus")
	assert.Equal(t, KindValidation, KindOf(err))

	slots, err := f.manager.ResolveSlots(ctx, "prov-1", "consult", monday.AddDays(1), "")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestCreateHoldOccupiesSlot(t *testing.T) {
	f := newFixture(t)
	hold := f.hold(t, "client-a", at(9, 0))

	assert.Equal(t, at(9, 30), hold.End)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), hold.PaymentExpiresAt)
	assert.NotContains(t, f.slotStarts(t), at(9, 0))
	assert.Len(t, f.slotStarts(t), 5)

	for _, user := range []string{"prov-1", "client-a"} {
		b := f.bucket(t, user)
		assert.Equal(t, []uuid.UUID{hold.AppointmentID}, b.TemporarilyReserved, user)
		assert.Empty(t, b.Booked, user)
	}

	apt, err := f.manager.Get(context.Background(), hold.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, StatusTemporarilyReserved, apt.Status)
	assert.Equal(t, PaymentPending, apt.Payment.Status)
	assert.Equal(t, monday, apt.Day)
	assert.Equal(t, []string{jobs.KindHoldExpiry}, pendingKinds(f.store, hold.AppointmentID))
}

func TestCreateHoldRejectsWindowsOutsideSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, start := range []time.Time{at(8, 30), at(9, 10), at(11, 45), at(12, 0)} {
		_, err := f.manager.CreateHold(ctx, HoldRequest{ClientID: "client-a", ProviderID: "prov-1", AppointmentTypeID: "consult", Start: start})
		assert.ErrorIs(t, err, ErrSlotUnavailable, start.String())
		assert.Equal(t, KindConflict, KindOf(err))
	}
}

func TestCreateHoldValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []HoldRequest{
		{ProviderID: "prov-1", AppointmentTypeID: "consult", Start: at(9, 0)},
		{ClientID: "client-a", AppointmentTypeID: "consult", Start: at(9, 0)},
		{ClientID: "client-a", ProviderID: "prov-1", Start: at(9, 0)},
		{ClientID: "client-a", ProviderID: "prov-1", AppointmentTypeID: "consult"},
		{ClientID: "prov-1", ProviderID: "prov-1", AppointmentTypeID: "consult", Start: at(9, 0)},
	}
	for _, req := range cases {
		_, err := f.manager.CreateHold(ctx, req)
		assert.Equal(t, KindValidation, KindOf(err))
	}

	_, err := f.manager.CreateHold(ctx, HoldRequest{ClientID: "client-a", ProviderID: "missing", AppointmentTypeID: "consult", Start: at(9, 0)})
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.NotErrorIs(t, err, ErrSlotUnavailable)
}

func TestConcurrentCreateHoldExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	const racers = 16

	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.manager.CreateHold(context.Background(), HoldRequest{
				ClientID:          uuid.NewString(),
				ProviderID:        "prov-1",
				AppointmentTypeID: "consult",
				Start:             at(10, 0),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrSlotUnavailable)
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, f.bucket(t, "prov-1").TemporarilyReserved, 1)
}

func TestHoldTTL(t *testing.T) {
	f := newFixture(t)
	f.hold(t, "client-a", at(9, 0))

	f.clock.Advance(14 * time.Minute)
	assert.NotContains(t, f.slotStarts(t), at(9, 0))

	f.clock.Advance(2 * time.Minute)
	assert.Contains(t, f.slotStarts(t), at(9, 0))
	assert.Empty(t, f.bucket(t, "prov-1").TemporarilyReserved)
}

func TestExpiredHoldCanBeRetakenByAnotherClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.hold(t, "client-a", at(9, 0))

	f.clock.Advance(5 * time.Minute)
	_, err := f.manager.CreateHold(ctx, HoldRequest{ClientID: "client-b", ProviderID: "prov-1", AppointmentTypeID: "consult", Start: at(9, 0)})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	f.clock.Advance(11 * time.Minute)
	second, err := f.manager.CreateHold(ctx, HoldRequest{ClientID: "client-b", ProviderID: "prov-1", AppointmentTypeID: "consult", Start: at(9, 0)})
	require.NoError(t, err)
	assert.NotEqual(t, first.AppointmentID, second.AppointmentID)

	_, err = f.manager.Get(ctx, first.AppointmentID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.bucket(t, "client-a").TemporarilyReserved)
	assert.Equal(t, []uuid.UUID{second.AppointmentID}, f.bucket(t, "prov-1").TemporarilyReserved)
}

func TestPromotePayNowMovesBuckets(t *testing.T) {
	f := newFixture(t)
	hold := f.hold(t, "client-a", at(9, 0))

	apt, err := f.manager.PromoteHold(context.Background(), hold.AppointmentID, PayNow)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, apt.Status)
	assert.Equal(t, PaymentPaid, apt.Payment.Status)
	require.NotNil(t, apt.Payment.PaidAt)

	for _, user := range []string{"prov-1", "client-a"} {
		b := f.bucket(t, user)
		assert.Equal(t, []uuid.UUID{hold.AppointmentID}, b.Booked, user)
		assert.Empty(t, b.TemporarilyReserved, user)
	}
	assert.NotContains(t, pendingKinds(f.store, hold.AppointmentID), jobs.KindHoldExpiry)

	f.clock.Advance(time.Hour)
	assert.NotContains(t, f.slotStarts(t), at(9, 0))
}

func TestPromotePayLaterSetsDueDate(t *testing.T) {
	f := newFixture(t)
	hold := f.hold(t, "client-a", at(11, 0))

	apt, err := f.manager.PromoteHold(context.Background(), hold.AppointmentID, PayLater)
	require.NoError(t, err)
	assert.Equal(t, PayAfter, apt.Payment.Method)
	assert.Equal(t, PaymentPending, apt.Payment.Status)
	assert.Equal(t, at(10, 0), apt.Payment.ExpiresAt)
	assert.Contains(t, pendingKinds(f.store, hold.AppointmentID), jobs.KindPaymentDue)
}

func TestPayLaterExpiryNeverBeforeNow(t *testing.T) {
	now := at(8, 30)
	assert.Equal(t, now, payLaterExpiry(at(9, 0), now, time.Hour))
	assert.Equal(t, at(8, 0), payLaterExpiry(at(9, 0), at(7, 0), time.Hour))
}

func TestPromoteTwiceIsAlreadyFinalized(t *testing.T) {
	f := newFixture(t)
	hold := f.hold(t, "client-a", at(9, 0))
	_, err := f.manager.PromoteHold(context.Background(), hold.AppointmentID, PayNow)
	require.NoError(t, err)

	_, err = f.manager.PromoteHold(context.Background(), hold.AppointmentID, PayLater)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	_, err = f.manager.PromoteHold(context.Background(), uuid.New(), PayNow)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.manager.PromoteHold(context.Background(), hold.AppointmentID, PromoteMethod("barter"))
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestPromoteExpiredHoldReleasesIt(t *testing.T) {
	f := newFixture(t)
	hold := f.hold(t, "client-a", at(9, 0))
	f.clock.Advance(16 * time.Minute)

	_, err := f.manager.PromoteHold(context.Background(), hold.AppointmentID, PayNow)
	assert.ErrorIs(t, err, ErrHoldExpired)

	_, err = f.manager.Get(context.Background(), hold.AppointmentID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.bucket(t, "prov-1").IDs())
	assert.Empty(t, pendingKinds(f.store, hold.AppointmentID))
}

func TestReleaseHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hold := f.hold(t, "client-a", at(9, 0))

	require.NoError(t, f.manager.ReleaseHold(ctx, hold.AppointmentID))
	assert.Contains(t, f.slotStarts(t), at(9, 0))
	assert.Empty(t, f.bucket(t, "client-a").IDs())
	assert.Empty(t, pendingKinds(f.store, hold.AppointmentID))

	assert.ErrorIs(t, f.manager.ReleaseHold(ctx, hold.AppointmentID), ErrNotFound)

	confirmed := f.hold(t, "client-a", at(10, 0))
	_, err := f.manager.PromoteHold(ctx, confirmed.AppointmentID, PayNow)
	require.NoError(t, err)
	assert.ErrorIs(t, f.manager.ReleaseHold(ctx, confirmed.AppointmentID), ErrAlreadyFinalized)
}

func TestCancelConfirmedKeepsRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hold := f.hold(t, "client-a", at(9, 0))
	_, err := f.manager.PromoteHold(ctx, hold.AppointmentID, PayNow)
	require.NoError(t, err)

	apt, err := f.manager.CancelConfirmed(ctx, hold.AppointmentID, CancellationReason{Code: "client_request", CanceledBy: "client-a"})
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, apt.Status)
	require.NotNil(t, apt.Cancellation)
	assert.Equal(t, "client_request", apt.Cancellation.Code)
	assert.Equal(t, f.clock.Now().UTC(), apt.Cancellation.CanceledAt)

	stored, err := f.manager.Get(ctx, hold.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, stored.Status)
	assert.Equal(t, []uuid.UUID{hold.AppointmentID}, f.bucket(t, "prov-1").Booked)
	assert.Contains(t, f.slotStarts(t), at(9, 0))
	assert.Equal(t, []string{jobs.KindCanceled}, pendingKinds(f.store, hold.AppointmentID))

	_, err = f.manager.CancelConfirmed(ctx, hold.AppointmentID, CancellationReason{Code: "again"})
	assert.ErrorIs(t, err, ErrAlreadyCanceled)
}

func TestCancelHoldLeavesHeldLists(t *testing.T) {
	f := newFixture(t)
	hold := f.hold(t, "client-a", at(9, 0))

	apt, err := f.manager.CancelConfirmed(context.Background(), hold.AppointmentID, CancellationReason{})
	require.NoError(t, err)
	assert.Equal(t, "unspecified", apt.Cancellation.Code)
	assert.Empty(t, f.bucket(t, "prov-1").IDs())
	assert.Empty(t, f.bucket(t, "client-a").IDs())
	assert.Contains(t, f.slotStarts(t), at(9, 0))
}

func TestCompleteAndCancelCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hold := f.hold(t, "client-a", at(9, 0))

	_, err := f.manager.Complete(ctx, hold.AppointmentID)
	assert.ErrorIs(t, err, ErrNotConfirmed)

	_, err = f.manager.PromoteHold(ctx, hold.AppointmentID, PayNow)
	require.NoError(t, err)
	_, err = f.manager.Complete(ctx, hold.AppointmentID)
	assert.ErrorIs(t, err, ErrNotEnded)

	f.clock.now = at(10, 0)
	apt, err := f.manager.Complete(ctx, hold.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, apt.Status)
	assert.Equal(t, []uuid.UUID{hold.AppointmentID}, f.bucket(t, "client-a").Booked)

	_, err = f.manager.CancelConfirmed(ctx, hold.AppointmentID, CancellationReason{Code: "late"})
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	_, err = f.manager.Complete(ctx, hold.AppointmentID)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestRecordPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hold := f.hold(t, "client-a", at(11, 0))

	_, err := f.manager.RecordPayment(ctx, hold.AppointmentID)
	assert.ErrorIs(t, err, ErrNotConfirmed)

	_, err = f.manager.PromoteHold(ctx, hold.AppointmentID, PayLater)
	require.NoError(t, err)
	apt, err := f.manager.RecordPayment(ctx, hold.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, apt.Payment.Status)
	assert.NotContains(t, pendingKinds(f.store, hold.AppointmentID), jobs.KindPaymentDue)

	_, err = f.manager.RecordPayment(ctx, hold.AppointmentID)
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestProviderSwitchUpdatesHistoryAndRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hold(t, "client-a", at(9, 0))
	f.hold(t, "client-a", at(9, 30))

	history := f.store.ClientHistory("client-a")
	require.Len(t, history, 1)
	assert.Equal(t, []string{"client-a"}, f.store.Roster("prov-1"))

	_, err := f.manager.CreateHold(ctx, HoldRequest{ClientID: "client-a", ProviderID: "prov-2", AppointmentTypeID: "consult", Start: at(9, 0)})
	require.NoError(t, err)

	history = f.store.ClientHistory("client-a")
	require.Len(t, history, 2)
	assert.Equal(t, "prov-1", history[0].ProviderID)
	require.NotNil(t, history[0].EndedAt)
	assert.Equal(t, "prov-2", history[1].ProviderID)
	assert.Nil(t, history[1].EndedAt)
	assert.Empty(t, f.store.Roster("prov-1"))
	assert.Equal(t, []string{"client-a"}, f.store.Roster("prov-2"))
}

type denyLimiter struct{}

func (denyLimiter) AllowHold(ctx context.Context, clientID string) (bool, error) { return false, nil }

type brokenLimiter struct{}

func (brokenLimiter) AllowHold(ctx context.Context, clientID string) (bool, error) {
	return false, errors.New("redis down")
}

func TestCreateHoldVelocity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := HoldRequest{ClientID: "client-a", ProviderID: "prov-1", AppointmentTypeID: "consult", Start: at(9, 0)}

	f.manager.WithLimiter(denyLimiter{})
	_, err := f.manager.CreateHold(ctx, req)
	assert.ErrorIs(t, err, ErrVelocityExceeded)
	assert.Equal(t, KindRateLimited, KindOf(err))

	f.manager.WithLimiter(brokenLimiter{})
	_, err = f.manager.CreateHold(ctx, req)
	assert.NoError(t, err)
}

type failingStore struct {
	*MemoryStore
}

func (s failingStore) InTx(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error {
	return s.MemoryStore.InTx(ctx, keys, func(ctx context.Context, tx Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errors.New("disk full")
	})
}

func TestCreateHoldRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	manager := NewManager(failingStore{f.store}, f.repo, DefaultConfig(), nil).WithClock(f.clock.Now)

	_, err := manager.CreateHold(context.Background(), HoldRequest{ClientID: "client-a", ProviderID: "prov-1", AppointmentTypeID: "consult", Start: at(9, 0)})
	require.Error(t, err)
	assert.Equal(t, KindSystem, KindOf(err))
	assert.NotErrorIs(t, err, ErrSlotUnavailable)

	assert.Empty(t, f.bucket(t, "prov-1").IDs())
	assert.Empty(t, f.bucket(t, "client-a").IDs())
	assert.Empty(t, f.store.ClientHistory("client-a"))
	assert.Len(t, f.slotStarts(t), 6)
}

func TestSpannedKeysCoverMidnight(t *testing.T) {
	from := time.Date(2030, 1, 7, 23, 30, 0, 0, time.UTC)
	keys := spannedKeys("prov-1", from, from.Add(time.Hour), time.UTC)
	assert.Equal(t, []string{"host:prov-1:2030-01-07", "host:prov-1:2030-01-08"}, keys)
}

func TestWithTracer(t *testing.T) {
	f := newFixture(t)
	f.manager.WithTracer(nil)
	f.manager.WithTracer(noop.NewTracerProvider().Tracer("test"))
	assert.Len(t, f.slotStarts(t), 6)
}

func putZonedProvider(f *fixture, id, timezone string, weekday time.Weekday, from, to string) {
	zero := 0
	f.repo.PutAvailability(availability.Availability{
		ProviderID: id,
		Recurring: []availability.RecurringRule{{
			Weekday: weekday,
			Ranges:  []availability.TimeRange{{Start: availability.MustClock(from), End: availability.MustClock(to)}},
		}},
		Settings: availability.Settings{IntervalMinutes: 30, FutureBookingDelayMinutes: &zero, Timezone: timezone},
	})
}

func TestViewerTimezoneKeepsProviderHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	putZonedProvider(f, "prov-ny", "America/New_York", time.Monday, "09:00", "12:00")

	own, err := f.manager.ResolveSlots(ctx, "prov-ny", "consult", monday, "")
	require.NoError(t, err)
	viewed, err := f.manager.ResolveSlots(ctx, "prov-ny", "consult", monday, "Europe/London")
	require.NoError(t, err)
	require.Len(t, own, 6)
	assert.Equal(t, own, viewed)
	assert.Equal(t, at(14, 0), viewed[0].Start)

	_, err = f.manager.CreateHold(ctx, HoldRequest{
		ClientID: "client-a", ProviderID: "prov-ny", AppointmentTypeID: "consult",
		Start: at(9, 0), Timezone: "Europe/London",
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	hold, err := f.manager.CreateHold(ctx, HoldRequest{
		ClientID: "client-a", ProviderID: "prov-ny", AppointmentTypeID: "consult",
		Start: at(14, 0), Timezone: "Europe/London",
	})
	require.NoError(t, err)
	apt, err := f.manager.Get(ctx, hold.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, monday, apt.Day)
}

func TestResolveSlotsSeesProviderDayTwoBehindViewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// UTC-12 Saturday evening is Sunday 08:00-12:00Z, which falls on the
	// following Monday for a UTC+14 viewer.
	putZonedProvider(f, "prov-far", "Etc/GMT+12", time.Saturday, "20:00", "24:00")
	viewerDay := monday.AddDays(7)
	sunday := time.Date(2030, time.January, 13, 10, 0, 0, 0, time.UTC)

	slots, err := f.manager.ResolveSlots(ctx, "prov-far", "consult", viewerDay, "Pacific/Kiritimati")
	require.NoError(t, err)
	require.Len(t, slots, 4)
	assert.Equal(t, sunday, slots[0].Start)

	hold, err := f.manager.CreateHold(ctx, HoldRequest{ClientID: "client-a", ProviderID: "prov-far", AppointmentTypeID: "consult", Start: sunday})
	require.NoError(t, err)
	apt, err := f.manager.Get(ctx, hold.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, viewerDay.AddDays(-2), apt.Day)

	slots, err = f.manager.ResolveSlots(ctx, "prov-far", "consult", viewerDay, "Pacific/Kiritimati")
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, sunday.Add(30*time.Minute), slots[0].Start)
}

type keyRecorder struct {
	Store
	mu   sync.Mutex
	runs [][]string
}

func (r *keyRecorder) InTx(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	r.runs = append(r.runs, append([]string(nil), keys...))
	r.mu.Unlock()
	return r.Store.InTx(ctx, keys, fn)
}

func (r *keyRecorder) lockedTogether(a, b string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, keys := range r.runs {
		if contains(keys, a) && contains(keys, b) {
			return true
		}
	}
	return false
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func TestCreateHoldLocksClientHistory(t *testing.T) {
	f := newFixture(t)
	rec := &keyRecorder{Store: f.store}
	manager := NewManager(rec, f.repo, DefaultConfig(), nil).WithClock(f.clock.Now)

	for _, provider := range []string{"prov-1", "prov-2"} {
		_, err := manager.CreateHold(context.Background(), HoldRequest{
			ClientID:          "client-a",
			ProviderID:        provider,
			AppointmentTypeID: "consult",
			Start:             at(9, 0),
		})
		require.NoError(t, err)
		assert.True(t, rec.lockedTogether(HostKey(provider, monday), ClientKey("client-a")), provider)
	}

	err := f.store.InTx(context.Background(), nil, func(ctx context.Context, tx Tx) error {
		current, ok, err := tx.CurrentProvider(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "prov-2", current)
		return nil
	})
	require.NoError(t, err)
}
