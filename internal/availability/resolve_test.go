package availability

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2030-01-07 is a Monday.
var monday = civil.Date{Year: 2030, Month: time.January, Day: 7}

func zeroDelay() *int {
	v := 0
	return &v
}

func mondayMorning() Availability {
	return Availability{
		ProviderID: "prov-1",
		Recurring: []RecurringRule{{
			Weekday: time.Monday,
			Ranges:  []TimeRange{{Start: MustClock("09:00"), End: MustClock("12:00")}},
		}},
		Settings: Settings{IntervalMinutes: 30, FutureBookingDelayMinutes: zeroDelay()},
	}
}

var consult = AppointmentType{ID: "type-a", DurationMinutes: 30}

func baseInput() Input {
	return Input{
		Availability: mondayMorning(),
		Type:         consult,
		Date:         monday,
		Location:     time.UTC,
		Now:          time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func at(clock string) time.Time {
	return MustClock(clock).On(monday, time.UTC)
}

func starts(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start.Format("15:04"))
	}
	return out
}

func TestResolveMondayMorning(t *testing.T) {
	slots := Resolve(baseInput())

	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}, starts(slots))
	for _, s := range slots {
		assert.Equal(t, 30*time.Minute, s.End.Sub(s.Start))
	}
}

func TestResolveBlockedRangeRemovesSlot(t *testing.T) {
	in := baseInput()
	in.Availability.Blocked = []BlockedRange{{
		Date:   monday,
		Ranges: []TimeRange{{Start: MustClock("10:00"), End: MustClock("10:30")}},
	}}

	assert.Equal(t, []string{"09:00", "09:30", "10:30", "11:00", "11:30"}, starts(Resolve(in)))
}

func TestResolveBlockedRangeOnOtherDateIgnored(t *testing.T) {
	in := baseInput()
	in.Availability.Blocked = []BlockedRange{{Date: monday.AddDays(7)}}

	assert.Len(t, Resolve(in), 6)
}

func TestResolveBlockedWholeDay(t *testing.T) {
	in := baseInput()
	in.Availability.Blocked = []BlockedRange{{Date: monday}}

	assert.Empty(t, Resolve(in))
}

func TestResolveBookedAndHeldCommitments(t *testing.T) {
	now := baseInput().Now
	tests := []struct {
		name        string
		commitments Commitments
		want        []string
	}{
		{
			name:        "booked removes slot",
			commitments: Commitments{Booked: []Commitment{{Start: at("11:00"), End: at("11:30")}}},
			want:        []string{"09:00", "09:30", "10:00", "10:30", "11:30"},
		},
		{
			name:        "canceled booking frees slot",
			commitments: Commitments{Booked: []Commitment{{Start: at("11:00"), End: at("11:30"), Canceled: true}}},
			want:        []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"},
		},
		{
			name:        "valid hold removes slot",
			commitments: Commitments{Held: []Commitment{{Start: at("09:00"), End: at("09:30"), ExpiresAt: now.Add(time.Minute)}}},
			want:        []string{"09:30", "10:00", "10:30", "11:00", "11:30"},
		},
		{
			name:        "expired hold frees slot",
			commitments: Commitments{Held: []Commitment{{Start: at("09:00"), End: at("09:30"), ExpiresAt: now}}},
			want:        []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"},
		},
		{
			name:        "adjacent booking does not overlap",
			commitments: Commitments{Booked: []Commitment{{Start: at("08:30"), End: at("09:00")}, {Start: at("12:00"), End: at("12:30")}}},
			want:        []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"},
		},
		{
			name:        "containing booking removes every slot inside",
			commitments: Commitments{Booked: []Commitment{{Start: at("08:00"), End: at("10:15")}}},
			want:        []string{"10:30", "11:00", "11:30"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			in.Commitments = tt.commitments
			assert.Equal(t, tt.want, starts(Resolve(in)))
		})
	}
}

func TestResolveLongerDurationThanInterval(t *testing.T) {
	in := baseInput()
	in.Type = AppointmentType{ID: "type-a", DurationMinutes: 60}
	in.Commitments = Commitments{Booked: []Commitment{{Start: at("10:30"), End: at("11:00")}}}

	// 10:00 would run into the 10:30 booking; 09:30 ends exactly at 10:30.
	assert.Equal(t, []string{"09:00", "09:30", "11:00", "11:30"}, starts(Resolve(in)))
}

func TestResolveNoPartialTrailingSlot(t *testing.T) {
	in := baseInput()
	in.Availability.Recurring[0].Ranges = []TimeRange{{Start: MustClock("09:00"), End: MustClock("10:15")}}

	assert.Equal(t, []string{"09:00", "09:30"}, starts(Resolve(in)))
}

func TestResolveDeduplicatesRecurringAndNonRecurring(t *testing.T) {
	in := baseInput()
	in.Availability.NonRecurring = []NonRecurringRule{{
		Date:   monday,
		Ranges: []TimeRange{{Start: MustClock("09:00"), End: MustClock("10:00")}, {Start: MustClock("13:00"), End: MustClock("14:00")}},
	}}

	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30", "13:00", "13:30"}, starts(Resolve(in)))
}

func TestResolveNonRecurringAloneOpensDate(t *testing.T) {
	in := baseInput()
	in.Availability.Recurring = nil
	in.Availability.NonRecurring = []NonRecurringRule{{
		Date:   monday,
		Ranges: []TimeRange{{Start: MustClock("15:00"), End: MustClock("16:00")}},
	}}

	assert.Equal(t, []string{"15:00", "15:30"}, starts(Resolve(in)))
}

func TestResolveAppointmentTypeRestriction(t *testing.T) {
	in := baseInput()
	in.Availability.Recurring[0].Ranges = []TimeRange{
		{Start: MustClock("09:00"), End: MustClock("10:00"), AppointmentTypeIDs: []string{"type-b"}},
		{Start: MustClock("10:00"), End: MustClock("11:00"), AppointmentTypeIDs: []string{"type-a", "type-c"}},
	}

	assert.Equal(t, []string{"10:00", "10:30"}, starts(Resolve(in)))

	in.Type = AppointmentType{ID: "type-b", DurationMinutes: 30}
	assert.Equal(t, []string{"09:00", "09:30"}, starts(Resolve(in)))

	in.Type = AppointmentType{ID: "type-z", DurationMinutes: 30}
	assert.Empty(t, Resolve(in))
}

func TestResolveOtherWeekdayYieldsNothing(t *testing.T) {
	in := baseInput()
	in.Date = monday.AddDays(1)

	assert.Empty(t, Resolve(in))
}

func TestResolveFutureBookingDelay(t *testing.T) {
	in := baseInput()
	in.Now = at("08:00")
	delay := 90
	in.Availability.Settings.FutureBookingDelayMinutes = &delay

	assert.Equal(t, []string{"09:30", "10:00", "10:30", "11:00", "11:30"}, starts(Resolve(in)))
}

func TestResolveDropsPastStarts(t *testing.T) {
	in := baseInput()
	in.Now = at("10:10")

	assert.Equal(t, []string{"10:30", "11:00", "11:30"}, starts(Resolve(in)))
}

func TestResolveDefaultDelay(t *testing.T) {
	in := baseInput()
	in.Availability.Settings.FutureBookingDelayMinutes = nil
	in.Now = at("04:00")

	// 04:00 + 360 minutes.
	assert.Equal(t, []string{"10:00", "10:30", "11:00", "11:30"}, starts(Resolve(in)))

	in.DefaultDelay = 7 * time.Hour
	assert.Equal(t, []string{"11:00", "11:30"}, starts(Resolve(in)))
}

func TestResolveOverlapBuffer(t *testing.T) {
	in := baseInput()
	in.OverlapBuffer = 15 * time.Minute
	in.Commitments = Commitments{Booked: []Commitment{{Start: at("10:00"), End: at("10:30")}}}

	assert.Equal(t, []string{"09:00", "11:00", "11:30"}, starts(Resolve(in)))
}

func TestResolveTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	in := baseInput()
	in.Location = loc
	slots := Resolve(in)

	require.Len(t, slots, 6)
	assert.Equal(t, time.Date(2030, time.January, 7, 14, 0, 0, 0, time.UTC), slots[0].Start)
	assert.Equal(t, time.UTC, slots[0].Start.Location())
}

func newYorkInput(t *testing.T) Input {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	in := baseInput()
	in.Location = ny
	return in
}

func TestResolveViewerZoneKeepsProviderHours(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	own := Resolve(newYorkInput(t))
	in := newYorkInput(t)
	in.ViewLocation = london
	viewed := Resolve(in)

	require.Len(t, viewed, 6)
	assert.Equal(t, own, viewed)
	assert.Equal(t, time.Date(2030, time.January, 7, 14, 0, 0, 0, time.UTC), viewed[0].Start)
}

func TestResolveViewerDateSplitsProviderDay(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// Monday in Tokyo ends at 15:00Z, one hour into the New York morning.
	in := newYorkInput(t)
	in.ViewLocation = tokyo
	assert.Equal(t, []string{"14:00", "14:30"}, starts(Resolve(in)))

	in.Date = monday.AddDays(1)
	assert.Equal(t, []string{"15:00", "15:30", "16:00", "16:30"}, starts(Resolve(in)))
}

func TestResolveBlockedRangeUsesProviderZone(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	in := newYorkInput(t)
	in.ViewLocation = london
	in.Availability.Blocked = []BlockedRange{{Date: monday, Ranges: []TimeRange{{Start: MustClock("10:00"), End: MustClock("11:00")}}}}

	assert.Equal(t, []string{"14:00", "14:30", "16:00", "16:30"}, starts(Resolve(in)))
}

func TestProviderDates(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	kiritimati, err := time.LoadLocation("Pacific/Kiritimati")
	require.NoError(t, err)
	bakerIsland := time.FixedZone("UTC-12", -12*60*60)

	assert.Equal(t, []civil.Date{monday}, ProviderDates(monday, ny, ny))
	assert.Equal(t, []civil.Date{monday.AddDays(-1), monday}, ProviderDates(monday, time.UTC, ny))
	assert.Equal(t, []civil.Date{monday.AddDays(-2), monday.AddDays(-1)}, ProviderDates(monday, kiritimati, bakerIsland))
}

func TestResolveAcrossDSTStart(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Clocks jump from 02:00 to 03:00 on 2030-03-10.
	sunday := civil.Date{Year: 2030, Month: time.March, Day: 10}
	in := Input{
		Availability: Availability{
			Recurring: []RecurringRule{{
				Weekday: time.Sunday,
				Ranges:  []TimeRange{{Start: MustClock("00:00"), End: MustClock("04:00")}},
			}},
			Settings: Settings{IntervalMinutes: 60, FutureBookingDelayMinutes: zeroDelay()},
		},
		Type:     AppointmentType{ID: "type-a", DurationMinutes: 60},
		Date:     sunday,
		Location: loc,
		Now:      time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC),
	}

	slots := Resolve(in)
	require.Len(t, slots, 3)
	for _, s := range slots {
		assert.Equal(t, time.Sunday, s.Start.In(loc).Weekday())
	}
	assert.Equal(t, time.Date(2030, time.March, 10, 7, 0, 0, 0, time.UTC), slots[2].Start)
}

func TestResolveEndOfDayRange(t *testing.T) {
	in := baseInput()
	in.Availability.Recurring[0].Ranges = []TimeRange{{Start: MustClock("23:00"), End: MustClock("24:00")}}

	slots := Resolve(in)
	assert.Equal(t, []string{"23:00", "23:30"}, starts(slots))
}

func TestResolveIgnoresInvalidRangesAndTypes(t *testing.T) {
	in := baseInput()
	in.Availability.Recurring[0].Ranges = append(in.Availability.Recurring[0].Ranges, TimeRange{Start: MustClock("14:00"), End: MustClock("13:00")})
	assert.Len(t, Resolve(in), 6)

	in.Type = AppointmentType{ID: "type-a"}
	assert.Empty(t, Resolve(in))
}

func TestCovers(t *testing.T) {
	slots := Resolve(baseInput())

	assert.True(t, Covers(slots, at("10:00"), at("10:30")))
	assert.False(t, Covers(slots, at("10:15"), at("10:45")))
	assert.False(t, Covers(nil, at("10:00"), at("10:30")))
}

func TestOverlaps(t *testing.T) {
	assert.True(t, Overlaps(at("09:00"), at("10:00"), at("09:30"), at("10:30"), 0))
	assert.True(t, Overlaps(at("09:00"), at("12:00"), at("10:00"), at("10:30"), 0))
	assert.True(t, Overlaps(at("10:00"), at("10:30"), at("09:00"), at("12:00"), 0))
	assert.False(t, Overlaps(at("09:00"), at("09:30"), at("09:30"), at("10:00"), 0))
	assert.True(t, Overlaps(at("09:00"), at("09:30"), at("09:30"), at("10:00"), time.Minute))
}
