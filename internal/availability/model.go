package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// MinutesPerDay is the largest Clock value; it denotes the end of the day.
const MinutesPerDay = 24 * 60

// DefaultFutureBookingDelayMinutes applies when a provider has no delay configured.
const DefaultFutureBookingDelayMinutes = 360

// Clock is a provider-local wall clock time expressed in minutes since midnight.
type Clock int

// ParseClock parses "HH:MM". "24:00" is accepted as the end of the day.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || h < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	c := Clock(h*60 + m)
	if c > MinutesPerDay {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return c, nil
}

// MustClock is ParseClock for literals.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// On places the clock on the given calendar date in loc. The rule's own date
// never matters; only hour and minute are taken from c.
func (c Clock) On(d civil.Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, int(c)/60, int(c)%60, 0, 0, loc)
}

// TimeRange is an open (or blocked) window of a day. AppointmentTypeIDs
// restricts the range to the listed types; empty means every type.
type TimeRange struct {
	Start              Clock    `json:"start"`
	End                Clock    `json:"end"`
	AppointmentTypeIDs []string `json:"appointment_type_ids,omitempty"`
}

// Validate rejects out-of-order or out-of-day ranges.
func (r TimeRange) Validate() error {
	if r.Start < 0 || r.End > MinutesPerDay || r.End <= r.Start {
		return fmt.Errorf("%w: %s-%s", ErrInvalidRange, r.Start, r.End)
	}
	return nil
}

// Allows reports whether the range may be used for the appointment type.
func (r TimeRange) Allows(typeID string) bool {
	if len(r.AppointmentTypeIDs) == 0 {
		return true
	}
	for _, id := range r.AppointmentTypeIDs {
		if id == typeID {
			return true
		}
	}
	return false
}

// Bounds returns the absolute instants of the range on date d in loc.
func (r TimeRange) Bounds(d civil.Date, loc *time.Location) (time.Time, time.Time) {
	return r.Start.On(d, loc), r.End.On(d, loc)
}

// RecurringRule repeats every week on Weekday until replaced.
type RecurringRule struct {
	Weekday time.Weekday `json:"weekday"`
	Ranges  []TimeRange  `json:"ranges"`
}

// NonRecurringRule adds open ranges for one provider-local date.
type NonRecurringRule struct {
	Date   civil.Date  `json:"date"`
	Ranges []TimeRange `json:"ranges"`
}

// BlockedRange removes availability on one date. A blocked date without
// ranges blocks the provider's full-day range.
type BlockedRange struct {
	Date   civil.Date  `json:"date"`
	Ranges []TimeRange `json:"ranges,omitempty"`
}

// Settings are the provider's slot generation knobs.
type Settings struct {
	IntervalMinutes           int        `json:"interval_minutes"`
	FutureBookingDelayMinutes *int       `json:"future_booking_delay_minutes,omitempty"`
	FullDayRange              *TimeRange `json:"full_day_range,omitempty"`
	Timezone                  string     `json:"timezone,omitempty"`
}

// Location resolves the configured timezone, falling back to UTC.
func (s Settings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s Settings) fullDay() TimeRange {
	if s.FullDayRange != nil {
		return *s.FullDayRange
	}
	return TimeRange{Start: 0, End: MinutesPerDay}
}

// Availability is everything a provider publishes about when they can be booked.
type Availability struct {
	ProviderID   string             `json:"provider_id"`
	Recurring    []RecurringRule    `json:"recurring"`
	NonRecurring []NonRecurringRule `json:"non_recurring"`
	Blocked      []BlockedRange     `json:"blocked"`
	Settings     Settings           `json:"settings"`
}

// AppointmentType is immutable reference data describing what is booked.
type AppointmentType struct {
	ID              string `json:"id"`
	ProviderID      string `json:"provider_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	Currency        string `json:"currency,omitempty"`
	CreditCost      int    `json:"credit_cost,omitempty"`
}

// Duration is the occupied length of one appointment of this type.
func (t AppointmentType) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// Slot is a bookable window.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Commitment is an existing appointment occupying the provider's time.
// Canceled applies to booked entries and ExpiresAt to held ones.
type Commitment struct {
	ID        string
	Start     time.Time
	End       time.Time
	Canceled  bool
	ExpiresAt time.Time
}

// Commitments are the provider's booked and held appointments around the
// target date.
type Commitments struct {
	Booked []Commitment
	Held   []Commitment
}
