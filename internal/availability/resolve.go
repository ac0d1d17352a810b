package availability

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
)

// Input is everything Resolve needs. It is gathered by the caller so Resolve
// itself never performs I/O.
type Input struct {
	Availability Availability
	Type         AppointmentType

	// Date is a calendar date in ViewLocation. Rule clocks are always placed
	// in Location, the provider's zone.
	Date         civil.Date
	Location     *time.Location
	ViewLocation *time.Location

	Commitments Commitments
	Now         time.Time

	// DefaultDelay replaces DefaultFutureBookingDelayMinutes for providers
	// without their own delay setting.
	DefaultDelay time.Duration

	// OverlapBuffer widens every conflict on both sides.
	OverlapBuffer time.Duration
}

type window struct {
	start time.Time
	end   time.Time
}

// Resolve computes the bookable slots for one appointment type on one date,
// ordered by start with no duplicates. No slots is a valid result.
func Resolve(in Input) []Slot {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	view := in.ViewLocation
	if view == nil {
		view = loc
	}
	duration := in.Type.Duration()
	if duration <= 0 {
		return nil
	}
	interval := time.Duration(in.Availability.Settings.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = duration
	}

	dayStart, dayEnd := in.Date.In(view), in.Date.AddDays(1).In(view)
	dates := ProviderDates(in.Date, view, loc)
	conflicts := conflictSet(in, dates, loc)
	earliest := in.Now.Add(bookingDelay(in))

	seen := make(map[int64]struct{})
	var slots []Slot
	for _, date := range dates {
		weekday := date.In(loc).Weekday()
		for _, r := range openRanges(in.Availability, date, weekday, in.Type.ID) {
			rangeStart, rangeEnd := r.Bounds(date, loc)
			for start := rangeStart; !start.Add(interval).After(rangeEnd); start = start.Add(interval) {
				// Clock reconstruction near midnight on DST days can land on a
				// neighbouring date.
				if civil.DateOf(start.In(loc)) != date {
					continue
				}
				if start.Before(dayStart) || !start.Before(dayEnd) {
					continue
				}
				if start.Before(in.Now) || start.Before(earliest) {
					continue
				}
				end := start.Add(duration)
				if overlapsAny(conflicts, start, end, in.OverlapBuffer) {
					continue
				}
				key := start.UnixNano()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				slots = append(slots, Slot{Start: start.UTC(), End: end.UTC()})
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots
}

// ProviderDates lists the provider-local dates that overlap calendar date
// in view. Between any two zones this is at most three dates.
func ProviderDates(date civil.Date, view, provider *time.Location) []civil.Date {
	if view == nil {
		view = time.UTC
	}
	if provider == nil {
		provider = time.UTC
	}
	first := civil.DateOf(date.In(view).In(provider))
	last := civil.DateOf(date.AddDays(1).In(view).Add(-time.Nanosecond).In(provider))
	var out []civil.Date
	for d := first; !d.After(last); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// Covers reports whether [start, end) lies inside one of the slots.
func Covers(slots []Slot, start, end time.Time) bool {
	for _, s := range slots {
		if !start.Before(s.Start) && !end.After(s.End) {
			return true
		}
	}
	return false
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share time once
// b is widened by buffer. Windows that only touch do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time, buffer time.Duration) bool {
	return aStart.Before(bEnd.Add(buffer)) && bStart.Add(-buffer).Before(aEnd)
}

func openRanges(av Availability, date civil.Date, weekday time.Weekday, typeID string) []TimeRange {
	var out []TimeRange
	for _, rule := range av.Recurring {
		if rule.Weekday != weekday {
			continue
		}
		out = appendAllowed(out, rule.Ranges, typeID)
	}
	for _, rule := range av.NonRecurring {
		if rule.Date != date {
			continue
		}
		out = appendAllowed(out, rule.Ranges, typeID)
	}
	return out
}

func appendAllowed(dst, ranges []TimeRange, typeID string) []TimeRange {
	for _, r := range ranges {
		if r.Validate() != nil || !r.Allows(typeID) {
			continue
		}
		dst = append(dst, r)
	}
	return dst
}

func conflictSet(in Input, dates []civil.Date, loc *time.Location) []window {
	var out []window
	from, to := dates[0].AddDays(-1), dates[len(dates)-1].AddDays(1)
	for _, blocked := range in.Availability.Blocked {
		if blocked.Date.Before(from) || blocked.Date.After(to) {
			continue
		}
		ranges := blocked.Ranges
		if len(ranges) == 0 {
			ranges = []TimeRange{in.Availability.Settings.fullDay()}
		}
		for _, r := range ranges {
			start, end := r.Bounds(blocked.Date, loc)
			out = append(out, window{start: start, end: end})
		}
	}
	for _, c := range in.Commitments.Booked {
		if c.Canceled {
			continue
		}
		out = append(out, window{start: c.Start, end: c.End})
	}
	for _, c := range in.Commitments.Held {
		if !c.ExpiresAt.After(in.Now) {
			continue
		}
		out = append(out, window{start: c.Start, end: c.End})
	}
	return out
}

func overlapsAny(conflicts []window, start, end time.Time, buffer time.Duration) bool {
	for _, c := range conflicts {
		if Overlaps(start, end, c.start, c.end, buffer) {
			return true
		}
	}
	return false
}

func bookingDelay(in Input) time.Duration {
	if d := in.Availability.Settings.FutureBookingDelayMinutes; d != nil {
		return time.Duration(*d) * time.Minute
	}
	if in.DefaultDelay > 0 {
		return in.DefaultDelay
	}
	return DefaultFutureBookingDelayMinutes * time.Minute
}
