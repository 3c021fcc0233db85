package leadtime

import "time"

// ClockTime is a wall-clock time of day in the business location.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

// Schedule describes the workshop day: opening hours and the fixed lunch window.
// All calendar-day arithmetic happens in Location.
type Schedule struct {
	Location   *time.Location
	OpenAt     ClockTime
	CloseAt    ClockTime
	LunchStart ClockTime
	LunchEnd   ClockTime
}

func DefaultSchedule(loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return Schedule{
		Location:   loc,
		OpenAt:     ClockTime{Hour: 8},
		CloseAt:    ClockTime{Hour: 17},
		LunchStart: ClockTime{Hour: 12},
		LunchEnd:   ClockTime{Hour: 13},
	}
}

// Interval returns end - start, or zero when either bound is missing or the
// span is not positive.
func Interval(start, end *time.Time) time.Duration {
	if start == nil || end == nil || !end.After(*start) {
		return 0
	}
	return end.Sub(*start)
}

// Hours converts a duration to fractional hours without rounding.
func Hours(d time.Duration) float64 {
	return d.Seconds() / 3600
}

// EffectiveDuration measures the productive time between start and end.
// With clip set, each calendar day is clamped to opening hours and the lunch
// overlap is removed; otherwise the full wall-clock span counts.
func (s Schedule) EffectiveDuration(start, end *time.Time, clip bool) time.Duration {
	if start == nil || end == nil || !end.After(*start) {
		return 0
	}
	if !clip {
		return end.Sub(*start)
	}

	from, to := start.In(s.Location), end.In(s.Location)

	var total time.Duration
	for day := startOfDay(from); !day.After(to); day = nextDay(day) {
		dayStart := latest(from, s.OpenAt.on(day))
		dayEnd := earliest(to, s.CloseAt.on(day))
		if !dayEnd.After(dayStart) {
			continue
		}
		total += dayEnd.Sub(dayStart)
		total -= overlap(dayStart, dayEnd, s.LunchStart.on(day), s.LunchEnd.on(day))
	}
	return total
}

// LunchOverlap sums, for every calendar day touched by [start, end], the part
// of the lunch window that falls inside the span.
func (s Schedule) LunchOverlap(start, end time.Time) time.Duration {
	if !end.After(start) {
		return 0
	}
	from, to := start.In(s.Location), end.In(s.Location)

	var total time.Duration
	for day := startOfDay(from); !day.After(to); day = nextDay(day) {
		total += overlap(from, to, s.LunchStart.on(day), s.LunchEnd.on(day))
	}
	return total
}

// SameDay reports whether a and b fall on the same calendar day in the
// business location.
func (s Schedule) SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(s.Location).Date()
	by, bm, bd := b.In(s.Location).Date()
	return ay == by && am == bm && ad == bd
}

func overlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	from := latest(aStart, bStart)
	to := earliest(aEnd, bEnd)
	if !to.After(from) {
		return 0
	}
	return to.Sub(from)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func nextDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
