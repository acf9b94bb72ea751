package schedule

import (
	"time"

	"workcal/internal/model"
)

// Business hours are Monday to Friday, 09:00 up to and including 18:00.
const (
	OpeningHour = 9
	ClosingHour = 18

	// DayCapacity is the longest event a single business day can hold.
	DayCapacity = (ClosingHour - OpeningHour) * time.Hour
)

// IsInsideBusinessHours reports whether ts falls on a weekday between 09:00
// and 18:00. 18:00 itself is inside; 18:01 is not.
func IsInsideBusinessHours(ts time.Time) bool {
	if isWeekend(ts) {
		return false
	}
	h := ts.Hour()
	if h < OpeningHour {
		return false
	}
	return h < ClosingHour || (h == ClosingHour && ts.Minute() == 0)
}

// EventInsideHours reports whether both ends of ev are inside business hours.
func EventInsideHours(ev model.Event) bool {
	return IsInsideBusinessHours(ev.Start) && IsInsideBusinessHours(ev.End)
}

// Overlaps reports whether b collides with a. Events that only share a
// boundary instant (a.End == b.Start) do not overlap.
func Overlaps(a, b model.Event) bool {
	// b starts during a: [a.Start, a.End)
	startsDuring := !b.Start.Before(a.Start) && b.Start.Before(a.End)
	// b ends during a: (a.Start, a.End]
	endsDuring := b.End.After(a.Start) && !b.End.After(a.End)
	// b encloses a
	encloses := !b.Start.After(a.Start) && !b.End.Before(a.End)

	return startsDuring || endsDuring || encloses
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// opening returns 09:00 on t's calendar date.
func opening(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), OpeningHour, 0, 0, 0, t.Location())
}

// closing returns 18:00 on t's calendar date.
func closing(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), ClosingHour, 0, 0, 0, t.Location())
}

// nextOpening returns 09:00 of the first weekday after t's calendar date.
func nextOpening(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day()+1, OpeningHour, 0, 0, 0, t.Location())
	for isWeekend(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// civil strips the clock and zone from t so wall-clock dates compare directly.
func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameDate(a, b time.Time) bool {
	return civil(a).Equal(civil(b))
}

// firstFreeDay returns 09:00 of the first weekday strictly between the dates
// of from and to. The caller guarantees no scheduled event falls in between.
func firstFreeDay(from, to time.Time) (time.Time, bool) {
	limit := civil(to)
	day := time.Date(from.Year(), from.Month(), from.Day()+1, OpeningHour, 0, 0, 0, from.Location())
	for civil(day).Before(limit) {
		if !isWeekend(day) {
			return day, true
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}
