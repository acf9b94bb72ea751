package schedule

import (
	"time"

	"workcal/internal/model"
)

// SlotInto inserts ev into sched at the earliest feasible gap and returns the
// new schedule. sched must be sorted by start, non-overlapping and inside
// business hours; it is not modified.
//
// The search walks consecutive pairs (prev, next) whose next starts after
// ev.Start and places ev into the first gap wide enough for it. When no gap
// fits, ev is appended after the last event, moving to the next business
// day if the last event's day has no room left.
//
// An event longer than DayCapacity fits no business day; SlotInto returns
// ErrExceedsBusinessDay for it and leaves sched alone.
func SlotInto(ev model.Event, sched []model.Event, tb TieBreak) ([]model.Event, error) {
	if err := checkCapacity(ev); err != nil {
		return nil, err
	}
	out, _ := slotInto(ev, sched, tb)
	return out, nil
}

func slotInto(ev model.Event, sched []model.Event, tb TieBreak) ([]model.Event, model.Event) {
	if len(sched) == 0 {
		placed := ev
		if !EventInsideHours(ev) {
			placed = ev.At(firstFit(ev.Start, ev.Duration()))
		}
		return []model.Event{placed}, placed
	}

	d := ev.Duration()
	for i := 1; i < len(sched); i++ {
		prev, next := sched[i-1], sched[i]
		if !ev.Start.Before(next.Start) {
			continue
		}
		start, ok := gapBetween(prev, next, d, tb)
		if !ok {
			continue
		}
		placed := ev.At(start)
		return splice(sched, i, placed), placed
	}

	last := sched[len(sched)-1]
	start := last.End
	if closing(last.End).Sub(last.End) < d {
		start = nextOpening(last.End)
	}
	placed := ev.At(start)
	return splice(sched, len(sched), placed), placed
}

// gapBetween finds where an event of length d fits between prev and next.
func gapBetween(prev, next model.Event, d time.Duration, tb TieBreak) (time.Time, bool) {
	if sameDate(prev.End, next.Start) {
		if d <= next.Start.Sub(prev.End) {
			return prev.End, true
		}
		return time.Time{}, false
	}

	tailFits := d <= closing(prev.End).Sub(prev.End)
	freeDay, hasFree := firstFreeDay(prev.End, next.Start)
	hasFree = hasFree && d <= DayCapacity

	switch {
	case hasFree && tb == FreeDayFirst:
		return freeDay, true
	case tailFits:
		return prev.End, true
	case hasFree:
		return freeDay, true
	}

	head := opening(next.Start)
	if d <= next.Start.Sub(head) {
		return head, true
	}
	return time.Time{}, false
}

// firstFit returns the first in-hours start at or after from that leaves
// room for d on the same day.
func firstFit(from time.Time, d time.Duration) time.Time {
	if isWeekend(from) {
		return nextOpening(from)
	}
	start := from
	if start.Before(opening(start)) {
		start = opening(start)
	}
	if start.Add(d).After(closing(start)) {
		return nextOpening(start)
	}
	return start
}

func splice(sched []model.Event, i int, ev model.Event) []model.Event {
	out := make([]model.Event, 0, len(sched)+1)
	out = append(out, sched[:i]...)
	out = append(out, ev)
	return append(out, sched[i:]...)
}
