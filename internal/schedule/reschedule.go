package schedule

import (
	"errors"
	"fmt"

	"workcal/internal/model"
)

// ErrExceedsBusinessDay is returned for a displaced event longer than
// DayCapacity: no business day can ever hold it.
var ErrExceedsBusinessDay = errors.New("event exceeds business day capacity")

func checkCapacity(ev model.Event) error {
	if ev.Duration() > DayCapacity {
		return fmt.Errorf("%w: %q lasts %s", ErrExceedsBusinessDay, ev.Name, ev.Duration())
	}
	return nil
}

// Relocation records where a displaced event ended up.
type Relocation struct {
	From model.Event
	To   model.Event
}

// Moved reports whether the event actually changed position.
func (r Relocation) Moved() bool {
	return !r.From.Start.Equal(r.To.Start)
}

// Result is the outcome of a Reschedule run.
type Result struct {
	// Events is the final schedule, ascending by start.
	Events []model.Event
	// Kept counts events that stayed where they were.
	Kept int
	// Relocations lists displaced events in the order they were placed.
	Relocations []Relocation
}

// Reschedule turns events into a conflict-free schedule inside business
// hours. Valid events keep their place; every displaced event is slotted,
// earliest original start first, into the nearest gap of the schedule built
// so far. The pass is greedy: earlier relocations can take a slot a later
// event would have preferred.
func Reschedule(events []model.Event, cfg Config) (Result, error) {
	accepted, displaced := Partition(events, cfg.Priority)
	sortByStart(accepted)
	sortByStart(displaced)

	for _, ev := range displaced {
		if err := checkCapacity(ev); err != nil {
			return Result{}, err
		}
	}

	res := Result{
		Kept:        len(accepted),
		Relocations: make([]Relocation, 0, len(displaced)),
	}

	sched := accepted
	for _, ev := range displaced {
		var placed model.Event
		sched, placed = slotInto(ev, sched, cfg.TieBreak)
		res.Relocations = append(res.Relocations, Relocation{From: ev, To: placed})
	}

	res.Events = sched
	return res, nil
}

// Verify checks that sched is a valid schedule: sorted by start, inside
// business hours and free of overlaps. It returns the first violation found.
func Verify(sched []model.Event) error {
	for i, ev := range sched {
		if !EventInsideHours(ev) {
			return fmt.Errorf("event %d %q is outside business hours", i, ev.Name)
		}
		if i == 0 {
			continue
		}
		prev := sched[i-1]
		if ev.Start.Before(prev.Start) {
			return fmt.Errorf("event %d %q starts before its predecessor", i, ev.Name)
		}
		if Overlaps(prev, ev) {
			return fmt.Errorf("event %d %q overlaps %q", i, ev.Name, prev.Name)
		}
	}
	return nil
}
