package schedule

import (
	"slices"

	"workcal/internal/model"
)

// Partition splits events into an accepted set (inside business hours and
// mutually non-overlapping) and a displaced set that needs relocation.
//
// Events are visited once, in priority order (arrival order when priority is
// nil). An event is accepted only if it overlaps nothing accepted before it,
// so an earlier event always wins over a later one.
//
// Both results keep visiting order; neither is sorted by start.
func Partition(events []model.Event, priority Priority) (accepted, displaced []model.Event) {
	ordered := slices.Clone(events)
	if priority != nil {
		slices.SortStableFunc(ordered, priority)
	}

	accepted = make([]model.Event, 0, len(ordered))
	displaced = make([]model.Event, 0)

	for _, ev := range ordered {
		if !EventInsideHours(ev) {
			displaced = append(displaced, ev)
			continue
		}

		clash := slices.ContainsFunc(accepted, func(a model.Event) bool {
			return Overlaps(a, ev)
		})
		if clash {
			displaced = append(displaced, ev)
			continue
		}
		accepted = append(accepted, ev)
	}

	return accepted, displaced
}

func sortByStart(events []model.Event) {
	slices.SortStableFunc(events, func(a, b model.Event) int {
		return a.Start.Compare(b.Start)
	})
}
