package schedule

import (
	"fmt"
	"strings"

	"workcal/internal/model"
)

// TieBreak decides which sub-slot wins when an event could go either into
// the tail of the earlier day or onto a fully free day between two events.
type TieBreak int

const (
	// FreeDayFirst places the event at 09:00 of the first free business day
	// whenever one exists, even if the earlier day's tail would also fit.
	FreeDayFirst TieBreak = iota
	// NearestFirst tries the earlier day's tail, then the first free day,
	// then the head of the later day.
	NearestFirst
)

func (tb TieBreak) String() string {
	switch tb {
	case FreeDayFirst:
		return "free-day-first"
	case NearestFirst:
		return "nearest-first"
	default:
		return fmt.Sprintf("TieBreak(%d)", int(tb))
	}
}

// ParseTieBreak maps a config value onto a TieBreak. The empty string
// selects the default.
func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "free-day-first":
		return FreeDayFirst, nil
	case "nearest-first":
		return NearestFirst, nil
	default:
		return FreeDayFirst, fmt.Errorf("unknown tie break %q", s)
	}
}

// Priority orders events before partitioning. Events that compare earlier
// win acceptance when two of them overlap. Ties keep arrival order.
type Priority func(a, b model.Event) int

// ArrivalOrder keeps the input order: first come, first served.
func ArrivalOrder(model.Event, model.Event) int { return 0 }

// EarliestStartFirst lets the event that starts first win.
func EarliestStartFirst(a, b model.Event) int { return a.Start.Compare(b.Start) }

// ParsePriority maps a config value onto a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "arrival":
		return ArrivalOrder, nil
	case "earliest-start":
		return EarliestStartFirst, nil
	default:
		return ArrivalOrder, fmt.Errorf("unknown priority %q", s)
	}
}

// Config controls a Reschedule run. The zero value is first-come-first-served
// acceptance with FreeDayFirst placement.
type Config struct {
	TieBreak TieBreak
	// Priority is applied with a stable sort before partitioning. Nil means
	// ArrivalOrder.
	Priority Priority
}
