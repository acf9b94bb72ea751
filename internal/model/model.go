package model

import "time"

// Event is a single named, time-bounded entry of a schedule.
//
// Events are values: relocating an event produces a new Event via At and
// never mutates the original. Start is expected to precede End; nothing in
// this package enforces it.
type Event struct {
	SourceID string // calendar source ID (e.g., config ICS ID); empty for text input
	UID      string // iCalendar UID if the event came from a feed

	Name string

	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// At returns a copy of e moved to start, keeping its duration.
func (e Event) At(start time.Time) Event {
	moved := e
	moved.Start = start
	moved.End = start.Add(e.Duration())
	return moved
}

// Equal reports whether both events carry the same identity and the same
// instants, ignoring location differences.
func (e Event) Equal(o Event) bool {
	return e.SourceID == o.SourceID &&
		e.UID == o.UID &&
		e.Name == o.Name &&
		e.Start.Equal(o.Start) &&
		e.End.Equal(o.End)
}
