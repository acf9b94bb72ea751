package ics

import (
	"errors"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "workcal/internal/log"
	"workcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Location is the zone every occurrence is converted to. Business
	// hours are evaluated in it. Nil means time.Local.
	Location *time.Location

	// RangeStart / RangeEnd bound the occurrences, inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero means 5000.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the concrete events of a window.
type ExpandResult struct {
	// Events are in feed order: base events by first appearance of their
	// UID, occurrences of one rule chronologically. This order is the
	// arrival order the scheduler honours.
	Events []model.Event
	// TruncatedUIDs lists rules that hit MaxOccurrencesPerEvent.
	TruncatedUIDs []string
	// SkippedAllDay counts all-day occurrences left out: they span whole
	// days and cannot be placed inside business hours.
	SkippedAllDay int
}

// ExpandOccurrences turns parsed VEVENTs into timed events within the range,
// applying RRULE, EXDATE and RECURRENCE-ID overrides.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	var order []string
	base := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := base[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		base[ev.UID] = append(base[ev.UID], ev)
	}

	for _, uid := range order {
		truncated := false
		for _, ev := range base[uid] {
			occ, hitCap := expandEvent(ev, overrides[uid], cfg)
			truncated = truncated || hitCap
			for _, o := range occ {
				if o.allDay {
					result.SkippedAllDay++
					continue
				}
				result.Events = append(result.Events, toModel(o, cfg.Location))
			}
		}
		if truncated {
			result.TruncatedUIDs = append(result.TruncatedUIDs, uid)
			appLog.Error("expand: occurrences truncated", errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	return result, nil
}

// occurrence is one concrete instance of a ParsedEvent.
type occurrence struct {
	ev         ParsedEvent
	start, end time.Time
	allDay     bool
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]occurrence, bool) {
	if ev.RawRRule == "" {
		if !rangesTouch(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false
		}
		return []occurrence{applyOverride(ev, ev.Start, ev.End, overrides)}, false
	}
	return expandRecurring(ev, overrides, cfg)
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]occurrence, 0, len(starts))
	for _, s := range starts {
		end := s.Add(dur)
		if ev.AllDay {
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			end = s.AddDate(0, 0, 1)
		}
		out = append(out, applyOverride(ev, s, end, overrides))
	}
	return out, hitCap
}

// applyOverride swaps in the override whose RECURRENCE-ID equals start.
func applyOverride(ev ParsedEvent, start, end time.Time, overrides []ParsedEvent) occurrence {
	i := slices.IndexFunc(overrides, func(o ParsedEvent) bool {
		return o.Recurrence != nil && o.Recurrence.Equal(start)
	})
	if i >= 0 {
		o := overrides[i]
		return occurrence{ev: o, start: o.Start, end: o.End, allDay: o.AllDay}
	}
	return occurrence{ev: ev, start: start, end: end, allDay: ev.AllDay}
}

func toModel(o occurrence, loc *time.Location) model.Event {
	return model.Event{
		SourceID: o.ev.Source.ID,
		UID:      o.ev.UID,
		Name:     o.ev.Summary,
		Start:    o.start.In(loc),
		End:      o.end.In(loc),
	}
}

func rangesTouch(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
