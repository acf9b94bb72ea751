package ics

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"workcal/internal/model"
)

const productID = "-//workcal//rescheduled calendar//EN"

// uidNamespace scopes generated UIDs so they never collide with feed UIDs.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:workcal:event"))

// Encode writes events as a VCALENDAR. Each VEVENT gets a UID derived from
// the event's source, feed UID, name and start, so exporting the same
// schedule twice yields the same UIDs while two relocated instances of one
// recurring event stay distinct.
func Encode(w io.Writer, events []model.Event, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)

	for _, ev := range events {
		ve := cal.AddEvent(EventUID(ev))
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
		ve.SetSummary(ev.Name)
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}

// EventUID returns the UID Encode assigns to ev.
func EventUID(ev model.Event) string {
	key := ev.SourceID + "\x00" + ev.UID + "\x00" + ev.Name + "\x00" + ev.Start.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uidNamespace, []byte(key)).String() + "@workcal"
}
