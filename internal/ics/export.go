// Package ics renders extracted events as an iCalendar file so a dry run can
// be reviewed, or imported into another calendar, without touching Google.
package ics

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/events"
)

// ProductID identifies calagent as the producer of exported calendars.
const ProductID = "-//calagent//EN"

// Encode writes records to w as a VCALENDAR, one VEVENT per valid record,
// with times anchored in timeZone. It returns the number of events written;
// records that fail validation are skipped.
func Encode(w io.Writer, records []events.Record, timeZone string, now time.Time) (int, error) {
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return 0, fmt.Errorf("invalid time zone %q: %w", timeZone, err)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	written := 0
	for _, rec := range records {
		start, end, err := rec.Window(loc)
		if err != nil {
			continue
		}

		summary := rec.Summary
		if summary == "" {
			summary = calendar.DefaultSummary
		}

		ve := ical.NewComponent(ical.CompEvent)
		ve.Props.SetText(ical.PropUID, uuid.NewString()+"@calagent")
		ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
		ve.Props.SetText(ical.PropSummary, summary)
		ve.Props.SetText(ical.PropDescription, calendar.DefaultDescription)
		ve.Props.SetDateTime(ical.PropDateTimeStart, start)
		ve.Props.SetDateTime(ical.PropDateTimeEnd, end)
		cal.Children = append(cal.Children, ve)
		written++
	}

	if written == 0 {
		return 0, fmt.Errorf("no valid events to export: %w", events.ErrInvalidRecord)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return 0, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return written, nil
}
