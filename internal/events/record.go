package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layout is the only accepted timestamp shape for event boundaries.
// It carries no zone offset; the zone is supplied alongside the record.
const Layout = "2006-01-02T15:04:05"

// ErrInvalidRecord is returned when a record fails validation.
var ErrInvalidRecord = errors.New("invalid event record")

// Record is a single extracted calendar event.
type Record struct {
	Summary       string `json:"summary"`
	StartDateTime string `json:"start_datetime"`
	EndDateTime   string `json:"end_datetime"`
}

// ParseDateTime parses s strictly as YYYY-MM-DDTHH:MM:SS in loc.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if len(s) != len(Layout) {
		return time.Time{}, fmt.Errorf("%w: %q is not in %s format", ErrInvalidRecord, s, "YYYY-MM-DDTHH:MM:SS")
	}
	t, err := time.ParseInLocation(Layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidRecord, s, err)
	}
	return t, nil
}

// Normalize validates the record and applies the midnight rollover: when the
// end falls on the same date as the start but before it, the end moves to
// the next day. Equal start and end are rejected. The returned record always
// has end strictly after start.
func (r Record) Normalize() (Record, error) {
	start, err := ParseDateTime(strings.TrimSpace(r.StartDateTime), time.UTC)
	if err != nil {
		return r, fmt.Errorf("start_datetime: %w", err)
	}
	end, err := ParseDateTime(strings.TrimSpace(r.EndDateTime), time.UTC)
	if err != nil {
		return r, fmt.Errorf("end_datetime: %w", err)
	}

	if end.Before(start) && sameDate(start, end) {
		end = end.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		return r, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidRecord, r.EndDateTime, r.StartDateTime)
	}

	return Record{
		Summary:       strings.TrimSpace(r.Summary),
		StartDateTime: start.Format(Layout),
		EndDateTime:   end.Format(Layout),
	}, nil
}

// Window returns the start and end instants of a normalized record in loc.
func (r Record) Window(loc *time.Location) (time.Time, time.Time, error) {
	n, err := r.Normalize()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, err := ParseDateTime(n.StartDateTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseDateTime(n.EndDateTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
