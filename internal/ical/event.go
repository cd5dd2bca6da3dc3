// Package ical parses calendar object bodies into the fields the sync
// engine needs and edits the scheduling parameters that control
// attendee notification. Everything else in the object is treated as
// opaque and round-tripped untouched.
package ical

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"

	"davsync/internal/errs"
)

// EventData is the parsed view of a single VEVENT.
type EventData struct {
	UID         string
	Summary     string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Organizer   string
	Attendees   []string
	RawRRule    string
	// Alarms holds the VALARM trigger offsets relative to the start of
	// each occurrence, negative meaning before it.
	Alarms []time.Duration
}

// HasAttendees reports whether the event carries any ATTENDEE lines.
func (e *EventData) HasAttendees() bool { return len(e.Attendees) > 0 }

// ParseObject parses a raw calendar object and returns the first VEVENT.
// Objects without a VEVENT or without a UID are a parse error.
func ParseObject(data []byte) (*EventData, error) {
	const op = "ical.ParseObject"

	cal, err := goical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, errs.Wrap(errs.Parse, op, err)
	}

	events := cal.Events()
	if len(events) == 0 {
		return nil, errs.New(errs.Parse, op, "object contains no VEVENT")
	}
	ev := events[0]

	out := &EventData{}

	uid := ev.Props.Get("UID")
	if uid == nil || uid.Value == "" {
		return nil, errs.New(errs.Parse, op, "VEVENT has no UID")
	}
	out.UID = uid.Value

	if p := ev.Props.Get("SUMMARY"); p != nil {
		out.Summary = p.Value
	}
	if p := ev.Props.Get("LOCATION"); p != nil {
		out.Location = p.Value
	}
	if p := ev.Props.Get("DESCRIPTION"); p != nil {
		out.Description = p.Value
	}
	if p := ev.Props.Get("RRULE"); p != nil {
		out.RawRRule = p.Value
	}
	if p := ev.Props.Get("ORGANIZER"); p != nil {
		out.Organizer = normalizeCalAddress(p.Value)
	}
	for _, p := range ev.Props["ATTENDEE"] {
		out.Attendees = append(out.Attendees, normalizeCalAddress(p.Value))
	}

	for _, comp := range ev.Children {
		if comp.Name != "VALARM" {
			continue
		}
		p := comp.Props.Get("TRIGGER")
		if p == nil || strings.EqualFold(p.Params.Get("VALUE"), "DATE-TIME") {
			// Absolute triggers do not shift with the occurrence.
			continue
		}
		if d, derr := parseDuration(p.Value); derr == nil {
			out.Alarms = append(out.Alarms, d)
		}
	}

	if p := ev.Props.Get("DTSTART"); p != nil {
		out.Start, out.AllDay, err = parseDateTime(p)
		if err != nil {
			return nil, errs.Wrap(errs.Parse, op, err)
		}
	}
	if p := ev.Props.Get("DTEND"); p != nil {
		out.End, _, err = parseDateTime(p)
		if err != nil {
			return nil, errs.Wrap(errs.Parse, op, err)
		}
	} else if out.AllDay {
		out.End = out.Start.Add(24 * time.Hour)
	} else {
		out.End = out.Start
	}

	return out, nil
}

// parseDateTime parses an iCalendar date or date-time property value.
func parseDateTime(p *goical.Prop) (t time.Time, allDay bool, err error) {
	value := p.Value
	loc := time.Local
	if tzid := p.Params.Get("TZID"); tzid != "" {
		if l, lerr := time.LoadLocation(tzid); lerr == nil {
			loc = l
		}
	}

	switch {
	case strings.HasSuffix(value, "Z"):
		t, err = time.Parse("20060102T150405Z", value)
	case strings.Contains(value, "T"):
		t, err = time.ParseInLocation("20060102T150405", value, loc)
	default:
		t, err = time.ParseInLocation("20060102", value, loc)
		allDay = true
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid date-time %q: %w", value, err)
	}
	return t, allDay, nil
}

// parseDuration parses an iCalendar dur-value such as -PT15M or P1DT2H.
func parseDuration(v string) (time.Duration, error) {
	s := strings.TrimSpace(v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var d time.Duration
	n := 0
	inTime := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			n = n*10 + int(c-'0')
		case c == 'T':
			inTime = true
		case c == 'W':
			d += time.Duration(n) * 7 * 24 * time.Hour
			n = 0
		case c == 'D':
			d += time.Duration(n) * 24 * time.Hour
			n = 0
		case c == 'H' && inTime:
			d += time.Duration(n) * time.Hour
			n = 0
		case c == 'M' && inTime:
			d += time.Duration(n) * time.Minute
			n = 0
		case c == 'S' && inTime:
			d += time.Duration(n) * time.Second
			n = 0
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
	}
	if neg {
		d = -d
	}
	return d, nil
}

// normalizeCalAddress lowercases a cal-address so attendee comparisons
// are case-insensitive on the mailto: form.
func normalizeCalAddress(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
