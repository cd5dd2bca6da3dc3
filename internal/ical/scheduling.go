package ical

import (
	"bytes"
	"time"

	goical "github.com/emersion/go-ical"

	"davsync/internal/errs"
)

// SchedulingMode mirrors the notify-attendees decision recorded on a
// pending change. Nextcloud performs server-side iTIP on upload; these
// modes translate into the SCHEDULE-AGENT / SCHEDULE-FORCE-SEND
// parameters that steer it.
type SchedulingMode int

const (
	// ScheduleDefault leaves scheduling parameters untouched.
	ScheduleDefault SchedulingMode = iota
	// ScheduleAll forces an update to every attendee.
	ScheduleAll
	// ScheduleChanged forces an update only to the listed attendees.
	ScheduleChanged
	// ScheduleNone suppresses server-side scheduling entirely.
	ScheduleNone
)

// ApplyScheduling rewrites the ATTENDEE scheduling parameters of every
// VEVENT in the object according to the recorded decision. forced lists
// the attendees to notify under ScheduleChanged. Objects without
// attendees, and objects already carrying the wanted parameters, pass
// through byte for byte.
func ApplyScheduling(data []byte, mode SchedulingMode, forced []string) ([]byte, error) {
	const op = "ical.ApplyScheduling"

	if mode == ScheduleDefault || !bytes.Contains(data, []byte("ATTENDEE")) {
		return data, nil
	}

	cal, err := goical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, errs.Wrap(errs.Parse, op, err)
	}

	forcedSet := make(map[string]bool, len(forced))
	for _, a := range forced {
		forcedSet[normalizeCalAddress(a)] = true
	}

	changed := false
	setParam := func(p *goical.Prop, name, value string) {
		if p.Params.Get(name) == value {
			return
		}
		if p.Params == nil {
			p.Params = make(goical.Params)
		}
		p.Params.Set(name, value)
		changed = true
	}

	for _, child := range cal.Children {
		if child.Name != "VEVENT" {
			continue
		}
		attendees := child.Props["ATTENDEE"]
		for i := range attendees {
			switch mode {
			case ScheduleNone:
				setParam(&attendees[i], "SCHEDULE-AGENT", "CLIENT")
			case ScheduleAll:
				setParam(&attendees[i], "SCHEDULE-FORCE-SEND", "REQUEST")
			case ScheduleChanged:
				if forcedSet[normalizeCalAddress(attendees[i].Value)] {
					setParam(&attendees[i], "SCHEDULE-FORCE-SEND", "REQUEST")
				}
			}
		}
	}
	if !changed {
		return data, nil
	}

	ensureDTStamp(cal)
	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, errs.Wrap(errs.Parse, op, err)
	}
	return buf.Bytes(), nil
}

// ensureDTStamp fills in the DTSTAMP the encoder insists on for events
// that were authored without one.
func ensureDTStamp(cal *goical.Calendar) {
	for _, child := range cal.Children {
		if child.Name != "VEVENT" || child.Props.Get("DTSTAMP") != nil {
			continue
		}
		prop := goical.NewProp("DTSTAMP")
		prop.Value = time.Now().UTC().Format("20060102T150405Z")
		child.Props.Set(prop)
	}
}

// RewriteUID replaces the UID of every VEVENT in the object. Used when a
// creation collides with an existing uid on the server.
func RewriteUID(data []byte, uid string) ([]byte, error) {
	const op = "ical.RewriteUID"

	cal, err := goical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, errs.Wrap(errs.Parse, op, err)
	}

	for _, child := range cal.Children {
		if child.Name == "VEVENT" {
			child.Props.SetText("UID", uid)
		}
	}

	ensureDTStamp(cal)
	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, errs.Wrap(errs.Parse, op, err)
	}
	return buf.Bytes(), nil
}
