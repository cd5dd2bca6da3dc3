package ical

import (
	"time"

	"github.com/teambition/rrule-go"
)

// NextOccurrence returns the first start instant of the event strictly
// after the given time. For recurring events the RRULE is evaluated with
// DTSTART anchored to the event's start; a malformed rule falls back to
// the plain start time.
func NextOccurrence(ev *EventData, after time.Time) (time.Time, bool) {
	if ev == nil || ev.Start.IsZero() {
		return time.Time{}, false
	}

	if ev.RawRRule == "" {
		if ev.Start.After(after) {
			return ev.Start, true
		}
		return time.Time{}, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		if ev.Start.After(after) {
			return ev.Start, true
		}
		return time.Time{}, false
	}
	r.DTStart(ev.Start)

	next := r.After(after, false)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
