package ical

// Participation-relevant fields per the resend policy: changes to any of
// these default to notifying every attendee.
const (
	FieldStart       = "start"
	FieldEnd         = "end"
	FieldLocation    = "location"
	FieldDescription = "description"
)

// ChangedFields returns the participation-relevant fields that differ
// between two versions of an event. A nil old side (fresh create) counts
// every populated field as changed.
func ChangedFields(old, cur *EventData) []string {
	var changed []string
	if cur == nil {
		return changed
	}
	if old == nil {
		if !cur.Start.IsZero() {
			changed = append(changed, FieldStart)
		}
		if !cur.End.IsZero() {
			changed = append(changed, FieldEnd)
		}
		if cur.Location != "" {
			changed = append(changed, FieldLocation)
		}
		if cur.Description != "" {
			changed = append(changed, FieldDescription)
		}
		return changed
	}

	if !old.Start.Equal(cur.Start) {
		changed = append(changed, FieldStart)
	}
	if !old.End.Equal(cur.End) {
		changed = append(changed, FieldEnd)
	}
	if old.Location != cur.Location {
		changed = append(changed, FieldLocation)
	}
	if old.Description != cur.Description {
		changed = append(changed, FieldDescription)
	}
	return changed
}

// AttendeeDelta returns the attendees added or removed between two
// versions of an event.
func AttendeeDelta(old, cur *EventData) []string {
	oldSet := make(map[string]bool)
	curSet := make(map[string]bool)
	if old != nil {
		for _, a := range old.Attendees {
			oldSet[a] = true
		}
	}
	if cur != nil {
		for _, a := range cur.Attendees {
			curSet[a] = true
		}
	}

	var delta []string
	for a := range curSet {
		if !oldSet[a] {
			delta = append(delta, a)
		}
	}
	for a := range oldSet {
		if !curSet[a] {
			delta = append(delta, a)
		}
	}
	return delta
}
