package sync

import (
	"davsync/internal/ical"
	"davsync/store"
)

// DefaultNotifyPolicy decides which attendees should receive a
// scheduling message for an edit, based on what actually changed. The
// decision is recorded on the queue entry so the upload sends exactly
// what was decided, even if it happens much later.
//
// old is the last event copy attendees have seen, cur the edited copy;
// for deletions cur is nil.
func DefaultNotifyPolicy(old, cur *ical.EventData) store.NotifyPolicy {
	if cur == nil {
		// Cancellations always go out; attendees holding a dead event
		// is worse than a redundant email.
		if old != nil && old.HasAttendees() {
			return store.NotifyAll
		}
		return store.NotifyNone
	}

	if !cur.HasAttendees() && (old == nil || !old.HasAttendees()) {
		return store.NotifyNone
	}
	if old == nil {
		// New event with attendees: everyone gets the invitation.
		return store.NotifyAll
	}

	if len(ical.ChangedFields(old, cur)) > 0 {
		return store.NotifyAll
	}
	if len(ical.AttendeeDelta(old, cur)) > 0 || len(ical.AttendeeDelta(cur, old)) > 0 {
		// Only the attendee list moved; limit the messages to the
		// attendees that were added or removed.
		return store.NotifyChanged
	}
	return store.NotifyNone
}

// schedulingMode translates a recorded notification decision into the
// scheduling parameters applied at upload time.
func schedulingMode(p store.NotifyPolicy) ical.SchedulingMode {
	switch p {
	case store.NotifyAll:
		return ical.ScheduleAll
	case store.NotifyChanged:
		return ical.ScheduleChanged
	case store.NotifyNone:
		return ical.ScheduleNone
	default:
		return ical.ScheduleDefault
	}
}
