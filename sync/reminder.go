package sync

import (
	"context"
	"sort"
	"time"

	"davsync/internal/ical"
	"davsync/store"
)

// NotificationScheduler receives reminder payloads for events the pull
// brought in. The host platform owns the actual alarm; the engine only
// emits the payload.
type NotificationScheduler interface {
	ScheduleReminder(ctx context.Context, r Reminder) error
}

// SetNotifier installs the scheduler reminders are handed to during
// pulls, with the lead time applied before each occurrence. A nil
// scheduler disables emission.
func (e *Engine) SetNotifier(n NotificationScheduler, lead time.Duration) {
	e.notifier = n
	e.lead = lead
}

// emitReminder hands the event's next occurrence to the notifier. A
// scheduler failure never fails the pull.
func (e *Engine) emitReminder(ctx context.Context, ev *store.Event, data *ical.EventData) {
	if e.notifier == nil {
		return
	}
	next, ok := ical.NextOccurrence(data, time.Now())
	if !ok {
		return
	}
	r := Reminder{
		EventID:    ev.ID,
		UID:        ev.UID,
		Summary:    data.Summary,
		Location:   data.Location,
		Occurrence: next,
		Offsets:    data.Alarms,
		FireAt:     fireTime(next, data, e.lead),
	}
	if err := e.notifier.ScheduleReminder(ctx, r); err != nil {
		e.logger.Warn("reminder scheduling failed", "uid", ev.UID, "error", err)
	}
}

// Reminder is one upcoming notification for an event occurrence.
type Reminder struct {
	EventID  int64
	UID      string
	Summary  string
	Location string
	// Occurrence is the start of the occurrence being announced.
	Occurrence time.Time
	// Offsets are the event's own VALARM triggers relative to the
	// occurrence start, negative meaning before it.
	Offsets []time.Duration
	// FireAt is when the notification should show: the earliest of the
	// event's own triggers, or Occurrence minus the configured lead
	// when the event carries none.
	FireAt time.Time
}

// fireTime picks the reminder instant for an occurrence.
func fireTime(next time.Time, data *ical.EventData, lead time.Duration) time.Time {
	if len(data.Alarms) == 0 {
		return next.Add(-lead)
	}
	earliest := data.Alarms[0]
	for _, off := range data.Alarms[1:] {
		if off < earliest {
			earliest = off
		}
	}
	return next.Add(earliest)
}

// UpcomingReminders computes the reminders due within the given window
// for every visible calendar of the account. Recurring events
// contribute their next occurrence after now.
func (e *Engine) UpcomingReminders(ctx context.Context, accountID int64, now time.Time, window, lead time.Duration) ([]Reminder, error) {
	calendars, err := e.store.ListCalendars(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var reminders []Reminder
	horizon := now.Add(window)
	for _, cal := range calendars {
		if !cal.Visible {
			continue
		}
		events, err := e.store.ListEvents(ctx, cal.ID)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if ev.Status == store.StatusPendingDelete {
				continue
			}
			data, perr := ical.ParseObject(ev.Raw)
			if perr != nil {
				continue
			}
			next, ok := ical.NextOccurrence(data, now)
			if !ok || next.After(horizon) {
				continue
			}
			reminders = append(reminders, Reminder{
				EventID:    ev.ID,
				UID:        ev.UID,
				Summary:    data.Summary,
				Location:   data.Location,
				Occurrence: next,
				Offsets:    data.Alarms,
				FireAt:     fireTime(next, data, lead),
			})
		}
	}

	sort.Slice(reminders, func(i, j int) bool {
		return reminders[i].FireAt.Before(reminders[j].FireAt)
	})
	return reminders, nil
}
