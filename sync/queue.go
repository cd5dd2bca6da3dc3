package sync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"davsync/davclient"
	"davsync/internal/errs"
	"davsync/internal/ical"
	"davsync/store"
)

// EnqueueCreate records a locally created event. The object only
// reaches the server on the next push.
func (e *Engine) EnqueueCreate(ctx context.Context, calendarID int64, payload []byte) (*store.Event, error) {
	data, err := ical.ParseObject(payload)
	if err != nil {
		return nil, err
	}

	policy := DefaultNotifyPolicy(nil, data)
	payload, err = ical.ApplyScheduling(payload, schedulingMode(policy), nil)
	if err != nil {
		return nil, err
	}

	ev := &store.Event{
		CalendarID: calendarID,
		UID:        data.UID,
		Raw:        payload,
		Summary:    data.Summary,
		Location:   data.Location,
		Start:      data.Start,
		End:        data.End,
		Status:     store.StatusPendingCreate,
	}
	if err := e.store.UpsertEvent(ctx, ev); err != nil {
		return nil, err
	}
	ch := &store.PendingChange{
		EventID:    ev.ID,
		Kind:       store.ChangeCreate,
		Payload:    payload,
		Notify:     policy,
		EnqueuedAt: time.Now(),
	}
	if err := e.store.EnqueueChange(ctx, ch); err != nil {
		return nil, err
	}
	return ev, nil
}

// EnqueueUpdate records a local edit. A still-unsynced creation stays a
// creation with the new payload; an event parked in CONFLICT rejects
// further edits until the conflict is resolved.
func (e *Engine) EnqueueUpdate(ctx context.Context, eventID int64, payload []byte) error {
	const op = "sync.EnqueueUpdate"

	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.Status == store.StatusConflict {
		return errs.New(errs.Conflict, op, "event has an unresolved conflict")
	}
	if ev.Status == store.StatusPendingDelete {
		return errs.New(errs.Invalid, op, "event is queued for deletion")
	}

	cur, err := ical.ParseObject(payload)
	if err != nil {
		return err
	}
	old, _ := ical.ParseObject(ev.Raw)

	policy := DefaultNotifyPolicy(old, cur)
	// Scheduling parameters are written into the payload now, while
	// both versions are at hand; the upload sends the payload verbatim.
	var forced []string
	if policy == store.NotifyChanged {
		forced = append(ical.AttendeeDelta(old, cur), ical.AttendeeDelta(cur, old)...)
	}
	payload, err = ical.ApplyScheduling(payload, schedulingMode(policy), forced)
	if err != nil {
		return err
	}

	kind := store.ChangeUpdate
	if ev.Status == store.StatusPendingCreate {
		kind = store.ChangeCreate
	} else {
		ev.Status = store.StatusPendingUpdate
	}

	ev.Raw = payload
	ev.UID = cur.UID
	ev.Summary = cur.Summary
	ev.Location = cur.Location
	ev.Start = cur.Start
	ev.End = cur.End
	if err := e.store.UpsertEvent(ctx, ev); err != nil {
		return err
	}

	return e.store.EnqueueChange(ctx, &store.PendingChange{
		EventID:    ev.ID,
		Kind:       kind,
		Payload:    payload,
		Notify:     policy,
		EnqueuedAt: time.Now(),
	})
}

// EnqueueDelete records a local deletion. Deleting an event that never
// reached the server simply drops it.
func (e *Engine) EnqueueDelete(ctx context.Context, eventID int64) error {
	const op = "sync.EnqueueDelete"

	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.Status == store.StatusConflict {
		return errs.New(errs.Conflict, op, "event has an unresolved conflict")
	}
	if ev.Status == store.StatusPendingCreate {
		return e.store.DeleteEvent(ctx, ev.ID)
	}

	old, _ := ical.ParseObject(ev.Raw)
	ev.Status = store.StatusPendingDelete
	if err := e.store.UpsertEvent(ctx, ev); err != nil {
		return err
	}
	return e.store.EnqueueChange(ctx, &store.PendingChange{
		EventID:    ev.ID,
		Kind:       store.ChangeDelete,
		Notify:     DefaultNotifyPolicy(old, nil),
		EnqueuedAt: time.Now(),
	})
}

// DrainCalendar uploads the calendar's pending queue in order. It runs
// strictly after PullCalendar so every upload sees the freshest etags.
// A retryable error aborts the calendar, leaving the rest of the queue
// for the next run; per-entry failures are counted and skipped.
func (e *Engine) DrainCalendar(ctx context.Context, client davclient.DAVClient, cal *store.Calendar) (*SyncResult, error) {
	log := e.logger.With("calendar", cal.URL)
	res := &SyncResult{}

	queue, err := e.store.ListPending(ctx, cal.ID)
	if err != nil {
		return nil, err
	}

	for _, ch := range queue {
		ev, err := e.store.GetEvent(ctx, ch.EventID)
		if errors.Is(err, store.ErrNotFound) {
			// The event went away underneath the queue entry.
			if derr := e.store.DeletePending(ctx, ch.ID); derr != nil {
				return res, derr
			}
			continue
		}
		if err != nil {
			return res, err
		}
		if ev.Status == store.StatusConflict {
			// Resolution happens elsewhere; the entry waits.
			continue
		}

		err = e.pushChange(ctx, client, ch, ev)
		if err == nil {
			res.Pushed++
			continue
		}
		if errs.Retryable(err) {
			log.Warn("push interrupted", "uid", ev.UID, "error", err)
			return res, err
		}
		if errs.KindOf(err) == errs.PreconditionFailed || errs.KindOf(err) == errs.Conflict {
			res.Conflicts++
			continue
		}
		log.Error("push failed", "uid", ev.UID, "error", err)
		res.Failed++
	}
	return res, nil
}

func (e *Engine) pushChange(ctx context.Context, client davclient.DAVClient, ch *store.PendingChange, ev *store.Event) error {
	switch ch.Kind {
	case store.ChangeCreate:
		return e.pushCreate(ctx, client, ch, ev)
	case store.ChangeUpdate:
		return e.pushUpdate(ctx, client, ch, ev)
	case store.ChangeDelete:
		return e.pushDelete(ctx, client, ch, ev)
	default:
		return errs.New(errs.Invalid, "sync.pushChange", "unknown change kind "+string(ch.Kind))
	}
}

func (e *Engine) pushCreate(ctx context.Context, client davclient.DAVClient, ch *store.PendingChange, ev *store.Event) error {
	href, etag, err := client.CreateObject(ctx, ch.Payload)
	if errs.StatusOf(err) == 412 {
		// The UID already exists on the server. Mint a fresh one and
		// retry once; the server copy stays untouched.
		newUID := uuid.New().String()
		payload, rerr := ical.RewriteUID(ch.Payload, newUID)
		if rerr != nil {
			return rerr
		}
		e.logger.Warn("uid collision on create, renamed", "old", ev.UID, "new", newUID)
		href, etag, err = client.CreateObject(ctx, payload)
		if err == nil {
			ev.UID = newUID
			ev.Raw = payload
			if uerr := e.store.UpsertEvent(ctx, ev); uerr != nil {
				return uerr
			}
		}
	}
	if err != nil {
		return err
	}
	return e.store.AcknowledgePending(ctx, ch.ID, ev.ID, href, etag, false)
}

func (e *Engine) pushUpdate(ctx context.Context, client davclient.DAVClient, ch *store.PendingChange, ev *store.Event) error {
	newEtag, err := client.PutObject(ctx, ev.Href, ev.ETag, ch.Payload)
	if errs.StatusOf(err) == 412 {
		// The server revision moved since the pull. Park the event as a
		// conflict, fetching the server copy for side-by-side display.
		var serverRaw []byte
		var serverETag string
		if objs, ferr := client.MultigetObjects(ctx, []string{ev.Href}); ferr == nil && len(objs) == 1 {
			serverRaw, serverETag = objs[0].Data, objs[0].ETag
		}
		if merr := e.store.MarkConflict(ctx, ev.ID, serverRaw, serverETag); merr != nil {
			return merr
		}
		return errs.Wrap(errs.PreconditionFailed, "sync.pushUpdate", err)
	}
	if err != nil {
		return err
	}
	return e.store.AcknowledgePending(ctx, ch.ID, ev.ID, ev.Href, newEtag, false)
}

func (e *Engine) pushDelete(ctx context.Context, client davclient.DAVClient, ch *store.PendingChange, ev *store.Event) error {
	err := client.DeleteObject(ctx, ev.Href, ev.ETag)
	switch {
	case errs.KindOf(err) == errs.NotFound:
		// Already gone on the server; the intent is satisfied.
		err = nil
	case errs.StatusOf(err) == 412:
		// The server copy changed underneath the deletion. The user
		// decided to delete; honor it, but say so.
		e.logger.Warn("event changed on server before deletion, deleting anyway", "uid", ev.UID)
		err = client.DeleteObject(ctx, ev.Href, "")
	}
	if err != nil {
		return err
	}
	return e.store.AcknowledgePending(ctx, ch.ID, ev.ID, "", "", true)
}
