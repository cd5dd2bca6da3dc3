package sync

import (
	"context"
	"time"

	"davsync/internal/errs"
	"davsync/internal/ical"
	"davsync/store"
)

// Decision is the user's answer to a conflict.
type Decision int

const (
	// KeepLocal re-queues the local copy as an update over the current
	// server revision.
	KeepLocal Decision = iota + 1
	// ServerWins discards the local edits and adopts the server copy,
	// or removes the event entirely if the server deleted it.
	ServerWins
)

func (d Decision) String() string {
	switch d {
	case KeepLocal:
		return "keep_local"
	case ServerWins:
		return "server_wins"
	default:
		return "unknown"
	}
}

// ResolveConflict applies the user's decision to an event parked in
// CONFLICT. Until this is called, sync runs skip the event entirely.
func (e *Engine) ResolveConflict(ctx context.Context, eventID int64, decision Decision) error {
	const op = "sync.ResolveConflict"

	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.Status != store.StatusConflict {
		return errs.New(errs.Invalid, op, "event is not in conflict")
	}

	switch decision {
	case KeepLocal:
		serverDeleted := len(ev.ServerRaw) == 0
		if serverDeleted {
			// The server dropped the object; re-create it from the
			// local copy.
			ev.Href = ""
			ev.ETag = ""
			ev.Status = store.StatusPendingCreate
		} else {
			// Overwrite the server revision the conflict was detected
			// against.
			ev.ETag = ev.ServerETag
			ev.Status = store.StatusPendingUpdate
		}
		ev.ServerRaw = nil
		ev.ServerETag = ""
		if err := e.store.UpsertEvent(ctx, ev); err != nil {
			return err
		}
		kind := store.ChangeUpdate
		if serverDeleted {
			kind = store.ChangeCreate
		}
		return e.store.EnqueueChange(ctx, &store.PendingChange{
			EventID:    ev.ID,
			Kind:       kind,
			Payload:    ev.Raw,
			Notify:     store.NotifyNone,
			EnqueuedAt: time.Now(),
		})

	case ServerWins:
		if pending, perr := e.store.PendingForEvent(ctx, ev.ID); perr == nil {
			if derr := e.store.DeletePending(ctx, pending.ID); derr != nil {
				return derr
			}
		}
		if len(ev.ServerRaw) == 0 {
			return e.store.DeleteEvent(ctx, ev.ID)
		}
		ev.Raw = ev.ServerRaw
		ev.ETag = ev.ServerETag
		ev.Status = store.StatusSynced
		ev.ServerRaw = nil
		ev.ServerETag = ""
		if data, perr := ical.ParseObject(ev.Raw); perr == nil {
			ev.UID = data.UID
			ev.Summary = data.Summary
			ev.Location = data.Location
			ev.Start = data.Start
			ev.End = data.End
		}
		return e.store.UpsertEvent(ctx, ev)

	default:
		return errs.New(errs.Invalid, op, "unknown decision")
	}
}
