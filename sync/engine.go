package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"davsync/davclient"
	"davsync/internal/errs"
	"davsync/internal/ical"
	"davsync/store"
)

// Engine applies server changes to the local store and uploads the
// pending queue. It holds no per-run state; one Engine serves every
// account.
type Engine struct {
	store    store.Store
	logger   *slog.Logger
	notifier NotificationScheduler
	lead     time.Duration
}

func NewEngine(st store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, logger: logger}
}

// PullCalendar brings the local copy of one calendar up to date with
// the server. It prefers sync-collection when the server granted a
// token, falling back to a ctag check plus a full etag diff. The
// calendar's tags are only advanced after every change of the batch
// has been applied, so an interrupted pull repeats instead of losing
// changes.
func (e *Engine) PullCalendar(ctx context.Context, client davclient.DAVClient, cal *store.Calendar) (*SyncResult, error) {
	log := e.logger.With("calendar", cal.URL)
	res := &SyncResult{}

	var (
		changedHrefs []string
		deletedHrefs []string
		newToken     string
	)

	usedToken := false
	if cal.SyncToken != "" {
		changes, err := client.SyncCollection(ctx, cal.SyncToken)
		switch {
		case err == nil:
			usedToken = true
			newToken = changes.NewToken
			for _, obj := range changes.Changed {
				changedHrefs = append(changedHrefs, obj.Href)
			}
			deletedHrefs = changes.Deleted
		case errs.KindOf(err) == errs.PreconditionFailed:
			// Expired or foreign token. Start over with a full diff.
			log.Warn("sync token rejected, falling back to full listing")
			cal.SyncToken = ""
		default:
			return nil, err
		}
	}

	if !usedToken {
		ctag, err := client.GetCTag(ctx)
		if err != nil {
			return nil, err
		}
		if ctag != "" && ctag == cal.CTag {
			log.Debug("ctag unchanged, nothing to pull", "ctag", ctag)
			return res, nil
		}

		serverETags, err := client.ListObjectETags(ctx)
		if err != nil {
			return nil, err
		}
		localETags, err := e.store.EventETags(ctx, cal.ID)
		if err != nil {
			return nil, err
		}

		for href, etag := range serverETags {
			if localETags[href] != etag {
				changedHrefs = append(changedHrefs, href)
			}
		}
		for href := range localETags {
			if _, ok := serverETags[href]; !ok {
				deletedHrefs = append(deletedHrefs, href)
			}
		}
		cal.CTag = ctag
	}

	objects, err := client.MultigetObjects(ctx, changedHrefs)
	if err != nil {
		return nil, err
	}

	// Hrefs that vanished between the listing and the fetch are
	// deletions.
	fetched := make(map[string]bool, len(objects))
	for _, obj := range objects {
		fetched[obj.Href] = true
	}
	for _, href := range changedHrefs {
		if !fetched[href] {
			deletedHrefs = append(deletedHrefs, href)
		}
	}

	for _, obj := range objects {
		if err := e.applyServerObject(ctx, cal, obj, res); err != nil {
			return nil, err
		}
	}
	for _, href := range deletedHrefs {
		if err := e.applyServerDeletion(ctx, cal, href, res); err != nil {
			return nil, err
		}
	}

	if usedToken {
		cal.SyncToken = newToken
		// Keep the ctag current too so a later token loss diffs less.
		if ctag, err := client.GetCTag(ctx); err == nil {
			cal.CTag = ctag
		}
	} else {
		if token, err := client.GetSyncToken(ctx); err == nil {
			cal.SyncToken = token
		}
	}
	if err := e.store.UpdateCalendarTags(ctx, cal.ID, cal.CTag, cal.SyncToken); err != nil {
		return nil, err
	}

	log.Info("pull complete", "pulled", res.Pulled, "conflicts", res.Conflicts)
	return res, nil
}

// applyServerObject merges one changed server object into the store.
// Any local pending state with a diverging etag is parked as a
// conflict; everything else adopts the server copy.
func (e *Engine) applyServerObject(ctx context.Context, cal *store.Calendar, obj davclient.Object, res *SyncResult) error {
	local, err := e.store.GetEventByHref(ctx, cal.ID, obj.Href)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	data, perr := ical.ParseObject(obj.Data)

	if local == nil && perr == nil {
		// A freshly pushed creation can be stored under another
		// spelling of the same href. Match by uid before inserting a
		// second row for the same event.
		byUID, uerr := e.store.GetEventByUID(ctx, cal.ID, data.UID)
		if uerr != nil && !errors.Is(uerr, store.ErrNotFound) {
			return uerr
		}
		if byUID != nil {
			byUID.Href = obj.Href
			if err := e.store.UpsertEvent(ctx, byUID); err != nil {
				return err
			}
			local = byUID
		}
	}

	if local != nil {
		if local.ETag == obj.ETag {
			// The server holds the revision local state is based on.
			// Synced rows are already current; pending and conflicted
			// rows keep their local work for the push or the resolver.
			return nil
		}
		if local.Status != store.StatusSynced {
			// Both sides moved. Keep both copies and let the user pick.
			if err := e.store.MarkConflict(ctx, local.ID, obj.Data, obj.ETag); err != nil {
				return err
			}
			res.Conflicts++
			return nil
		}
	}

	ev := local
	if ev == nil {
		ev = &store.Event{CalendarID: cal.ID, Href: obj.Href}
	}
	ev.ETag = obj.ETag
	ev.Raw = obj.Data
	ev.Status = store.StatusSynced
	ev.ServerRaw = nil
	ev.ServerETag = ""

	if perr == nil {
		ev.UID = data.UID
		ev.Summary = data.Summary
		ev.Location = data.Location
		ev.Start = data.Start
		ev.End = data.End
	} else {
		// Unparseable objects are stored raw so they round-trip; they
		// just will not render nicely.
		e.logger.Warn("unparseable calendar object", "href", obj.Href, "error", perr)
		res.ParseErrors++
		if ev.UID == "" {
			ev.UID = obj.Href
		}
	}

	if err := e.store.UpsertEvent(ctx, ev); err != nil {
		return err
	}
	if perr == nil {
		e.emitReminder(ctx, ev, data)
	}
	res.Pulled++
	return nil
}

func (e *Engine) applyServerDeletion(ctx context.Context, cal *store.Calendar, href string, res *SyncResult) error {
	local, err := e.store.GetEventByHref(ctx, cal.ID, href)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if local.Status.Pending() || local.Status == store.StatusConflict {
		// The server dropped an event we still hold edits for. Park it
		// instead of silently discarding the local work.
		if err := e.store.MarkConflict(ctx, local.ID, nil, ""); err != nil {
			return err
		}
		res.Conflicts++
		return nil
	}

	if err := e.store.DeleteEvent(ctx, local.ID); err != nil {
		return err
	}
	res.Pulled++
	return nil
}
