package sync

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"davsync/davclient"
	"davsync/internal/errs"
	"davsync/store"
)

func TestEnqueueCreateThenUpdateStaysCreate(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	ev, err := engine.EnqueueCreate(ctx, cal.ID, icsObject("e1", "Draft"))
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingCreate, ev.Status)

	require.NoError(t, engine.EnqueueUpdate(ctx, ev.ID, icsObject("e1", "Draft v2")))

	got, err := st.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingCreate, got.Status)
	assert.Equal(t, "Draft v2", got.Summary)

	pending, err := st.PendingForEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ChangeCreate, pending.Kind)
	assert.Contains(t, string(pending.Payload), "Draft v2")
}

func TestEnqueueDeleteOfUnsyncedCreateDropsEvent(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	ev, err := engine.EnqueueCreate(ctx, cal.ID, icsObject("e1", "Draft"))
	require.NoError(t, err)

	require.NoError(t, engine.EnqueueDelete(ctx, ev.ID))

	_, err = st.GetEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.PendingForEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnqueueUpdateRejectsConflictedEvent(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	ev := &store.Event{CalendarID: cal.ID, UID: "e1", Raw: icsObject("e1", "Old"), Status: store.StatusConflict}
	require.NoError(t, st.UpsertEvent(ctx, ev))

	err := engine.EnqueueUpdate(ctx, ev.ID, icsObject("e1", "New"))
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestEnqueueUpdateRejectsQueuedDeletion(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	ev := &store.Event{CalendarID: cal.ID, UID: "e1", Href: "/cal/e1.ics", Raw: icsObject("e1", "Old"), Status: store.StatusSynced}
	require.NoError(t, st.UpsertEvent(ctx, ev))
	require.NoError(t, engine.EnqueueDelete(ctx, ev.ID))

	err := engine.EnqueueUpdate(ctx, ev.ID, icsObject("e1", "New"))
	require.Error(t, err)
	assert.Equal(t, errs.Invalid, errs.KindOf(err))
}

func TestDrainCreate(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	ev, err := engine.EnqueueCreate(ctx, cal.ID, icsObject("e1", "Draft"))
	require.NoError(t, err)

	client := &fakeDAVClient{createdEtag: `"fresh"`}
	res, err := engine.DrainCalendar(ctx, client, cal)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)

	got, err := st.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSynced, got.Status)
	assert.Equal(t, "/cal/new.ics", got.Href)
	assert.Equal(t, `"fresh"`, got.ETag)
}

func TestDrainCreateUIDCollisionRenames(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	ev, err := engine.EnqueueCreate(ctx, cal.ID, icsObject("e1", "Draft"))
	require.NoError(t, err)

	client := &fakeDAVClient{
		createdEtag: `"fresh"`,
		createErr:   errs.FromStatus("httpclient.DoPUT", 412),
	}
	res, err := engine.DrainCalendar(ctx, client, cal)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)

	require.Len(t, client.createBodys, 2)
	got, err := st.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "e1", got.UID)
	assert.Contains(t, string(client.createBodys[1]), got.UID)
	assert.Equal(t, store.StatusSynced, got.Status)
}

func TestDrainUpdateConflictParksEvent(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	ev := &store.Event{CalendarID: cal.ID, UID: "e1", Href: "/cal/e1.ics", ETag: `"1"`, Raw: icsObject("e1", "Old"), Status: store.StatusSynced}
	require.NoError(t, st.UpsertEvent(ctx, ev))
	require.NoError(t, engine.EnqueueUpdate(ctx, ev.ID, icsObject("e1", "Mine")))

	serverData := icsObject("e1", "Theirs")
	client := &fakeDAVClient{
		putErr: errs.FromStatus("httpclient.DoPUT", 412),
		objects: map[string]davclient.Object{
			"/cal/e1.ics": {Href: "/cal/e1.ics", ETag: `"2"`, Data: serverData},
		},
	}
	res, err := engine.DrainCalendar(ctx, client, cal)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	assert.Zero(t, res.Pushed)

	got, err := st.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusConflict, got.Status)
	assert.Equal(t, serverData, got.ServerRaw)

	// The queue entry survives for after the resolution.
	_, err = st.PendingForEvent(ctx, ev.ID)
	require.NoError(t, err)
}

func TestDrainDeleteGoneOnServerSucceeds(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	ev := &store.Event{CalendarID: cal.ID, UID: "e1", Href: "/cal/e1.ics", ETag: `"1"`, Raw: icsObject("e1", "Old"), Status: store.StatusSynced}
	require.NoError(t, st.UpsertEvent(ctx, ev))
	require.NoError(t, engine.EnqueueDelete(ctx, ev.ID))

	client := &fakeDAVClient{deleteErr: errs.FromStatus("httpclient.DoDELETE", 404)}
	res, err := engine.DrainCalendar(ctx, client, cal)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)

	_, err = st.GetEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDrainSkipsConflictedEvents(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	ev := &store.Event{CalendarID: cal.ID, UID: "e1", Href: "/cal/e1.ics", ETag: `"1"`, Raw: icsObject("e1", "Old"), Status: store.StatusSynced}
	require.NoError(t, st.UpsertEvent(ctx, ev))
	require.NoError(t, engine.EnqueueUpdate(ctx, ev.ID, icsObject("e1", "Mine")))
	require.NoError(t, st.MarkConflict(ctx, ev.ID, icsObject("e1", "Theirs"), `"2"`))

	client := &fakeDAVClient{}
	res, err := engine.DrainCalendar(ctx, client, cal)
	require.NoError(t, err)
	assert.Zero(t, res.Pushed)
	assert.Empty(t, client.putHrefs)
}

func TestDrainAbortsOnRetryableError(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	ev1 := &store.Event{CalendarID: cal.ID, UID: "e1", Href: "/cal/e1.ics", ETag: `"1"`, Raw: icsObject("e1", "A"), Status: store.StatusSynced}
	ev2 := &store.Event{CalendarID: cal.ID, UID: "e2", Href: "/cal/e2.ics", ETag: `"1"`, Raw: icsObject("e2", "B"), Status: store.StatusSynced}
	require.NoError(t, st.UpsertEvent(ctx, ev1))
	require.NoError(t, st.UpsertEvent(ctx, ev2))
	require.NoError(t, engine.EnqueueUpdate(ctx, ev1.ID, icsObject("e1", "A2")))
	require.NoError(t, engine.EnqueueUpdate(ctx, ev2.ID, icsObject("e2", "B2")))

	client := &fakeDAVClient{putErr: errs.FromStatus("httpclient.DoPUT", 502)}
	_, err := engine.DrainCalendar(ctx, client, cal)
	require.Error(t, err)
	assert.True(t, errs.Retryable(err))

	// Only the first entry was attempted; both remain queued.
	assert.Len(t, client.putHrefs, 1)
	queue, err := st.ListPending(ctx, cal.ID)
	require.NoError(t, err)
	assert.Len(t, queue, 2)
}

func TestEnqueueUpdateEmbedsSchedulingSuppression(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	// No attendees anywhere: scheduling is suppressed client-side.
	ev := &store.Event{CalendarID: cal.ID, UID: "e1", Href: "/cal/e1.ics", ETag: `"1"`, Raw: icsObject("e1", "Old"), Status: store.StatusSynced}
	require.NoError(t, st.UpsertEvent(ctx, ev))
	require.NoError(t, engine.EnqueueUpdate(ctx, ev.ID, icsObject("e1", "New")))

	pending, err := st.PendingForEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, store.NotifyNone, pending.Notify)
}

func TestEnqueueUpdateMovedStartNotifiesAll(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	old := icsObject("e1", "Meeting", "bob@example.com")
	ev := &store.Event{CalendarID: cal.ID, UID: "e1", Href: "/cal/e1.ics", ETag: `"1"`, Raw: old, Status: store.StatusSynced}
	require.NoError(t, st.UpsertEvent(ctx, ev))

	moved := strings.Replace(string(icsObject("e1", "Meeting", "bob@example.com")),
		"DTSTART:20260310T090000Z", "DTSTART:20260310T110000Z", 1)
	require.NoError(t, engine.EnqueueUpdate(ctx, ev.ID, []byte(moved)))

	pending, err := st.PendingForEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, store.NotifyAll, pending.Notify)
	assert.Contains(t, string(pending.Payload), "SCHEDULE-FORCE-SEND=REQUEST")
}
