package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"davsync/internal/errs"
	"davsync/store"
	"davsync/store/memory"
)

func conflictedEvent(t *testing.T, st *memory.Store, calID int64, serverRaw []byte, serverETag string) *store.Event {
	t.Helper()
	ctx := context.Background()

	ev := &store.Event{
		CalendarID: calID, UID: "e1", Href: "/cal/e1.ics",
		ETag: `"1"`, Raw: icsObject("e1", "Mine"),
		Status: store.StatusPendingUpdate,
	}
	require.NoError(t, st.UpsertEvent(ctx, ev))
	require.NoError(t, st.EnqueueChange(ctx, &store.PendingChange{
		EventID: ev.ID, Kind: store.ChangeUpdate, Payload: ev.Raw, Notify: store.NotifyNone,
	}))
	require.NoError(t, st.MarkConflict(ctx, ev.ID, serverRaw, serverETag))
	return ev
}

func TestResolveConflictKeepLocal(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)
	ev := conflictedEvent(t, st, cal.ID, icsObject("e1", "Theirs"), `"2"`)

	require.NoError(t, engine.ResolveConflict(ctx, ev.ID, KeepLocal))

	got, err := st.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingUpdate, got.Status)
	// The next upload targets the revision the conflict was detected
	// against.
	assert.Equal(t, `"2"`, got.ETag)
	assert.Empty(t, got.ServerRaw)

	pending, err := st.PendingForEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ChangeUpdate, pending.Kind)
	assert.Equal(t, got.Raw, pending.Payload)
}

func TestResolveConflictServerWins(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)
	theirs := icsObject("e1", "Theirs")
	ev := conflictedEvent(t, st, cal.ID, theirs, `"2"`)

	require.NoError(t, engine.ResolveConflict(ctx, ev.ID, ServerWins))

	got, err := st.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSynced, got.Status)
	assert.Equal(t, theirs, got.Raw)
	assert.Equal(t, `"2"`, got.ETag)
	assert.Equal(t, "Theirs", got.Summary)

	_, err = st.PendingForEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolveConflictServerDeletedKeepLocalRecreates(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)
	ev := conflictedEvent(t, st, cal.ID, nil, "")

	require.NoError(t, engine.ResolveConflict(ctx, ev.ID, KeepLocal))

	got, err := st.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingCreate, got.Status)
	assert.Empty(t, got.Href)
	assert.Empty(t, got.ETag)

	pending, err := st.PendingForEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ChangeCreate, pending.Kind)
}

func TestResolveConflictServerDeletedServerWinsDrops(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)
	ev := conflictedEvent(t, st, cal.ID, nil, "")

	require.NoError(t, engine.ResolveConflict(ctx, ev.ID, ServerWins))

	_, err := st.GetEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.PendingForEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolveConflictRejectsNonConflicted(t *testing.T) {
	ctx := context.Background()
	engine, st, cal := testEngine(t)

	ev := &store.Event{CalendarID: cal.ID, UID: "e1", Raw: icsObject("e1", "Fine"), Status: store.StatusSynced}
	require.NoError(t, st.UpsertEvent(ctx, ev))

	err := engine.ResolveConflict(ctx, ev.ID, KeepLocal)
	require.Error(t, err)
	assert.Equal(t, errs.Invalid, errs.KindOf(err))
}
