package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"davsync/store"
)

func seedCalendar(t *testing.T, s *Store) (accountID, calendarID int64) {
	t.Helper()
	ctx := context.Background()

	acc := &store.Account{BaseURL: "https://cloud.example.com", Username: "alice"}
	require.NoError(t, s.UpsertAccount(ctx, acc))

	require.NoError(t, s.MergeDiscoveredCalendars(ctx, acc.ID, []*store.Calendar{
		{URL: "/remote.php/dav/calendars/alice/personal/", Name: "Personal"},
	}))
	cals, err := s.ListCalendars(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, cals, 1)
	return acc.ID, cals[0].ID
}

func TestMergeDiscoveredCalendarsKeepsLocalSettings(t *testing.T) {
	ctx := context.Background()
	s := New()
	accID, calID := seedCalendar(t, s)

	require.NoError(t, s.SetCalendarVisibility(ctx, calID, false))
	require.NoError(t, s.UpdateCalendarTags(ctx, calID, "5", "tok-5"))

	// Re-discovery renames the calendar and adds a second one.
	require.NoError(t, s.MergeDiscoveredCalendars(ctx, accID, []*store.Calendar{
		{URL: "/remote.php/dav/calendars/alice/personal/", Name: "Renamed"},
		{URL: "/remote.php/dav/calendars/alice/work/", Name: "Work"},
	}))

	cals, err := s.ListCalendars(ctx, accID)
	require.NoError(t, err)
	require.Len(t, cals, 2)

	personal := cals[0]
	assert.Equal(t, calID, personal.ID)
	assert.Equal(t, "Renamed", personal.Name)
	assert.False(t, personal.Visible)
	assert.Equal(t, "5", personal.CTag)
	assert.Equal(t, "tok-5", personal.SyncToken)

	assert.True(t, cals[1].Visible)
}

func TestEnqueueChangeReplacesKeepingSeq(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, calID := seedCalendar(t, s)

	ev1 := &store.Event{CalendarID: calID, UID: "e1", Status: store.StatusPendingUpdate}
	ev2 := &store.Event{CalendarID: calID, UID: "e2", Status: store.StatusPendingUpdate}
	require.NoError(t, s.UpsertEvent(ctx, ev1))
	require.NoError(t, s.UpsertEvent(ctx, ev2))

	first := &store.PendingChange{EventID: ev1.ID, Kind: store.ChangeUpdate, Payload: []byte("v1"), Notify: store.NotifyNone}
	require.NoError(t, s.EnqueueChange(ctx, first))
	require.NoError(t, s.EnqueueChange(ctx, &store.PendingChange{EventID: ev2.ID, Kind: store.ChangeUpdate, Payload: []byte("other")}))

	// A second edit to the same event replaces the payload without
	// moving the entry back in the queue.
	require.NoError(t, s.EnqueueChange(ctx, &store.PendingChange{EventID: ev1.ID, Kind: store.ChangeUpdate, Payload: []byte("v2"), Notify: store.NotifyAll}))

	queue, err := s.ListPending(ctx, calID)
	require.NoError(t, err)
	require.Len(t, queue, 2)

	assert.Equal(t, ev1.ID, queue[0].EventID)
	assert.Equal(t, []byte("v2"), queue[0].Payload)
	assert.Equal(t, store.NotifyAll, queue[0].Notify)
	assert.Equal(t, first.Seq, queue[0].Seq)
	assert.Equal(t, ev2.ID, queue[1].EventID)
}

func TestAcknowledgePending(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, calID := seedCalendar(t, s)

	ev := &store.Event{CalendarID: calID, UID: "e1", Status: store.StatusPendingCreate}
	require.NoError(t, s.UpsertEvent(ctx, ev))
	ch := &store.PendingChange{EventID: ev.ID, Kind: store.ChangeCreate, Payload: []byte("ics")}
	require.NoError(t, s.EnqueueChange(ctx, ch))

	require.NoError(t, s.AcknowledgePending(ctx, ch.ID, ev.ID, "/cal/e1.ics", `"etag-1"`, false))

	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "/cal/e1.ics", got.Href)
	assert.Equal(t, `"etag-1"`, got.ETag)
	assert.Equal(t, store.StatusSynced, got.Status)

	_, err = s.PendingForEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAcknowledgePendingDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, calID := seedCalendar(t, s)

	ev := &store.Event{CalendarID: calID, UID: "e1", Href: "/cal/e1.ics", Status: store.StatusPendingDelete}
	require.NoError(t, s.UpsertEvent(ctx, ev))
	ch := &store.PendingChange{EventID: ev.ID, Kind: store.ChangeDelete}
	require.NoError(t, s.EnqueueChange(ctx, ch))

	require.NoError(t, s.AcknowledgePending(ctx, ch.ID, ev.ID, "", "", true))

	_, err := s.GetEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkConflictRetainsBothCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, calID := seedCalendar(t, s)

	ev := &store.Event{CalendarID: calID, UID: "e1", Raw: []byte("local"), ETag: `"old"`, Status: store.StatusPendingUpdate}
	require.NoError(t, s.UpsertEvent(ctx, ev))

	require.NoError(t, s.MarkConflict(ctx, ev.ID, []byte("server"), `"new"`))

	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusConflict, got.Status)
	assert.Equal(t, []byte("local"), got.Raw)
	assert.Equal(t, []byte("server"), got.ServerRaw)
	assert.Equal(t, `"new"`, got.ServerETag)

	// Leaving conflict drops the retained server copy.
	require.NoError(t, s.SetEventStatus(ctx, ev.ID, store.StatusSynced))
	got, err = s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ServerRaw)
}

func TestDeleteAccountCascades(t *testing.T) {
	ctx := context.Background()
	s := New()
	accID, calID := seedCalendar(t, s)

	ev := &store.Event{CalendarID: calID, UID: "e1", Status: store.StatusPendingCreate}
	require.NoError(t, s.UpsertEvent(ctx, ev))
	require.NoError(t, s.EnqueueChange(ctx, &store.PendingChange{EventID: ev.ID, Kind: store.ChangeCreate}))

	require.NoError(t, s.DeleteAccount(ctx, accID))

	_, err := s.GetCalendar(ctx, calID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.PendingForEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDefaultAccountIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := &store.Account{BaseURL: "https://a.example.com", Username: "alice", Default: true}
	b := &store.Account{BaseURL: "https://b.example.com", Username: "bob", Default: true}
	require.NoError(t, s.UpsertAccount(ctx, a))
	require.NoError(t, s.UpsertAccount(ctx, b))

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Default)
	got, err = s.GetAccount(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Default)
}

func TestCredentials(t *testing.T) {
	ctx := context.Background()
	c := NewCredentials()

	_, err := c.GetPassword(ctx, "https://cloud.example.com", "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, c.SaveCredentials(ctx, "https://cloud.example.com", "alice", "app-password"))
	pw, err := c.GetPassword(ctx, "https://cloud.example.com", "alice")
	require.NoError(t, err)
	assert.Equal(t, "app-password", pw)

	require.NoError(t, c.DeleteCredentials(ctx, "https://cloud.example.com", "alice"))
	_, err = c.GetPassword(ctx, "https://cloud.example.com", "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
