// Package memory provides an in-memory Store, used by tests and by the
// preview mode that runs without a database file.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"davsync/store"
)

type Store struct {
	mu sync.RWMutex

	accounts  map[int64]*store.Account
	calendars map[int64]*store.Calendar
	events    map[int64]*store.Event
	pending   map[int64]*store.PendingChange

	nextAccountID  int64
	nextCalendarID int64
	nextEventID    int64
	nextPendingID  int64
	nextSeq        int64
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:  make(map[int64]*store.Account),
		calendars: make(map[int64]*store.Calendar),
		events:    make(map[int64]*store.Event),
		pending:   make(map[int64]*store.PendingChange),
	}
}

func (s *Store) UpsertAccount(_ context.Context, a *store.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == 0 {
		s.nextAccountID++
		a.ID = s.nextAccountID
	}
	if a.Default {
		for _, other := range s.accounts {
			other.Default = false
		}
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *Store) GetAccount(_ context.Context, id int64) (*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteAccount(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.accounts, id)
	for calID, cal := range s.calendars {
		if cal.AccountID != id {
			continue
		}
		delete(s.calendars, calID)
		s.deleteCalendarEventsLocked(calID)
	}
	return nil
}

func (s *Store) deleteCalendarEventsLocked(calendarID int64) {
	for evID, ev := range s.events {
		if ev.CalendarID != calendarID {
			continue
		}
		delete(s.events, evID)
		for pID, p := range s.pending {
			if p.EventID == evID {
				delete(s.pending, pID)
			}
		}
	}
}

func (s *Store) MergeDiscoveredCalendars(_ context.Context, accountID int64, discovered []*store.Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byURL := make(map[string]*store.Calendar)
	for _, cal := range s.calendars {
		if cal.AccountID == accountID {
			byURL[cal.URL] = cal
		}
	}

	for _, d := range discovered {
		if existing, ok := byURL[d.URL]; ok {
			existing.Name = d.Name
			existing.Color = d.Color
			existing.ReadOnly = d.ReadOnly
			continue
		}
		s.nextCalendarID++
		cp := *d
		cp.ID = s.nextCalendarID
		cp.AccountID = accountID
		cp.Visible = true
		s.calendars[cp.ID] = &cp
	}
	return nil
}

func (s *Store) GetCalendar(_ context.Context, id int64) (*store.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cal, ok := s.calendars[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *cal
	return &cp, nil
}

func (s *Store) ListCalendars(_ context.Context, accountID int64) ([]*store.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.Calendar, 0)
	for _, cal := range s.calendars {
		if cal.AccountID != accountID {
			continue
		}
		cp := *cal
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateCalendarTags(_ context.Context, calendarID int64, ctag, syncToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, ok := s.calendars[calendarID]
	if !ok {
		return store.ErrNotFound
	}
	cal.CTag = ctag
	cal.SyncToken = syncToken
	return nil
}

func (s *Store) SetCalendarVisibility(_ context.Context, calendarID int64, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, ok := s.calendars[calendarID]
	if !ok {
		return store.ErrNotFound
	}
	cal.Visible = visible
	return nil
}

func (s *Store) SetCalendarOrder(_ context.Context, calendarID int64, sortOrder int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, ok := s.calendars[calendarID]
	if !ok {
		return store.ErrNotFound
	}
	cal.SortOrder = sortOrder
	return nil
}

func (s *Store) GetEvent(_ context.Context, id int64) (*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *Store) GetEventByUID(_ context.Context, calendarID int64, uid string) (*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ev := range s.events {
		if ev.CalendarID == calendarID && ev.UID == uid {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetEventByHref(_ context.Context, calendarID int64, href string) (*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ev := range s.events {
		if ev.CalendarID == calendarID && ev.Href == href {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListEvents(_ context.Context, calendarID int64) ([]*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.Event, 0)
	for _, ev := range s.events {
		if ev.CalendarID != calendarID {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListEventsByStatus(_ context.Context, calendarID int64, status store.SyncStatus) ([]*store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.Event, 0)
	for _, ev := range s.events {
		if ev.CalendarID == calendarID && ev.Status == status {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) EventETags(_ context.Context, calendarID int64) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	etags := make(map[string]string)
	for _, ev := range s.events {
		if ev.CalendarID == calendarID && ev.Href != "" {
			etags[ev.Href] = ev.ETag
		}
	}
	return etags, nil
}

func (s *Store) UpsertEvent(_ context.Context, e *store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == 0 {
		s.nextEventID++
		e.ID = s.nextEventID
	}
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

func (s *Store) DeleteEvent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.events, id)
	for pID, p := range s.pending {
		if p.EventID == id {
			delete(s.pending, pID)
		}
	}
	return nil
}

func (s *Store) SetEventStatus(_ context.Context, id int64, status store.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return store.ErrNotFound
	}
	ev.Status = status
	if status != store.StatusConflict {
		ev.ServerRaw = nil
		ev.ServerETag = ""
	}
	return nil
}

func (s *Store) MarkConflict(_ context.Context, id int64, serverRaw []byte, serverETag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return store.ErrNotFound
	}
	ev.Status = store.StatusConflict
	ev.ServerRaw = append([]byte(nil), serverRaw...)
	ev.ServerETag = serverETag
	return nil
}

func (s *Store) EnqueueChange(_ context.Context, ch *store.PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.pending {
		if existing.EventID != ch.EventID {
			continue
		}
		// Replace in place; the original position in the queue holds.
		existing.Kind = ch.Kind
		existing.Payload = append([]byte(nil), ch.Payload...)
		existing.Notify = ch.Notify
		existing.EnqueuedAt = ch.EnqueuedAt
		ch.ID = existing.ID
		ch.Seq = existing.Seq
		return nil
	}

	s.nextPendingID++
	s.nextSeq++
	ch.ID = s.nextPendingID
	ch.Seq = s.nextSeq
	if ch.EnqueuedAt.IsZero() {
		ch.EnqueuedAt = time.Now()
	}
	cp := *ch
	cp.Payload = append([]byte(nil), ch.Payload...)
	s.pending[ch.ID] = &cp
	return nil
}

func (s *Store) PendingForEvent(_ context.Context, eventID int64) (*store.PendingChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.pending {
		if p.EventID == eventID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListPending(_ context.Context, calendarID int64) ([]*store.PendingChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.PendingChange, 0)
	for _, p := range s.pending {
		ev, ok := s.events[p.EventID]
		if !ok || ev.CalendarID != calendarID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) DeletePending(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.pending, id)
	return nil
}

func (s *Store) AcknowledgePending(_ context.Context, pendingID, eventID int64, href, etag string, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[pendingID]; !ok {
		return store.ErrNotFound
	}
	delete(s.pending, pendingID)

	if deleted {
		delete(s.events, eventID)
		return nil
	}
	ev, ok := s.events[eventID]
	if !ok {
		return store.ErrNotFound
	}
	ev.Href = href
	ev.ETag = etag
	ev.Status = store.StatusSynced
	ev.ServerRaw = nil
	ev.ServerETag = ""
	return nil
}
