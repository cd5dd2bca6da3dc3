package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence boundary of the sync engine. Implementations
// must be safe for concurrent use. Passwords never pass through here;
// see CredentialStore.
type Store interface {
	// Accounts.

	// UpsertAccount inserts the account or updates it by ID, assigning
	// the ID on insert. Setting Default clears the flag on all others.
	UpsertAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id int64) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	// DeleteAccount removes the account and cascades to its calendars,
	// events and pending changes.
	DeleteAccount(ctx context.Context, id int64) error

	// Calendars.

	// MergeDiscoveredCalendars reconciles a discovery result into the
	// account's calendar set, keyed by URL. New calendars are added
	// visible, existing ones keep their local settings, and calendars
	// absent from the server list are left untouched.
	MergeDiscoveredCalendars(ctx context.Context, accountID int64, discovered []*Calendar) error
	GetCalendar(ctx context.Context, id int64) (*Calendar, error)
	ListCalendars(ctx context.Context, accountID int64) ([]*Calendar, error)
	// UpdateCalendarTags persists the ctag and sync token confirmed by
	// a completed pull.
	UpdateCalendarTags(ctx context.Context, calendarID int64, ctag, syncToken string) error
	SetCalendarVisibility(ctx context.Context, calendarID int64, visible bool) error
	SetCalendarOrder(ctx context.Context, calendarID int64, sortOrder int) error

	// Events.

	GetEvent(ctx context.Context, id int64) (*Event, error)
	GetEventByUID(ctx context.Context, calendarID int64, uid string) (*Event, error)
	GetEventByHref(ctx context.Context, calendarID int64, href string) (*Event, error)
	ListEvents(ctx context.Context, calendarID int64) ([]*Event, error)
	ListEventsByStatus(ctx context.Context, calendarID int64, status SyncStatus) ([]*Event, error)
	// EventETags returns href to etag for every event of the calendar
	// that has been uploaded, for diffing against a server listing.
	EventETags(ctx context.Context, calendarID int64) (map[string]string, error)
	// UpsertEvent inserts or updates by ID, assigning the ID on insert.
	UpsertEvent(ctx context.Context, e *Event) error
	DeleteEvent(ctx context.Context, id int64) error
	SetEventStatus(ctx context.Context, id int64, status SyncStatus) error
	// MarkConflict flips the event to CONFLICT and retains the server
	// copy alongside the local one. An empty serverRaw records a
	// server-side deletion.
	MarkConflict(ctx context.Context, id int64, serverRaw []byte, serverETag string) error

	// Pending changes.

	// EnqueueChange records a mutation for an event. If an entry for
	// the event already exists it is replaced in place, keeping the
	// original sequence number.
	EnqueueChange(ctx context.Context, ch *PendingChange) error
	PendingForEvent(ctx context.Context, eventID int64) (*PendingChange, error)
	// ListPending returns the calendar's queue in sequence order.
	ListPending(ctx context.Context, calendarID int64) ([]*PendingChange, error)
	DeletePending(ctx context.Context, id int64) error
	// AcknowledgePending applies a successful upload in one step:
	// the queue entry is removed and the event either adopts the new
	// href and etag as SYNCED or, when deleted, is removed entirely.
	AcknowledgePending(ctx context.Context, pendingID, eventID int64, href, etag string, deleted bool) error
}

// CredentialStore keeps account passwords out of the database. The
// desktop build backs this with the OS keychain; tests use an in-memory
// implementation.
type CredentialStore interface {
	GetPassword(ctx context.Context, baseURL, username string) (string, error)
	SaveCredentials(ctx context.Context, baseURL, username, password string) error
	DeleteCredentials(ctx context.Context, baseURL, username string) error
}
