// Package store defines the records the sync engine persists and the
// interfaces a backing database must provide. It deliberately contains
// no engine logic; the engine owns every state transition.
package store

import "time"

// SyncStatus is the authoritative indicator of whether an event row
// represents confirmed server state or an outstanding local intention.
// Exactly one status holds at a time.
type SyncStatus string

const (
	StatusSynced        SyncStatus = "SYNCED"
	StatusPendingCreate SyncStatus = "PENDING_CREATE"
	StatusPendingUpdate SyncStatus = "PENDING_UPDATE"
	StatusPendingDelete SyncStatus = "PENDING_DELETE"
	StatusConflict      SyncStatus = "CONFLICT"
)

// Pending reports whether the status carries an un-uploaded local
// intention.
func (s SyncStatus) Pending() bool {
	switch s {
	case StatusPendingCreate, StatusPendingUpdate, StatusPendingDelete:
		return true
	default:
		return false
	}
}

// ChangeKind is the mutation recorded by a PendingChange.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// NotifyPolicy is the attendee-notification decision recorded at
// mutation time, so what the user confirmed is exactly what is sent.
type NotifyPolicy string

const (
	NotifyAll     NotifyPolicy = "all"
	NotifyChanged NotifyPolicy = "changed"
	NotifyNone    NotifyPolicy = "none"
)

// Account is a verified connection to one CalDAV server.
type Account struct {
	ID           int64
	BaseURL      string
	Username     string
	PrincipalURL string
	HomeSetURL   string
	Default      bool
}

// Calendar is one calendar collection belonging to an account.
type Calendar struct {
	ID        int64
	AccountID int64
	// URL is the server collection URL; (AccountID, URL) is stable.
	URL  string
	Name string
	Color string
	// CTag is the last ctag confirmed by a complete sync.
	CTag string
	// SyncToken is the last sync-collection token, empty when the
	// server offers none.
	SyncToken string
	ReadOnly  bool
	// Visible is local-only and never affects sync.
	Visible   bool
	SortOrder int
}

// Event is one calendar object row.
type Event struct {
	ID         int64
	CalendarID int64
	UID        string
	// Href is the member URL on the server, empty until first upload.
	Href string
	// ETag is the last-known server revision.
	ETag string
	// Raw is the full serialized object, kept for round-tripping
	// properties the engine does not understand.
	Raw      []byte
	Summary  string
	Location string
	Start    time.Time
	End      time.Time
	Status   SyncStatus
	// ServerRaw and ServerETag retain the incoming server copy while
	// Status is CONFLICT, so both sides survive for user comparison.
	// ServerRaw is empty when the conflict is a server-side deletion.
	ServerRaw  []byte
	ServerETag string
}

// PendingChange is one queued local mutation. At most one outstanding
// entry exists per event; a newer edit replaces the payload but keeps
// the original sequence number.
type PendingChange struct {
	ID      int64
	EventID int64
	Kind    ChangeKind
	// Payload snapshots the serialized event at mutation time.
	Payload []byte
	Notify  NotifyPolicy
	// Seq orders changes against server pulls; it survives replacement.
	Seq        int64
	EnqueuedAt time.Time
}
