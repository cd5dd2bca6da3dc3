// Package sqlite persists sync state in a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"davsync/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	base_url      TEXT NOT NULL,
	username      TEXT NOT NULL,
	principal_url TEXT NOT NULL DEFAULT '',
	home_set_url  TEXT NOT NULL DEFAULT '',
	is_default    INTEGER NOT NULL DEFAULT 0,
	UNIQUE (base_url, username)
);

CREATE TABLE IF NOT EXISTS calendars (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	url        TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	color      TEXT NOT NULL DEFAULT '',
	ctag       TEXT NOT NULL DEFAULT '',
	sync_token TEXT NOT NULL DEFAULT '',
	read_only  INTEGER NOT NULL DEFAULT 0,
	visible    INTEGER NOT NULL DEFAULT 1,
	sort_order INTEGER NOT NULL DEFAULT 0,
	UNIQUE (account_id, url)
);

CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	calendar_id INTEGER NOT NULL REFERENCES calendars(id) ON DELETE CASCADE,
	uid         TEXT NOT NULL,
	href        TEXT NOT NULL DEFAULT '',
	etag        TEXT NOT NULL DEFAULT '',
	raw         BLOB,
	summary     TEXT NOT NULL DEFAULT '',
	location    TEXT NOT NULL DEFAULT '',
	start_at    TIMESTAMP,
	end_at      TIMESTAMP,
	status      TEXT NOT NULL,
	server_raw  BLOB,
	server_etag TEXT NOT NULL DEFAULT '',
	UNIQUE (calendar_id, uid)
);
CREATE INDEX IF NOT EXISTS idx_events_href ON events(calendar_id, href);

CREATE TABLE IF NOT EXISTS pending_changes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id    INTEGER NOT NULL UNIQUE REFERENCES events(id) ON DELETE CASCADE,
	kind        TEXT NOT NULL,
	payload     BLOB,
	notify      TEXT NOT NULL DEFAULT 'none',
	seq         INTEGER NOT NULL,
	enqueued_at TIMESTAMP NOT NULL
);
`

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (and creates, if needed) the database at path. The
// special path ":memory:" keeps everything in memory, which is only
// useful for tests.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The engine serializes writes anyway; a single connection avoids
	// SQLITE_BUSY and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) UpsertAccount(ctx context.Context, a *store.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if a.Default {
		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET is_default = 0`); err != nil {
			return err
		}
	}
	if a.ID == 0 {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (base_url, username, principal_url, home_set_url, is_default)
			 VALUES (?, ?, ?, ?, ?)`,
			a.BaseURL, a.Username, a.PrincipalURL, a.HomeSetURL, a.Default)
		if err != nil {
			return err
		}
		a.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET base_url = ?, username = ?, principal_url = ?, home_set_url = ?, is_default = ?
			 WHERE id = ?`,
			a.BaseURL, a.Username, a.PrincipalURL, a.HomeSetURL, a.Default, a.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*store.Account, error) {
	a := &store.Account{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, base_url, username, principal_url, home_set_url, is_default FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.BaseURL, &a.Username, &a.PrincipalURL, &a.HomeSetURL, &a.Default)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]*store.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, base_url, username, principal_url, home_set_url, is_default FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Account
	for rows.Next() {
		a := &store.Account{}
		if err := rows.Scan(&a.ID, &a.BaseURL, &a.Username, &a.PrincipalURL, &a.HomeSetURL, &a.Default); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) MergeDiscoveredCalendars(ctx context.Context, accountID int64, discovered []*store.Calendar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range discovered {
		// Server-owned attributes follow the server; local settings
		// (visibility, ordering, sync tags) are preserved.
		_, err := tx.ExecContext(ctx,
			`INSERT INTO calendars (account_id, url, name, color, read_only)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (account_id, url) DO UPDATE SET
			   name = excluded.name, color = excluded.color, read_only = excluded.read_only`,
			accountID, d.URL, d.Name, d.Color, d.ReadOnly)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const calendarCols = `id, account_id, url, name, color, ctag, sync_token, read_only, visible, sort_order`

func scanCalendar(row interface{ Scan(...any) error }) (*store.Calendar, error) {
	c := &store.Calendar{}
	err := row.Scan(&c.ID, &c.AccountID, &c.URL, &c.Name, &c.Color, &c.CTag, &c.SyncToken, &c.ReadOnly, &c.Visible, &c.SortOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) GetCalendar(ctx context.Context, id int64) (*store.Calendar, error) {
	return scanCalendar(s.db.QueryRowContext(ctx,
		`SELECT `+calendarCols+` FROM calendars WHERE id = ?`, id))
}

func (s *Store) ListCalendars(ctx context.Context, accountID int64) ([]*store.Calendar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+calendarCols+` FROM calendars WHERE account_id = ? ORDER BY sort_order, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCalendarTags(ctx context.Context, calendarID int64, ctag, syncToken string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendars SET ctag = ?, sync_token = ? WHERE id = ?`, ctag, syncToken, calendarID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) SetCalendarVisibility(ctx context.Context, calendarID int64, visible bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendars SET visible = ? WHERE id = ?`, visible, calendarID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) SetCalendarOrder(ctx context.Context, calendarID int64, sortOrder int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendars SET sort_order = ? WHERE id = ?`, sortOrder, calendarID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const eventCols = `id, calendar_id, uid, href, etag, raw, summary, location, start_at, end_at, status, server_raw, server_etag`

func scanEvent(row interface{ Scan(...any) error }) (*store.Event, error) {
	e := &store.Event{}
	var start, end sql.NullTime
	err := row.Scan(&e.ID, &e.CalendarID, &e.UID, &e.Href, &e.ETag, &e.Raw,
		&e.Summary, &e.Location, &start, &end, &e.Status, &e.ServerRaw, &e.ServerETag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if start.Valid {
		e.Start = start.Time
	}
	if end.Valid {
		e.End = end.Time
	}
	return e, nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (*store.Event, error) {
	return scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE id = ?`, id))
}

func (s *Store) GetEventByUID(ctx context.Context, calendarID int64, uid string) (*store.Event, error) {
	return scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE calendar_id = ? AND uid = ?`, calendarID, uid))
}

func (s *Store) GetEventByHref(ctx context.Context, calendarID int64, href string) (*store.Event, error) {
	return scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE calendar_id = ? AND href = ?`, calendarID, href))
}

func (s *Store) ListEvents(ctx context.Context, calendarID int64) ([]*store.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventCols+` FROM events WHERE calendar_id = ? ORDER BY id`, calendarID)
}

func (s *Store) ListEventsByStatus(ctx context.Context, calendarID int64, status store.SyncStatus) ([]*store.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventCols+` FROM events WHERE calendar_id = ? AND status = ? ORDER BY id`, calendarID, status)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]*store.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) EventETags(ctx context.Context, calendarID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT href, etag FROM events WHERE calendar_id = ? AND href != ''`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	etags := make(map[string]string)
	for rows.Next() {
		var href, etag string
		if err := rows.Scan(&href, &etag); err != nil {
			return nil, err
		}
		etags[href] = etag
	}
	return etags, rows.Err()
}

func (s *Store) UpsertEvent(ctx context.Context, e *store.Event) error {
	if e.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO events (calendar_id, uid, href, etag, raw, summary, location, start_at, end_at, status, server_raw, server_etag)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.CalendarID, e.UID, e.Href, e.ETag, e.Raw, e.Summary, e.Location,
			nullTime(e.Start), nullTime(e.End), e.Status, e.ServerRaw, e.ServerETag)
		if err != nil {
			return err
		}
		e.ID, err = res.LastInsertId()
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET calendar_id = ?, uid = ?, href = ?, etag = ?, raw = ?, summary = ?, location = ?,
		   start_at = ?, end_at = ?, status = ?, server_raw = ?, server_etag = ? WHERE id = ?`,
		e.CalendarID, e.UID, e.Href, e.ETag, e.Raw, e.Summary, e.Location,
		nullTime(e.Start), nullTime(e.End), e.Status, e.ServerRaw, e.ServerETag, e.ID)
	return err
}

func (s *Store) DeleteEvent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) SetEventStatus(ctx context.Context, id int64, status store.SyncStatus) error {
	var res sql.Result
	var err error
	if status == store.StatusConflict {
		res, err = s.db.ExecContext(ctx, `UPDATE events SET status = ? WHERE id = ?`, status, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE events SET status = ?, server_raw = NULL, server_etag = '' WHERE id = ?`, status, id)
	}
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) MarkConflict(ctx context.Context, id int64, serverRaw []byte, serverETag string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ?, server_raw = ?, server_etag = ? WHERE id = ?`,
		store.StatusConflict, serverRaw, serverETag, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) EnqueueChange(ctx context.Context, ch *store.PendingChange) error {
	if ch.EnqueuedAt.IsZero() {
		ch.EnqueuedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id, seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, seq FROM pending_changes WHERE event_id = ?`, ch.EventID).Scan(&id, &seq)
	switch {
	case err == nil:
		// Replace in place, keeping the original sequence number.
		if _, err := tx.ExecContext(ctx,
			`UPDATE pending_changes SET kind = ?, payload = ?, notify = ?, enqueued_at = ? WHERE id = ?`,
			ch.Kind, ch.Payload, ch.Notify, ch.EnqueuedAt, id); err != nil {
			return err
		}
		ch.ID, ch.Seq = id, seq
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM pending_changes`).Scan(&seq)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO pending_changes (event_id, kind, payload, notify, seq, enqueued_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ch.EventID, ch.Kind, ch.Payload, ch.Notify, seq, ch.EnqueuedAt)
		if err != nil {
			return err
		}
		ch.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		ch.Seq = seq
	default:
		return err
	}
	return tx.Commit()
}

const pendingCols = `id, event_id, kind, payload, notify, seq, enqueued_at`

func scanPending(row interface{ Scan(...any) error }) (*store.PendingChange, error) {
	p := &store.PendingChange{}
	err := row.Scan(&p.ID, &p.EventID, &p.Kind, &p.Payload, &p.Notify, &p.Seq, &p.EnqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) PendingForEvent(ctx context.Context, eventID int64) (*store.PendingChange, error) {
	return scanPending(s.db.QueryRowContext(ctx,
		`SELECT `+pendingCols+` FROM pending_changes WHERE event_id = ?`, eventID))
}

func (s *Store) ListPending(ctx context.Context, calendarID int64) ([]*store.PendingChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.event_id, p.kind, p.payload, p.notify, p.seq, p.enqueued_at
		 FROM pending_changes p JOIN events e ON e.id = p.event_id
		 WHERE e.calendar_id = ? ORDER BY p.seq`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.PendingChange
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePending(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) AcknowledgePending(ctx context.Context, pendingID, eventID int64, href, etag string, deleted bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = ?`, pendingID)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if deleted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, eventID); err != nil {
			return err
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE events SET href = ?, etag = ?, status = ?, server_raw = NULL, server_etag = '' WHERE id = ?`,
			href, etag, store.StatusSynced, eventID)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
