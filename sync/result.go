// Package sync pulls server changes into the local store, pushes the
// offline mutation queue back, and coordinates both per account.
package sync

import "time"

// SyncResult summarizes one complete run for an account.
type SyncResult struct {
	AccountID int64
	// Pulled counts events created, updated or removed locally from
	// server changes.
	Pulled int
	// Pushed counts queued mutations uploaded successfully.
	Pushed int
	// Conflicts counts events parked in CONFLICT during this run.
	Conflicts int
	// Failed counts queued mutations that errored without being
	// conflicts; they stay queued for the next run.
	Failed int
	// ParseErrors counts server objects that could not be parsed and
	// were stored raw.
	ParseErrors int
	// Failures carries one message per calendar that could not be
	// synced at all.
	Failures []string
	// FirstError is the first calendar-level error of the run, for
	// callers that want a single cause to display.
	FirstError error
	Duration   time.Duration
}

func (r *SyncResult) merge(other *SyncResult) {
	r.Pulled += other.Pulled
	r.Pushed += other.Pushed
	r.Conflicts += other.Conflicts
	r.Failed += other.Failed
	r.ParseErrors += other.ParseErrors
	r.Failures = append(r.Failures, other.Failures...)
}
