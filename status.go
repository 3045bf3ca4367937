package cascadadb

import "github.com/cascadadb/cascadadb/internal/dbstatus"

// Status is a point-in-time snapshot of the engine's monotonic counters
// (§6 Status counters). It is a plain alias of dbstatus.Snapshot so
// callers outside the module never need to import an internal package to
// read it.
type Status = dbstatus.Snapshot

// Status returns a snapshot of db's counters.
func (db *DB) Status() Status {
	return db.status.Snapshot()
}
