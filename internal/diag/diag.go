// Package diag keeps a bounded window of recent replication errors for
// operator visibility (spec §10.6, supplemented). This is deliberately not a
// historian: no time-series of process values is kept, only the last N
// replication failures, optionally persisted to SQLite across restarts.
package diag

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/plcgateway/gateway/internal/replication"
)

// ErrorEntry is one recorded replication failure.
type ErrorEntry struct {
	At      time.Time
	Mapping string
	Error   string
}

// Ring is a fixed-capacity ring buffer of the most recent ErrorEntry values.
// Oldest entries are overwritten once capacity is reached.
type Ring struct {
	mu       sync.Mutex
	entries  []ErrorEntry
	capacity int
	next     int
	full     bool

	db *sql.DB
}

// NewRing builds a Ring holding at most capacity entries in memory. A
// capacity <= 0 falls back to 256, matching a typical short operator-facing
// window rather than an unbounded log.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{entries: make([]ErrorEntry, capacity), capacity: capacity}
}

// OpenSQLite attaches optional SQLite persistence at path, creating the
// backing table if needed. Every recorded entry is also appended there, and
// rows older than the ring's most recent capacity entries are pruned on each
// insert, so the bounded window survives process restarts for postmortem
// review without growing into an unbounded historian.
func (r *Ring) OpenSQLite(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	const schema = `CREATE TABLE IF NOT EXISTS replication_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TEXT NOT NULL,
		mapping TEXT NOT NULL,
		error TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return err
	}
	r.mu.Lock()
	r.db = db
	r.mu.Unlock()
	return nil
}

// Close releases the SQLite handle, if one is open.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Record appends an entry, overwriting the oldest one once capacity is
// reached, and mirrors it to SQLite if persistence is enabled.
func (r *Ring) Record(entry ErrorEntry) {
	r.mu.Lock()
	r.entries[r.next] = entry
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
	db := r.db
	r.mu.Unlock()

	if db != nil {
		db.Exec(
			"INSERT INTO replication_errors (occurred_at, mapping, error) VALUES (?, ?, ?)",
			entry.At.Format(time.RFC3339Nano), entry.Mapping, entry.Error,
		)
		db.Exec(
			"DELETE FROM replication_errors WHERE id <= (SELECT MAX(id) FROM replication_errors) - ?",
			r.capacity,
		)
	}
}

// Recent returns entries oldest-first, in chronological order.
func (r *Ring) Recent() []ErrorEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]ErrorEntry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]ErrorEntry, r.capacity)
	copy(out, r.entries[r.next:])
	copy(out[r.capacity-r.next:], r.entries[:r.next])
	return out
}

// AttachToEngine subscribes the ring to every mapping's OnError callback on
// an already-constructed replication.Engine mapping list, so failures
// surfaced by the engine land in the diagnostic window without replication
// code needing to know diag exists.
func AttachToEngine(mappings []replication.DataMapping, ring *Ring) []replication.DataMapping {
	out := make([]replication.DataMapping, len(mappings))
	for i, m := range mappings {
		prior := m.OnError
		m.OnError = func(mapping string, err error) {
			ring.Record(ErrorEntry{At: time.Now(), Mapping: mapping, Error: err.Error()})
			if prior != nil {
				prior(mapping, err)
			}
		}
		out[i] = m
	}
	return out
}
