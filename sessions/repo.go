package sessions

import "errors"

// ErrNotFound is returned when no live record exists for an id. Expired
// records are reported as not found, never as live.
var ErrNotFound = errors.New("session record not found")

type Repo interface {
	// Upsert creates or replaces the record for an id. Replacing is an
	// intentional overwrite: a fresh login for the same browser session
	// discards the old upstream state entirely.
	Upsert(id string, record Record) error

	// Get returns the live record for an id. An expired record is evicted
	// and reported as ErrNotFound, regardless of whether a sweep has run.
	Get(id string) (Record, error)

	// Touch updates the record's last-activity timestamp.
	Touch(id string) error

	// UpdateUpstream swaps in a fresh sid/token pair after a relogin,
	// preserving the record's creation and expiry clock.
	UpdateUpstream(id, sid, synoToken string) error

	Delete(id string) error

	// Sweep removes every expired record and returns the ids that went, so
	// callers can tear down state keyed by them.
	Sweep() []string

	// List returns a snapshot of all records for diagnostics.
	List() []Record
}
