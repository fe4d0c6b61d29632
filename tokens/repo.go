package tokens

import "errors"

// ErrNotFound is returned when no live record exists for a token. Expired
// records are reported as not found, never as live.
var ErrNotFound = errors.New("token record not found")

type Repo interface {
	// Create mints a fresh token, stores the record under it and returns it.
	Create(record Record) (string, error)

	// Get returns the live record for a token, evicting it first if expired.
	Get(token string) (Record, error)

	// UpdateUpstream swaps in a fresh sid/token pair after a relogin,
	// preserving the record's creation and expiry clock.
	UpdateUpstream(token, sid, synoToken string) error

	Delete(token string) error

	// Sweep removes every expired record and returns the tokens that went,
	// so callers can tear down state keyed by them.
	Sweep() []string

	// List returns a snapshot of all records for diagnostics.
	List() []Record
}
