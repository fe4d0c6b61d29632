package sessions

import "time"

// Record is the upstream authentication state bound to one browser session.
// The local id is issued by the transport layer (a cookie value); the SID and
// SynoToken belong to the NAS and can be replaced underneath the record by an
// automatic relogin without changing its identity or expiry.
type Record struct {
	ID           string    `json:"session_id"`
	SID          string    `json:"sid"`
	SynoToken    string    `json:"syno_token"`
	Account      string    `json:"account,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the record's fixed lifetime has passed.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
