package broker

import "errors"

// The error taxonomy crossing the broker boundary. Route handlers map these
// onto HTTP statuses; raw transport errors never escape the broker.
var (
	// ErrInvalidCredentials means the upstream rejected the account or
	// password on an interactive login. Never retried.
	ErrInvalidCredentials = errors.New("invalid account or password")

	// ErrSessionExpired means the upstream invalidated the session and a
	// single relogin attempt could not recover it (or none was possible).
	ErrSessionExpired = errors.New("upstream session expired")

	// ErrTransport covers network failures, timeouts and non-JSON upstream
	// responses. Surfaced as-is, never triggers relogin.
	ErrTransport = errors.New("upstream transport failure")

	// ErrUnauthenticated means no live record exists for the presented
	// identity.
	ErrUnauthenticated = errors.New("not logged in")

	// ErrValidation rejects malformed caller input before any upstream call.
	ErrValidation = errors.New("invalid request")
)
