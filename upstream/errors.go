package upstream

import (
	"errors"
	"fmt"
)

// DSM error codes the gateway cares about. Everything else is passed through
// untouched.
const (
	// SYNO.API.Auth login failures
	CodeNoSuchAccount    = 400
	CodeAccountDisabled  = 401
	CodePermissionDenied = 402
	CodeOTPRequired      = 403
	CodeOTPInvalid       = 404

	// CodeSessionInvalid is the upstream's "session expired or invalid"
	// signal. It is the only code that triggers automatic relogin.
	CodeSessionInvalid = 119
)

// APIError is a non-success envelope from the upstream API.
type APIError struct {
	Code int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream error code %d", e.Code)
}

// InvalidCredentials reports whether this error, returned from a login call,
// means the account or password was rejected.
func (e *APIError) InvalidCredentials() bool {
	switch e.Code {
	case CodeNoSuchAccount, CodeAccountDisabled, CodePermissionDenied, CodeOTPRequired, CodeOTPInvalid:
		return true
	}
	return false
}

// Status is the closed classification of an upstream call result.
type Status int

const (
	StatusSuccess Status = iota
	StatusSessionInvalid
	StatusOther
)

// Classify maps the outcome of an upstream call onto the retry policy's
// vocabulary. Only the upstream's own session-invalid code classifies as
// StatusSessionInvalid; transport failures and every other API code are
// StatusOther and are never eligible for relogin.
func Classify(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == CodeSessionInvalid {
		return StatusSessionInvalid
	}
	return StatusOther
}
