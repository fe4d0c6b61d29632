package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

const tokenByteLength = 32

// Record binds an opaque bearer token to upstream authentication state. It
// is a transport identity of its own: revoking a token never touches the
// cookie session minted by the same login, and vice versa.
type Record struct {
	Token     string    `json:"token"`
	SID       string    `json:"sid"`
	SynoToken string    `json:"syno_token"`
	Account   string    `json:"account,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// generateToken mints a 256-bit random bearer token in URL-safe base64.
func generateToken() (string, error) {
	bytes := make([]byte, tokenByteLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
