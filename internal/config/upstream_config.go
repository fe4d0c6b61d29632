package config

import "time"

type Upstream struct{}

var _ UpstreamConfig = Upstream{}

// GetUpstreamBaseURL returns the DSM entry.cgi endpoint all upstream calls go
// through.
func (Upstream) GetUpstreamBaseURL() string {
	return GetEnv("NAS_BASE_URL", "https://localhost:5001/webapi/entry.cgi")
}

func (Upstream) GetUpstreamTimeout() time.Duration {
	return GetDurationEnv("NAS_TIMEOUT", 30*time.Second)
}

// GetUpstreamInsecureTLS controls certificate verification towards the NAS.
// Most DSM boxes run with self-signed certificates, so this defaults to true.
func (Upstream) GetUpstreamInsecureTLS() bool {
	return GetEnv("NAS_INSECURE_TLS", "true") == "true"
}
