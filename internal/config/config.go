package config

import "time"

type Config interface {
	EnvConfig
	UpstreamConfig
	StoreConfig
	CorsConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
}

type UpstreamConfig interface {
	GetUpstreamBaseURL() string
	GetUpstreamTimeout() time.Duration
	GetUpstreamInsecureTLS() bool
}

type StoreConfig interface {
	GetSessionFile() string
	GetTokenFile() string
	GetSessionTTL() time.Duration
	GetTokenTTL() time.Duration
	GetSweepInterval() time.Duration
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Upstream
	Store
	Cors
}

func New() Config {
	return mainConfig{}
}
