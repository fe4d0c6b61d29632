package config

import "time"

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetSessionFile() string {
	return GetEnv("SESSION_FILE", "session.json")
}

func (Store) GetTokenFile() string {
	return GetEnv("TOKEN_FILE", "tokens.json")
}

func (Store) GetSessionTTL() time.Duration {
	return GetDurationEnv("SESSION_TTL", 365*24*time.Hour)
}

func (Store) GetTokenTTL() time.Duration {
	return GetDurationEnv("TOKEN_TTL", 30*24*time.Hour)
}

func (Store) GetSweepInterval() time.Duration {
	return GetDurationEnv("SWEEP_INTERVAL", time.Hour)
}
