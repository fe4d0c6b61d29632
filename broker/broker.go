// Package broker is the single entry point request handlers use to deal with
// upstream authentication state. It resolves local identities (browser
// session cookies or bearer tokens) to live NAS credential pairs, creates and
// destroys that state on login/logout, and transparently recovers from the
// upstream silently expiring a session.
package broker

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/simplenas/nas-gateway/credentials"
	"github.com/simplenas/nas-gateway/sessions"
	"github.com/simplenas/nas-gateway/tokens"
	"github.com/simplenas/nas-gateway/upstream"
)

const (
	defaultSessionTTL = 365 * 24 * time.Hour
	defaultTokenTTL   = 30 * 24 * time.Hour

	cookieKeyPrefix = "cookie:"
	bearerKeyPrefix = "bearer:"
)

// UpstreamClient is the slice of the upstream API the broker itself needs.
// Data operations stay with the callers; they arrive here as closures via
// Execute.
type UpstreamClient interface {
	Login(ctx context.Context, account, password string) (upstream.Auth, error)
	Logout(ctx context.Context, auth upstream.Auth) error
	Validate(ctx context.Context, auth upstream.Auth) bool
}

// Repos holds all store dependencies for the Broker.
type Repos struct {
	Sessions sessions.Repo
	Tokens   tokens.Repo
	Vault    *credentials.Vault
}

type Broker struct {
	repos      Repos
	upstream   UpstreamClient
	sessionTTL time.Duration
	tokenTTL   time.Duration
	relogin    singleflight.Group
	nowTime    func() time.Time // nowTime function (injectable for testing)
}

type Option func(*Broker)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(b *Broker) {
		b.nowTime = nowFunc
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(b *Broker) {
		b.sessionTTL = ttl
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(b *Broker) {
		b.tokenTTL = ttl
	}
}

func New(repos Repos, client UpstreamClient, options ...Option) (*Broker, error) {
	if repos.Sessions == nil {
		return nil, errors.New("[broker.New] Sessions repo is required")
	}
	if repos.Tokens == nil {
		return nil, errors.New("[broker.New] Tokens repo is required")
	}
	if repos.Vault == nil {
		return nil, errors.New("[broker.New] Vault is required")
	}
	if client == nil {
		return nil, errors.New("[broker.New] upstream client is required")
	}

	b := &Broker{
		repos:      repos,
		upstream:   client,
		sessionTTL: defaultSessionTTL,
		tokenTTL:   defaultTokenTTL,
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

// Login authenticates against the upstream and binds the resulting session
// pair to the caller-supplied local identity, overwriting any prior record
// for it. The credentials are vaulted for automatic relogin.
func (b *Broker) Login(ctx context.Context, localID, account, password string) error {
	if localID == "" {
		return errors.Wrap(ErrValidation, "local session id is required")
	}
	if strings.TrimSpace(account) == "" || password == "" {
		return errors.Wrap(ErrValidation, "account and password are required")
	}

	auth, err := b.upstream.Login(ctx, account, password)
	if err != nil {
		return recastLogin(err)
	}

	now := b.nowTime()
	record := sessions.Record{
		SID:          auth.SID,
		SynoToken:    auth.SynoToken,
		Account:      account,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(b.sessionTTL),
	}
	if err := b.repos.Sessions.Upsert(localID, record); err != nil {
		return errors.Wrap(err, "[Broker.Login] store session record")
	}
	b.repos.Vault.Put(cookieKeyPrefix+localID, account, password)

	log.Info().Str("account", account).Str("session", redact(localID)).Msg("login succeeded")
	return nil
}

// LoginToken authenticates against the upstream and mints an opaque bearer
// token for clients that cannot carry cookies.
func (b *Broker) LoginToken(ctx context.Context, account, password string) (string, error) {
	if strings.TrimSpace(account) == "" || password == "" {
		return "", errors.Wrap(ErrValidation, "account and password are required")
	}

	auth, err := b.upstream.Login(ctx, account, password)
	if err != nil {
		return "", recastLogin(err)
	}

	now := b.nowTime()
	token, err := b.repos.Tokens.Create(tokens.Record{
		SID:       auth.SID,
		SynoToken: auth.SynoToken,
		Account:   account,
		CreatedAt: now,
		ExpiresAt: now.Add(b.tokenTTL),
	})
	if err != nil {
		return "", errors.Wrap(err, "[Broker.LoginToken] store token record")
	}
	b.repos.Vault.Put(bearerKeyPrefix+token, account, password)

	log.Info().Str("account", account).Str("token", redact(token)).Msg("token login succeeded")
	return token, nil
}

// Resolve returns the live upstream pair for a browser session without
// making any upstream call. This is the cheap path most requests take.
func (b *Broker) Resolve(localID string) (upstream.Auth, error) {
	record, err := b.repos.Sessions.Get(localID)
	if err != nil {
		// The record may have just died by lazy eviction; its vaulted
		// credentials must not outlive it.
		b.repos.Vault.Clear(cookieKeyPrefix + localID)
		return upstream.Auth{}, ErrUnauthenticated
	}
	_ = b.repos.Sessions.Touch(localID)
	return upstream.Auth{SID: record.SID, SynoToken: record.SynoToken}, nil
}

// ResolveToken is Resolve for the bearer transport.
func (b *Broker) ResolveToken(token string) (upstream.Auth, error) {
	record, err := b.repos.Tokens.Get(token)
	if err != nil {
		b.repos.Vault.Clear(bearerKeyPrefix + token)
		return upstream.Auth{}, ErrUnauthenticated
	}
	return upstream.Auth{SID: record.SID, SynoToken: record.SynoToken}, nil
}

// Logout runs a best-effort upstream logout, then removes the session record
// and its vault entry whatever the upstream said. A logout for an identity
// that is already gone succeeds silently.
func (b *Broker) Logout(ctx context.Context, localID string) error {
	record, err := b.repos.Sessions.Get(localID)
	if err == nil {
		_ = b.upstream.Logout(ctx, upstream.Auth{SID: record.SID, SynoToken: record.SynoToken})
	}
	_ = b.repos.Sessions.Delete(localID)
	b.repos.Vault.Clear(cookieKeyPrefix + localID)

	log.Info().Str("session", redact(localID)).Msg("logged out")
	return nil
}

// LogoutToken revokes a bearer token. The cookie session minted by the same
// upstream login, if any, stays untouched.
func (b *Broker) LogoutToken(ctx context.Context, token string) error {
	record, err := b.repos.Tokens.Get(token)
	if err == nil {
		_ = b.upstream.Logout(ctx, upstream.Auth{SID: record.SID, SynoToken: record.SynoToken})
	}
	_ = b.repos.Tokens.Delete(token)
	b.repos.Vault.Clear(bearerKeyPrefix + token)

	log.Info().Str("token", redact(token)).Msg("token revoked")
	return nil
}

// SessionStatus is the diagnostic view of one identity's state.
type SessionStatus struct {
	Account      string
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	Valid        bool
}

// Check resolves a browser session and asks the upstream whether its pair is
// still accepted. Used by explicit status endpoints only; data calls rely on
// Execute's retry instead of a validation round-trip per request.
func (b *Broker) Check(ctx context.Context, localID string) (SessionStatus, error) {
	record, err := b.repos.Sessions.Get(localID)
	if err != nil {
		b.repos.Vault.Clear(cookieKeyPrefix + localID)
		return SessionStatus{}, ErrUnauthenticated
	}
	return SessionStatus{
		Account:      record.Account,
		CreatedAt:    record.CreatedAt,
		LastActivity: record.LastActivity,
		ExpiresAt:    record.ExpiresAt,
		Valid:        b.upstream.Validate(ctx, upstream.Auth{SID: record.SID, SynoToken: record.SynoToken}),
	}, nil
}

// CheckToken is Check for the bearer transport.
func (b *Broker) CheckToken(ctx context.Context, token string) (SessionStatus, error) {
	record, err := b.repos.Tokens.Get(token)
	if err != nil {
		b.repos.Vault.Clear(bearerKeyPrefix + token)
		return SessionStatus{}, ErrUnauthenticated
	}
	return SessionStatus{
		Account:      record.Account,
		CreatedAt:    record.CreatedAt,
		LastActivity: record.CreatedAt,
		ExpiresAt:    record.ExpiresAt,
		Valid:        b.upstream.Validate(ctx, upstream.Auth{SID: record.SID, SynoToken: record.SynoToken}),
	}, nil
}

// Sessions returns a diagnostics snapshot of the cookie-bound store.
func (b *Broker) Sessions() []sessions.Record {
	return b.repos.Sessions.List()
}

// Tokens returns a diagnostics snapshot of the bearer store.
func (b *Broker) Tokens() []tokens.Record {
	return b.repos.Tokens.List()
}

// Sweep removes expired records from both stores, together with the vaulted
// credentials keyed by them. A credential entry never outlives its record.
func (b *Broker) Sweep() (sessionsRemoved, tokensRemoved int) {
	sessionIDs := b.repos.Sessions.Sweep()
	for _, id := range sessionIDs {
		b.repos.Vault.Clear(cookieKeyPrefix + id)
	}
	tokenIDs := b.repos.Tokens.Sweep()
	for _, token := range tokenIDs {
		b.repos.Vault.Clear(bearerKeyPrefix + token)
	}
	return len(sessionIDs), len(tokenIDs)
}

// recastLogin maps an upstream login failure onto the broker taxonomy.
func recastLogin(err error) error {
	var apiErr *upstream.APIError
	if stderrors.As(err, &apiErr) {
		if apiErr.InvalidCredentials() {
			return errors.Wrapf(ErrInvalidCredentials, "upstream code %d", apiErr.Code)
		}
		return err
	}
	return errors.Wrap(ErrTransport, err.Error())
}

// redact shortens identifiers for logs the way the web UI displays them.
func redact(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
