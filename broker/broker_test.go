package broker_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/simplenas/nas-gateway/broker"
	"github.com/simplenas/nas-gateway/credentials"
	"github.com/simplenas/nas-gateway/sessions"
	"github.com/simplenas/nas-gateway/tokens"
	"github.com/simplenas/nas-gateway/upstream"
	"github.com/simplenas/nas-gateway/upstream/upstreamfake"
)

const (
	testAccount  = "admin"
	testPassword = "secret123"
	testLocalID  = "local-session-1"
)

// testFixture holds all test dependencies
type testFixture struct {
	sessionRepo *sessions.FileRepo
	tokenRepo   *tokens.FileRepo
	vault       *credentials.Vault
	nas         *upstreamfake.FakeUpstream
	broker      *broker.Broker

	mu  sync.Mutex
	now time.Time
}

func (f *testFixture) nowTime() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *testFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func setupTestFixture(t *testing.T, options ...broker.Option) *testFixture {
	t.Helper()

	f := &testFixture{
		vault: credentials.NewVault(),
		nas:   upstreamfake.NewFakeUpstream(),
		now:   time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	dir := t.TempDir()
	f.sessionRepo = sessions.NewFileRepo(filepath.Join(dir, "session.json"), sessions.WithNowTime(f.nowTime))
	f.tokenRepo = tokens.NewFileRepo(filepath.Join(dir, "tokens.json"), tokens.WithNowTime(f.nowTime))
	f.nas.AddAccount(testAccount, testPassword)

	options = append([]broker.Option{broker.WithNowTime(f.nowTime)}, options...)
	b, err := broker.New(broker.Repos{
		Sessions: f.sessionRepo,
		Tokens:   f.tokenRepo,
		Vault:    f.vault,
	}, f.nas, options...)
	require.NoError(t, err)

	f.broker = b
	return f
}

// nasOp returns an Operation that behaves like a real data call: it succeeds
// only while the fake still accepts the sid it is handed.
func (f *testFixture) nasOp(calls *[]upstream.Auth) broker.Operation {
	return func(_ context.Context, auth upstream.Auth) error {
		if calls != nil {
			*calls = append(*calls, auth)
		}
		return f.nas.Accepted(auth)
	}
}

func TestLoginAndResolve(t *testing.T) {
	f := setupTestFixture(t)

	err := f.broker.Login(context.Background(), testLocalID, testAccount, testPassword)
	require.NoError(t, err)

	auth, err := f.broker.Resolve(testLocalID)
	require.NoError(t, err)
	require.NotEmpty(t, auth.SID)
	require.NotEmpty(t, auth.SynoToken)

	record, err := f.sessionRepo.Get(testLocalID)
	require.NoError(t, err)
	require.Equal(t, testAccount, record.Account)
	require.True(t, record.ExpiresAt.After(f.nowTime()))
}

func TestLoginRejectsInvalidCredentials(t *testing.T) {
	f := setupTestFixture(t)

	err := f.broker.Login(context.Background(), testLocalID, testAccount, "wrong-password")
	require.ErrorIs(t, err, broker.ErrInvalidCredentials)

	_, err = f.broker.Resolve(testLocalID)
	require.ErrorIs(t, err, broker.ErrUnauthenticated)
}

func TestLoginRecastsTransportFailures(t *testing.T) {
	f := setupTestFixture(t)
	f.nas.FailNextLogin(errors.New("connection refused"))

	err := f.broker.Login(context.Background(), testLocalID, testAccount, testPassword)
	require.ErrorIs(t, err, broker.ErrTransport)
}

func TestLoginValidation(t *testing.T) {
	f := setupTestFixture(t)

	require.ErrorIs(t, f.broker.Login(context.Background(), "", testAccount, testPassword), broker.ErrValidation)
	require.ErrorIs(t, f.broker.Login(context.Background(), testLocalID, "", testPassword), broker.ErrValidation)
	require.ErrorIs(t, f.broker.Login(context.Background(), testLocalID, testAccount, ""), broker.ErrValidation)
}

func TestRepeatLoginReplacesSession(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))
	first, err := f.broker.Resolve(testLocalID)
	require.NoError(t, err)

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))
	second, err := f.broker.Resolve(testLocalID)
	require.NoError(t, err)

	require.NotEqual(t, first.SID, second.SID)
	records := f.sessionRepo.List()
	require.Len(t, records, 1)
}

func TestResolveUnknownSession(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.broker.Resolve("never-logged-in")
	require.ErrorIs(t, err, broker.ErrUnauthenticated)
}

func TestResolveExpiredSessionWithoutSweep(t *testing.T) {
	f := setupTestFixture(t, broker.WithSessionTTL(time.Hour))

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))
	f.advance(2 * time.Hour)

	// No sweep has run; lazy expiry on Get must still refuse the record.
	_, err := f.broker.Resolve(testLocalID)
	require.ErrorIs(t, err, broker.ErrUnauthenticated)
}

func TestExecuteRunsOperation(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))

	var calls []upstream.Auth
	err := f.broker.Execute(context.Background(), testLocalID, f.nasOp(&calls))
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Equal(t, 1, f.nas.LoginCount())
}

func TestExecuteWithoutLogin(t *testing.T) {
	f := setupTestFixture(t)

	err := f.broker.Execute(context.Background(), testLocalID, f.nasOp(nil))
	require.ErrorIs(t, err, broker.ErrUnauthenticated)
}

func TestExecuteRecoversFromInvalidSession(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))
	before, err := f.sessionRepo.Get(testLocalID)
	require.NoError(t, err)

	f.nas.Invalidate(before.SID)

	var calls []upstream.Auth
	err = f.broker.Execute(context.Background(), testLocalID, f.nasOp(&calls))
	require.NoError(t, err)

	// First attempt with the stale sid, retry with the fresh one.
	require.Len(t, calls, 2)
	require.NotEqual(t, calls[0].SID, calls[1].SID)
	require.Equal(t, 2, f.nas.LoginCount())

	after, err := f.sessionRepo.Get(testLocalID)
	require.NoError(t, err)
	require.NotEqual(t, before.SID, after.SID)
	// Relogin refreshes the pair, never the lifetime.
	require.Equal(t, before.ExpiresAt, after.ExpiresAt)
}

func TestExecuteDropsIdentityWhenRetryStillRejected(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))
	record, err := f.sessionRepo.Get(testLocalID)
	require.NoError(t, err)
	f.nas.Invalidate(record.SID)

	// Every sid is rejected, including the freshly minted one.
	op := func(_ context.Context, _ upstream.Auth) error {
		return &upstream.APIError{Code: upstream.CodeSessionInvalid}
	}
	err = f.broker.Execute(context.Background(), testLocalID, op)
	require.ErrorIs(t, err, broker.ErrSessionExpired)

	_, err = f.sessionRepo.Get(testLocalID)
	require.ErrorIs(t, err, sessions.ErrNotFound)
	_, ok := f.vault.Get("cookie:" + testLocalID)
	require.False(t, ok)
}

func TestExecuteReloginFailureClearsCredentials(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))
	record, err := f.sessionRepo.Get(testLocalID)
	require.NoError(t, err)

	f.nas.Invalidate(record.SID)
	f.nas.FailNextLogin(&upstream.APIError{Code: upstream.CodePermissionDenied})

	err = f.broker.Execute(context.Background(), testLocalID, f.nasOp(nil))
	require.ErrorIs(t, err, broker.ErrSessionExpired)

	_, err = f.sessionRepo.Get(testLocalID)
	require.ErrorIs(t, err, sessions.ErrNotFound)
	_, ok := f.vault.Get("cookie:" + testLocalID)
	require.False(t, ok)
}

func TestExecuteDoesNotReloginOnOtherErrors(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))

	op := func(_ context.Context, _ upstream.Auth) error {
		return &upstream.APIError{Code: 408} // no such file
	}
	err := f.broker.Execute(context.Background(), testLocalID, op)

	var apiErr *upstream.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 408, apiErr.Code)
	require.Equal(t, 1, f.nas.LoginCount())

	// The session survives a non-session error untouched.
	_, resolveErr := f.broker.Resolve(testLocalID)
	require.NoError(t, resolveErr)
}

func TestConcurrentReloginSharesOneLogin(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))
	record, err := f.sessionRepo.Get(testLocalID)
	require.NoError(t, err)
	f.nas.Invalidate(record.SID)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.broker.Execute(context.Background(), testLocalID, f.nasOp(nil))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	// One original login plus exactly one shared relogin.
	require.Equal(t, 2, f.nas.LoginCount())
}

func TestLogoutRemovesStateAndIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))
	require.NoError(t, f.broker.Logout(context.Background(), testLocalID))

	require.Equal(t, 1, f.nas.LogoutCount())
	_, err := f.broker.Resolve(testLocalID)
	require.ErrorIs(t, err, broker.ErrUnauthenticated)
	_, ok := f.vault.Get("cookie:" + testLocalID)
	require.False(t, ok)

	// Logging out again is silent.
	require.NoError(t, f.broker.Logout(context.Background(), testLocalID))
	require.Equal(t, 1, f.nas.LogoutCount())
}

func TestTokenLoginAndExecute(t *testing.T) {
	f := setupTestFixture(t)

	token, err := f.broker.LoginToken(context.Background(), testAccount, testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	var calls []upstream.Auth
	err = f.broker.ExecuteToken(context.Background(), token, f.nasOp(&calls))
	require.NoError(t, err)
	require.Len(t, calls, 1)
}

func TestTokenReloginRecovers(t *testing.T) {
	f := setupTestFixture(t)

	token, err := f.broker.LoginToken(context.Background(), testAccount, testPassword)
	require.NoError(t, err)

	record, err := f.tokenRepo.Get(token)
	require.NoError(t, err)
	f.nas.Invalidate(record.SID)

	err = f.broker.ExecuteToken(context.Background(), token, f.nasOp(nil))
	require.NoError(t, err)

	after, err := f.tokenRepo.Get(token)
	require.NoError(t, err)
	require.NotEqual(t, record.SID, after.SID)
}

func TestTokenAndSessionAreIndependent(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))
	token, err := f.broker.LoginToken(context.Background(), testAccount, testPassword)
	require.NoError(t, err)

	require.NoError(t, f.broker.LogoutToken(context.Background(), token))

	// The cookie session is untouched by the token revocation.
	_, err = f.broker.Resolve(testLocalID)
	require.NoError(t, err)
	_, err = f.broker.ResolveToken(token)
	require.ErrorIs(t, err, broker.ErrUnauthenticated)
}

func TestTokenExpiry(t *testing.T) {
	f := setupTestFixture(t, broker.WithTokenTTL(time.Hour))

	token, err := f.broker.LoginToken(context.Background(), testAccount, testPassword)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	_, err = f.broker.ResolveToken(token)
	require.ErrorIs(t, err, broker.ErrUnauthenticated)
}

func TestCheckReportsUpstreamValidity(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))

	status, err := f.broker.Check(context.Background(), testLocalID)
	require.NoError(t, err)
	require.True(t, status.Valid)
	require.Equal(t, testAccount, status.Account)

	record, err := f.sessionRepo.Get(testLocalID)
	require.NoError(t, err)
	f.nas.Invalidate(record.SID)

	status, err = f.broker.Check(context.Background(), testLocalID)
	require.NoError(t, err)
	require.False(t, status.Valid)
}

func TestLazyEvictionDropsVaultedCredentials(t *testing.T) {
	f := setupTestFixture(t, broker.WithSessionTTL(time.Hour))

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))
	_, ok := f.vault.Get("cookie:" + testLocalID)
	require.True(t, ok)

	f.advance(2 * time.Hour)
	_, err := f.broker.Resolve(testLocalID)
	require.ErrorIs(t, err, broker.ErrUnauthenticated)

	// The record died by expiry; its plaintext credentials go with it.
	_, ok = f.vault.Get("cookie:" + testLocalID)
	require.False(t, ok)
}

func TestExpiredTokenExecuteDropsVaultedCredentials(t *testing.T) {
	f := setupTestFixture(t, broker.WithTokenTTL(time.Hour))

	token, err := f.broker.LoginToken(context.Background(), testAccount, testPassword)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	err = f.broker.ExecuteToken(context.Background(), token, f.nasOp(nil))
	require.ErrorIs(t, err, broker.ErrUnauthenticated)

	_, ok := f.vault.Get("bearer:" + token)
	require.False(t, ok)
}

func TestSweepDropsVaultedCredentials(t *testing.T) {
	f := setupTestFixture(t, broker.WithSessionTTL(time.Hour), broker.WithTokenTTL(time.Hour))

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))
	token, err := f.broker.LoginToken(context.Background(), testAccount, testPassword)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	sessionsRemoved, tokensRemoved := f.broker.Sweep()
	require.Equal(t, 1, sessionsRemoved)
	require.Equal(t, 1, tokensRemoved)

	_, ok := f.vault.Get("cookie:" + testLocalID)
	require.False(t, ok)
	_, ok = f.vault.Get("bearer:" + token)
	require.False(t, ok)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	f := setupTestFixture(t, broker.WithSessionTTL(time.Hour), broker.WithTokenTTL(10*time.Hour))

	require.NoError(t, f.broker.Login(context.Background(), testLocalID, testAccount, testPassword))
	_, err := f.broker.LoginToken(context.Background(), testAccount, testPassword)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	sessionsRemoved, tokensRemoved := f.broker.Sweep()
	require.Equal(t, 1, sessionsRemoved)
	require.Equal(t, 0, tokensRemoved)
}
