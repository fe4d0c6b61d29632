// Package upstreamfake provides a scriptable in-memory stand-in for the NAS
// used by broker and handler tests.
package upstreamfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/simplenas/nas-gateway/upstream"
)

// FakeUpstream accepts the accounts registered with AddAccount and mints a
// fresh sid for every successful login. Failures can be scripted per call
// with FailNextLogin, and sessions can be invalidated out-of-band with
// Invalidate to exercise the relogin path.
type FakeUpstream struct {
	lock         sync.Mutex
	accounts     map[string]string // account -> password
	live         map[string]bool   // sid -> accepted
	loginCount   int
	logoutCount  int
	nextLoginErr error
	counter      int
}

func NewFakeUpstream() *FakeUpstream {
	return &FakeUpstream{
		accounts: make(map[string]string),
		live:     make(map[string]bool),
	}
}

func (f *FakeUpstream) AddAccount(account, password string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.accounts[account] = password
}

// FailNextLogin makes the next Login call return err instead of a session.
func (f *FakeUpstream) FailNextLogin(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.nextLoginErr = err
}

// Invalidate marks a sid as no longer accepted, as DSM does when sessions
// expire server-side.
func (f *FakeUpstream) Invalidate(sid string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.live[sid] = false
}

func (f *FakeUpstream) LoginCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.loginCount
}

func (f *FakeUpstream) LogoutCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.logoutCount
}

func (f *FakeUpstream) Login(_ context.Context, account, password string) (upstream.Auth, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.loginCount++
	if f.nextLoginErr != nil {
		err := f.nextLoginErr
		f.nextLoginErr = nil
		return upstream.Auth{}, err
	}

	stored, ok := f.accounts[account]
	if !ok || stored != password {
		return upstream.Auth{}, &upstream.APIError{Code: upstream.CodeNoSuchAccount}
	}

	f.counter++
	sid := fmt.Sprintf("sid-%d", f.counter)
	f.live[sid] = true
	return upstream.Auth{SID: sid, SynoToken: fmt.Sprintf("token-%d", f.counter)}, nil
}

func (f *FakeUpstream) Logout(_ context.Context, auth upstream.Auth) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.logoutCount++
	delete(f.live, auth.SID)
	return nil
}

func (f *FakeUpstream) Validate(_ context.Context, auth upstream.Auth) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.live[auth.SID]
}

// Accepted reports whether an operation against this sid would succeed; the
// error it returns for a dead sid matches the DSM session-invalid envelope.
func (f *FakeUpstream) Accepted(auth upstream.Auth) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if !f.live[auth.SID] {
		return &upstream.APIError{Code: upstream.CodeSessionInvalid}
	}
	return nil
}
