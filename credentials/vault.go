// Package credentials holds the account/password pairs needed to replay a
// login when the NAS silently invalidates a session. Entries live in process
// memory only, are never written to disk, and are scoped to the lifetime of
// the record that created them. Keeping recoverable passwords around is a
// deliberate, reviewed trade-off: without them transparent relogin is
// impossible.
package credentials

import "sync"

type Credential struct {
	Account  string
	Password string
}

type Vault struct {
	mu      sync.RWMutex
	entries map[string]Credential
}

func NewVault() *Vault {
	return &Vault{
		entries: make(map[string]Credential),
	}
}

// Put stores the credential for an identity. Overwriting is intentional: a
// fresh login always replaces whatever was vaulted before.
func (v *Vault) Put(id, account, password string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.entries[id] = Credential{Account: account, Password: password}
}

func (v *Vault) Get(id string) (Credential, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	cred, ok := v.entries[id]
	return cred, ok
}

func (v *Vault) Clear(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.entries, id)
}
