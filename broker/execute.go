package broker

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/simplenas/nas-gateway/sessions"
	"github.com/simplenas/nas-gateway/tokens"
	"github.com/simplenas/nas-gateway/upstream"
)

// Operation is an upstream-calling closure executed under the relogin
// policy. It receives a pair the broker currently believes to be live and
// returns whatever the upstream said; the broker inspects the error to
// decide on recovery.
type Operation func(ctx context.Context, auth upstream.Auth) error

// Execute runs op for a browser session with automatic relogin: on the
// upstream's session-invalid signal it replays the vaulted login exactly
// once, persists the refreshed pair and retries op once. Everything else is
// terminal on the first attempt.
func (b *Broker) Execute(ctx context.Context, localID string, op Operation) error {
	return b.execute(ctx, sessionTransport{repo: b.repos.Sessions}, localID, op)
}

// ExecuteToken is Execute for the bearer transport.
func (b *Broker) ExecuteToken(ctx context.Context, token string, op Operation) error {
	return b.execute(ctx, tokenTransport{repo: b.repos.Tokens}, token, op)
}

func (b *Broker) execute(ctx context.Context, t transport, id string, op Operation) error {
	auth, err := t.get(id)
	if err != nil {
		// Lazy eviction may have just destroyed the record; drop its
		// vaulted credentials with it.
		b.repos.Vault.Clear(t.key(id))
		return ErrUnauthenticated
	}

	err = op(ctx, auth)
	if upstream.Classify(err) != upstream.StatusSessionInvalid {
		if err == nil {
			t.touch(id)
		}
		return b.recast(err)
	}

	log.Info().Str("identity", redact(id)).Msg("upstream reported session invalid, attempting relogin")
	auth, err = b.reloginOnce(ctx, t, id, auth)
	if err != nil {
		return err
	}

	err = op(ctx, auth)
	if upstream.Classify(err) == upstream.StatusSessionInvalid {
		// A freshly minted session was rejected straight away. Retrying
		// further would only hammer a broken upstream; drop the identity.
		t.remove(id)
		b.repos.Vault.Clear(t.key(id))
		log.Warn().Str("identity", redact(id)).Msg("retry after relogin still rejected, dropping identity")
		return errors.Wrap(ErrSessionExpired, "retry after relogin rejected")
	}
	if err == nil {
		t.touch(id)
	}
	return b.recast(err)
}

// reloginOnce replays the vaulted login for an identity. Concurrent callers
// that hit the invalid-session signal at the same time share a single
// upstream login through the singleflight group.
func (b *Broker) reloginOnce(ctx context.Context, t transport, id string, stale upstream.Auth) (upstream.Auth, error) {
	key := t.key(id)
	v, err, _ := b.relogin.Do(key, func() (interface{}, error) {
		// Another request may have finished the relogin while this one
		// waited; a changed sid means the record is already fresh.
		if auth, err := t.get(id); err == nil && auth.SID != stale.SID {
			return auth, nil
		}

		cred, ok := b.repos.Vault.Get(key)
		if !ok {
			t.remove(id)
			return nil, errors.Wrap(ErrSessionExpired, "no vaulted credentials")
		}

		auth, err := b.upstream.Login(ctx, cred.Account, cred.Password)
		if err != nil {
			// Clearing both stops repeated attempts against credentials the
			// upstream just refused.
			b.repos.Vault.Clear(key)
			t.remove(id)
			log.Warn().Err(err).Str("account", cred.Account).Msg("automatic relogin failed")
			return nil, errors.Wrap(ErrSessionExpired, "relogin failed")
		}

		if err := t.update(id, auth); err != nil {
			return nil, errors.Wrap(ErrSessionExpired, "record removed during relogin")
		}
		log.Info().Str("account", cred.Account).Str("identity", redact(id)).Msg("automatic relogin succeeded")
		return auth, nil
	})
	if err != nil {
		return upstream.Auth{}, err
	}
	return v.(upstream.Auth), nil
}

// recast converts errors leaving the broker: classified upstream API errors
// pass through verbatim, anything else is a transport failure.
func (b *Broker) recast(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *upstream.APIError
	if stderrors.As(err, &apiErr) {
		return err
	}
	return errors.Wrap(ErrTransport, err.Error())
}

// transport abstracts the two record stores behind the operations the retry
// policy needs, so the policy exists exactly once.
type transport interface {
	key(id string) string
	get(id string) (upstream.Auth, error)
	update(id string, auth upstream.Auth) error
	touch(id string)
	remove(id string)
}

type sessionTransport struct {
	repo sessions.Repo
}

func (t sessionTransport) key(id string) string { return cookieKeyPrefix + id }

func (t sessionTransport) get(id string) (upstream.Auth, error) {
	record, err := t.repo.Get(id)
	if err != nil {
		return upstream.Auth{}, err
	}
	return upstream.Auth{SID: record.SID, SynoToken: record.SynoToken}, nil
}

func (t sessionTransport) update(id string, auth upstream.Auth) error {
	return t.repo.UpdateUpstream(id, auth.SID, auth.SynoToken)
}

func (t sessionTransport) touch(id string) { _ = t.repo.Touch(id) }

func (t sessionTransport) remove(id string) { _ = t.repo.Delete(id) }

type tokenTransport struct {
	repo tokens.Repo
}

func (t tokenTransport) key(id string) string { return bearerKeyPrefix + id }

func (t tokenTransport) get(id string) (upstream.Auth, error) {
	record, err := t.repo.Get(id)
	if err != nil {
		return upstream.Auth{}, err
	}
	return upstream.Auth{SID: record.SID, SynoToken: record.SynoToken}, nil
}

func (t tokenTransport) update(id string, auth upstream.Auth) error {
	return t.repo.UpdateUpstream(id, auth.SID, auth.SynoToken)
}

// Bearer tokens carry no activity clock; nothing to touch.
func (t tokenTransport) touch(string) {}

func (t tokenTransport) remove(id string) { _ = t.repo.Delete(id) }
