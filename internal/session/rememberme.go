package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/sha3"

	"github.com/authrim/authrim/internal/oidcerr"
)

// RememberMeSigner signs the fingerprint that doubles as a continuity
// session's lookup key. Satisfied by *keyring.KeyRing; kept as an
// interface here so session does not import keyring for a single method.
type RememberMeSigner interface {
	Sign(ctx context.Context, alg jose.SignatureAlgorithm, payload []byte) (string, error)
	VerifySignature(ctx context.Context, compactJWS string) ([]byte, error)
}

// UpstreamIdentity is the subset of a federated identity (component N)
// a remember-me fingerprint is derived from.
type UpstreamIdentity struct {
	ProviderID      string
	ProviderSubject string
	Email           string
	Groups          []string
	Username        string
}

// Fingerprint hashes an upstream identity the same way the teacher's
// remember-me cookie derives its value (sha3-512 over the identity's
// distinguishing fields), generalized to also bind the provider id so
// two federated providers can never collide on the same fingerprint.
func Fingerprint(id UpstreamIdentity) string {
	h := sha3.New512()
	h.Write([]byte(id.ProviderID))
	h.Write([]byte(id.ProviderSubject))
	h.Write([]byte(id.Email))
	for _, g := range id.Groups {
		h.Write([]byte(g))
	}
	h.Write([]byte(id.Username))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// RememberMe is the "remember this browser" half of SessionStore: a
// long-lived continuity session keyed by a signed identity fingerprint,
// so a returning browser resumes without a second upstream round trip.
//
// Adapted from the teacher's internal/remember-me package: the
// storage-backed JWT keyset and bespoke ActiveSessionStorage are
// replaced by KeyRing (component A) and this package's own Store, and
// cookie construction is left to the (out of scope) transport layer —
// this type only produces the value a cookie should carry.
type RememberMe struct {
	store  *Store
	signer RememberMeSigner
	alg    jose.SignatureAlgorithm
	ttl    time.Duration
}

func NewRememberMe(store *Store, signer RememberMeSigner, alg jose.SignatureAlgorithm, ttl time.Duration) *RememberMe {
	return &RememberMe{store: store, signer: signer, alg: alg, ttl: ttl}
}

// ContinuityToken is what a transport layer should persist as the
// remember-me cookie's value and expiry.
type ContinuityToken struct {
	Value     string
	ExpiresAt time.Time
}

// Begin mints a continuity session for a freshly-authenticated upstream
// identity.
func (r *RememberMe) Begin(ctx context.Context, id UpstreamIdentity, userID string) (ContinuityToken, error) {
	signed, err := r.signer.Sign(ctx, r.alg, []byte(Fingerprint(id)))
	if err != nil {
		return ContinuityToken{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}

	now := time.Now()
	sess := Session{
		ID:                  signed,
		UserID:              userID,
		AuthTime:            now,
		CreatedAt:           now,
		ExpiresAt:           now.Add(r.ttl),
		ExternalProviderID:  id.ProviderID,
		ExternalProviderSub: id.ProviderSubject,
		LastSeenAt:          now,
	}
	if err := r.store.Create(ctx, sess); err != nil {
		return ContinuityToken{}, err
	}
	return ContinuityToken{Value: signed, ExpiresAt: sess.ExpiresAt}, nil
}

// Resume verifies a returning cookie's signature and, if it still
// belongs to a live session, touches and returns it. A caller seeing an
// error should have the transport layer unset the cookie, mirroring the
// teacher's RequestUnsetCookie branches.
func (r *RememberMe) Resume(ctx context.Context, cookieValue string) (Session, error) {
	if _, err := r.signer.VerifySignature(ctx, cookieValue); err != nil {
		return Session{}, oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidGrant, "remember-me cookie failed signature verification")
	}
	sess, err := r.store.Get(ctx, cookieValue)
	if err != nil {
		return Session{}, err
	}
	sess.LastSeenAt = time.Now()
	if err := r.store.Touch(ctx, cookieValue, sess.LastSeenAt); err != nil {
		return Session{}, err
	}
	return sess, nil
}
