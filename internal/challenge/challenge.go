// Package challenge implements component D, ChallengeStore: short-lived,
// single-consume challenges (DID registration nonces, WebAuthn challenges,
// OTP hashes, backchannel-logout jti replay cache, PAR jti). Grounded on
// the teacher's storage.Storage one-time-use records (AuthCode/AuthRequest
// create-then-consume) but generalized to an actor-serialized KV so
// concurrent consumers of the same id race through a single mailbox
// instead of relying on the underlying store's atomicity alone.
package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/authrim/authrim/internal/oidcerr"
	"github.com/authrim/authrim/internal/shard"
	"github.com/authrim/authrim/storage"
)

// MaxTTL bounds challenge lifetime per spec.md §4.D.
const MaxTTL = 600 * time.Second

// Type discriminates the challenge namespace so the same id space can be
// reused across unrelated challenge kinds without collision.
type Type string

const (
	TypeDID             Type = "did"
	TypeWebAuthn        Type = "webauthn"
	TypeOTP             Type = "otp"
	TypeBCLReplay       Type = "bcl_jti"
	TypePARJti          Type = "par_jti"
	TypeFederationState Type = "fed_state"
)

// Challenge is the durable payload stored under (type, id).
type Challenge struct {
	Type      Type
	ID        string
	Payload   []byte
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (c Challenge) expired(now time.Time) bool { return now.After(c.ExpiresAt) }

// Store is ChallengeStore, backed by a sharded single-writer actor per id
// and a KV adapter for the actual bytes.
type Store struct {
	host   storage.ActorHost
	kv     storage.KV
	router *shard.Router
}

func New(host storage.ActorHost, kv storage.KV, router *shard.Router) *Store {
	return &Store{host: host, kv: kv, router: router}
}

func namespace(t Type, id string) string {
	return fmt.Sprintf("challenge/%s/%s", t, id)
}

// Store rejects if id already exists, per spec.md §4.D. Routed
// through the owning actor so a concurrent store/consume race on the same
// id is serialized rather than racing the KV's own atomicity guarantee.
func (s *Store) Store(ctx context.Context, c Challenge) error {
	if c.ExpiresAt.Sub(c.IssuedAt) > MaxTTL {
		return oidcerr.Validation("expires_at", "challenge ttl exceeds 600s")
	}
	key := namespace(c.Type, c.ID)
	instance, _, _, _, err := s.router.RouteByID(shard.DomainSession, c.ID)
	if err != nil {
		return oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	actor := s.host.ActorByName(instance)
	_, err = actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
		ttl := time.Until(c.ExpiresAt)
		if ttl <= 0 {
			return nil, oidcerr.Protocol(oidcerr.ExpiredToken, "challenge already expired")
		}
		if _, getErr := s.kv.Get(ctx, key); getErr == nil {
			return nil, oidcerr.New(oidcerr.KindConflict, oidcerr.Conflict, "challenge id already exists")
		}
		if putErr := s.kv.Put(ctx, key, encode(c), ttl); putErr != nil {
			return nil, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, putErr)
		}
		return nil, nil
	})
	return err
}

// Consume returns-and-deletes atomically; not_found/expired otherwise.
func (s *Store) Consume(ctx context.Context, t Type, id string) (Challenge, error) {
	key := namespace(t, id)
	instance, _, _, _, err := s.router.RouteByID(shard.DomainSession, id)
	if err != nil {
		return Challenge{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	actor := s.host.ActorByName(instance)
	val, err := actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
		raw, getErr := s.kv.Get(ctx, key)
		if getErr != nil {
			return nil, oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidGrant, "challenge not found")
		}
		c, decodeErr := decode(raw)
		if decodeErr != nil {
			return nil, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, decodeErr)
		}
		if delErr := s.kv.Delete(ctx, key); delErr != nil {
			return nil, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, delErr)
		}
		if c.expired(time.Now()) {
			return nil, oidcerr.New(oidcerr.KindValidation, oidcerr.ExpiredToken, "challenge expired")
		}
		return c, nil
	})
	if err != nil {
		return Challenge{}, err
	}
	return val.(Challenge), nil
}
