// Package revocation implements component G, RevocationIndex: an O(1)
// revoked-jti lookup sharded by the jti's embedded shard id (legacy jtis
// fall back to hash-mod routing). Grounded on the teacher's
// storage.Storage revocation bookkeeping (refresh token / auth-code
// invalidation) but generalized into its own actor-backed index per
// spec.md §4.G.
package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/authrim/authrim/internal/oidcerr"
	"github.com/authrim/authrim/internal/shard"
	"github.com/authrim/authrim/storage"
)

// Record is the durable payload for a revoked jti.
type Record struct {
	Jti       string
	RevokedAt time.Time
	Reason    string
	ExpiresAt time.Time
}

// Index is RevocationIndex.
type Index struct {
	host   storage.ActorHost
	kv     storage.KV
	router *shard.Router
}

func New(host storage.ActorHost, kv storage.KV, router *shard.Router) *Index {
	return &Index{host: host, kv: kv, router: router}
}

func key(jti string) string { return fmt.Sprintf("revocation/%s", jti) }

func (idx *Index) actorFor(jti string) (storage.Actor, error) {
	instance, _, _, _, err := idx.router.RouteByID(shard.DomainRevocation, jti)
	if err != nil {
		return nil, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return idx.host.ActorByName(instance), nil
}

// Revoke stores {jti,revoked_at,reason} until exp, per spec.md §4.G.
func (idx *Index) Revoke(ctx context.Context, jti string, exp time.Time, reason string) error {
	actor, err := idx.actorFor(jti)
	if err != nil {
		return err
	}
	_, err = actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
		ttl := time.Until(exp)
		if ttl <= 0 {
			return nil, nil
		}
		rec := Record{Jti: jti, RevokedAt: time.Now(), Reason: reason, ExpiresAt: exp}
		if putErr := idx.kv.Put(ctx, key(jti), encode(rec), ttl); putErr != nil {
			return nil, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, putErr)
		}
		return nil, nil
	})
	return err
}

// IsRevoked is an O(1) membership check.
func (idx *Index) IsRevoked(ctx context.Context, jti string) (bool, error) {
	actor, err := idx.actorFor(jti)
	if err != nil {
		return false, err
	}
	val, err := actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
		_, getErr := idx.kv.Get(ctx, key(jti))
		if getErr == storage.ErrNotFound {
			return false, nil
		}
		if getErr != nil {
			return nil, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, getErr)
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return val.(bool), nil
}

// Get returns the full revocation record, used by audit tooling to report
// why a token was revoked.
func (idx *Index) Get(ctx context.Context, jti string) (Record, error) {
	actor, err := idx.actorFor(jti)
	if err != nil {
		return Record{}, err
	}
	val, err := actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
		raw, getErr := idx.kv.Get(ctx, key(jti))
		if getErr != nil {
			return nil, oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidGrant, "jti not revoked")
		}
		return decode(raw)
	})
	if err != nil {
		return Record{}, err
	}
	return val.(Record), nil
}
