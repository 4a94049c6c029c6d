// Package session implements component E, SessionStore: per-session
// single-writer mutation serializer. Grounded on the teacher's
// session/session.go Session type and session/manager.go lifecycle, but
// rebuilt on the actor substrate so create/touch/delete for a given
// session id always run through the same mailbox (spec.md §4.E, §5).
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/authrim/authrim/internal/oidcerr"
	"github.com/authrim/authrim/internal/shard"
	"github.com/authrim/authrim/storage"
)

// Session is the durable record owned exclusively by SessionStore.
type Session struct {
	ID                 string
	UserID              string
	AuthTime            time.Time
	Methods             []string
	ACR                 string
	AMR                 []string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	ExternalProviderID  string
	ExternalProviderSub string
	LastSeenAt          time.Time
}

func (s Session) expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Store is SessionStore.
type Store struct {
	host   storage.ActorHost
	kv     storage.KV
	router *shard.Router
}

func New(host storage.ActorHost, kv storage.KV, router *shard.Router) *Store {
	return &Store{host: host, kv: kv, router: router}
}

func key(id string) string { return fmt.Sprintf("session/%s", id) }

func (s *Store) actorFor(id string) (storage.Actor, error) {
	instance, _, _, _, err := s.router.RouteByID(shard.DomainSession, id)
	if err != nil {
		return nil, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return s.host.ActorByName(instance), nil
}

// Create persists a new session. Fails if one already exists with the
// same id, mirroring the teacher's CreateAuthRequest "ID already exists"
// contract.
func (s *Store) Create(ctx context.Context, sess Session) error {
	actor, err := s.actorFor(sess.ID)
	if err != nil {
		return err
	}
	_, err = actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
		if _, getErr := s.kv.Get(ctx, key(sess.ID)); getErr == nil {
			return nil, oidcerr.New(oidcerr.KindConflict, oidcerr.Conflict, "session already exists")
		}
		ttl := time.Until(sess.ExpiresAt)
		if ttl <= 0 {
			return nil, oidcerr.Validation("expires_at", "session already expired at creation")
		}
		if putErr := s.kv.Put(ctx, key(sess.ID), encode(sess), ttl); putErr != nil {
			return nil, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, putErr)
		}
		return nil, nil
	})
	return err
}

// Get returns the session, enforcing expiration on read per spec.md §4.E.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	actor, err := s.actorFor(id)
	if err != nil {
		return Session{}, err
	}
	val, err := actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
		return s.loadLive(ctx, id)
	})
	if err != nil {
		return Session{}, err
	}
	return val.(Session), nil
}

// loadLive fetches the session and rejects it if it has already expired,
// without deleting it (the KV TTL handles eventual cleanup).
func (s *Store) loadLive(ctx context.Context, id string) (Session, error) {
	raw, err := s.kv.Get(ctx, key(id))
	if err != nil {
		return Session{}, oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidGrant, "session not found")
	}
	sess, err := decode(raw)
	if err != nil {
		return Session{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	if sess.expired(time.Now()) {
		return Session{}, oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidGrant, "session expired")
	}
	return sess, nil
}

// Touch updates last_seen_at for an existing, live session.
func (s *Store) Touch(ctx context.Context, id string, lastSeen time.Time) error {
	actor, err := s.actorFor(id)
	if err != nil {
		return err
	}
	_, err = actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
		sess, loadErr := s.loadLive(ctx, id)
		if loadErr != nil {
			return nil, loadErr
		}
		sess.LastSeenAt = lastSeen
		ttl := time.Until(sess.ExpiresAt)
		if putErr := s.kv.Put(ctx, key(id), encode(sess), ttl); putErr != nil {
			return nil, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, putErr)
		}
		return nil, nil
	})
	return err
}

// Delete terminates a session regardless of whether it is still live.
func (s *Store) Delete(ctx context.Context, id string) error {
	actor, err := s.actorFor(id)
	if err != nil {
		return err
	}
	_, err = actor.RPC(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, s.kv.Delete(ctx, key(id))
	})
	return err
}
