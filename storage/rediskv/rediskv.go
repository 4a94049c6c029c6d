// Package rediskv is the reference storage.KV adapter backed by Redis,
// grounded on the teacher's storage/redis/redis.go key-prefixing and TTL
// conventions (prefixed keys, context-scoped commands). It exists to
// exercise the storage.KV contract end to end, not as the production
// storage engine — per spec.md §1 the KV/SQL engines themselves remain
// external collaborators.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authrim/authrim/storage"
)

// Store implements storage.KV against a redis.UniversalClient, namespacing
// every key under prefix the way the teacher's storage/redis package
// namespaces each entity under its own constant prefix.
type Store struct {
	client redis.UniversalClient
	prefix string
}

func New(client redis.UniversalClient, prefix string) *Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rediskv: get %q: %w", key, err)
	}
	return val, nil
}

func (s *Store) Put(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), val, ttl).Err(); err != nil {
		return fmt.Errorf("rediskv: put %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("rediskv: delete %q: %w", key, err)
	}
	return nil
}

// List scans keys under prefix using SCAN with a numeric cursor, matching
// the teacher's preference for SCAN over KEYS to avoid blocking Redis on
// large keyspaces.
func (s *Store) List(ctx context.Context, prefix string, cursor string) ([]string, string, error) {
	var cur uint64
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("rediskv: invalid cursor %q: %w", cursor, err)
		}
		cur = parsed
	}

	keys, next, err := s.client.Scan(ctx, cur, s.key(prefix)+"*", 100).Result()
	if err != nil {
		return nil, "", fmt.Errorf("rediskv: scan prefix %q: %w", prefix, err)
	}

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.TrimPrefix(k, s.prefix)
	}
	nextCursor := ""
	if next != 0 {
		nextCursor = strconv.FormatUint(next, 10)
	}
	return out, nextCursor, nil
}

// PutIfAbsent is used by components that require create-rejects-on-exist
// semantics without actor-level serialization (CodeStore.Mint,
// PARStore.Push), grounded on the teacher's "ID already exists" CreateX
// contract (storage.ErrAlreadyExists). ChallengeStore does not need it:
// its Store/Consume already serialize through a single-writer actor per
// id, so a plain Get-then-Put/Delete inside that actor's RPC is already
// atomic.
func (s *Store) PutIfAbsent(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.key(key), val, ttl).Result()
	if err != nil {
		return fmt.Errorf("rediskv: setnx %q: %w", key, err)
	}
	if !ok {
		return storage.ErrAlreadyExists
	}
	return nil
}

// GetAndDelete atomically pops a value, used by CodeStore.Consume and
// PARStore.Consume's one-time-use semantics.
func (s *Store) GetAndDelete(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rediskv: getdel %q: %w", key, err)
	}
	return val, nil
}
