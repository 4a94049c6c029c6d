// Package storage defines the narrow adapter contracts spec.md §6 names:
// KV, RelationalDB, and ActorHost. Engines that satisfy KV/RelationalDB
// are external collaborators (spec.md §1); this package only pins down
// the interface shape the core depends on, kept/adapted from the
// teacher's storage.Storage interface (storage/storage.go) but narrowed
// from dex's full per-entity CRUD surface to the three generic contracts
// this spec actually names.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/authrim/authrim/internal/actorhost"
)

// ErrNotFound mirrors the teacher's storage.ErrNotFound sentinel.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyExists mirrors the teacher's storage.ErrAlreadyExists sentinel.
var ErrAlreadyExists = errors.New("storage: already exists")

// KV is a minimal key-value contract: get/put with optional TTL,
// delete, and prefix listing with cursor-based pagination, per spec.md §6.
//
// GetAndDelete and PutIfAbsent are the atomic primitives one-time-use
// components (CodeStore, PARStore) need for a true verify-and-delete or
// create-rejects-on-exist without actor-level serialization: a plain
// Get-then-Delete or Get-then-Put pair lets two concurrent callers both
// observe success, which violates the single-use invariants spec.md §3
// and §4.H/§4.J require.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string, cursor string) (keys []string, nextCursor string, err error)

	// GetAndDelete atomically reads and removes key, returning ErrNotFound
	// if it does not exist.
	GetAndDelete(ctx context.Context, key string) ([]byte, error)

	// PutIfAbsent stores val under key only if key does not already
	// exist, returning ErrAlreadyExists otherwise.
	PutIfAbsent(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// RelationalDB is the narrow SQL contract, per spec.md §6. The core only
// ever calls through this interface — no component imports a database
// driver directly; concrete engines (postgres/mysql/sqlite, grounded on
// the teacher's storage/sql) are external collaborators.
type RelationalDB interface {
	Execute(ctx context.Context, sqlText string, args ...interface{}) error
	Query(ctx context.Context, sqlText string, args ...interface{}) (Rows, error)
}

// Rows is a minimal row-cursor contract, deliberately smaller than
// database/sql.Rows so a non-SQL engine (e.g. an in-memory test double)
// can satisfy it without pulling in database/sql.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
}

// ActorHost is the contract named in spec.md §6: actorByName(name)
// resolves a single-writer mailbox; fetch/rpc submit work to it.
// internal/actorhost.Host is this system's concrete implementation; the
// aliases below let components depend on the storage-level contract name
// without a second, structurally-identical-but-distinct interface.
type ActorHost = *actorhost.Host

// Actor is the per-name handle returned by ActorHost.ActorByName.
type Actor = actorhost.Actor
