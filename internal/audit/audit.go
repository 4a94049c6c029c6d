// Package audit implements component R, AuditAndTombstones: the
// immutable admin-action audit trail and GDPR deletion tombstones.
// Grounded on the teacher's storage/sql/gc.go periodic-delete loop,
// generalized from "delete expired auth codes every 30s" into a
// dry-run-capable tombstone reaper, per spec.md §4.R.
package audit

import (
	"context"
	"time"

	"github.com/authrim/authrim/internal/cryptutil"
	"github.com/authrim/authrim/internal/oidcerr"
)

// Record is an immutable audit entry per spec.md §4.R.
type Record struct {
	ID     string
	Actor  string
	Action string
	Target string
	Before interface{}
	After  interface{}
	Ts     time.Time
}

// Sink appends audit records. Storage ownership lives outside this
// package (RelationalDB per §6); Trail only orders the write.
type Sink interface {
	Append(ctx context.Context, r Record) error
}

// Trail is the audit-log half of AuditAndTombstones.
type Trail struct {
	sink  Sink
	newID func() (string, error)
}

func NewTrail(sink Sink, newID func() (string, error)) *Trail {
	return &Trail{sink: sink, newID: newID}
}

// Append records a state-changing admin action, per spec.md §4.R.
func (t *Trail) Append(ctx context.Context, actor, action, target string, before, after interface{}) error {
	id, err := t.newID()
	if err != nil {
		return err
	}
	return t.sink.Append(ctx, Record{
		ID: id, Actor: actor, Action: action, Target: target,
		Before: before, After: after, Ts: time.Now(),
	})
}

// DefaultRetention is the tombstone retention window per spec.md §4.R.
const DefaultRetention = 90 * 24 * time.Hour

// Tombstone is created on user deletion and blocks re-registration of the
// same email during its retention window, per spec.md §4.R.
type Tombstone struct {
	BlindIndex string // cryptutil.HashEmail(email), tenant-scoped
	TenantID   string
	UserID     string
	DeletedAt  time.Time
	ExpiresAt  time.Time
}

// TombstoneStore persists tombstones. Backed externally (RelationalDB per
// §6); this package only owns retention/lookup policy.
type TombstoneStore interface {
	Put(ctx context.Context, t Tombstone) error
	Get(ctx context.Context, blindIndex, tenantID string) (Tombstone, bool, error)
	ListExpired(ctx context.Context, before time.Time) ([]Tombstone, error)
	Delete(ctx context.Context, blindIndex, tenantID string) error
}

// Tombstones manages GDPR deletion tombstones.
type Tombstones struct {
	store     TombstoneStore
	retention time.Duration
}

func NewTombstones(store TombstoneStore, retention time.Duration) *Tombstones {
	if retention == 0 {
		retention = DefaultRetention
	}
	return &Tombstones{store: store, retention: retention}
}

// Create writes a tombstone for a deleted user, per spec.md §4.R.
func (t *Tombstones) Create(ctx context.Context, email, tenantID, userID string) error {
	now := time.Now()
	return t.store.Put(ctx, Tombstone{
		BlindIndex: cryptutil.HashEmail(email),
		TenantID:   tenantID,
		UserID:     userID,
		DeletedAt:  now,
		ExpiresAt:  now.Add(t.retention),
	})
}

// IsEmailInTombstone blocks re-registration during retention, per spec.md
// §4.R's isEmailInTombstone(blind_index, tenant) check.
func (t *Tombstones) IsEmailInTombstone(ctx context.Context, email, tenantID string) (bool, error) {
	ts, found, err := t.store.Get(ctx, cryptutil.HashEmail(email), tenantID)
	if err != nil {
		return false, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	if !found {
		return false, nil
	}
	return time.Now().Before(ts.ExpiresAt), nil
}

// CleanupResult reports what a cleanup pass did (or would do, in dry-run).
type CleanupResult struct {
	Deleted []Tombstone
	DryRun  bool
}

// Cleanup deletes expired tombstones, or reports what it would delete
// when dryRun is set, per spec.md §4.R.
func (t *Tombstones) Cleanup(ctx context.Context, dryRun bool) (CleanupResult, error) {
	expired, err := t.store.ListExpired(ctx, time.Now())
	if err != nil {
		return CleanupResult{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	if dryRun {
		return CleanupResult{Deleted: expired, DryRun: true}, nil
	}
	for _, ts := range expired {
		if err := t.store.Delete(ctx, ts.BlindIndex, ts.TenantID); err != nil {
			return CleanupResult{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
		}
	}
	return CleanupResult{Deleted: expired}, nil
}

// RunLoop periodically invokes Cleanup, grounded on the teacher's
// storage/sql/gc.go withGC loop (time.After-driven periodic delete,
// context-cancellable).
func (t *Tombstones) RunLoop(ctx context.Context, interval time.Duration, onErr func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if _, err := t.Cleanup(ctx, false); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
