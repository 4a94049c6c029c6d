package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authrim/authrim/internal/cryptutil"
)

type memSink struct {
	mu      sync.Mutex
	records []Record
}

func (m *memSink) Append(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func TestTrailAppendAssignsIDAndTimestamp(t *testing.T) {
	sink := &memSink{}
	n := 0
	trail := NewTrail(sink, func() (string, error) { n++; return "audit-1", nil })

	err := trail.Append(context.Background(), "admin@example.com", "client.update", "client:c1", map[string]string{"name": "old"}, map[string]string{"name": "new"})
	require.NoError(t, err)
	require.Len(t, sink.records, 1)
	require.Equal(t, "audit-1", sink.records[0].ID)
	require.False(t, sink.records[0].Ts.IsZero())
}

type memTombstoneStore struct {
	mu   sync.Mutex
	data map[string]Tombstone
}

func newMemTombstoneStore() *memTombstoneStore {
	return &memTombstoneStore{data: make(map[string]Tombstone)}
}

func key(blindIndex, tenantID string) string { return tenantID + "/" + blindIndex }

func (m *memTombstoneStore) Put(_ context.Context, t Tombstone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key(t.BlindIndex, t.TenantID)] = t
	return nil
}

func (m *memTombstoneStore) Get(_ context.Context, blindIndex, tenantID string) (Tombstone, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.data[key(blindIndex, tenantID)]
	return t, ok, nil
}

func (m *memTombstoneStore) ListExpired(_ context.Context, before time.Time) ([]Tombstone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Tombstone
	for _, t := range m.data {
		if t.ExpiresAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTombstoneStore) Delete(_ context.Context, blindIndex, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key(blindIndex, tenantID))
	return nil
}

func TestCreateThenIsEmailInTombstone(t *testing.T) {
	store := newMemTombstoneStore()
	ts := NewTombstones(store, time.Hour)
	ctx := context.Background()

	require.NoError(t, ts.Create(ctx, "user@example.com", "tenant-a", "user-1"))
	inTombstone, err := ts.IsEmailInTombstone(ctx, "user@example.com", "tenant-a")
	require.NoError(t, err)
	require.True(t, inTombstone)

	inTombstone, err = ts.IsEmailInTombstone(ctx, "other@example.com", "tenant-a")
	require.NoError(t, err)
	require.False(t, inTombstone)
}

func TestIsEmailInTombstoneFalseAfterExpiry(t *testing.T) {
	store := newMemTombstoneStore()
	ts := NewTombstones(store, -time.Hour)
	ctx := context.Background()

	require.NoError(t, ts.Create(ctx, "user@example.com", "tenant-a", "user-1"))
	inTombstone, err := ts.IsEmailInTombstone(ctx, "user@example.com", "tenant-a")
	require.NoError(t, err)
	require.False(t, inTombstone)
}

func TestCleanupDryRunDoesNotDelete(t *testing.T) {
	store := newMemTombstoneStore()
	ts := NewTombstones(store, -time.Hour)
	ctx := context.Background()
	require.NoError(t, ts.Create(ctx, "user@example.com", "tenant-a", "user-1"))

	res, err := ts.Cleanup(ctx, true)
	require.NoError(t, err)
	require.Len(t, res.Deleted, 1)
	require.True(t, res.DryRun)

	_, found, _ := store.Get(ctx, cryptutil.HashEmail("user@example.com"), "tenant-a")
	require.True(t, found, "dry run must not delete")
}

func TestCleanupDeletesExpired(t *testing.T) {
	store := newMemTombstoneStore()
	ts := NewTombstones(store, -time.Hour)
	ctx := context.Background()
	require.NoError(t, ts.Create(ctx, "user@example.com", "tenant-a", "user-1"))

	res, err := ts.Cleanup(ctx, false)
	require.NoError(t, err)
	require.Len(t, res.Deleted, 1)

	_, found, _ := store.Get(ctx, cryptutil.HashEmail("user@example.com"), "tenant-a")
	require.False(t, found)
}
