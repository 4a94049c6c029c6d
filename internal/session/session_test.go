package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authrim/authrim/internal/actorhost"
	"github.com/authrim/authrim/internal/shard"
	"github.com/authrim/authrim/storage"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (m *memKV) Put(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) List(_ context.Context, _ string, _ string) ([]string, string, error) {
	return nil, "", nil
}

func (m *memKV) GetAndDelete(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(m.data, key)
	return v, nil
}

func (m *memKV) PutIfAbsent(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return storage.ErrAlreadyExists
	}
	m.data[key] = val
	return nil
}

type memConfigStore struct {
	data map[shard.Domain]shard.Config
}

func (m *memConfigStore) Get(d shard.Domain) (shard.Config, bool, error) {
	cfg, ok := m.data[d]
	return cfg, ok, nil
}

func (m *memConfigStore) Put(d shard.Domain, cfg shard.Config) error {
	m.data[d] = cfg
	return nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	host := actorhost.NewHost(16)
	t.Cleanup(host.Close)
	router := shard.NewRouter(&memConfigStore{data: make(map[shard.Domain]shard.Config)})
	return New(host, newMemKV(), router)
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := Session{ID: "sess-1", UserID: "user-1", AuthTime: now, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.Create(ctx, sess))

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := Session{ID: "sess-2", UserID: "user-1", AuthTime: now, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.Create(ctx, sess))
	require.Error(t, s.Create(ctx, sess))
}

func TestCreateRejectsAlreadyExpiredSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := Session{ID: "sess-3", UserID: "user-1", AuthTime: now.Add(-2 * time.Hour), CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	err := s.Create(ctx, sess)
	require.Error(t, err)
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := Session{ID: "sess-4", UserID: "user-1", AuthTime: now, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.Create(ctx, sess))

	later := now.Add(5 * time.Minute)
	require.NoError(t, s.Touch(ctx, "sess-4", later))

	got, err := s.Get(ctx, "sess-4")
	require.NoError(t, err)
	require.WithinDuration(t, later, got.LastSeenAt, time.Second)
}

func TestDeleteRemovesSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := Session{ID: "sess-5", UserID: "user-1", AuthTime: now, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.Create(ctx, sess))
	require.NoError(t, s.Delete(ctx, "sess-5"))

	_, err := s.Get(ctx, "sess-5")
	require.Error(t, err)
}
