package challenge

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

func (m *memKV) List(_ context.Context, prefix string, _ string) ([]string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		out = append(out, k)
	}
	_ = prefix
	return out, "", nil
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

func TestStoreAndConsumeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	c := Challenge{Type: TypeOTP, ID: "abc123", Payload: []byte("hashed-code"), IssuedAt: now, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, s.Store(ctx, c))

	got, err := s.Consume(ctx, TypeOTP, "abc123")
	require.NoError(t, err)
	require.Equal(t, []byte("hashed-code"), got.Payload)
}

func TestConsumeIsOneTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	c := Challenge{Type: TypeWebAuthn, ID: "wa-1", Payload: []byte("x"), IssuedAt: now, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, s.Store(ctx, c))

	_, err := s.Consume(ctx, TypeWebAuthn, "wa-1")
	require.NoError(t, err)

	_, err = s.Consume(ctx, TypeWebAuthn, "wa-1")
	require.Error(t, err)
}

func TestStoreRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	c := Challenge{Type: TypePARJti, ID: "par-1", Payload: []byte("x"), IssuedAt: now, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, s.Store(ctx, c))
	err := s.Store(ctx, c)
	require.Error(t, err)
}

func TestStoreRejectsTTLOverMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	c := Challenge{Type: TypeDID, ID: "did-1", Payload: []byte("x"), IssuedAt: now, ExpiresAt: now.Add(20 * time.Minute)}
	err := s.Store(ctx, c)
	require.Error(t, err)
}
