package keyring

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

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
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
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

func TestKVStoreRoundTripsRotatedKeyset(t *testing.T) {
	kv := newMemKV()
	store := NewKVStore(kv)
	kr := New("tenant-a", store, nil, false)
	ctx := context.Background()

	_, err := kr.EnsureKey(ctx, jose.ES256)
	require.NoError(t, err)
	_, err = kr.Rotate(ctx, jose.ES256, time.Hour, time.Now())
	require.NoError(t, err)

	ks, err := store.Get(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, ks.Active, 1)
	require.Len(t, ks.Retained, 1)
	require.NotNil(t, ks.Active[jose.ES256].Private)
	require.NotNil(t, ks.Retained[0].Private)
}

func TestKVStoreSignVerifiesAfterReload(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()

	kr1 := New("tenant-a", NewKVStore(kv), nil, false)
	jws, err := kr1.Sign(ctx, jose.ES256, []byte("payload"))
	require.NoError(t, err)

	kr2 := New("tenant-a", NewKVStore(kv), nil, false)
	payload, err := kr2.VerifySignature(ctx, jws)
	require.NoError(t, err)
	require.Equal(t, "payload", string(payload))
}

func TestKVStoreGetMissingTenantReturnsEmpty(t *testing.T) {
	store := NewKVStore(newMemKV())
	ks, err := store.Get(context.Background(), "unknown")
	require.NoError(t, err)
	require.Empty(t, ks.Active)
}
