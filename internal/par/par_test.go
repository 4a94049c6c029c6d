package par

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"sync"
	"sync/atomic"
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

func TestPushConsumeRoundTrip(t *testing.T) {
	s := New(newMemKV())
	ctx := context.Background()

	rec, err := s.Push(ctx, "client-1", map[string]string{"scope": "openid"}, time.Minute)
	require.NoError(t, err)
	require.Contains(t, rec.RequestURI, requestURIPrefix)

	got, err := s.Consume(ctx, rec.RequestURI, "client-1")
	require.NoError(t, err)
	require.Equal(t, "openid", got.Params["scope"])
}

func TestConsumeRejectsClientMismatch(t *testing.T) {
	s := New(newMemKV())
	ctx := context.Background()

	rec, err := s.Push(ctx, "client-1", map[string]string{}, time.Minute)
	require.NoError(t, err)

	_, err = s.Consume(ctx, rec.RequestURI, "other-client")
	require.Error(t, err)
}

func TestConsumeIsSingleUse(t *testing.T) {
	s := New(newMemKV())
	ctx := context.Background()

	rec, err := s.Push(ctx, "client-1", map[string]string{}, time.Minute)
	require.NoError(t, err)

	_, err = s.Consume(ctx, rec.RequestURI, "client-1")
	require.NoError(t, err)
	_, err = s.Consume(ctx, rec.RequestURI, "client-1")
	require.Error(t, err)
}

func TestConsumeConcurrentCallsSucceedAtMostOnce(t *testing.T) {
	s := New(newMemKV())
	ctx := context.Background()

	rec, err := s.Push(ctx, "client-1", map[string]string{}, time.Minute)
	require.NoError(t, err)

	const attempts = 20
	var successes int32
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if _, err := s.Consume(ctx, rec.RequestURI, "client-1"); err == nil {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, successes)
}

func TestDecodeJARVerifiesSignature(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: priv}, nil)
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]interface{}{"client_id": "client-1", "response_type": "code"})
	jws, err := signer.Sign(payload)
	require.NoError(t, err)
	compact, err := jws.CompactSerialize()
	require.NoError(t, err)

	jwks := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: priv.Public(), KeyID: "k1", Algorithm: "ES256", Use: "sig"}}}

	claims, err := DecodeJAR(context.Background(), compact, jwks, nil, jose.JSONWebKey{})
	require.NoError(t, err)
	require.Equal(t, "client-1", claims["client_id"])
}

func TestMergeClaimsJARWins(t *testing.T) {
	query := map[string]string{"state": "abc", "scope": "openid"}
	jar := JARClaims{"scope": "openid profile"}
	merged := MergeClaims(query, jar)
	require.Equal(t, "openid profile", merged["scope"])
	require.Equal(t, "abc", merged["state"])
}
