package keyring

import (
	"context"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	sets map[string]KeySet
}

func newMemStore() *memStore { return &memStore{sets: make(map[string]KeySet)} }

func (m *memStore) Get(ctx context.Context, tenantID string) (KeySet, error) {
	return m.sets[tenantID], nil
}

func (m *memStore) Put(ctx context.Context, tenantID string, ks KeySet) error {
	m.sets[tenantID] = ks
	return nil
}

func TestEnsureKeyIsIdempotent(t *testing.T) {
	kr := New("tenant-a", newMemStore(), nil, false)
	ctx := context.Background()

	k1, err := kr.EnsureKey(ctx, jose.RS256)
	require.NoError(t, err)
	k2, err := kr.EnsureKey(ctx, jose.RS256)
	require.NoError(t, err)
	require.Equal(t, k1.KeyID, k2.KeyID)
}

func TestSignAndJWKSRoundTrip(t *testing.T) {
	kr := New("tenant-a", newMemStore(), nil, false)
	ctx := context.Background()

	jws, err := kr.Sign(ctx, jose.ES256, []byte(`{"sub":"user-1"}`))
	require.NoError(t, err)
	require.NotEmpty(t, jws)

	set, err := kr.JWKS(ctx)
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)

	obj, err := jose.ParseSigned(jws, []jose.SignatureAlgorithm{jose.ES256})
	require.NoError(t, err)
	payload, err := obj.Verify(set.Keys[0].Key)
	require.NoError(t, err)
	require.JSONEq(t, `{"sub":"user-1"}`, string(payload))
}

func TestSignEdDSAAndVerifySignature(t *testing.T) {
	kr := New("tenant-a", newMemStore(), nil, false)
	ctx := context.Background()

	jws, err := kr.Sign(ctx, jose.EdDSA, []byte(`{"sub":"user-1"}`))
	require.NoError(t, err)
	require.NotEmpty(t, jws)

	payload, err := kr.VerifySignature(ctx, jws)
	require.NoError(t, err)
	require.JSONEq(t, `{"sub":"user-1"}`, string(payload))

	set, err := kr.JWKS(ctx)
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)
	require.Equal(t, string(jose.EdDSA), set.Keys[0].Algorithm)
}

func TestSignNoneRejectedUnlessAllowed(t *testing.T) {
	kr := New("tenant-a", newMemStore(), nil, false)
	_, err := kr.Sign(context.Background(), "none", []byte("x"))
	require.Error(t, err)

	allowed := New("tenant-a", newMemStore(), nil, true)
	jws, err := allowed.Sign(context.Background(), "none", []byte("x"))
	require.NoError(t, err)
	require.Contains(t, jws, ".")
}

func TestRotateRetainsOldKeyForVerification(t *testing.T) {
	kr := New("tenant-a", newMemStore(), nil, false)
	ctx := context.Background()
	now := time.Now()

	original, err := kr.EnsureKey(ctx, jose.RS256)
	require.NoError(t, err)

	rotated, err := kr.Rotate(ctx, jose.RS256, time.Hour, now)
	require.NoError(t, err)
	require.NotEqual(t, original.KeyID, rotated.KeyID)

	set, err := kr.JWKS(ctx)
	require.NoError(t, err)
	require.Len(t, set.Keys, 2)
}

func TestRotatePrunesExpiredRetainedKeys(t *testing.T) {
	kr := New("tenant-a", newMemStore(), nil, false)
	ctx := context.Background()
	now := time.Now()

	_, err := kr.EnsureKey(ctx, jose.RS256)
	require.NoError(t, err)
	_, err = kr.Rotate(ctx, jose.RS256, time.Minute, now)
	require.NoError(t, err)
	// second rotation happens after the first retained key's validity window
	_, err = kr.Rotate(ctx, jose.RS256, time.Hour, now.Add(2*time.Hour))
	require.NoError(t, err)

	set, err := kr.JWKS(ctx)
	require.NoError(t, err)
	// active key + the single still-valid retained key (the stale one pruned)
	require.Len(t, set.Keys, 2)
}
