// Package keyring implements component A, KeyRing: JWKS lifecycle,
// JWS signing/verification, and JWE wrap/unwrap for clients that register
// an encryption key.
//
// Grounded on the teacher's server/signer package (Signer interface,
// local.go's rotation-aware signing, rotation.go's rotationStrategy) and
// server/oauth2.go's signatureAlgorithm/alg-allowlist handling, generalized
// from dex's single RSA-only signing key to the multi-algorithm,
// multi-tenant signing set this spec requires.
package keyring

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
)

func jsonDecode(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

// SupportedSigningAlgs enumerates the JWS algorithms this KeyRing is willing to sign
// with, per spec.md §4.A.
var SupportedSigningAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.ES256, jose.ES384, jose.ES512, jose.EdDSA,
}

// SupportedKeyAlgs / SupportedEncAlgs are the JWE key-management and
// content-encryption algorithms KeyRing supports for client ID-token /
// userinfo encryption, per spec.md §4.A.
var SupportedKeyAlgs = []jose.KeyAlgorithm{
	jose.RSA_OAEP, jose.RSA_OAEP_256, jose.ECDH_ES, jose.ECDH_ES_A256KW,
}

var SupportedEncAlgs = []jose.ContentEncryption{
	jose.A128GCM, jose.A256GCM, jose.A128CBC_HS256,
}

// SigningKey pairs a private key with the alg it is used for and its
// expiry for verification purposes (retained keys validate signatures
// after rotation but never sign new payloads).
type SigningKey struct {
	KeyID     string
	Alg       jose.SignatureAlgorithm
	Private   interface{}
	Public    *jose.JSONWebKey
	RotatedAt time.Time
	// VerifyUntil is zero for the active key; set for retained keys.
	VerifyUntil time.Time
}

// KeySet is the persisted rotation state: one active key per algorithm
// plus retained keys still valid for verification, mirroring the
// teacher's storage.Keys{SigningKey, SigningKeyPub, VerificationKeys}
// generalized across multiple algorithms instead of one.
type KeySet struct {
	Active   map[jose.SignatureAlgorithm]*SigningKey
	Retained []*SigningKey
}

// Store persists a tenant's KeySet. Implementations must support
// optimistic, single-writer updates (spec.md §4.A: "KeyRing owns the
// active signing key and rotation set").
type Store interface {
	Get(ctx context.Context, tenantID string) (KeySet, error)
	Put(ctx context.Context, tenantID string, ks KeySet) error
}

// JWKSFetcher fetches a client's JWKS from its jwks_uri, with a short TTL
// cache, per spec.md §4.A. Inline jwks documents are not handled here.
type JWKSFetcher struct {
	httpClient *http.Client
	ttl        time.Duration

	mu    sync.Mutex
	cache map[string]cachedJWKS
}

type cachedJWKS struct {
	keys     jose.JSONWebKeySet
	fetchedAt time.Time
}

func NewJWKSFetcher(httpClient *http.Client, ttl time.Duration) *JWKSFetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JWKSFetcher{httpClient: httpClient, ttl: ttl, cache: make(map[string]cachedJWKS)}
}

// Fetch returns the JWKS document at jwksURI, serving a cached copy when
// younger than the fetcher's TTL (spec.md §4.A: "short cache, TTL
// configurable"), grounded on the same TTL-cache shape ClientRegistry (4.O)
// uses for jwks_uri revalidation.
func (f *JWKSFetcher) Fetch(ctx context.Context, jwksURI string) (jose.JSONWebKeySet, error) {
	f.mu.Lock()
	cached, ok := f.cache[jwksURI]
	f.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) < f.ttl {
		return cached.keys, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("keyring: build jwks request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("keyring: fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKeySet{}, fmt.Errorf("keyring: jwks fetch %q returned status %d", jwksURI, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := jsonDecode(resp.Body, &set); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("keyring: decode jwks: %w", err)
	}

	f.mu.Lock()
	f.cache[jwksURI] = cachedJWKS{keys: set, fetchedAt: time.Now()}
	f.mu.Unlock()
	return set, nil
}

// KeyRing mints/rotates keys and signs/verifies/encrypts on behalf of the
// tenant identified at construction time.
type KeyRing struct {
	tenantID string
	store    Store
	fetcher  *JWKSFetcher
	// allowNone mirrors the active certification profile's allowNoneAlgorithm
	// flag (component O); KeyRing rejects alg:none unless this is true.
	allowNone bool
}

func New(tenantID string, store Store, fetcher *JWKSFetcher, allowNone bool) *KeyRing {
	return &KeyRing{tenantID: tenantID, store: store, fetcher: fetcher, allowNone: allowNone}
}

// EnsureKey returns the active signing key for alg, generating and
// persisting one if none exists yet.
func (k *KeyRing) EnsureKey(ctx context.Context, alg jose.SignatureAlgorithm) (*SigningKey, error) {
	ks, err := k.store.Get(ctx, k.tenantID)
	if err != nil {
		return nil, fmt.Errorf("keyring: load keyset: %w", err)
	}
	if ks.Active == nil {
		ks.Active = make(map[jose.SignatureAlgorithm]*SigningKey)
	}
	if existing, ok := ks.Active[alg]; ok {
		return existing, nil
	}
	sk, err := generateSigningKey(alg)
	if err != nil {
		return nil, err
	}
	ks.Active[alg] = sk
	if err := k.store.Put(ctx, k.tenantID, ks); err != nil {
		return nil, fmt.Errorf("keyring: persist keyset: %w", err)
	}
	return sk, nil
}

// Rotate retires the active key for alg into the retained set (kept valid
// for verification until validFor elapses) and mints a fresh active key,
// mirroring server/rotation.go's rotationStrategy.
func (k *KeyRing) Rotate(ctx context.Context, alg jose.SignatureAlgorithm, validFor time.Duration, now time.Time) (*SigningKey, error) {
	ks, err := k.store.Get(ctx, k.tenantID)
	if err != nil {
		return nil, fmt.Errorf("keyring: load keyset: %w", err)
	}
	if ks.Active == nil {
		ks.Active = make(map[jose.SignatureAlgorithm]*SigningKey)
	}
	if old, ok := ks.Active[alg]; ok {
		old.VerifyUntil = now.Add(validFor)
		ks.Retained = append(ks.Retained, old)
	}
	sk, err := generateSigningKey(alg)
	if err != nil {
		return nil, err
	}
	sk.RotatedAt = now
	ks.Active[alg] = sk
	ks.Retained = pruneExpired(ks.Retained, now)
	if err := k.store.Put(ctx, k.tenantID, ks); err != nil {
		return nil, fmt.Errorf("keyring: persist keyset: %w", err)
	}
	return sk, nil
}

func pruneExpired(retained []*SigningKey, now time.Time) []*SigningKey {
	out := retained[:0]
	for _, r := range retained {
		if r.VerifyUntil.After(now) {
			out = append(out, r)
		}
	}
	return out
}

func generateSigningKey(alg jose.SignatureAlgorithm) (*SigningKey, error) {
	switch alg {
	case jose.RS256:
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("keyring: generate rsa key: %w", err)
		}
		return wrapRSA(priv, alg)
	case jose.ES256:
		return wrapEC(elliptic.P256(), alg)
	case jose.ES384:
		return wrapEC(elliptic.P384(), alg)
	case jose.ES512:
		return wrapEC(elliptic.P521(), alg)
	case jose.EdDSA:
		return wrapEd25519()
	default:
		return nil, fmt.Errorf("keyring: unsupported signing algorithm %q", alg)
	}
}

func wrapRSA(priv *rsa.PrivateKey, alg jose.SignatureAlgorithm) (*SigningKey, error) {
	kid, err := keyThumbprint(priv.Public())
	if err != nil {
		return nil, err
	}
	pub := jose.JSONWebKey{Key: priv.Public(), KeyID: kid, Algorithm: string(alg), Use: "sig"}
	return &SigningKey{KeyID: kid, Alg: alg, Private: priv, Public: &pub}, nil
}

func wrapEC(curve elliptic.Curve, alg jose.SignatureAlgorithm) (*SigningKey, error) {
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keyring: generate ec key: %w", err)
	}
	kid, err := keyThumbprint(priv.Public())
	if err != nil {
		return nil, err
	}
	pub := jose.JSONWebKey{Key: priv.Public(), KeyID: kid, Algorithm: string(alg), Use: "sig"}
	return &SigningKey{KeyID: kid, Alg: alg, Private: priv, Public: &pub}, nil
}

func wrapEd25519() (*SigningKey, error) {
	pubKey, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keyring: generate ed25519 key: %w", err)
	}
	kid, err := keyThumbprint(pubKey)
	if err != nil {
		return nil, err
	}
	pub := jose.JSONWebKey{Key: pubKey, KeyID: kid, Algorithm: string(jose.EdDSA), Use: "sig"}
	return &SigningKey{KeyID: kid, Alg: jose.EdDSA, Private: priv, Public: &pub}, nil
}

func keyThumbprint(pub interface{}) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	thumb, err := jwk.Thumbprint(sha256.New())
	if err != nil {
		return "", fmt.Errorf("keyring: thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumb), nil
}

// Sign produces a compact JWS over payload using the tenant's active key
// for alg. An alg of "" or "none" is rejected unless allowNone is set on
// this KeyRing (the active certification profile's allowNoneAlgorithm).
func (k *KeyRing) Sign(ctx context.Context, alg jose.SignatureAlgorithm, payload []byte) (string, error) {
	if alg == "none" || alg == "" {
		if !k.allowNone {
			return "", fmt.Errorf("keyring: alg:none rejected by active profile")
		}
		return signNone(payload)
	}
	sk, err := k.EnsureKey(ctx, alg)
	if err != nil {
		return "", err
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: sk.Private}, &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]interface{}{"kid": sk.KeyID},
	})
	if err != nil {
		return "", fmt.Errorf("keyring: new signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("keyring: sign: %w", err)
	}
	return jws.CompactSerialize()
}

func signNone(payload []byte) (string, error) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	body := base64.RawURLEncoding.EncodeToString(payload)
	return header + "." + body + ".", nil
}

// ErrFailedVerify is returned by VerifySignature when no active or
// retained key validates the JWS.
var ErrFailedVerify = fmt.Errorf("keyring: failed to verify signature")

// VerifySignature verifies a compact JWS against this tenant's active and
// retained signing keys, trying the key named by the JWS's kid header
// first and falling back to every other key otherwise. Grounded on the
// teacher's internal/jwt.StorageKeySet.VerifySignature, generalized from
// a single storage-backed RSA/EC keyset to KeyRing's multi-algorithm,
// rotation-aware KeySet.
func (k *KeyRing) VerifySignature(ctx context.Context, compactJWS string) ([]byte, error) {
	jws, err := jose.ParseSigned(compactJWS, SupportedSigningAlgs)
	if err != nil {
		return nil, fmt.Errorf("keyring: parse jws: %w", err)
	}
	keyID := ""
	for _, sig := range jws.Signatures {
		keyID = sig.Header.KeyID
		break
	}

	ks, err := k.store.Get(ctx, k.tenantID)
	if err != nil {
		return nil, fmt.Errorf("keyring: load keyset: %w", err)
	}
	var candidates []*jose.JSONWebKey
	for _, sk := range ks.Active {
		candidates = append(candidates, sk.Public)
	}
	for _, sk := range ks.Retained {
		candidates = append(candidates, sk.Public)
	}

	for _, pub := range candidates {
		if keyID != "" && pub.KeyID != keyID {
			continue
		}
		if payload, err := jws.Verify(pub); err == nil {
			return payload, nil
		}
	}
	return nil, ErrFailedVerify
}

// JWKS returns the public JWKS view: every active key's public half plus
// every retained key still within its VerifyUntil window, per spec.md §4.A
// and the /jwks.json contract in §6.
func (k *KeyRing) JWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	ks, err := k.store.Get(ctx, k.tenantID)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("keyring: load keyset: %w", err)
	}
	var set jose.JSONWebKeySet
	for _, sk := range ks.Active {
		set.Keys = append(set.Keys, *sk.Public)
	}
	now := time.Now()
	for _, sk := range ks.Retained {
		if sk.VerifyUntil.After(now) {
			set.Keys = append(set.Keys, *sk.Public)
		}
	}
	return set, nil
}

// EncryptFor wraps plaintext as a compact JWE addressed to the client's
// encryption key (resolved out-of-band via jwks/jwks_uri and passed in as
// clientKey), using one of SupportedKeyAlgs/SupportedEncAlgs.
func EncryptFor(clientKey jose.JSONWebKey, keyAlg jose.KeyAlgorithm, enc jose.ContentEncryption, plaintext []byte) (string, error) {
	if !keyAlgSupported(keyAlg) {
		return "", fmt.Errorf("keyring: unsupported key algorithm %q", keyAlg)
	}
	if !encAlgSupported(enc) {
		return "", fmt.Errorf("keyring: unsupported content encryption %q", enc)
	}
	encrypter, err := jose.NewEncrypter(enc, jose.Recipient{Algorithm: keyAlg, Key: clientKey}, nil)
	if err != nil {
		return "", fmt.Errorf("keyring: new encrypter: %w", err)
	}
	obj, err := encrypter.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("keyring: encrypt: %w", err)
	}
	return obj.CompactSerialize()
}

// Decrypt opens a compact JWE addressed to one of this tenant's encryption
// keys (server-held, e.g. for JAR request objects encrypted to the
// server's key per spec.md §4.J).
func (k *KeyRing) Decrypt(ctx context.Context, serverKey interface{}, compactJWE string) ([]byte, error) {
	obj, err := jose.ParseEncrypted(compactJWE,
		[]jose.KeyAlgorithm{jose.RSA_OAEP, jose.RSA_OAEP_256, jose.ECDH_ES, jose.ECDH_ES_A256KW},
		[]jose.ContentEncryption{jose.A128GCM, jose.A256GCM, jose.A128CBC_HS256})
	if err != nil {
		return nil, fmt.Errorf("keyring: parse jwe: %w", err)
	}
	plain, err := obj.Decrypt(serverKey)
	if err != nil {
		return nil, fmt.Errorf("keyring: decrypt: %w", err)
	}
	return plain, nil
}

func keyAlgSupported(alg jose.KeyAlgorithm) bool {
	for _, a := range SupportedKeyAlgs {
		if a == alg {
			return true
		}
	}
	return false
}

func encAlgSupported(enc jose.ContentEncryption) bool {
	for _, e := range SupportedEncAlgs {
		if e == enc {
			return true
		}
	}
	return false
}
