// Package par implements component J, PARStore/JAR: pushed-authorization-
// request mint/consume and JWT-secured-authorization-request (JAR)
// decode/verify. Grounded on server/authorizationhandlers.go's validation
// pipeline (reused for push(), minus interactive steps) and
// server/signer's JOSE verification idiom, generalized to go-jose/v4
// since the spec requires JWE-then-JWS unwrapping the teacher never does.
package par

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/authrim/authrim/internal/oidcerr"
	"github.com/authrim/authrim/storage"
)

// MaxTTL bounds PAR record lifetime per spec.md §3.
const MaxTTL = 600 * time.Second

const requestURIPrefix = "urn:ietf:params:oauth:request_uri:"

// Record is the durable, single-consume pushed-request payload.
type Record struct {
	RequestURI string
	ClientID   string
	Params     map[string]string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Store is PARStore.
type Store struct {
	kv storage.KV
}

func New(kv storage.KV) *Store {
	return &Store{kv: kv}
}

func key(requestURI string) string { return fmt.Sprintf("par/%s", requestURI) }

func newOpaque() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Push validates params exactly as /authorize would (caller's
// responsibility — the same AuthorizeEngine.Validate is reused), then
// stores them under a fresh request_uri with TTL ≤ 600s, single-consume.
func (s *Store) Push(ctx context.Context, clientID string, params map[string]string, ttl time.Duration) (Record, error) {
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	opaque, err := newOpaque()
	if err != nil {
		return Record{}, err
	}
	now := time.Now()
	rec := Record{
		RequestURI: requestURIPrefix + opaque,
		ClientID:   clientID,
		Params:     params,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := s.kv.PutIfAbsent(ctx, key(rec.RequestURI), encode(rec), ttl); err != nil {
		// newOpaque draws 32 bytes from crypto/rand, so ErrAlreadyExists
		// here means the namespace is corrupted rather than a real retry
		// case; surface it as a server error either way.
		return Record{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return rec, nil
}

// Consume checks client_id match and atomically deletes the record via
// storage.KV.GetAndDelete (single-consume, per spec.md §4.J): two
// concurrent Consume calls for the same request_uri can never both
// observe success, since only one GetAndDelete call can win the read.
func (s *Store) Consume(ctx context.Context, requestURI, clientID string) (Record, error) {
	raw, err := s.kv.GetAndDelete(ctx, key(requestURI))
	if err != nil {
		return Record{}, oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidRequest, "unknown or expired request_uri")
	}

	rec, decodeErr := decode(raw)
	if decodeErr != nil {
		return Record{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, decodeErr)
	}
	if time.Now().After(rec.ExpiresAt) {
		return Record{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidRequest, "request_uri expired")
	}
	if rec.ClientID != clientID {
		return Record{}, oidcerr.Protocol(oidcerr.InvalidRequest, "client_id does not match pushed request")
	}
	return rec, nil
}

// Decrypter unwraps a JWE using the server's own encryption key, for the
// case where the outer JAR object is a 5-part JWE.
type Decrypter interface {
	Decrypt(ctx context.Context, serverKey jose.JSONWebKey, compactJWE string) ([]byte, error)
}

// JARClaims is the minimal set of claims JAR requires to reconcile
// against the query string, per spec.md §4.J.
type JARClaims map[string]interface{}

// DecodeJAR decodes a `request` or fetched `request_uri` JWT value.
// If it is a JWE (5 segments), it is decrypted first using decrypter; the
// inner (or, if not a JWE, outer) value is a JWS verified against
// clientJWKS. Claims returned here override duplicates in the query per
// spec.md §4.J; a client_id mismatch is the caller's responsibility to
// check.
func DecodeJAR(ctx context.Context, raw string, clientJWKS jose.JSONWebKeySet, decrypter Decrypter, serverKey jose.JSONWebKey) (JARClaims, error) {
	payload := raw
	if strings.Count(raw, ".") == 4 {
		plain, err := decrypter.Decrypt(ctx, serverKey, raw)
		if err != nil {
			return nil, oidcerr.Protocol(oidcerr.InvalidRequest, "failed to decrypt request object")
		}
		payload = string(plain)
	}

	sig, err := jose.ParseSigned(payload, supportedAlgs())
	if err != nil {
		return nil, oidcerr.Protocol(oidcerr.InvalidRequest, "malformed request object")
	}

	var verified []byte
	var verifyErr error
	for _, k := range clientJWKS.Keys {
		verified, verifyErr = sig.Verify(k)
		if verifyErr == nil {
			break
		}
	}
	if verifyErr != nil {
		return nil, oidcerr.Protocol(oidcerr.InvalidRequest, "request object signature verification failed")
	}

	var claims JARClaims
	if err := json.Unmarshal(verified, &claims); err != nil {
		return nil, oidcerr.Wrap(oidcerr.KindValidation, oidcerr.InvalidRequest, err)
	}
	return claims, nil
}

func supportedAlgs() []jose.SignatureAlgorithm {
	return []jose.SignatureAlgorithm{jose.RS256, jose.ES256, jose.ES384, jose.ES512, jose.EdDSA}
}

// MergeClaims overlays JAR claims on top of the original query values;
// JAR always wins on conflict per spec.md §4.J. client_id mismatch
// between the query and the JAR claims is the caller's responsibility:
// check before calling this.
func MergeClaims(query map[string]string, jar JARClaims) map[string]string {
	merged := make(map[string]string, len(query))
	for k, v := range query {
		merged[k] = v
	}
	for k, v := range jar {
		if s, ok := v.(string); ok {
			merged[k] = s
		}
	}
	return merged
}
