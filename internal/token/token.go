// Package token implements component I, TokenService: ID/access/refresh
// token minting, introspection, revocation checks, and token exchange
// (RFC 8693). Grounded on server/oauth2.go's claims-to-JWS pipeline and
// server/introspection.go's cache shape, rebuilt on go-jose/v4 via
// internal/keyring and on internal/refresh for the refresh-token side.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/authrim/authrim/internal/authorize"
	"github.com/authrim/authrim/internal/keyring"
	"github.com/authrim/authrim/internal/oidcerr"
	"github.com/authrim/authrim/internal/refresh"
	"github.com/authrim/authrim/internal/revocation"
)

// IDTokenParams are the inputs to MintIDToken per spec.md §4.I.
type IDTokenParams struct {
	Issuer       string
	Subject      string
	Audience     []string
	AuthTime     time.Time
	Nonce        string
	ACR          string
	AMR          []string
	ExpiresIn    time.Duration
	Alg          string
	AccessToken  string // non-empty when response_type includes token -> at_hash
	Code         string // non-empty when response_type includes code -> c_hash
	State        string // non-empty when response_type includes id_token w/o code, for s_hash
}

// Service is TokenService.
type Service struct {
	keys       *keyring.KeyRing
	refresh    *refresh.Store
	revocation *revocation.Index

	mu           sync.Mutex
	cache        map[string]cachedIntrospection
	cacheTTL     time.Duration
	cacheEnabled bool
}

// New builds a Service. introspectionCacheEnabled mirrors
// introspectionCache.enabled from spec.md §4.I: when false the
// introspection cache is disabled outright and introspectionCacheTTL is
// ignored. When enabled, a non-positive TTL falls back to the spec's
// default of 60 seconds.
func New(keys *keyring.KeyRing, refreshStore *refresh.Store, revocationIdx *revocation.Index, introspectionCacheEnabled bool, introspectionCacheTTL time.Duration) *Service {
	if introspectionCacheEnabled && introspectionCacheTTL <= 0 {
		introspectionCacheTTL = 60 * time.Second
	}
	return &Service{
		keys:         keys,
		refresh:      refreshStore,
		revocation:   revocationIdx,
		cache:        make(map[string]cachedIntrospection),
		cacheTTL:     introspectionCacheTTL,
		cacheEnabled: introspectionCacheEnabled,
	}
}

// MintIDToken signs an ID token JWS carrying the hybrid-flow hashes
// required by the response_type in play, per spec.md §4.I.
func (s *Service) MintIDToken(ctx context.Context, p IDTokenParams) (string, error) {
	now := time.Now()
	claims := map[string]interface{}{
		"iss": p.Issuer,
		"sub": p.Subject,
		"aud": p.Audience,
		"exp": now.Add(p.ExpiresIn).Unix(),
		"iat": now.Unix(),
	}
	if !p.AuthTime.IsZero() {
		claims["auth_time"] = p.AuthTime.Unix()
	}
	if p.Nonce != "" {
		claims["nonce"] = p.Nonce
	}
	if p.ACR != "" {
		claims["acr"] = p.ACR
	}
	if len(p.AMR) > 0 {
		claims["amr"] = p.AMR
	}
	if p.AccessToken != "" {
		h, err := authorize.HalfHash(p.Alg, p.AccessToken)
		if err != nil {
			return "", err
		}
		claims["at_hash"] = h
	}
	if p.Code != "" {
		h, err := authorize.HalfHash(p.Alg, p.Code)
		if err != nil {
			return "", err
		}
		claims["c_hash"] = h
	}
	if p.State != "" {
		h, err := authorize.HalfHash(p.Alg, p.State)
		if err != nil {
			return "", err
		}
		claims["s_hash"] = h
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return s.keys.Sign(ctx, jwsAlg(p.Alg), payload)
}

// AccessTokenParams are the inputs to MintAccessToken.
type AccessTokenParams struct {
	Issuer      string
	Subject     string
	ClientID    string
	Scope       string
	ExpiresIn   time.Duration
	Opaque      bool
	Alg         string
	DPoPJKT     string // set when the client bound this token via DPoP
}

// AccessToken is the minted artifact plus its introspection-relevant
// metadata.
type AccessToken struct {
	Value     string
	TokenType string // "Bearer" or "DPoP"
	ExpiresAt time.Time
}

// MintAccessToken mints either an opaque handle or a signed JWS,
// embedding cnf.jkt when the request was DPoP-bound, per spec.md §4.I.
func (s *Service) MintAccessToken(ctx context.Context, p AccessTokenParams) (AccessToken, error) {
	now := time.Now()
	expiresAt := now.Add(p.ExpiresIn)
	tokenType := "Bearer"
	if p.DPoPJKT != "" {
		tokenType = "DPoP"
	}
	if p.Opaque {
		handle, err := newOpaqueHandle()
		if err != nil {
			return AccessToken{}, err
		}
		return AccessToken{Value: handle, TokenType: tokenType, ExpiresAt: expiresAt}, nil
	}

	claims := map[string]interface{}{
		"iss": p.Issuer, "sub": p.Subject, "client_id": p.ClientID,
		"scope": p.Scope, "exp": expiresAt.Unix(), "iat": now.Unix(),
	}
	if p.DPoPJKT != "" {
		claims["cnf"] = map[string]string{"jkt": p.DPoPJKT}
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return AccessToken{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	jws, err := s.keys.Sign(ctx, jwsAlg(p.Alg), payload)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Value: jws, TokenType: tokenType, ExpiresAt: expiresAt}, nil
}

func newOpaqueHandle() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DPoPThumbprint computes cnf.jkt = SHA-256(client_pub_jwk) per spec.md §4.I.
func DPoPThumbprint(jwkThumbprint []byte) string {
	sum := sha256.Sum256(jwkThumbprint)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// MintRefreshFamily starts a new refresh-token family for a grant.
func (s *Service) MintRefreshFamily(ctx context.Context, req refresh.MintRequest) (refresh.Family, error) {
	return s.refresh.Mint(ctx, req)
}

// RotateRefresh rotates a refresh token, per spec.md §4.F via §4.I's grant handler.
func (s *Service) RotateRefresh(ctx context.Context, oldJti string) (refresh.Family, error) {
	return s.refresh.Rotate(ctx, oldJti)
}

// IntrospectionResult is RFC 7662's response shape.
type IntrospectionResult struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub,omitempty"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	CnfJKT    string `json:"cnf_jkt,omitempty"`
}

type cachedIntrospection struct {
	result    IntrospectionResult
	fetchedAt time.Time
}

// Introspect checks RevocationIndex and returns the cached-or-fresh
// result, keyed on (token_hash, client_id) per spec.md §4.I.
func (s *Service) Introspect(ctx context.Context, jti, clientID string, lookup func(ctx context.Context, jti string) (IntrospectionResult, bool, error)) (IntrospectionResult, error) {
	tokenHash := hashToken(jti)
	cacheKey := fmt.Sprintf("%s:%s", tokenHash, clientID)

	if s.cacheEnabled {
		s.mu.Lock()
		if cached, ok := s.cache[cacheKey]; ok && time.Since(cached.fetchedAt) < s.cacheTTL {
			s.mu.Unlock()
			return cached.result, nil
		}
		s.mu.Unlock()
	}

	revoked, err := s.revocation.IsRevoked(ctx, jti)
	if err != nil {
		return IntrospectionResult{}, err
	}
	var result IntrospectionResult
	if !revoked {
		found, ok, lookupErr := lookup(ctx, jti)
		if lookupErr != nil {
			return IntrospectionResult{}, lookupErr
		}
		if ok {
			result = found
			result.Active = true
		}
	}

	if s.cacheEnabled {
		s.mu.Lock()
		s.cache[cacheKey] = cachedIntrospection{result: result, fetchedAt: time.Now()}
		s.mu.Unlock()
	}
	return result, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ExchangeRequest is the RFC 8693 token-exchange request shape.
type ExchangeRequest struct {
	SubjectToken     string
	SubjectTokenType string
	RequestedScope   string
	ActorToken       string
	Audience         string
}

// ExchangeResult carries the issued access token plus an optional
// delegation/impersonation act claim chain.
type ExchangeResult struct {
	AccessToken AccessToken
	ActClaim    map[string]interface{}
}

// Exchange maps subject_token to a user (via resolveSubject, supplied by
// the caller since subject resolution depends on ClientRegistry/PolicyEngine
// policy this package doesn't own) and mints a delegated access token.
func (s *Service) Exchange(ctx context.Context, req ExchangeRequest, resolveSubject func(ctx context.Context, subjectToken, tokenType string) (subject string, err error), p AccessTokenParams) (ExchangeResult, error) {
	subject, err := resolveSubject(ctx, req.SubjectToken, req.SubjectTokenType)
	if err != nil {
		return ExchangeResult{}, err
	}
	p.Subject = subject
	if req.RequestedScope != "" {
		p.Scope = req.RequestedScope
	}
	at, err := s.MintAccessToken(ctx, p)
	if err != nil {
		return ExchangeResult{}, err
	}
	var act map[string]interface{}
	if req.ActorToken != "" {
		act = map[string]interface{}{"sub": req.ActorToken}
	}
	return ExchangeResult{AccessToken: at, ActClaim: act}, nil
}

func jwsAlg(alg string) jose.SignatureAlgorithm { return jose.SignatureAlgorithm(alg) }
