// Package code implements component H, CodeStore: authorization-code
// mint/consume, one-time, PKCE-bound. Grounded on the teacher's
// storage.AuthCode shape and server/authcodehandlers.go's PKCE
// verification (calculateCodeChallenge), rebuilt against storage.KV
// directly since code consumption does not need actor serialization
// beyond what the KV's atomic get-and-delete already provides.
package code

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/authrim/authrim/internal/oidcerr"
	"github.com/authrim/authrim/storage"
)

// MaxTTL bounds code lifetime per spec.md §3.
const MaxTTL = 600 * time.Second

// MinCodeLength is the minimum opaque code length per spec.md §3
// ("≥128 chars base64url").
const MinCodeLength = 128

// PKCE carries the challenge/method bound at /authorize time.
type PKCE struct {
	Challenge string
	Method    string // "S256"
}

// AuthorizationCode is the durable, single-consume record.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	RedirectURI string
	Scope       string
	Subject     string
	Nonce       string
	PKCE        *PKCE
	AuthTime    time.Time
	AMR         []string
	MaxAge      int
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Store is CodeStore.
type Store struct {
	kv storage.KV
}

func New(kv storage.KV) *Store {
	return &Store{kv: kv}
}

func key(code string) string { return fmt.Sprintf("code/%s", code) }

// NewCode generates a cryptographically secure, ≥128-char base64url code.
func NewCode() (string, error) {
	buf := make([]byte, 96) // 96 bytes -> 128 base64url chars
	if _, err := rand.Read(buf); err != nil {
		return "", oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Mint stores a fresh authorization code.
func (s *Store) Mint(ctx context.Context, c AuthorizationCode) error {
	if c.ExpiresAt.Sub(c.IssuedAt) > MaxTTL {
		return oidcerr.Validation("expires_at", "authorization code ttl exceeds 600s")
	}
	if len(c.Code) < MinCodeLength {
		return oidcerr.Validation("code", "authorization code too short")
	}
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		return oidcerr.Validation("expires_at", "authorization code already expired")
	}
	if err := s.kv.PutIfAbsent(ctx, key(c.Code), encode(c), ttl); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return oidcerr.New(oidcerr.KindConflict, oidcerr.Conflict, "authorization code already exists")
		}
		return oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return nil
}

// Consume implements spec.md §4.H: atomic verify-and-delete via
// storage.KV.GetAndDelete, so two concurrent Consume calls for the same
// code can never both observe success — only one GetAndDelete call can
// win the read, per spec.md §3's "consume(c) succeeds at most once"
// invariant. Any mismatch (client, redirect_uri, PKCE) invalidates the
// grant without leaking which field failed.
func (s *Store) Consume(ctx context.Context, codeVal, clientID, redirectURI, codeVerifier string) (AuthorizationCode, error) {
	raw, err := s.kv.GetAndDelete(ctx, key(codeVal))
	if err != nil {
		return AuthorizationCode{}, oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidGrant, "invalid or expired code")
	}

	c, decodeErr := decode(raw)
	if decodeErr != nil {
		return AuthorizationCode{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, decodeErr)
	}
	if time.Now().After(c.ExpiresAt) {
		return AuthorizationCode{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidGrant, "invalid or expired code")
	}
	if c.ClientID != clientID || c.RedirectURI != redirectURI {
		return AuthorizationCode{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidGrant, "client or redirect_uri mismatch")
	}
	if err := verifyPKCE(c.PKCE, codeVerifier); err != nil {
		return AuthorizationCode{}, err
	}
	return c, nil
}

func verifyPKCE(p *PKCE, verifier string) error {
	switch {
	case p != nil && verifier != "":
		if p.Method != "S256" {
			return oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidGrant, "unsupported code_challenge_method")
		}
		sum := sha256.Sum256([]byte(verifier))
		calculated := base64.RawURLEncoding.EncodeToString(sum[:])
		if calculated != p.Challenge {
			return oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidGrant, "invalid code_verifier")
		}
		return nil
	case p != nil && verifier == "":
		return oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidGrant, "code_verifier required")
	case p == nil && verifier != "":
		return oidcerr.Protocol(oidcerr.InvalidRequest, "no PKCE flow started")
	default:
		return nil
	}
}
