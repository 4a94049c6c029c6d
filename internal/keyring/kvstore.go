package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/authrim/authrim/storage"
)

// storedSigningKey is SigningKey's wire shape. The private key round-trips
// through jose.JSONWebKey's own JSON marshaling (the same representation
// the teacher's storage.Keys.SigningKey uses for its SigningKey field)
// instead of a bespoke PEM/PKCS8 encoding.
type storedSigningKey struct {
	Alg         jose.SignatureAlgorithm `json:"alg"`
	Private     jose.JSONWebKey         `json:"private"`
	RotatedAt   int64                   `json:"rotated_at"`
	VerifyUntil int64                   `json:"verify_until"`
}

type storedKeySet struct {
	Active   map[jose.SignatureAlgorithm]storedSigningKey `json:"active"`
	Retained []storedSigningKey                           `json:"retained"`
}

func toStored(alg jose.SignatureAlgorithm, sk *SigningKey) storedSigningKey {
	return storedSigningKey{
		Alg:         alg,
		Private:     jose.JSONWebKey{Key: sk.Private, KeyID: sk.KeyID, Algorithm: string(alg), Use: "sig"},
		RotatedAt:   sk.RotatedAt.Unix(),
		VerifyUntil: sk.VerifyUntil.Unix(),
	}
}

func fromStored(s storedSigningKey) *SigningKey {
	pub := s.Private.Public()
	return &SigningKey{
		KeyID:       s.Private.KeyID,
		Alg:         s.Alg,
		Private:     s.Private.Key,
		Public:      &pub,
		RotatedAt:   unixOrZero(s.RotatedAt),
		VerifyUntil: unixOrZero(s.VerifyUntil),
	}
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// KVStore is the reference Store adapter backed by storage.KV, grounded on
// the teacher's storage/redis key-prefixing convention and the same
// one-document-per-tenant shape storage/rediskv uses elsewhere.
type KVStore struct {
	kv storage.KV
}

func NewKVStore(kv storage.KV) *KVStore { return &KVStore{kv: kv} }

func tenantKey(tenantID string) string { return fmt.Sprintf("keyring/%s", tenantID) }

func (s *KVStore) Get(ctx context.Context, tenantID string) (KeySet, error) {
	raw, err := s.kv.Get(ctx, tenantKey(tenantID))
	if errors.Is(err, storage.ErrNotFound) {
		return KeySet{}, nil
	}
	if err != nil {
		return KeySet{}, fmt.Errorf("keyring: load keyset: %w", err)
	}
	var stored storedKeySet
	if err := json.Unmarshal(raw, &stored); err != nil {
		return KeySet{}, fmt.Errorf("keyring: decode keyset: %w", err)
	}
	ks := KeySet{Active: make(map[jose.SignatureAlgorithm]*SigningKey, len(stored.Active))}
	for alg, sk := range stored.Active {
		ks.Active[alg] = fromStored(sk)
	}
	for _, sk := range stored.Retained {
		ks.Retained = append(ks.Retained, fromStored(sk))
	}
	return ks, nil
}

func (s *KVStore) Put(ctx context.Context, tenantID string, ks KeySet) error {
	stored := storedKeySet{Active: make(map[jose.SignatureAlgorithm]storedSigningKey, len(ks.Active))}
	for alg, sk := range ks.Active {
		stored.Active[alg] = toStored(alg, sk)
	}
	for _, sk := range ks.Retained {
		stored.Retained = append(stored.Retained, toStored(sk.Alg, sk))
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("keyring: encode keyset: %w", err)
	}
	return s.kv.Put(ctx, tenantKey(tenantID), raw, 0)
}
