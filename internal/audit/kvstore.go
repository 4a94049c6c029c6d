package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/authrim/authrim/storage"
)

// KVTombstoneStore is the reference TombstoneStore adapter backed by
// storage.KV, grounded on the teacher's storage/redis key-prefixing
// convention. ListExpired scans the tombstone/ prefix and filters in
// process, the same tradeoff storage/sql/gc.go accepts for its periodic
// DELETE ... WHERE expiry < now sweep.
type KVTombstoneStore struct {
	kv storage.KV
}

func NewKVTombstoneStore(kv storage.KV) *KVTombstoneStore { return &KVTombstoneStore{kv: kv} }

func tombstoneKey(blindIndex, tenantID string) string {
	return fmt.Sprintf("tombstone/%s/%s", tenantID, blindIndex)
}

func (s *KVTombstoneStore) Put(ctx context.Context, t Tombstone) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("audit: encode tombstone: %w", err)
	}
	return s.kv.Put(ctx, tombstoneKey(t.BlindIndex, t.TenantID), raw, 0)
}

func (s *KVTombstoneStore) Get(ctx context.Context, blindIndex, tenantID string) (Tombstone, bool, error) {
	raw, err := s.kv.Get(ctx, tombstoneKey(blindIndex, tenantID))
	if errors.Is(err, storage.ErrNotFound) {
		return Tombstone{}, false, nil
	}
	if err != nil {
		return Tombstone{}, false, fmt.Errorf("audit: load tombstone: %w", err)
	}
	var t Tombstone
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tombstone{}, false, fmt.Errorf("audit: decode tombstone: %w", err)
	}
	return t, true, nil
}

func (s *KVTombstoneStore) ListExpired(ctx context.Context, before time.Time) ([]Tombstone, error) {
	var out []Tombstone
	cursor := ""
	for {
		keys, next, err := s.kv.List(ctx, "tombstone/", cursor)
		if err != nil {
			return nil, fmt.Errorf("audit: list tombstones: %w", err)
		}
		for _, k := range keys {
			raw, err := s.kv.Get(ctx, k)
			if err != nil {
				continue
			}
			var t Tombstone
			if err := json.Unmarshal(raw, &t); err != nil {
				continue
			}
			if t.ExpiresAt.Before(before) {
				out = append(out, t)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

func (s *KVTombstoneStore) Delete(ctx context.Context, blindIndex, tenantID string) error {
	return s.kv.Delete(ctx, tombstoneKey(blindIndex, tenantID))
}
