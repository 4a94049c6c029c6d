package shard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/authrim/authrim/storage"
)

// KVConfigStore is the reference ConfigStore adapter backed by storage.KV,
// grounded on the teacher's storage/redis key-prefixing convention. Put is
// not itself single-writer; callers (e.g. authrimctl's shard commands) are
// expected to serialize config changes per spec.md §4.C.
type KVConfigStore struct {
	kv storage.KV
}

func NewKVConfigStore(kv storage.KV) *KVConfigStore { return &KVConfigStore{kv: kv} }

func configKey(domain Domain) string { return fmt.Sprintf("shard/config/%s", domain) }

func (s *KVConfigStore) Get(domain Domain) (Config, bool, error) {
	raw, err := s.kv.Get(context.Background(), configKey(domain))
	if errors.Is(err, storage.ErrNotFound) {
		return Config{}, false, nil
	}
	if err != nil {
		return Config{}, false, fmt.Errorf("shard: load config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("shard: decode config: %w", err)
	}
	return cfg, true, nil
}

func (s *KVConfigStore) Put(domain Domain, cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("shard: encode config: %w", err)
	}
	return s.kv.Put(context.Background(), configKey(domain), raw, 0)
}
