package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authrim/authrim/internal/actorhost"
	"github.com/authrim/authrim/internal/audit"
	"github.com/authrim/authrim/internal/keyring"
	"github.com/authrim/authrim/internal/obs"
	"github.com/authrim/authrim/internal/shard"
	"github.com/authrim/authrim/storage/rediskv"
)

const defaultMailboxSize = 256

// deployment wires one process's worth of shared infrastructure:
// one redis connection namespaced per concern, the actor host every
// sharded component runs on, and the KV-backed adapters authrimctl's
// commands operate against. Grounded on cmd/dex/serve.go's single
// runServe wiring function, narrowed to what an operator CLI needs
// rather than a full server.
type deployment struct {
	cfg    Config
	client redis.UniversalClient
	host   *actorhost.Host
	router *shard.Router
	keys   *keyring.KVStore
	tombs  *audit.KVTombstoneStore
	logger *slog.Logger
}

func newDeployment(cfg Config) *deployment {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	configKV := rediskv.New(client, joinPrefix(cfg.Redis.Prefix, "shard-config"))
	keyKV := rediskv.New(client, joinPrefix(cfg.Redis.Prefix, "keyring"))
	tombKV := rediskv.New(client, joinPrefix(cfg.Redis.Prefix, "tombstone"))

	host := actorhost.NewHost(defaultMailboxSize)
	router := shard.NewRouter(shard.NewKVConfigStore(configKV))

	return &deployment{
		cfg:    cfg,
		client: client,
		host:   host,
		router: router,
		keys:   keyring.NewKVStore(keyKV),
		tombs:  audit.NewKVTombstoneStore(tombKV),
		logger: newLogger(cfg.Logger.Level),
	}
}

func (d *deployment) close() {
	d.host.Close()
	_ = d.client.Close()
}

func (d *deployment) tombstoneRetention() time.Duration {
	if d.cfg.Tombstone.Retention == "" {
		return audit.DefaultRetention
	}
	dur, err := time.ParseDuration(d.cfg.Tombstone.Retention)
	if err != nil {
		return audit.DefaultRetention
	}
	return dur
}

func (d *deployment) tombstones() *audit.Tombstones {
	return audit.NewTombstones(d.tombs, d.tombstoneRetention())
}

func (d *deployment) keyRing(tenantID string, allowNone bool) *keyring.KeyRing {
	return keyring.New(tenantID, d.keys, nil, allowNone)
}

func joinPrefix(base, concern string) string {
	if base == "" {
		return concern
	}
	return base + "/" + concern
}

// newLogger wraps a JSON slog handler with the tenant/request-id injector,
// grounded on cmd/dex/logger.go's newLogger.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return obs.NewLogger(handler)
}

func readConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	return loadConfig(raw)
}
