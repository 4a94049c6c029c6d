package shard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	data map[Domain]Config
}

func newMemStore() *memStore { return &memStore{data: make(map[Domain]Config)} }

func (m *memStore) Get(domain Domain) (Config, bool, error) {
	cfg, ok := m.data[domain]
	return cfg, ok, nil
}

func (m *memStore) Put(domain Domain, cfg Config) error {
	m.data[domain] = cfg
	return nil
}

func TestDefaultConfigWhenMissing(t *testing.T) {
	r := NewRouter(newMemStore())
	gen, count, err := r.CurrentShardCount(DomainSession)
	require.NoError(t, err)
	require.Equal(t, 0, gen)
	require.Equal(t, 1, count)
}

func TestSetShardCountIncrementsGenerationAndRetainsHistory(t *testing.T) {
	r := NewRouter(newMemStore())
	now := time.Now()

	cfg1, err := r.SetShardCount(DomainRefresh, 4, "admin", now)
	require.NoError(t, err)
	require.Equal(t, 1, cfg1.CurrentGeneration)
	require.Equal(t, 4, cfg1.CurrentShardCount)
	require.Len(t, cfg1.PreviousGenerations, 1)
	require.Equal(t, 0, cfg1.PreviousGenerations[0].Generation)

	cfg2, err := r.SetShardCount(DomainRefresh, 8, "admin", now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, cfg2.CurrentGeneration)
	require.Len(t, cfg2.PreviousGenerations, 2)
}

func TestPreviousGenerationsAreBounded(t *testing.T) {
	r := NewRouter(newMemStore())
	now := time.Now()
	for i := 0; i < maxPreviousGenerations+3; i++ {
		_, err := r.SetShardCount(DomainSession, i+2, "admin", now)
		require.NoError(t, err)
	}
	store := r.store.(*memStore)
	cfg := store.data[DomainSession]
	require.LessOrEqual(t, len(cfg.PreviousGenerations), maxPreviousGenerations)
}

func TestRouteByIDEmbeddedGeneration(t *testing.T) {
	store := newMemStore()
	r := NewRouter(store)
	now := time.Now()
	_, err := r.SetShardCount(DomainSession, 10, "admin", now)
	require.NoError(t, err)

	instance, gen, shardIdx, legacy, err := r.RouteByID(DomainSession, "g1_s5_abcdef")
	require.NoError(t, err)
	require.False(t, legacy)
	require.Equal(t, 1, gen)
	require.Equal(t, 5, shardIdx)
	require.Equal(t, "session-g1-s5", instance)
}

func TestRouteByIDLegacyFallsBackToHash(t *testing.T) {
	r := NewRouter(newMemStore())
	instance, gen, _, legacy, err := r.RouteByID(DomainRevocation, "legacy-opaque-jti")
	require.NoError(t, err)
	require.True(t, legacy)
	require.Equal(t, -1, gen)
	require.Contains(t, instance, "revocation-legacy-s")

	// deterministic
	instance2, _, _, _, err := r.RouteByID(DomainRevocation, "legacy-opaque-jti")
	require.NoError(t, err)
	require.Equal(t, instance, instance2)
}

func TestRouteByIDRejectsUnknownGeneration(t *testing.T) {
	store := newMemStore()
	r := NewRouter(store)
	_, _, _, _, err := r.RouteByID(DomainSession, "g99_s0_abc")
	require.Error(t, err)
}

func TestIsWritableOnlyCurrentGeneration(t *testing.T) {
	r := NewRouter(newMemStore())
	now := time.Now()
	cfg, err := r.SetShardCount(DomainRefresh, 4, "admin", now)
	require.NoError(t, err)

	ok, err := r.IsWritable(DomainRefresh, cfg.CurrentGeneration)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.IsWritable(DomainRefresh, cfg.CurrentGeneration-1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetRegionDistributionValidatesSumTo100(t *testing.T) {
	r := NewRouter(newMemStore())
	now := time.Now()
	_, err := r.SetShardCount(DomainRegion, 10, "admin", now)
	require.NoError(t, err)

	_, err = r.SetRegionDistribution(DomainRegion, []RegionWeight{
		{Region: "us", Percent: 60}, {Region: "eu", Percent: 30},
	}, "admin", now)
	require.Error(t, err)

	cfg, err := r.SetRegionDistribution(DomainRegion, []RegionWeight{
		{Region: "us", Percent: 60}, {Region: "eu", Percent: 40},
	}, "admin", now)
	require.NoError(t, err)
	require.Equal(t, 100, sumPercent(cfg.RegionDistribution))
}

func sumPercent(ws []RegionWeight) int {
	total := 0
	for _, w := range ws {
		total += w.Percent
	}
	return total
}

func TestRegionForShardGivesEveryNonZeroRegionAtLeastOneShard(t *testing.T) {
	r := NewRouter(newMemStore())
	now := time.Now()
	_, err := r.SetShardCount(DomainRegion, 10, "admin", now)
	require.NoError(t, err)
	_, err = r.SetRegionDistribution(DomainRegion, []RegionWeight{
		{Region: "us", Percent: 95}, {Region: "eu", Percent: 5},
	}, "admin", now)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		region, err := r.RegionForShard(DomainRegion, i)
		require.NoError(t, err)
		seen[region] = true
	}
	require.True(t, seen["us"])
	require.True(t, seen["eu"])
}
