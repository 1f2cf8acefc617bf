package state

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return NewClientFromRedis(rdb, time.Second), srv
}

func TestVelocityCountsEmptyReadsZero(t *testing.T) {
	client, _ := newTestClient(t)

	counts, err := client.VelocityCounts(context.Background(), "entity-1")
	require.NoError(t, err)

	assert.Equal(t, int64(0), counts["1h"])
	assert.Equal(t, int64(0), counts["24h"])
	assert.Equal(t, int64(0), counts["7d"])
}

func TestBumpVelocityIncrementsAllWindows(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.BumpVelocity(ctx, "entity-1"))
	require.NoError(t, client.BumpVelocity(ctx, "entity-1"))

	counts, err := client.VelocityCounts(ctx, "entity-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["1h"])
	assert.Equal(t, int64(2), counts["24h"])
	assert.Equal(t, int64(2), counts["7d"])

	assert.Equal(t, time.Hour, srv.TTL(VelocityKey("entity-1", "1h")))
	assert.Equal(t, 24*time.Hour, srv.TTL(VelocityKey("entity-1", "24h")))
	assert.Equal(t, 7*24*time.Hour, srv.TTL(VelocityKey("entity-1", "7d")))
}

func TestReadThenBumpExcludesCurrentEvent(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	counts, err := client.VelocityCounts(ctx, "entity-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts["1h"])

	require.NoError(t, client.BumpVelocity(ctx, "entity-2"))

	counts, err = client.VelocityCounts(ctx, "entity-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["1h"])
}

func TestVelocityMonotoneProperty(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	properties := gopter.NewProperties(nil)
	var entitySeq int

	properties.Property("reads never decrease while the window holds", prop.ForAll(
		func(bumps int) bool {
			entitySeq++
			entity := fmt.Sprintf("entity-prop-%d", entitySeq)

			prev := int64(-1)
			for i := 0; i < bumps; i++ {
				counts, err := client.VelocityCounts(ctx, entity)
				if err != nil || counts["1h"] < prev {
					return false
				}
				prev = counts["1h"]
				if err := client.BumpVelocity(ctx, entity); err != nil {
					return false
				}
			}

			// the read seen by event k counts exactly the k prior events
			counts, err := client.VelocityCounts(ctx, entity)
			return err == nil && counts["1h"] == int64(bumps) && counts["1h"] >= prev
		},
		gen.IntRange(1, 25),
	))

	properties.TestingRun(t)
}

func TestFloatRoundTrip(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	_, found, err := client.GetFloat(ctx, IPRiskKey("10.0.0.1"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.SetFloat(ctx, IPRiskKey("10.0.0.1"), 0.42, IPRiskTTL))

	v, found, err := client.GetFloat(ctx, IPRiskKey("10.0.0.1"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 0.42, v, 1e-12)
	assert.Equal(t, time.Hour, srv.TTL(IPRiskKey("10.0.0.1")))
}

func TestJSONRoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	type loc struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	}

	var got loc
	found, err := client.GetJSON(ctx, UsualLocationKey("entity-3"), &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.SetJSON(ctx, UsualLocationKey("entity-3"), loc{Lat: 37.7749, Lon: -122.4194}, UsualLocationTTL))

	found, err = client.GetJSON(ctx, UsualLocationKey("entity-3"), &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 37.7749, got.Lat, 1e-12)
	assert.InDelta(t, -122.4194, got.Lon, 1e-12)
}

func TestWatchlistMembership(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	hit, err := client.SIsMember(ctx, WatchlistEntities, "entity-4")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, client.SAdd(ctx, WatchlistEntities, "entity-4"))

	hit, err = client.SIsMember(ctx, WatchlistEntities, "entity-4")
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestDeviceGraphSet(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()
	key := DeviceAccountsKey("fp-1")

	for _, entity := range []string{"a", "b", "c", "b"} {
		require.NoError(t, client.SAddWithTTL(ctx, key, entity, DeviceGraphTTL))
	}

	n, err := client.SCard(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 30*24*time.Hour, srv.TTL(key))
}
