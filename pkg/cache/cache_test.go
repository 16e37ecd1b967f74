package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type grant struct {
	Permission string `json:"permission"`
	Source     string `json:"source"`
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestKey(t *testing.T) {
	assert.Equal(t, "perm:t1:u1", Key("perm", "t1", "u1"))
	assert.Equal(t, "solo", Key("solo"))
}

func TestCache_L1Only(t *testing.T) {
	ctx := context.Background()
	c := New[[]grant](nil, Config{L1Size: 8}, nil, nil)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Set(ctx, "a", []grant{{Permission: "member.read", Source: "role"}})
	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "member.read", got[0].Permission)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.L1Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.L1Items)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
}

func TestCache_L2PromotesToL1(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	cfg := Config{Prefix: "test", L2TTL: time.Minute}

	writer := New[grant](client, cfg, nil, nil)
	writer.Set(ctx, Key("t1", "u1"), grant{Permission: "role.manage", Source: "override"})
	assert.True(t, mr.Exists("test:t1:u1"))

	// a second replica only sees the shared tier
	reader := New[grant](client, cfg, nil, nil)
	got, ok := reader.Get(ctx, Key("t1", "u1"))
	require.True(t, ok)
	assert.Equal(t, "override", got.Source)
	assert.Equal(t, int64(1), reader.Stats().L2Hits)

	got, ok = reader.Get(ctx, Key("t1", "u1"))
	require.True(t, ok)
	assert.Equal(t, "role.manage", got.Permission)
	assert.Equal(t, int64(1), reader.Stats().L1Hits)
}

func TestCache_L2Expiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := New[string](client, Config{Prefix: "test", L2TTL: time.Minute}, nil, nil)

	c.Set(ctx, "k", "v")
	assert.Equal(t, time.Minute, mr.TTL("test:k"))
}

func TestCache_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := New[string](client, Config{Prefix: "test"}, nil, nil)

	c.Set(ctx, Key("t1", "u1"), "a")
	c.Set(ctx, Key("t1", "u2"), "b")
	c.Set(ctx, Key("t2", "u1"), "c")

	c.DeletePrefix(ctx, "t1:")

	assert.False(t, mr.Exists("test:t1:u1"))
	assert.False(t, mr.Exists("test:t1:u2"))
	assert.True(t, mr.Exists("test:t2:u1"))

	_, ok := c.Get(ctx, Key("t1", "u1"))
	assert.False(t, ok)
	v, ok := c.Get(ctx, Key("t2", "u1"))
	require.True(t, ok)
	assert.Equal(t, "c", v)
}

func TestCache_DeletePrefixClearsPeerL1(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	a := New[string](client, Config{Prefix: "test"}, nil, nil)
	b := New[string](client, Config{Prefix: "test"}, nil, nil)
	require.NoError(t, b.WatchInvalidations(ctx))
	defer b.Close()

	a.Set(ctx, Key("t1", "u1"), "a")
	b.Set(ctx, Key("t1", "u1"), "a")
	b.Set(ctx, Key("t2", "u1"), "c")

	a.DeletePrefix(ctx, "t1:")

	require.Eventually(t, func() bool {
		return !b.l1.Contains(Key("t1", "u1"))
	}, time.Second, 10*time.Millisecond)
	assert.True(t, b.l1.Contains(Key("t2", "u1")))
}

func TestCache_WatchInvalidationsWithoutRedis(t *testing.T) {
	c := New[string](nil, Config{Prefix: "test"}, nil, nil)
	assert.NoError(t, c.WatchInvalidations(context.Background()))
}

func TestCache_RedisDownDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := New[string](client, Config{Prefix: "test"}, nil, nil)

	mr.Close()

	c.Set(ctx, "k", "v")
	v, ok := c.Get(ctx, "k")
	require.True(t, ok, "L1 still serves")
	assert.Equal(t, "v", v)

	_, ok = c.Get(ctx, "other")
	assert.False(t, ok)
	c.DeletePrefix(ctx, "k")
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_UndecodableEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	require.NoError(t, mr.Set("test:k", "not json"))

	c := New[grant](client, Config{Prefix: "test"}, nil, nil)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_GetOrLoad(t *testing.T) {
	ctx := context.Background()
	c := New[int](nil, Config{}, nil, nil)

	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(ctx, "answer", load)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err := c.GetOrLoad(ctx, "failing", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get(ctx, "failing")
	assert.False(t, ok)
}

func TestCache_Close(t *testing.T) {
	ctx := context.Background()
	c := New[int](nil, Config{}, nil, nil)
	c.Set(ctx, "a", 1)
	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Stats().L1Items)
}
