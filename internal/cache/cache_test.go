package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockroom-labs/stockroom/internal/config"
)

// Requires Redis on localhost:6379; skipped otherwise.
const testRedisAddr = "localhost:6379"

type item struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

func setupTestCache(t *testing.T, prefix string) *RedisCache {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})

	return NewRedisCache(client, prefix, time.Minute)
}

func unreachableCache() *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	return NewRedisCache(client, "test:", time.Minute)
}

func TestRedisCache_UnreachableFallsBackToLoad(t *testing.T) {
	// Arrange
	c := unreachableCache()
	defer c.client.Close()
	calls := 0

	// Act
	var got item
	err := c.Fetch(context.Background(), "product:1", &got, func(context.Context) (any, error) {
		calls++
		return item{ID: 1, Name: "Coffee", Price: "10.50"}, nil
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "Coffee", got.Name)
	assert.GreaterOrEqual(t, c.Stats().Errors, uint64(2))
}

func TestRedisCache_LoadErrorIsReturned(t *testing.T) {
	c := unreachableCache()
	defer c.client.Close()
	boom := errors.New("not found")

	var got item
	err := c.Fetch(context.Background(), "product:2", &got, func(context.Context) (any, error) {
		return nil, boom
	})

	assert.ErrorIs(t, err, boom)
}

func TestRedisCache_HitAfterMiss(t *testing.T) {
	c := setupTestCache(t, "test:hit:")
	ctx := context.Background()
	calls := 0
	load := func(context.Context) (any, error) {
		calls++
		return item{ID: 3, Name: "Tea"}, nil
	}

	var first, second item
	require.NoError(t, c.Fetch(ctx, "p3", &first, load))
	require.NoError(t, c.Fetch(ctx, "p3", &second, load))

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(1), c.Stats().Hits)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestRedisCache_DeleteForcesReload(t *testing.T) {
	c := setupTestCache(t, "test:del:")
	ctx := context.Background()
	var calls int32
	load := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return item{ID: 4}, nil
	}

	var v item
	require.NoError(t, c.Fetch(ctx, "p4", &v, load))
	require.NoError(t, c.Delete(ctx, "p4"))
	require.NoError(t, c.Fetch(ctx, "p4", &v, load))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRedisCache_DeleteDuringLoadKeepsStaleValueOut(t *testing.T) {
	// Arrange
	c := setupTestCache(t, "test:gen:")
	ctx := context.Background()
	stock := 10
	load := func(context.Context) (any, error) {
		snapshot := item{ID: 7, Price: strconv.Itoa(stock)}
		// A reservation commits and invalidates after the read but before the store.
		stock = 4
		require.NoError(t, c.Delete(ctx, "p7"))
		return snapshot, nil
	}

	// Act
	var first item
	require.NoError(t, c.Fetch(ctx, "p7", &first, load))
	exists, err := c.client.Exists(ctx, "test:gen:p7").Result()
	require.NoError(t, err)

	var second item
	require.NoError(t, c.Fetch(ctx, "p7", &second, func(context.Context) (any, error) {
		return item{ID: 7, Price: strconv.Itoa(stock)}, nil
	}))

	// Assert
	assert.Equal(t, "10", first.Price)
	assert.Zero(t, exists)
	assert.Equal(t, "4", second.Price)
	assert.Equal(t, uint64(1), c.Stats().Stale)
	assert.Equal(t, uint64(1), c.Stats().Sets)
}

func TestRedisCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	c := setupTestCache(t, "test:sf:")
	ctx := context.Background()
	var calls int32
	release := make(chan struct{})
	load := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return item{ID: 5}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var v item
			assert.NoError(t, c.Fetch(ctx, "p5", &v, load))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestPassthrough_AlwaysLoads(t *testing.T) {
	c, closeFn := New(config.RedisConfig{}, "stockroom:")
	defer closeFn()
	calls := 0

	var v item
	for i := 0; i < 2; i++ {
		require.NoError(t, c.Fetch(context.Background(), "k", &v, func(context.Context) (any, error) {
			calls++
			return item{ID: 6, Name: "Sugar"}, nil
		}))
	}

	assert.Equal(t, 2, calls)
	assert.Equal(t, "Sugar", v.Name)
	assert.NoError(t, c.Delete(context.Background(), "k"))
}
