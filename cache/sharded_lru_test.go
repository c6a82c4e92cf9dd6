package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ BlockCache = (*ShardedLRUBlockCache)(nil)
var _ BlockCache = (*LRUBlockCache)(nil)

func TestShardedLRUBlockCache_BasicOperations(t *testing.T) {
	cache := NewShardedLRUBlockCache(1024*1024, nil)

	ctx := context.Background()
	key := CacheKey{Kind: CacheKindPostingBlock, Path: "title.ngram", Block: 0}
	data := []byte("test data")

	cache.Set(ctx, key, data)
	got, ok := cache.Get(ctx, key)
	require.True(t, ok, "expected cache hit")
	assert.Equal(t, string(data), string(got))

	_, ok = cache.Get(ctx, CacheKey{Kind: CacheKindPostingBlock, Path: "title.ngram", Block: 999})
	assert.False(t, ok, "expected cache miss")

	// Same block number, different index.
	_, ok = cache.Get(ctx, CacheKey{Kind: CacheKindPostingBlock, Path: "body.ngram", Block: 0})
	assert.False(t, ok)
}

func TestShardedLRUBlockCache_ShardDistribution(t *testing.T) {
	cache := NewShardedLRUBlockCache(64*1024*1024, nil)

	ctx := context.Background()
	data := make([]byte, 1024)

	for i := range 1000 {
		key := CacheKey{Path: fmt.Sprintf("idx-%d", i%100), Block: uint64(i)}
		cache.Set(ctx, key, data)
	}

	nonEmptyShards := 0
	for _, s := range cache.shardStats() {
		if s.Size > 0 {
			nonEmptyShards++
		}
	}

	// With 1000 items across 64 shards, we expect most shards to have items
	assert.GreaterOrEqual(t, nonEmptyShards, 30, "poor shard distribution")
}

func TestShardedLRUBlockCache_Concurrent(t *testing.T) {
	cache := NewShardedLRUBlockCache(64*1024*1024, nil)

	ctx := context.Background()
	data := make([]byte, 1024)

	const numGoroutines = 50
	const numOpsPerGoroutine = 500

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for g := range numGoroutines {
		go func(goroutineID int) {
			defer wg.Done()
			for i := range numOpsPerGoroutine {
				key := CacheKey{Path: fmt.Sprintf("idx-%d", goroutineID), Block: uint64(i)}
				cache.Set(ctx, key, data)
				cache.Get(ctx, key)
			}
		}(g)
	}

	wg.Wait()

	hits, misses := cache.Stats()
	assert.Equal(t, int64(numGoroutines*numOpsPerGoroutine), hits+misses)
}

func TestShardedLRUBlockCache_Invalidate(t *testing.T) {
	cache := NewShardedLRUBlockCache(64*1024*1024, nil)

	ctx := context.Background()
	data := []byte("test")

	for i := range 100 {
		cache.Set(ctx, CacheKey{Path: "old.ngram", Block: uint64(i)}, data)
		cache.Set(ctx, CacheKey{Path: "new.ngram", Block: uint64(i)}, data)
	}

	cache.Invalidate(InvalidatePath("old.ngram"))

	_, ok := cache.Get(ctx, CacheKey{Path: "old.ngram", Block: 0})
	assert.False(t, ok, "expected old.ngram to be invalidated")

	_, ok = cache.Get(ctx, CacheKey{Path: "new.ngram", Block: 0})
	assert.True(t, ok, "expected new.ngram to still be cached")

	require.NoError(t, cache.Close())
	assert.Zero(t, cache.Size())
}

func BenchmarkShardedLRUBlockCache_Get(b *testing.B) {
	cache := NewShardedLRUBlockCache(64*1024*1024, nil)
	ctx := context.Background()
	key := CacheKey{Path: "title.ngram", Block: 1}
	cache.Set(ctx, key, make([]byte, 4096))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			cache.Get(ctx, key)
		}
	})
}
