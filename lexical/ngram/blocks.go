package ngram

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/colemanliyah/lance/blobstore"
	"github.com/colemanliyah/lance/cache"
	"github.com/colemanliyah/lance/internal/format"
)

// prefetch fetches the distinct blocks of entries concurrently. The returned
// slices stay valid after cache eviction.
func (idx *Index) prefetch(ctx context.Context, entries []format.Entry) (map[uint32][]byte, error) {
	blocks := make(map[uint32][]byte, len(entries))
	if len(entries) == 1 {
		raw, err := idx.block(ctx, entries[0].Block)
		if err != nil {
			return nil, err
		}
		blocks[entries[0].Block] = raw
		return blocks, nil
	}

	var mu sync.Mutex
	seen := make(map[uint32]struct{}, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)
	for _, e := range entries {
		if _, ok := seen[e.Block]; ok {
			continue
		}
		seen[e.Block] = struct{}{}
		id := e.Block
		g.Go(func() error {
			raw, err := idx.block(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			blocks[id] = raw
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// block returns the decompressed block id, from the cache or the store.
// Concurrent misses for the same block share one read.
func (idx *Index) block(ctx context.Context, id uint32) ([]byte, error) {
	key := cache.CacheKey{Kind: cache.CacheKindPostingBlock, Path: idx.cacheID, Block: uint64(id)}
	if raw, ok := idx.cache.Get(ctx, key); ok {
		idx.metrics.RecordCacheHit()
		return raw, nil
	}
	idx.metrics.RecordCacheMiss()

	flight := strconv.FormatUint(uint64(id), 10)
	for {
		v, err, shared := idx.fetches.Do(flight, func() (any, error) {
			if raw, ok := idx.cache.Get(ctx, key); ok {
				return raw, nil
			}
			raw, err := idx.fetchBlock(ctx, id)
			if err != nil {
				return nil, err
			}
			idx.cache.Set(ctx, key, raw)
			return raw, nil
		})
		if err != nil {
			// The read belonged to a caller that gave up; retry under our own context.
			if shared && isContextErr(err) && ctx.Err() == nil {
				continue
			}
			return nil, err
		}
		return v.([]byte), nil
	}
}

func (idx *Index) fetchBlock(ctx context.Context, id uint32) ([]byte, error) {
	ref := idx.refs[id]
	stored := make([]byte, ref.StoredLen)

	start := time.Now()
	err := blobstore.ReadFull(ctx, idx.blob, stored, int64(ref.Offset))
	idx.metrics.RecordBlockFetch(len(stored), time.Since(start), err)
	if err != nil {
		if isContextErr(err) {
			return nil, err
		}
		return nil, storageError("read block "+strconv.FormatUint(uint64(id), 10), idx.name, err)
	}

	raw, err := format.Decompress(stored, ref, idx.header.Compression)
	if err != nil {
		return nil, corrupt(idx.name, err)
	}
	return raw, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
