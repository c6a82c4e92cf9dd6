package lance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/singleflight"

	"github.com/colemanliyah/lance/blobstore"
	"github.com/colemanliyah/lance/lexical"
	"github.com/colemanliyah/lance/lexical/ngram"
)

var (
	// ErrCacheClosed is returned by an IndexCache after Close.
	ErrCacheClosed = errors.New("lance: index cache closed")

	// ErrStaleVersion is returned by Get for a version older than the one
	// already cached for the path.
	ErrStaleVersion = errors.New("lance: index version superseded")
)

type cachedIndex struct {
	idx     *ngram.Index
	version uint64
}

// IndexCache shares loaded indexes between queries. Each path holds at most
// one loaded handle, tagged with the dataset version it was loaded for.
//
// Versions only move forward: a newer version replaces the cached handle,
// while an older one is refused with ErrStaleVersion, also when its load
// finishes after the newer one was installed. A handle is closed when it is
// replaced, when its path is invalidated and when the cache is closed. Callers holding a handle across
// those events get ngram.ErrClosed and fetch a fresh one with Get; Search
// does that itself.
type IndexCache struct {
	store  blobstore.BlobStore
	opts   []ngram.Option
	logger *Logger

	loads singleflight.Group

	mu      sync.Mutex
	entries map[string]*cachedIndex
	closed  bool
}

// IndexCacheOption configures an IndexCache.
type IndexCacheOption func(*IndexCache)

// WithLoadOptions sets the options passed to ngram.Load.
func WithLoadOptions(opts ...ngram.Option) IndexCacheOption {
	return func(c *IndexCache) { c.opts = append(c.opts, opts...) }
}

// WithLogger sets the cache's logger.
func WithLogger(l *Logger) IndexCacheOption {
	return func(c *IndexCache) { c.logger = l }
}

// NewIndexCache returns an empty cache loading from store.
func NewIndexCache(store blobstore.BlobStore, opts ...IndexCacheOption) *IndexCache {
	c := &IndexCache{
		store:   store,
		entries: make(map[string]*cachedIndex),
	}
	for _, fn := range opts {
		fn(c)
	}
	if c.logger == nil {
		c.logger = NoopLogger()
	}
	return c
}

// Get returns the index at path for version, loading it on first use.
// Concurrent first calls share one load. Asking for a newer version than
// the cached one loads that version and closes the old handle.
func (c *IndexCache) Get(ctx context.Context, path string, version uint64) (*ngram.Index, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}
	if e, ok := c.entries[path]; ok {
		if e.version == version {
			c.mu.Unlock()
			return e.idx, nil
		}
		if e.version > version {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %s at %d, cached %d", ErrStaleVersion, path, version, e.version)
		}
	}
	c.mu.Unlock()

	v, err, _ := c.loads.Do(fmt.Sprintf("%s@%d", path, version), func() (any, error) {
		return c.load(ctx, path, version)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ngram.Index), nil
}

func (c *IndexCache) load(ctx context.Context, path string, version uint64) (*ngram.Index, error) {
	// A previous flight for this key may have finished in the meantime.
	c.mu.Lock()
	if e, ok := c.entries[path]; ok && e.version == version {
		c.mu.Unlock()
		return e.idx, nil
	}
	c.mu.Unlock()

	log := c.logger.WithIndex(path)
	idx, err := ngram.Load(ctx, c.store, path, c.opts...)
	log.LogLoad(ctx, path, version, err)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = idx.Close()
		return nil, ErrCacheClosed
	}
	old, ok := c.entries[path]
	if ok && old.version >= version {
		// A newer load won the race while this one was reading.
		_ = idx.Close()
		if old.version == version {
			return old.idx, nil
		}
		log.Debug("dropping superseded load", "version", version, "cached_version", old.version)
		return nil, fmt.Errorf("%w: %s at %d, cached %d", ErrStaleVersion, path, version, old.version)
	}
	if ok {
		if err := old.idx.Close(); err != nil {
			log.Warn("closing replaced index failed", "version", old.version, "error", err)
		}
		log.Info("index replaced", "old_version", old.version, "version", version)
	}
	c.entries[path] = &cachedIndex{idx: idx, version: version}
	return idx, nil
}

// Search runs q against the index at path for version. It reloads once if
// the handle was replaced concurrently.
func (c *IndexCache) Search(ctx context.Context, path string, version uint64, q lexical.Query) (*roaring64.Bitmap, error) {
	for attempt := 0; ; attempt++ {
		idx, err := c.Get(ctx, path, version)
		if err != nil {
			return nil, err
		}
		rows, err := idx.Search(ctx, q)
		if errors.Is(err, ngram.ErrClosed) && attempt == 0 {
			continue
		}
		if sc, ok := q.(lexical.StringContains); ok {
			var n uint64
			if rows != nil {
				n = rows.GetCardinality()
			}
			c.logger.LogSearch(ctx, sc.Needle, n, err)
		}
		return rows, err
	}
}

// Invalidate closes and drops the handle for path, if any. Call it after
// rebuilding an index in place.
func (c *IndexCache) Invalidate(path string) error {
	c.mu.Lock()
	e, ok := c.entries[path]
	delete(c.entries, path)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return e.idx.Close()
}

// Len returns the number of cached handles.
func (c *IndexCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close closes every handle. Later calls to Get fail with ErrCacheClosed.
func (c *IndexCache) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cachedIndex)
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.idx.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
