package ngram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/singleflight"

	"github.com/colemanliyah/lance/blobstore"
	"github.com/colemanliyah/lance/cache"
	"github.com/colemanliyah/lance/internal/conv"
	"github.com/colemanliyah/lance/internal/format"
	"github.com/colemanliyah/lance/internal/posting"
	"github.com/colemanliyah/lance/lexical"
)

// Ensure Index implements lexical.Index
var _ lexical.Index = (*Index)(nil)

// Index is a loaded, immutable n-gram index. It is safe for concurrent use.
type Index struct {
	name    string
	blob    blobstore.Blob
	header  *format.Header
	footer  *format.Footer
	tok     Tokenizer
	entries []format.Entry
	refs    []format.BlockRef
	rows    *roaring64.Bitmap

	cache    cache.BlockCache
	ownCache bool
	cacheID  string
	fetches  singleflight.Group

	workers int
	logger  *slog.Logger
	metrics MetricsCollector

	mu     sync.RWMutex // held shared by readers, exclusively by Close
	closed bool
}

// IndexStats describes a loaded index.
type IndexStats struct {
	NGramLength int
	Compression Compression
	NGrams      int
	Blocks      int
	Rows        uint64 // non-null rows
	SizeBytes   int64
	CacheHits   int64
	CacheMisses int64
}

// Load opens the index at name. The dictionary, block map and row set are
// read and validated eagerly; posting blocks are read on demand.
func Load(ctx context.Context, store blobstore.BlobStore, name string, opts ...Option) (*Index, error) {
	o := applyOptions(opts)
	if o.workers < 1 {
		return nil, fmt.Errorf("%w: workers %d, must be >= 1", ErrInvalidConfig, o.workers)
	}

	start := time.Now()
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, storageError("open", name, err)
	}
	idx, err := load(ctx, blob, name, o)
	if err != nil {
		_ = blob.Close()
		o.logger.Error("index load failed", "path", name, "error", err)
		return nil, err
	}
	o.logger.Info("index loaded",
		"path", name,
		"ngram_length", idx.tok.N(),
		"ngrams", len(idx.entries),
		"blocks", len(idx.refs),
		"rows", idx.rows.GetCardinality(),
		"duration", time.Since(start),
	)
	return idx, nil
}

func load(ctx context.Context, blob blobstore.Blob, name string, o options) (*Index, error) {
	size := blob.Size()
	if size < format.HeaderSize+format.FooterSize {
		return nil, corrupt(name, fmt.Errorf("file too small (%d bytes)", size))
	}

	hbuf := make([]byte, format.HeaderSize)
	if err := blobstore.ReadFull(ctx, blob, hbuf, 0); err != nil {
		return nil, storageError("read header", name, err)
	}
	header, err := format.DecodeHeader(hbuf)
	if err != nil {
		return nil, corrupt(name, err)
	}

	fbuf := make([]byte, format.FooterSize)
	if err := blobstore.ReadFull(ctx, blob, fbuf, size-format.FooterSize); err != nil {
		return nil, storageError("read footer", name, err)
	}
	footer, err := format.DecodeFooter(fbuf)
	if err != nil {
		return nil, corrupt(name, err)
	}
	if err := footer.Validate(size); err != nil {
		return nil, corrupt(name, err)
	}

	metaLen, err := conv.Uint64ToInt(footer.MetaLength())
	if err != nil {
		return nil, corrupt(name, err)
	}
	meta := make([]byte, metaLen)
	if err := blobstore.ReadFull(ctx, blob, meta, int64(footer.DictOffset)); err != nil {
		return nil, storageError("read metadata", name, err)
	}
	if format.Checksum(meta) != footer.MetaChecksum {
		return nil, corrupt(name, format.ErrChecksum)
	}

	dictBytes := meta[:footer.DictLength]
	mapBytes := meta[footer.DictLength : footer.DictLength+footer.BlockMapLength]
	rowBytes := meta[footer.DictLength+footer.BlockMapLength:]

	refs, err := format.DecodeBlockMap(mapBytes, footer.BlockCount, footer.DictOffset)
	if err != nil {
		return nil, corrupt(name, err)
	}
	entries, err := format.DecodeDictionary(dictBytes, footer.NGramCount, refs)
	if err != nil {
		return nil, corrupt(name, err)
	}
	rows, err := posting.Decode(rowBytes)
	if err != nil {
		return nil, corrupt(name, err)
	}

	tok, err := NewTokenizer(int(header.NGramLength))
	if err != nil {
		return nil, corrupt(name, err)
	}

	idx := &Index{
		name:    name,
		blob:    blob,
		header:  header,
		footer:  footer,
		tok:     tok,
		entries: entries,
		refs:    refs,
		rows:    rows,
		cache:   o.blockCache,
		cacheID: fmt.Sprintf("%s@%08x", name, footer.MetaChecksum),
		workers: o.workers,
		logger:  o.logger,
		metrics: o.metrics,
	}
	if idx.cache == nil {
		idx.cache = cache.NewShardedLRUBlockCache(o.cacheSize, o.resources)
		idx.ownCache = true
	}
	return idx, nil
}

// Search answers q with a candidate set. Only lexical.StringContains is
// supported.
func (idx *Index) Search(ctx context.Context, q lexical.Query) (*roaring64.Bitmap, error) {
	sc, ok := q.(lexical.StringContains)
	if !ok {
		return nil, fmt.Errorf("%w: %v", lexical.ErrUnsupportedQuery, q)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := idx.contains(ctx, sc.Needle)
	elapsed := time.Since(start)

	var candidates uint64
	if err == nil {
		candidates = rows.GetCardinality()
	}
	idx.metrics.RecordSearch(candidates, elapsed, err)
	if err != nil {
		idx.logger.Error("search failed", "path", idx.name, "query", sc.String(), "error", err)
		return nil, err
	}
	idx.logger.Debug("search", "path", idx.name, "query", sc.String(), "candidates", candidates, "duration", elapsed)
	return rows, nil
}

func (idx *Index) contains(ctx context.Context, needle string) (*roaring64.Bitmap, error) {
	if needle == "" {
		return idx.rows.Clone(), nil
	}
	if RuneCount(needle) < idx.tok.N() {
		return idx.containsShort(ctx, needle)
	}

	grams := idx.tok.Tokenize(needle)
	seen := make(map[string]struct{}, len(grams))
	entries := make([]format.Entry, 0, len(grams))
	for _, g := range grams {
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		e, ok := idx.lookup(g)
		if !ok {
			// An n-gram of the needle that no row holds.
			return roaring64.New(), nil
		}
		entries = append(entries, e)
	}

	// Smallest list first; the stable sort keeps needle order for ties.
	slices.SortStableFunc(entries, func(a, b format.Entry) int {
		switch {
		case a.Cardinality < b.Cardinality:
			return -1
		case a.Cardinality > b.Cardinality:
			return 1
		}
		return 0
	})

	blocks, err := idx.prefetch(ctx, entries)
	if err != nil {
		return nil, err
	}
	var result *roaring64.Bitmap
	for _, e := range entries {
		list, err := idx.decode(blocks[e.Block], e)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = list
		} else {
			result.And(list)
		}
		if result.IsEmpty() {
			break
		}
	}
	return result, nil
}

// scanCheckInterval is how many dictionary entries a short-needle scan
// visits between context checks.
const scanCheckInterval = 4096

// containsShort unions the lists of every key holding needle. A row whose
// text contains a needle shorter than n has at least one such key: an
// n-gram covering the needle, or its whole text when that is shorter than n.
//
// The needle may sit anywhere inside a key, so this scans the whole
// dictionary: cost grows with the n-gram count, not with the result.
func (idx *Index) containsShort(ctx context.Context, needle string) (*roaring64.Bitmap, error) {
	var matches []format.Entry
	for i, e := range idx.entries {
		if i%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if strings.Contains(e.NGram, needle) {
			matches = append(matches, e)
		}
	}
	result := roaring64.New()
	if len(matches) == 0 {
		return result, nil
	}

	blocks, err := idx.prefetch(ctx, matches)
	if err != nil {
		return nil, err
	}
	for _, e := range matches {
		list, err := idx.decode(blocks[e.Block], e)
		if err != nil {
			return nil, err
		}
		result.Or(list)
	}
	return result, nil
}

// PostingList returns the rows indexed under one n-gram, or an empty set.
func (idx *Index) PostingList(ctx context.Context, ngram string) (*roaring64.Bitmap, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, ErrClosed
	}

	e, ok := idx.lookup(ngram)
	if !ok {
		return roaring64.New(), nil
	}
	raw, err := idx.block(ctx, e.Block)
	if err != nil {
		return nil, err
	}
	return idx.decode(raw, e)
}

func (idx *Index) lookup(ngram string) (format.Entry, bool) {
	i, ok := slices.BinarySearchFunc(idx.entries, ngram, func(e format.Entry, key string) int {
		return strings.Compare(e.NGram, key)
	})
	if !ok {
		return format.Entry{}, false
	}
	return idx.entries[i], true
}

func (idx *Index) decode(raw []byte, e format.Entry) (*roaring64.Bitmap, error) {
	list, err := posting.Decode(raw[e.Offset : e.Offset+e.Length])
	if err != nil {
		return nil, corrupt(idx.name, fmt.Errorf("posting list %q: %w", e.NGram, err))
	}
	if list.GetCardinality() != e.Cardinality {
		return nil, corrupt(idx.name, fmt.Errorf("posting list %q holds %d rows, dictionary says %d",
			e.NGram, list.GetCardinality(), e.Cardinality))
	}
	return list, nil
}

// NGramLength returns n.
func (idx *Index) NGramLength() int {
	return idx.tok.N()
}

// Stats returns index statistics.
func (idx *Index) Stats() IndexStats {
	hits, misses := idx.cache.Stats()
	return IndexStats{
		NGramLength: idx.tok.N(),
		Compression: idx.header.Compression,
		NGrams:      len(idx.entries),
		Blocks:      len(idx.refs),
		Rows:        idx.rows.GetCardinality(),
		SizeBytes:   idx.blob.Size(),
		CacheHits:   hits,
		CacheMisses: misses,
	}
}

// Close waits for in-flight searches and releases the index. Blocks of this
// index are dropped from a shared cache.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true

	if idx.ownCache {
		_ = idx.cache.Close()
	} else {
		idx.cache.Invalidate(cache.InvalidatePath(idx.cacheID))
	}
	return idx.blob.Close()
}
