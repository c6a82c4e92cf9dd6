package ngram

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/colemanliyah/lance/blobstore"
	"github.com/colemanliyah/lance/cache"
	"github.com/colemanliyah/lance/internal/format"
	"github.com/colemanliyah/lance/lexical"
)

func helloGoodbye(t *testing.T, opts ...Option) *Index {
	t.Helper()
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "idx", []*Batch{textBatch(0, "hello world", "goodbye world")}, opts...)
	return loadIndex(t, store, "idx")
}

func TestSearch_HelloGoodbye(t *testing.T) {
	idx := helloGoodbye(t, WithNGramLength(3))

	assert.Equal(t, []uint64{0, 1}, search(t, idx, "wor"))
	assert.Equal(t, []uint64{0, 1}, search(t, idx, "world"))
	assert.Equal(t, []uint64{0}, search(t, idx, "hello"))
	assert.Equal(t, []uint64{1}, search(t, idx, "goodbye"))
	assert.Empty(t, search(t, idx, "xyz"))
	assert.Empty(t, search(t, idx, "hello goodbye"))
}

func TestSearch_EmptyNeedle(t *testing.T) {
	store := blobstore.NewMemoryStore()
	batch := &Batch{
		Texts:  []string{"hello", "", "null row", "world"},
		Valid:  []bool{true, true, false, true},
		RowIDs: []uint64{10, 11, 12, 13},
	}
	buildIndex(t, store, "idx", []*Batch{batch})
	idx := loadIndex(t, store, "idx")

	// Rows with empty text are indexed; nulls are not.
	assert.Equal(t, []uint64{10, 11, 13}, search(t, idx, ""))
	assert.Empty(t, search(t, idx, "null"))
	assert.Equal(t, uint64(3), idx.Stats().Rows)
}

func TestSearch_ShortNeedle(t *testing.T) {
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "idx", []*Batch{textBatch(0, "hello world", "goodbye world", "hi", "x")})
	idx := loadIndex(t, store, "idx")

	assert.Equal(t, []uint64{0, 1}, search(t, idx, "wo"))
	assert.Equal(t, []uint64{0, 1}, search(t, idx, "d"))
	assert.Equal(t, []uint64{0, 2}, search(t, idx, "h"))
	assert.Equal(t, []uint64{2}, search(t, idx, "hi"))
	assert.Equal(t, []uint64{3}, search(t, idx, "x"))
	assert.Empty(t, search(t, idx, "q"))
}

func TestSearch_ShortNeedleScanHonoursContext(t *testing.T) {
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "idx", []*Batch{textBatch(0, "hello world", "goodbye world")})
	idx := loadIndex(t, store, "idx")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.containsShort(ctx, "o")
	assert.ErrorIs(t, err, context.Canceled)

	rows, err := idx.containsShort(context.Background(), "o")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, rows.ToArray())
}

func TestSearch_TextShorterThanN(t *testing.T) {
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "idx", []*Batch{textBatch(0, "ab", "abc", "zab")}, WithNGramLength(4))
	idx := loadIndex(t, store, "idx")

	assert.Equal(t, []uint64{0, 1, 2}, search(t, idx, "ab"))
	assert.Equal(t, []uint64{1}, search(t, idx, "abc"))
	// Needles of length >= n never match texts shorter than n.
	assert.Empty(t, search(t, idx, "abcd"))
}

func TestSearch_RepeatedNGram(t *testing.T) {
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "idx", []*Batch{textBatch(7, "aaaaaa"), textBatch(8, "aaa")})
	idx := loadIndex(t, store, "idx")

	rows, err := idx.PostingList(context.Background(), "aaa")
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 8}, rows.ToArray())
	assert.Equal(t, []uint64{7, 8}, search(t, idx, "aaaa"))

	rows, err = idx.PostingList(context.Background(), "zzz")
	require.NoError(t, err)
	assert.True(t, rows.IsEmpty())
}

// Co-occurrence without adjacency yields a false positive, which callers
// remove by verification.
func TestSearch_FalsePositive(t *testing.T) {
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "idx", []*Batch{textBatch(0, "abcx bcde")})
	idx := loadIndex(t, store, "idx")

	assert.Equal(t, []uint64{0}, search(t, idx, "abcde"))
}

func TestSearch_UnsupportedQuery(t *testing.T) {
	idx := helloGoodbye(t)
	_, err := idx.Search(context.Background(), nil)
	assert.ErrorIs(t, err, lexical.ErrUnsupportedQuery)
}

func TestSearch_Closed(t *testing.T) {
	idx := helloGoodbye(t)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err := idx.Search(context.Background(), lexical.StringContains{Needle: "wor"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = idx.PostingList(context.Background(), "wor")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSearch_Cancelled(t *testing.T) {
	idx := helloGoodbye(t, WithBlockSize(8))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Search(ctx, lexical.StringContains{Needle: "world"})
	assert.ErrorIs(t, err, context.Canceled)

	// The index stays usable.
	assert.Equal(t, []uint64{0, 1}, search(t, idx, "world"))
}

func TestIndex_EmptyInput(t *testing.T) {
	store := blobstore.NewMemoryStore()
	spills := buildIndex(t, store, "idx", nil)
	assert.Zero(t, spills)

	idx := loadIndex(t, store, "idx")
	assert.Empty(t, search(t, idx, ""))
	assert.Empty(t, search(t, idx, "a"))
	assert.Empty(t, search(t, idx, "abc"))
	assert.Zero(t, idx.Stats().NGrams)
}

func TestIndex_Stats(t *testing.T) {
	idx := helloGoodbye(t, WithCompression(format.CompressionZSTD), WithBlockSize(16))

	stats := idx.Stats()
	assert.Equal(t, 3, stats.NGramLength)
	assert.Equal(t, format.CompressionZSTD, stats.Compression)
	assert.Equal(t, uint64(2), stats.Rows)
	assert.Greater(t, stats.Blocks, 1)
	// "hello world" and "goodbye world" share " wo", "wor", "orl" and "rld".
	assert.Equal(t, 9+11-4, stats.NGrams)
	assert.Positive(t, stats.SizeBytes)
	assert.Equal(t, 3, idx.NGramLength())
}

func TestIndex_CompressionAndBlockSize(t *testing.T) {
	for _, c := range []format.Compression{format.CompressionNone, format.CompressionLZ4, format.CompressionZSTD} {
		for _, bs := range []int{1, 64, DefaultBlockSize} {
			t.Run(fmt.Sprintf("%s/%d", c, bs), func(t *testing.T) {
				idx := helloGoodbye(t, WithCompression(c), WithBlockSize(bs))
				assert.Equal(t, []uint64{0, 1}, search(t, idx, "wor"))
				assert.Equal(t, []uint64{0}, search(t, idx, "hello"))
				assert.Equal(t, []uint64{1}, search(t, idx, "bye"))
			})
		}
	}
}

func TestIndex_CacheAndMetrics(t *testing.T) {
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "idx", []*Batch{textBatch(0, "hello world", "goodbye world")})

	mc := &BasicMetricsCollector{}
	idx := loadIndex(t, store, "idx", WithMetrics(mc))

	search(t, idx, "hello")
	search(t, idx, "hello")

	stats := mc.GetStats()
	assert.Equal(t, int64(2), stats.SearchCount)
	assert.Equal(t, int64(1), stats.BlockFetches)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.CacheHits)
}

func TestIndex_SharedBlockCache(t *testing.T) {
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "a", []*Batch{textBatch(0, "hello world")})
	buildIndex(t, store, "b", []*Batch{textBatch(0, "goodbye world")})

	shared := cache.NewLRUBlockCache(1<<20, nil)
	a, err := Load(context.Background(), store, "a", WithBlockCache(shared))
	require.NoError(t, err)
	b, err := Load(context.Background(), store, "b", WithBlockCache(shared))
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, []uint64{0}, search(t, a, "wor"))
	assert.Equal(t, []uint64{0}, search(t, b, "wor"))
	assert.Equal(t, 2, shared.Len())

	// Closing one index drops only its blocks and leaves the cache open.
	require.NoError(t, a.Close())
	assert.Equal(t, 1, shared.Len())
	assert.Equal(t, []uint64{0}, search(t, b, "bye"))
}

func TestIndex_ZeroCacheStillServes(t *testing.T) {
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "idx", []*Batch{textBatch(0, "hello world", "goodbye world")}, WithBlockSize(4))
	idx := loadIndex(t, store, "idx", WithCacheSize(0))

	assert.Equal(t, []uint64{0, 1}, search(t, idx, "world"))
	assert.Equal(t, []uint64{0, 1}, search(t, idx, "o"))
}

func TestIndex_ConcurrentSearch(t *testing.T) {
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "idx", []*Batch{textBatch(0, "hello world", "goodbye world")}, WithBlockSize(8))

	mc := &BasicMetricsCollector{}
	idx := loadIndex(t, store, "idx", WithMetrics(mc))

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			rows, err := idx.Search(ctx, lexical.StringContains{Needle: "world"})
			if err != nil {
				return err
			}
			if !rows.Contains(0) || !rows.Contains(1) {
				return fmt.Errorf("missing rows: %v", rows.ToArray())
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Every block was read from the store at most once.
	assert.LessOrEqual(t, mc.GetStats().BlockFetches, int64(idx.Stats().Blocks))
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(context.Background(), blobstore.NewMemoryStore(), "missing")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "open", se.Op)
}

func TestLoad_Corruption(t *testing.T) {
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "idx", []*Batch{textBatch(0, "hello world", "goodbye world")}, WithBlockSize(16))
	good := readBlob(t, store, "idx")

	footer, err := format.DecodeFooter(good[len(good)-format.FooterSize:])
	require.NoError(t, err)

	mutate := func(fn func([]byte) []byte) error {
		data := fn(append([]byte(nil), good...))
		require.NoError(t, store.Put(context.Background(), "bad", data))
		idx, err := Load(context.Background(), store, "bad")
		if err == nil {
			_ = idx.Close()
		}
		return err
	}

	tests := map[string]func([]byte) []byte{
		"header magic":   func(b []byte) []byte { b[0] ^= 0xFF; return b },
		"header version": func(b []byte) []byte { b[4] = 9; return b },
		"zero n":         func(b []byte) []byte { binary.LittleEndian.PutUint32(b[8:], 0); return b },
		"footer magic":   func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b },
		"dictionary":     func(b []byte) []byte { b[footer.DictOffset+2] ^= 0xFF; return b },
		"block map":      func(b []byte) []byte { b[footer.BlockMapOffset] ^= 0xFF; return b },
		"universe":       func(b []byte) []byte { b[footer.UniverseOffset] ^= 0xFF; return b },
		"truncated":      func(b []byte) []byte { return b[:len(b)-10] },
		"tiny":           func(b []byte) []byte { return b[:10] },
		"dict offset": func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[len(b)-format.FooterSize:], footer.DictOffset+1)
			return b
		},
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, mutate(fn), ErrCorrupt)
		})
	}
}

// Dictionary entries out of order are rejected even with a valid checksum.
func TestLoad_UnsortedDictionary(t *testing.T) {
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "idx", []*Batch{textBatch(0, "ab", "cd")}, WithNGramLength(2))
	data := readBlob(t, store, "idx")

	footer, err := format.DecodeFooter(data[len(data)-format.FooterSize:])
	require.NoError(t, err)

	// Entries are "ab" then "cd" with no shared prefix: swap the key bytes.
	dict := data[footer.DictOffset : footer.DictOffset+footer.DictLength]
	first := 1 + 2 // count, shared, suffix length
	second := first + 2 + 4 + 2
	require.Equal(t, "ab", string(dict[first:first+2]))
	require.Equal(t, "cd", string(dict[second:second+2]))
	copy(dict[first:], "cd")
	copy(dict[second:], "ab")

	meta := data[footer.DictOffset : footer.DictOffset+footer.MetaLength()]
	footer.MetaChecksum = format.Checksum(meta)
	copy(data[len(data)-format.FooterSize:], footer.Encode())

	require.NoError(t, store.Put(context.Background(), "bad", data))
	_, err = Load(context.Background(), store, "bad")
	assert.ErrorIs(t, err, ErrCorrupt)
}

// A damaged posting block surfaces at query time and fails only that query.
func TestSearch_CorruptBlock(t *testing.T) {
	store := blobstore.NewMemoryStore()
	buildIndex(t, store, "idx", []*Batch{textBatch(0, "hello world", "goodbye world")},
		WithBlockSize(1), WithCompression(format.CompressionNone))
	data := readBlob(t, store, "idx")

	// The first block holds the first dictionary key, " wo".
	data[format.HeaderSize] ^= 0xFF
	require.NoError(t, store.Put(context.Background(), "bad", data))
	idx := loadIndex(t, store, "bad")

	_, err := idx.Search(context.Background(), lexical.StringContains{Needle: " wo"})
	assert.ErrorIs(t, err, ErrCorrupt)

	assert.Equal(t, []uint64{0}, search(t, idx, "hello"))
}
