package ngram

import (
	"context"
	"fmt"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colemanliyah/lance/blobstore"
	"github.com/colemanliyah/lance/lexical"
	"github.com/colemanliyah/lance/testutil"
)

func TestBatchingIndependence(t *testing.T) {
	rng := testutil.NewRNG(4711)
	corpus := rng.Corpus(600, testutil.CorpusOptions{NullRate: 0.05, EmptyRate: 0.05, Sparse: true})
	store := blobstore.NewMemoryStore()

	buildIndex(t, store, "ref", corpusBatches(corpus, 0))
	want := readBlob(t, store, "ref")

	for _, size := range []int{1, 7, 64, 599} {
		name := fmt.Sprintf("batch-%d", size)
		buildIndex(t, store, name, corpusBatches(corpus, size))
		assert.Equal(t, want, readBlob(t, store, name), "batch size %d", size)
	}
}

func TestSpillIndependence(t *testing.T) {
	rng := testutil.NewRNG(99)
	corpus := rng.Corpus(400, testutil.CorpusOptions{NullRate: 0.1, EmptyRate: 0.05})
	store := blobstore.NewMemoryStore()

	spills := buildIndex(t, store, "none", corpusBatches(corpus, 32))
	require.Zero(t, spills)

	for _, budget := range []int64{1, 512, 4096} {
		name := fmt.Sprintf("budget-%d", budget)
		spills := buildIndex(t, store, name, corpusBatches(corpus, 32),
			WithMemoryBudget(budget), WithSpillReadBuffer(64))
		assert.Positive(t, spills)
		assert.Equal(t, readBlob(t, store, "none"), readBlob(t, store, name), "budget %d", budget)
	}

	base := loadIndex(t, store, "none")
	spilled := loadIndex(t, store, "budget-1")
	for i := 0; i < 100; i++ {
		needle, ok := rng.Substring(corpus)
		require.True(t, ok)
		assert.Equal(t, search(t, base, needle), search(t, spilled, needle), "needle %q", needle)
	}
}

func TestNoFalseNegatives(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			rng := testutil.NewRNG(int64(n))
			corpus := rng.Corpus(300, testutil.CorpusOptions{NullRate: 0.1, EmptyRate: 0.1})
			store := blobstore.NewMemoryStore()

			buildIndex(t, store, "idx", corpusBatches(corpus, 50),
				WithNGramLength(n), WithMemoryBudget(2048), WithBlockSize(256))
			idx := loadIndex(t, store, "idx")

			universe := roaring64.BitmapOf(corpus.ValidIDs()...)
			for i := 0; i < 300; i++ {
				needle, ok := rng.Substring(corpus)
				require.True(t, ok)

				got, err := idx.Search(context.Background(), lexical.StringContains{Needle: needle})
				require.NoError(t, err)

				truth := corpus.Contains(needle)
				assert.True(t, isSubset(truth, got), "needle %q: missing rows", needle)
				assert.True(t, isSubset(got.ToArray(), universe), "needle %q: null row returned", needle)
			}

			// Words that never occur yield nothing when long enough to tokenize.
			if n <= 3 {
				assert.Empty(t, search(t, idx, "qqq"))
			}
		})
	}
}

func TestEmptyNeedleMatchesUniverse(t *testing.T) {
	rng := testutil.NewRNG(5)
	corpus := rng.Corpus(200, testutil.CorpusOptions{NullRate: 0.2, EmptyRate: 0.2})
	store := blobstore.NewMemoryStore()

	buildIndex(t, store, "idx", corpusBatches(corpus, 16), WithMemoryBudget(1024))
	idx := loadIndex(t, store, "idx")

	assert.Equal(t, corpus.ValidIDs(), search(t, idx, ""))
}

func BenchmarkTrain(b *testing.B) {
	rng := testutil.NewRNG(1)
	corpus := rng.Corpus(20000, testutil.CorpusOptions{MaxWords: 30})
	batches := corpusBatches(corpus, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store := blobstore.NewMemoryStore()
		builder, err := NewBuilder(store, WithMemoryBudget(4<<20))
		if err != nil {
			b.Fatal(err)
		}
		if _, err := builder.Train(context.Background(), SliceStream(batches...)); err != nil {
			b.Fatal(err)
		}
		if err := builder.WriteIndex(context.Background(), "idx"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearch(b *testing.B) {
	rng := testutil.NewRNG(1)
	corpus := rng.Corpus(20000, testutil.CorpusOptions{MaxWords: 30})
	store := blobstore.NewMemoryStore()

	builder, err := NewBuilder(store)
	if err != nil {
		b.Fatal(err)
	}
	if _, err := builder.Train(context.Background(), SliceStream(corpusBatches(corpus, 1000)...)); err != nil {
		b.Fatal(err)
	}
	if err := builder.WriteIndex(context.Background(), "idx"); err != nil {
		b.Fatal(err)
	}
	idx, err := Load(context.Background(), store, "idx")
	if err != nil {
		b.Fatal(err)
	}
	defer idx.Close()

	needles := make([]string, 256)
	for i := range needles {
		needles[i], _ = rng.Substring(corpus)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q := lexical.StringContains{Needle: needles[i%len(needles)]}
		if _, err := idx.Search(context.Background(), q); err != nil {
			b.Fatal(err)
		}
	}
}
