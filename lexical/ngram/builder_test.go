package ngram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colemanliyah/lance/blobstore"
	lfs "github.com/colemanliyah/lance/internal/fs"
	"github.com/colemanliyah/lance/resource"
)

func TestNewBuilder_InvalidConfig(t *testing.T) {
	store := blobstore.NewMemoryStore()

	for name, opt := range map[string]Option{
		"zero n":          WithNGramLength(0),
		"negative budget": WithMemoryBudget(-1),
		"zero budget":     WithMemoryBudget(0),
		"zero block size": WithBlockSize(0),
		"bad compression": WithCompression(99),
		"zero workers":    WithWorkers(0),
		"zero read buf":   WithSpillReadBuffer(0),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewBuilder(store, opt)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := NewBuilder(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	// Rejected before any I/O.
	assert.Zero(t, store.Len())
}

func TestBuilder_InputMismatch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	b, err := NewBuilder(store, WithMemoryBudget(1))
	require.NoError(t, err)

	good := textBatch(0, "hello world", "goodbye world")
	bad := &Batch{Texts: []string{"a", "b"}, RowIDs: []uint64{1}}
	_, err = b.Train(ctx, SliceStream(good, bad))
	require.ErrorIs(t, err, ErrInputMismatch)

	// The spill of the first batch was cleaned up.
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	assert.ErrorIs(t, b.WriteIndex(ctx, "idx"), ErrClosed)
	_, err = b.Train(ctx, SliceStream(good))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBuilder_ValidityMismatch(t *testing.T) {
	b, err := NewBuilder(blobstore.NewMemoryStore())
	require.NoError(t, err)

	bad := &Batch{Texts: []string{"a", "b"}, Valid: []bool{true}, RowIDs: []uint64{1, 2}}
	_, err = b.Train(context.Background(), SliceStream(bad))
	require.ErrorIs(t, err, ErrInputMismatch)
}

func TestBuilder_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	b, err := NewBuilder(store)
	require.NoError(t, err)
	assert.Equal(t, DefaultNGramLength, b.NGramLength())

	assert.ErrorIs(t, b.WriteIndex(ctx, "idx"), ErrNotTrained)

	spills, err := b.Train(ctx, SliceStream(textBatch(0, "hello")))
	require.NoError(t, err)
	assert.Zero(t, spills)

	_, err = b.Train(ctx, SliceStream(textBatch(1, "again")))
	assert.ErrorIs(t, err, ErrAlreadyTrained)

	require.NoError(t, b.WriteIndex(ctx, "idx"))
	assert.ErrorIs(t, b.WriteIndex(ctx, "idx"), ErrAlreadyWritten)
	require.NoError(t, b.Abort(ctx))

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.Batches)
	assert.Equal(t, int64(1), stats.Rows)
	assert.Equal(t, 3, stats.NGrams)
	assert.Equal(t, 1, stats.Blocks)
	assert.Equal(t, int64(len(readBlob(t, store, "idx"))), stats.Bytes)
}

func TestBuilder_SpillsAreCleanedUp(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	b, err := NewBuilder(store, WithMemoryBudget(1), WithSpillPrefix("tmp/"))
	require.NoError(t, err)

	spills, err := b.Train(ctx, SliceStream(
		textBatch(0, "hello world"),
		textBatch(1, "goodbye world"),
		textBatch(2, "world peace"),
	))
	require.NoError(t, err)
	assert.Equal(t, 3, spills)
	assert.Equal(t, 3, b.Stats().Spills)

	names, err := store.List(ctx, "tmp/")
	require.NoError(t, err)
	assert.Len(t, names, 3)

	require.NoError(t, b.WriteIndex(ctx, "idx"))
	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"idx"}, names)
}

func TestBuilder_Abort(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	b, err := NewBuilder(store, WithMemoryBudget(1))
	require.NoError(t, err)
	_, err = b.Train(ctx, SliceStream(textBatch(0, "hello"), textBatch(1, "world")))
	require.NoError(t, err)

	require.NoError(t, b.Abort(ctx))
	assert.Zero(t, store.Len())
	assert.ErrorIs(t, b.WriteIndex(ctx, "idx"), ErrClosed)
}

func TestBuilder_StreamError(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	boom := errors.New("upstream failed")

	ch := make(chan BatchResult, 3)
	ch <- BatchResult{Batch: textBatch(0, "hello")}
	ch <- BatchResult{Batch: textBatch(1, "world")}
	ch <- BatchResult{Err: boom}
	close(ch)

	b, err := NewBuilder(store, WithMemoryBudget(1))
	require.NoError(t, err)
	_, err = b.Train(ctx, ChanStream(ch))
	require.ErrorIs(t, err, boom)
	assert.Zero(t, store.Len())
}

func TestBuilder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := blobstore.NewMemoryStore()

	ch := make(chan BatchResult, 1)
	ch <- BatchResult{Batch: textBatch(0, "hello")}

	b, err := NewBuilder(store, WithMemoryBudget(1))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := b.Train(ctx, ChanStream(ch))
		done <- err
	}()
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, store.Len())
}

func TestBuilder_SpillFailure(t *testing.T) {
	ctx := context.Background()
	faulty := lfs.NewFaultyFS(nil)
	faulty.AddRule("seg-000002", lfs.Fault{FailAfterBytes: 4})
	store := blobstore.NewLocalStore(t.TempDir(), blobstore.WithFileSystem(faulty))

	mc := &BasicMetricsCollector{}
	b, err := NewBuilder(store, WithMemoryBudget(1), WithMetrics(mc))
	require.NoError(t, err)

	_, err = b.Train(ctx, SliceStream(
		textBatch(0, "hello"),
		textBatch(1, "world"),
		textBatch(2, "again"),
	))
	require.ErrorIs(t, err, lfs.ErrInjected)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "spill", se.Op)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.TrainErrors)
	assert.Equal(t, int64(1), stats.SpillErrors)
}

func TestBuilder_FinalWriteFailure(t *testing.T) {
	ctx := context.Background()
	faulty := lfs.NewFaultyFS(nil)
	faulty.AddRule("final.ngram", lfs.Fault{FailAfterBytes: 32})
	store := blobstore.NewLocalStore(t.TempDir(), blobstore.WithFileSystem(faulty))

	b, err := NewBuilder(store, WithMemoryBudget(1))
	require.NoError(t, err)
	_, err = b.Train(ctx, SliceStream(textBatch(0, "hello world"), textBatch(1, "goodbye world")))
	require.NoError(t, err)

	err = b.WriteIndex(ctx, "final.ngram")
	require.ErrorIs(t, err, lfs.ErrInjected)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "final.ngram", se.Path)

	_, err = store.Open(ctx, "final.ngram")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestBuilder_PublishFailure(t *testing.T) {
	ctx := context.Background()
	faulty := lfs.NewFaultyFS(nil)
	faulty.AddRule("final.ngram", lfs.Fault{FailAfterBytes: -1, FailOnRename: true})
	store := blobstore.NewLocalStore(t.TempDir(), blobstore.WithFileSystem(faulty))

	b, err := NewBuilder(store)
	require.NoError(t, err)
	_, err = b.Train(ctx, SliceStream(textBatch(0, "hello world")))
	require.NoError(t, err)

	require.ErrorIs(t, b.WriteIndex(ctx, "final.ngram"), lfs.ErrInjected)
	_, err = store.Open(ctx, "final.ngram")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestBuilder_SharedResources(t *testing.T) {
	store := blobstore.NewMemoryStore()
	rc := resource.NewController(resource.Config{
		MaxBackgroundWorkers: 1,
		IOLimitBytesPerSec:   64 << 20,
	})

	batches := []*Batch{textBatch(0, "hello world"), textBatch(1, "goodbye world")}
	spills := buildIndex(t, store, "a", batches, WithMemoryBudget(1), WithResourceController(rc))
	assert.Equal(t, 2, spills)
	buildIndex(t, store, "b", batches, WithResourceController(rc))

	assert.Equal(t, readBlob(t, store, "a"), readBlob(t, store, "b"))
}

func TestBuilder_SharedMemoryLimit(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	batches := []*Batch{textBatch(0, "hello world"), textBatch(1, "goodbye world")}
	buildIndex(t, store, "free", batches)

	// Another user of the controller holds the whole limit, so every batch
	// spills before the builder's own budget is reached.
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20})
	require.True(t, rc.TryAcquireMemory(1<<20))

	b, err := NewBuilder(store, WithResourceController(rc))
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), b.opts.memoryBudget)

	spills, err := b.Train(ctx, SliceStream(batches...))
	require.NoError(t, err)
	assert.Equal(t, 2, spills)
	assert.Equal(t, 2, b.Stats().EarlySpills)
	require.NoError(t, b.WriteIndex(ctx, "shared"))

	assert.Equal(t, int64(1<<20), rc.MemoryUsage())
	assert.Equal(t, readBlob(t, store, "free"), readBlob(t, store, "shared"))
}

func TestBuilder_ReleasesReservedMemory(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64 << 20})

	b, err := NewBuilder(store, WithResourceController(rc))
	require.NoError(t, err)
	_, err = b.Train(ctx, SliceStream(textBatch(0, "hello world")))
	require.NoError(t, err)
	assert.Positive(t, rc.MemoryUsage())

	require.NoError(t, b.WriteIndex(ctx, "idx"))
	assert.Zero(t, rc.MemoryUsage())

	b, err = NewBuilder(store, WithResourceController(rc))
	require.NoError(t, err)
	_, err = b.Train(ctx, SliceStream(textBatch(0, "hello world")))
	require.NoError(t, err)
	require.NoError(t, b.Abort(ctx))
	assert.Zero(t, rc.MemoryUsage())
}

func TestBuilder_ParallelTokenization(t *testing.T) {
	store := blobstore.NewMemoryStore()

	texts := make([]string, 4*minRowsPerWorker)
	for i := range texts {
		texts[i] = "row text shared by all"
	}
	texts[17] = "needle in row seventeen"

	buildIndex(t, store, "par", []*Batch{textBatch(0, texts...)}, WithWorkers(4))
	buildIndex(t, store, "seq", []*Batch{textBatch(0, texts...)}, WithWorkers(1))
	assert.Equal(t, readBlob(t, store, "seq"), readBlob(t, store, "par"))

	idx := loadIndex(t, store, "par")
	assert.Equal(t, []uint64{17}, search(t, idx, "needle"))
	assert.Equal(t, uint64(len(texts)), idx.Stats().Rows)
}
