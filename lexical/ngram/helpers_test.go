package ngram

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/require"

	"github.com/colemanliyah/lance/blobstore"
	"github.com/colemanliyah/lance/lexical"
	"github.com/colemanliyah/lance/testutil"
)

func textBatch(first uint64, texts ...string) *Batch {
	b := &Batch{Texts: texts, RowIDs: make([]uint64, len(texts))}
	for i := range texts {
		b.RowIDs[i] = first + uint64(i)
	}
	return b
}

func corpusBatches(c *testutil.Corpus, size int) []*Batch {
	var out []*Batch
	for _, rows := range c.Chunk(size) {
		b := &Batch{
			Texts:  make([]string, len(rows)),
			Valid:  make([]bool, len(rows)),
			RowIDs: make([]uint64, len(rows)),
		}
		for i, r := range rows {
			b.Texts[i], b.Valid[i], b.RowIDs[i] = r.Text, r.Valid, r.ID
		}
		out = append(out, b)
	}
	return out
}

// buildIndex trains on batches, writes name and returns the spill count.
func buildIndex(t *testing.T, store blobstore.BlobStore, name string, batches []*Batch, opts ...Option) int {
	t.Helper()
	ctx := context.Background()

	b, err := NewBuilder(store, opts...)
	require.NoError(t, err)
	spills, err := b.Train(ctx, SliceStream(batches...))
	require.NoError(t, err)
	require.NoError(t, b.WriteIndex(ctx, name))
	return spills
}

func loadIndex(t *testing.T, store blobstore.BlobStore, name string, opts ...Option) *Index {
	t.Helper()
	idx, err := Load(context.Background(), store, name, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func readBlob(t *testing.T, store blobstore.BlobStore, name string) []byte {
	t.Helper()
	ctx := context.Background()
	blob, err := store.Open(ctx, name)
	require.NoError(t, err)
	defer blob.Close()
	data := make([]byte, blob.Size())
	require.NoError(t, blobstore.ReadFull(ctx, blob, data, 0))
	return data
}

func search(t *testing.T, idx *Index, needle string) []uint64 {
	t.Helper()
	rows, err := idx.Search(context.Background(), lexical.StringContains{Needle: needle})
	require.NoError(t, err)
	return rows.ToArray()
}

func isSubset(sub []uint64, of *roaring64.Bitmap) bool {
	for _, id := range sub {
		if !of.Contains(id) {
			return false
		}
	}
	return true
}
