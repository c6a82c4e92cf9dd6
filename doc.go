// Package lance provides substring search over text columns.
//
// The index itself lives in lexical/ngram. This package adds the pieces a
// service embedding it needs: a structured Logger and an IndexCache that
// shares loaded indexes between queries and replaces them when the dataset
// version changes.
//
// # Building
//
//	store := blobstore.NewLocalStore("./data")
//	b, _ := ngram.NewBuilder(store, ngram.WithNGramLength(3))
//	_, _ = b.Train(ctx, stream)
//	_ = b.WriteIndex(ctx, "title.ngram")
//
// # Querying
//
//	indexes := lance.NewIndexCache(store)
//	defer indexes.Close()
//
//	idx, _ := indexes.Get(ctx, "title.ngram", version)
//	rows, _ := idx.Search(ctx, lexical.StringContains{Needle: "wor"})
//
// Search returns candidates: every matching row is included, and some rows
// that hold all of the needle's n-grams without holding the needle may be
// too. Verify candidates against the text before showing them.
//
// # Storage
//
// Any blobstore.BlobStore works: local files, memory, S3, MinIO or a bbolt
// file. Spill segments and indexes are published atomically, so a failed
// build never leaves a partial index behind.
package lance
