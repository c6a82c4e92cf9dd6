// Package ngram implements an out-of-core n-gram substring index.
//
// Construction is a single pass over a stream of batches. Every row's text is
// split into overlapping n-grams of n Unicode code points and the row id is
// added to the posting list of each n-gram. When the in-memory posting lists
// exceed the memory budget they are written, sorted, to a spill segment in the
// blob store. WriteIndex merges all segments and the in-memory remainder into
// one immutable index file and publishes it atomically.
//
//	b, err := ngram.NewBuilder(store,
//	    ngram.WithNGramLength(3),
//	    ngram.WithMemoryBudget(64<<20),
//	)
//	spills, err := b.Train(ctx, stream)
//	err = b.WriteIndex(ctx, "indexes/title.ngram")
//
// The final index is independent of how the input was batched and of when
// spills happened: equal inputs produce byte-identical files.
//
// # Querying
//
// Load reads the dictionary eagerly and fetches posting blocks on demand
// through a bounded block cache:
//
//	idx, err := ngram.Load(ctx, store, "indexes/title.ngram")
//	rows, err := idx.Search(ctx, lexical.StringContains{Needle: "wor"})
//
// Search returns candidates. Every row whose text contains the needle is
// included, but a row may be included because it holds all of the needle's
// n-grams without holding them adjacently. Callers verify candidates against
// the actual text.
//
// Needles shorter than n match every dictionary key that contains them. The
// empty needle matches every indexed row, including rows with empty text.
// Null rows are never indexed.
package ngram
