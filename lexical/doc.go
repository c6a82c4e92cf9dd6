// Package lexical defines the interface for boolean text-containment indexes.
//
// A lexical index answers predicates over a text column with a candidate set
// of row ids. Candidates are a superset of the true matches: the caller runs
// an exact verification pass over the actual text before presenting results.
//
// # Built-in Implementation
//
// The ngram subpackage provides an out-of-core n-gram substring index:
//
//	import "github.com/colemanliyah/lance/lexical/ngram"
//
//	b, _ := ngram.NewBuilder(store, ngram.WithNGramLength(3))
//	_, _ = b.Train(ctx, ngram.SliceStream(batches...))
//	_ = b.WriteIndex(ctx, "idx/title.ngram")
//
//	idx, _ := ngram.Load(ctx, store, "idx/title.ngram")
//	rows, _ := idx.Search(ctx, lexical.StringContains{Needle: "wor"})
//
// # Custom Implementations
//
// Implement the Index interface for other containment indexes:
//
//	type Index interface {
//	    Search(ctx context.Context, q Query) (*roaring64.Bitmap, error)
//	    Close() error
//	}
package lexical
