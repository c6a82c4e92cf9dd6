package lexical

import (
	"context"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ErrUnsupportedQuery is returned by an Index for a query kind it cannot answer.
var ErrUnsupportedQuery = errors.New("lexical: unsupported query")

// Query is a predicate over a text column.
type Query interface {
	fmt.Stringer
	isQuery()
}

// StringContains matches rows whose text contains Needle as a substring.
type StringContains struct {
	Needle string
}

func (StringContains) isQuery() {}

func (q StringContains) String() string {
	return fmt.Sprintf("contains(%q)", q.Needle)
}

// Index is the interface for a lexical search index.
type Index interface {
	// Search returns the candidate row ids for q. The result is owned by the
	// caller and has no ordering guarantee beyond the bitmap's own.
	Search(ctx context.Context, q Query) (*roaring64.Bitmap, error)
	// Close releases the index.
	Close() error
}
