package posting

import (
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Rough per-key cost: map bucket share, string header and bitmap header.
const (
	keyOverhead = 48
	rowCost     = 8
)

// Pair is one n-gram with its posting set.
type Pair struct {
	NGram string
	Rows  *roaring64.Bitmap
}

// Accumulator is an in-memory map from n-gram to posting set.
// It is not safe for concurrent use; callers fold per-worker accumulators
// into a shared one under their own lock.
type Accumulator struct {
	lists map[string]*roaring64.Bitmap
	bytes int64
	rows  *roaring64.Bitmap
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		lists: make(map[string]*roaring64.Bitmap),
		rows:  roaring64.New(),
	}
}

// Add inserts rowID into the posting set of every n-gram.
// The memory estimate grows by the cost of each new key and each new row id.
func (a *Accumulator) Add(rowID uint64, ngrams []string) {
	a.rows.Add(rowID)
	for _, g := range ngrams {
		bm, ok := a.lists[g]
		if !ok {
			bm = roaring64.New()
			// Detach the key from the caller's text.
			g = strings.Clone(g)
			a.lists[g] = bm
			a.bytes += int64(len(g)) + keyOverhead
		}
		if bm.CheckedAdd(rowID) {
			a.bytes += rowCost
		}
	}
}

// AddRow records rowID as indexed without adding any n-gram.
// Rows with empty text are indexed under no keys but still count as indexed.
func (a *Accumulator) AddRow(rowID uint64) {
	a.rows.Add(rowID)
}

// Merge folds other into a and resets other.
func (a *Accumulator) Merge(other *Accumulator) {
	a.rows.Or(other.rows)
	for g, src := range other.lists {
		dst, ok := a.lists[g]
		if !ok {
			a.lists[g] = src
			a.bytes += int64(len(g)) + keyOverhead + rowCost*int64(src.GetCardinality())
			continue
		}
		before := dst.GetCardinality()
		dst.Or(src)
		a.bytes += rowCost * int64(dst.GetCardinality()-before)
	}
	other.Reset()
}

// MemoryEstimate returns the approximate byte cost of all held keys and sets.
func (a *Accumulator) MemoryEstimate() int64 {
	return a.bytes
}

// Len returns the number of distinct n-grams.
func (a *Accumulator) Len() int {
	return len(a.lists)
}

// Rows returns the set of row ids seen since the accumulator was created.
// Unlike the posting sets, it survives DrainSorted.
func (a *Accumulator) Rows() *roaring64.Bitmap {
	return a.rows
}

// DrainSorted returns all pairs in ascending n-gram order and clears the
// posting sets. Row ids inside each set are ascending by construction.
func (a *Accumulator) DrainSorted() []Pair {
	pairs := make([]Pair, 0, len(a.lists))
	for g, bm := range a.lists {
		pairs = append(pairs, Pair{NGram: g, Rows: bm})
	}
	slices.SortFunc(pairs, func(x, y Pair) int {
		return strings.Compare(x.NGram, y.NGram)
	})

	a.lists = make(map[string]*roaring64.Bitmap)
	a.bytes = 0
	return pairs
}

// Reset drops everything, including the row set.
func (a *Accumulator) Reset() {
	a.lists = make(map[string]*roaring64.Bitmap)
	a.bytes = 0
	a.rows = roaring64.New()
}
