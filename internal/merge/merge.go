// Package merge combines ascending (n-gram, posting list) streams into one.
package merge

import (
	"container/heap"
	"errors"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/colemanliyah/lance/internal/posting"
)

// ErrOutOfOrder is returned when a source yields keys that are not strictly ascending.
var ErrOutOfOrder = errors.New("merge: source keys out of order")

// Source is an ascending stream of posting entries. Next returns io.EOF after
// the last entry.
type Source interface {
	Next() (string, *roaring64.Bitmap, error)
}

// SliceSource serves an in-memory sorted slice.
type SliceSource struct {
	pairs []posting.Pair
	pos   int
}

// NewSliceSource wraps pairs, which must be sorted by n-gram.
func NewSliceSource(pairs []posting.Pair) *SliceSource {
	return &SliceSource{pairs: pairs}
}

func (s *SliceSource) Next() (string, *roaring64.Bitmap, error) {
	if s.pos >= len(s.pairs) {
		return "", nil, io.EOF
	}
	p := s.pairs[s.pos]
	s.pairs[s.pos] = posting.Pair{}
	s.pos++
	return p.NGram, p.Rows, nil
}

type item struct {
	key    string
	rows   *roaring64.Bitmap
	source int
}

// queue orders heads by key, then by source index so equal keys pop in a
// stable order.
type queue []*item

var _ heap.Interface = (*queue)(nil)

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].key != q[j].key {
		return q[i].key < q[j].key
	}
	return q[i].source < q[j].source
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(*item)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// Merger performs a k-way merge. Memory use is one head entry per source.
type Merger struct {
	sources []Source
	last    []string
	q       queue
	popped  []int // sources whose head was returned and must advance
	started bool
	err     error
}

// New creates a merger over sources.
func New(sources ...Source) *Merger {
	return &Merger{
		sources: sources,
		last:    make([]string, len(sources)),
		q:       make(queue, 0, len(sources)),
	}
}

func (m *Merger) advance(i int) error {
	key, rows, err := m.sources[i].Next()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.last[i] != "" && key <= m.last[i] {
		return fmt.Errorf("%w: source %d yielded %q after %q", ErrOutOfOrder, i, key, m.last[i])
	}
	m.last[i] = key
	heap.Push(&m.q, &item{key: key, rows: rows, source: i})
	return nil
}

// Next returns the next n-gram with the union of its posting lists across all
// sources, or io.EOF when every source is exhausted. Sources are advanced
// lazily, so an ordering or read error surfaces on the call after the entry
// that preceded it. The returned bitmap is
// owned by the caller.
func (m *Merger) Next() (string, *roaring64.Bitmap, error) {
	if m.err != nil {
		return "", nil, m.err
	}
	if !m.started {
		m.started = true
		for i := range m.sources {
			if err := m.advance(i); err != nil {
				m.err = err
				return "", nil, err
			}
		}
	}
	for _, i := range m.popped {
		if err := m.advance(i); err != nil {
			m.err = err
			return "", nil, err
		}
	}
	m.popped = m.popped[:0]
	if m.q.Len() == 0 {
		m.err = io.EOF
		return "", nil, io.EOF
	}

	top := heap.Pop(&m.q).(*item)
	key, rows := top.key, top.rows
	m.popped = append(m.popped, top.source)
	for m.q.Len() > 0 && m.q[0].key == key {
		next := heap.Pop(&m.q).(*item)
		rows.Or(next.rows)
		m.popped = append(m.popped, next.source)
	}
	return key, rows, nil
}
