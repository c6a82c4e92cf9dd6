package ngram

import (
	"context"
	"fmt"
	"io"
)

// Batch is one chunk of the input column.
type Batch struct {
	// Texts holds the column values.
	Texts []string
	// Valid marks non-null values; nil means every value is valid.
	Valid []bool
	// RowIDs holds the row id of each value.
	RowIDs []uint64
}

// Len returns the number of rows.
func (b *Batch) Len() int { return len(b.Texts) }

// IsNull reports whether row i is null.
func (b *Batch) IsNull(i int) bool {
	return b.Valid != nil && !b.Valid[i]
}

// Validate checks that the columns have equal length.
func (b *Batch) Validate() error {
	if len(b.Texts) != len(b.RowIDs) {
		return fmt.Errorf("%w: %d texts, %d row ids", ErrInputMismatch, len(b.Texts), len(b.RowIDs))
	}
	if b.Valid != nil && len(b.Valid) != len(b.Texts) {
		return fmt.Errorf("%w: %d texts, %d validity flags", ErrInputMismatch, len(b.Texts), len(b.Valid))
	}
	return nil
}

// BatchStream is an ordered, finite sequence of batches.
type BatchStream interface {
	// Next returns the next batch, or io.EOF at the end of the stream.
	Next(ctx context.Context) (*Batch, error)
}

type sliceStream struct {
	batches []*Batch
}

// SliceStream returns a stream over batches.
func SliceStream(batches ...*Batch) BatchStream {
	return &sliceStream{batches: batches}
}

func (s *sliceStream) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.batches) == 0 {
		return nil, io.EOF
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

// BatchResult is one element of a channel-fed stream.
type BatchResult struct {
	Batch *Batch
	Err   error
}

type chanStream struct {
	ch <-chan BatchResult
}

// ChanStream returns a stream reading from ch until it is closed. A result
// with a non-nil Err fails the stream.
func ChanStream(ch <-chan BatchResult) BatchStream {
	return &chanStream{ch: ch}
}

func (s *chanStream) Next(ctx context.Context) (*Batch, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Batch, nil
	}
}
