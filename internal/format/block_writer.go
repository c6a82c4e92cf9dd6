package format

import (
	"fmt"
	"io"
	"math"

	"github.com/colemanliyah/lance/internal/conv"
)

// BlockWriter packs serialized posting lists into blocks of roughly the
// target raw size and writes each compressed block to w.
//
// A block is flushed once its raw size reaches the target. A list that does
// not fit the current block starts a new one, so a list larger than the
// target ends up alone in its block.
type BlockWriter struct {
	w           io.Writer
	offset      uint64
	target      int
	compression Compression

	buf  []byte
	refs []BlockRef
}

// NewBlockWriter creates a writer whose first block lands at offset.
func NewBlockWriter(w io.Writer, offset uint64, target int, c Compression) *BlockWriter {
	if target <= 0 {
		target = 64 * 1024
	}
	return &BlockWriter{
		w:           w,
		offset:      offset,
		target:      target,
		compression: c,
		buf:         make([]byte, 0, target),
	}
}

// Add appends one posting list and returns its locator.
func (b *BlockWriter) Add(list []byte) (block, offset uint32, err error) {
	if len(list) > math.MaxUint32 {
		return 0, 0, fmt.Errorf("posting list of %d bytes too large", len(list))
	}
	if len(b.buf) > 0 && len(b.buf)+len(list) > b.target {
		if err := b.Flush(); err != nil {
			return 0, 0, err
		}
	}
	if len(b.refs) == math.MaxUint32 {
		return 0, 0, fmt.Errorf("too many blocks")
	}

	block = uint32(len(b.refs))
	offset = uint32(len(b.buf))
	b.buf = append(b.buf, list...)

	if len(b.buf) >= b.target {
		if err := b.Flush(); err != nil {
			return 0, 0, err
		}
	}
	return block, offset, nil
}

// Flush compresses and writes the pending block, if any.
func (b *BlockWriter) Flush() error {
	if len(b.buf) == 0 {
		return nil
	}

	stored, err := Compress(b.buf, b.compression)
	if err != nil {
		return err
	}
	storedLen, err := conv.IntToUint32(len(stored))
	if err != nil {
		return fmt.Errorf("block %d: %w", len(b.refs), err)
	}
	rawLen, err := conv.IntToUint32(len(b.buf))
	if err != nil {
		return fmt.Errorf("block %d: %w", len(b.refs), err)
	}
	if _, err := b.w.Write(stored); err != nil {
		return err
	}

	b.refs = append(b.refs, BlockRef{
		Offset:    b.offset,
		StoredLen: storedLen,
		RawLen:    rawLen,
		Checksum:  Checksum(stored),
	})
	b.offset += uint64(len(stored))
	b.buf = b.buf[:0]
	return nil
}

// Offset returns the file offset after the last written block.
func (b *BlockWriter) Offset() uint64 {
	return b.offset
}

// Refs returns the refs of all flushed blocks.
func (b *BlockWriter) Refs() []BlockRef {
	return b.refs
}
