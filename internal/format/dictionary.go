package format

import (
	"encoding/binary"
	"fmt"
)

// Entry maps one n-gram to the location of its posting list.
type Entry struct {
	NGram       string
	Block       uint32
	Offset      uint32 // offset inside the decompressed block
	Length      uint32
	Cardinality uint64
}

// DictionaryEncoder builds a front-coded dictionary. Entries must be added in
// strictly ascending n-gram order.
type DictionaryEncoder struct {
	buf   []byte
	prev  string
	count uint32
}

// Add appends e.
func (d *DictionaryEncoder) Add(e Entry) error {
	if d.count > 0 && e.NGram <= d.prev {
		return fmt.Errorf("dictionary: %q added after %q", e.NGram, d.prev)
	}
	shared := sharedPrefix(d.prev, e.NGram)
	suffix := e.NGram[shared:]

	d.buf = binary.AppendUvarint(d.buf, uint64(shared))
	d.buf = binary.AppendUvarint(d.buf, uint64(len(suffix)))
	d.buf = append(d.buf, suffix...)
	d.buf = binary.AppendUvarint(d.buf, uint64(e.Block))
	d.buf = binary.AppendUvarint(d.buf, uint64(e.Offset))
	d.buf = binary.AppendUvarint(d.buf, uint64(e.Length))
	d.buf = binary.AppendUvarint(d.buf, e.Cardinality)

	d.prev = e.NGram
	d.count++
	return nil
}

// Len returns the number of entries added.
func (d *DictionaryEncoder) Len() uint32 {
	return d.count
}

// Bytes returns the encoded dictionary: count, then entries.
func (d *DictionaryEncoder) Bytes() []byte {
	out := binary.AppendUvarint(make([]byte, 0, len(d.buf)+binary.MaxVarintLen32), uint64(d.count))
	return append(out, d.buf...)
}

func sharedPrefix(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

type dictReader struct {
	buf []byte
	pos int
}

func (r *dictReader) uvarint(field string, limit uint64) (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: dictionary: truncated %s at byte %d", ErrCorrupt, field, r.pos)
	}
	if v > limit {
		return 0, fmt.Errorf("%w: dictionary: %s %d out of range", ErrCorrupt, field, v)
	}
	r.pos += n
	return v, nil
}

// DecodeDictionary decodes a dictionary and validates it: the count must
// match, n-grams must be strictly ascending, every block id must be below
// len(blocks) and every (offset, length) must lie inside the block's raw size.
func DecodeDictionary(buf []byte, want uint32, blocks []BlockRef) ([]Entry, error) {
	r := &dictReader{buf: buf}

	count, err := r.uvarint("count", uint64(^uint32(0)))
	if err != nil {
		return nil, err
	}
	if uint32(count) != want {
		return nil, fmt.Errorf("%w: dictionary holds %d entries, footer says %d", ErrCorrupt, count, want)
	}
	// Each entry takes at least 6 bytes; reject absurd counts before allocating.
	if count > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: dictionary count %d exceeds size", ErrCorrupt, count)
	}

	entries := make([]Entry, count)
	var prev string
	for i := range entries {
		shared, err := r.uvarint("shared prefix", uint64(len(prev)))
		if err != nil {
			return nil, err
		}
		suffixLen, err := r.uvarint("suffix length", uint64(len(buf)-r.pos))
		if err != nil {
			return nil, err
		}
		suffix := buf[r.pos : r.pos+int(suffixLen)]
		r.pos += int(suffixLen)

		key := prev[:shared] + string(suffix)
		if i > 0 && key <= prev {
			return nil, fmt.Errorf("%w: dictionary not sorted at entry %d (%q after %q)", ErrCorrupt, i, key, prev)
		}

		block, err := r.uvarint("block", uint64(^uint32(0)))
		if err != nil {
			return nil, err
		}
		if block >= uint64(len(blocks)) {
			return nil, fmt.Errorf("%w: entry %q references block %d of %d", ErrCorrupt, key, block, len(blocks))
		}
		raw := uint64(blocks[block].RawLen)
		off, err := r.uvarint("offset", raw)
		if err != nil {
			return nil, err
		}
		length, err := r.uvarint("length", raw-off)
		if err != nil {
			return nil, err
		}
		card, err := r.uvarint("cardinality", ^uint64(0))
		if err != nil {
			return nil, err
		}

		entries[i] = Entry{
			NGram:       key,
			Block:       uint32(block),
			Offset:      uint32(off),
			Length:      uint32(length),
			Cardinality: card,
		}
		prev = key
	}
	if r.pos != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing dictionary bytes", ErrCorrupt, len(buf)-r.pos)
	}
	return entries, nil
}
