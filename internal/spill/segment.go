package spill

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/colemanliyah/lance/blobstore"
	checksum "github.com/colemanliyah/lance/internal/hash"
	"github.com/colemanliyah/lance/internal/posting"
)

const (
	segmentMagic   = 0x3153474E // "NGS1"
	segmentVersion = 1
	headerSize     = 16

	// maxKeyLen bounds a single n-gram; n-grams are a few code points.
	maxKeyLen = 1 << 16
)

// ErrCorrupt is returned when a segment cannot be decoded.
var ErrCorrupt = errors.New("corrupt spill segment")

// Segment describes one written spill segment.
type Segment struct {
	Name    string
	Entries uint64
	Bytes   int64
}

// writeSegment encodes pairs into w and returns the number of bytes written.
func writeSegment(w io.Writer, pairs []posting.Pair) (int64, error) {
	bw := bufio.NewWriterSize(w, 64*1024)
	crc := checksum.NewCRC32C()
	var written int64

	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], segmentMagic)
	binary.LittleEndian.PutUint32(hdr[4:], segmentVersion)
	binary.LittleEndian.PutUint64(hdr[8:], uint64(len(pairs)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return written, err
	}
	written += headerSize

	body := io.MultiWriter(bw, crc)
	var scratch []byte
	for _, p := range pairs {
		list, err := posting.Encode(p.Rows)
		if err != nil {
			return written, err
		}
		scratch = binary.AppendUvarint(scratch[:0], uint64(len(p.NGram)))
		scratch = append(scratch, p.NGram...)
		scratch = binary.AppendUvarint(scratch, uint64(len(list)))
		if _, err := body.Write(scratch); err != nil {
			return written, err
		}
		if _, err := body.Write(list); err != nil {
			return written, err
		}
		written += int64(len(scratch) + len(list))
	}

	if err := binary.Write(bw, binary.LittleEndian, crc.Sum32()); err != nil {
		return written, err
	}
	written += 4
	return written, bw.Flush()
}

// hashingReader hashes exactly the bytes the decoder consumes, which the
// bufio read-ahead would otherwise blur.
type hashingReader struct {
	br *bufio.Reader
	h  hash.Hash32
}

func (r *hashingReader) ReadByte() (byte, error) {
	b, err := r.br.ReadByte()
	if err == nil {
		_, _ = r.h.Write([]byte{b})
	}
	return b, err
}

func (r *hashingReader) readFull(p []byte) error {
	if _, err := io.ReadFull(r.br, p); err != nil {
		return err
	}
	_, _ = r.h.Write(p)
	return nil
}

// Reader streams the entries of one segment in ascending n-gram order using a
// bounded read buffer.
type Reader struct {
	name      string
	blob      blobstore.Blob
	body      io.ReadCloser
	hr        *hashingReader
	remaining uint64
	prev      string
	started   bool
	buf       []byte
	final     error
}

// OpenReader opens a segment for sequential reading.
func OpenReader(ctx context.Context, store blobstore.BlobStore, name string, bufSize int) (*Reader, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	body, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		_ = blob.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s: empty", ErrCorrupt, name)
		}
		return nil, err
	}

	r := &Reader{
		name: name,
		blob: blob,
		body: body,
		hr:   &hashingReader{br: bufio.NewReaderSize(body, bufSize), h: checksum.NewCRC32C()},
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(r.hr.br, hdr[:]); err != nil {
		_ = r.Close()
		return nil, r.corrupt("header: %v", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:]) != segmentMagic {
		_ = r.Close()
		return nil, r.corrupt("invalid magic number")
	}
	if v := binary.LittleEndian.Uint32(hdr[4:]); v != segmentVersion {
		_ = r.Close()
		return nil, r.corrupt("unsupported version %d", v)
	}
	r.remaining = binary.LittleEndian.Uint64(hdr[8:])
	return r, nil
}

func (r *Reader) corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrCorrupt, r.name, fmt.Sprintf(format, args...))
}

// Next returns the next entry, or io.EOF after the last entry once the
// trailing checksum has been verified.
func (r *Reader) Next() (string, *roaring64.Bitmap, error) {
	if r.remaining == 0 {
		if r.final == nil {
			r.final = r.finish()
		}
		return "", nil, r.final
	}

	keyLen, err := binary.ReadUvarint(r.hr)
	if err != nil {
		return "", nil, r.corrupt("key length: %v", err)
	}
	if keyLen == 0 || keyLen > maxKeyLen {
		return "", nil, r.corrupt("key length %d", keyLen)
	}
	key := make([]byte, keyLen)
	if err := r.hr.readFull(key); err != nil {
		return "", nil, r.corrupt("key: %v", err)
	}

	listLen, err := binary.ReadUvarint(r.hr)
	if err != nil {
		return "", nil, r.corrupt("list length: %v", err)
	}
	if listLen > math.MaxInt32 || int64(listLen) > r.blob.Size() {
		return "", nil, r.corrupt("list length %d", listLen)
	}
	if cap(r.buf) < int(listLen) {
		r.buf = make([]byte, listLen)
	}
	r.buf = r.buf[:listLen]
	if err := r.hr.readFull(r.buf); err != nil {
		return "", nil, r.corrupt("list: %v", err)
	}
	rows, err := posting.Decode(r.buf)
	if err != nil {
		return "", nil, r.corrupt("%v", err)
	}

	k := string(key)
	if r.started && k <= r.prev {
		return "", nil, r.corrupt("keys out of order (%q after %q)", k, r.prev)
	}
	r.prev, r.started = k, true
	r.remaining--
	return k, rows, nil
}

func (r *Reader) finish() error {
	want := r.hr.h.Sum32()
	var tail [4]byte
	if _, err := io.ReadFull(r.hr.br, tail[:]); err != nil {
		return r.corrupt("checksum: %v", err)
	}
	if binary.LittleEndian.Uint32(tail[:]) != want {
		return r.corrupt("checksum mismatch")
	}
	if _, err := r.hr.br.ReadByte(); err != io.EOF {
		return r.corrupt("trailing bytes")
	}
	return io.EOF
}

// Close releases the underlying blob.
func (r *Reader) Close() error {
	err := r.body.Close()
	if cerr := r.blob.Close(); err == nil {
		err = cerr
	}
	return err
}
