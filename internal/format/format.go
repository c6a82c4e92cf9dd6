package format

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/colemanliyah/lance/internal/hash"
)

const (
	MagicNumber       = 0x3158474E // "NGX1"
	FooterMagicNumber = 0x4658474E // "NGXF"
	Version           = 1

	HeaderSize   = 16
	FooterSize   = 64
	BlockRefSize = 20
)

var (
	// ErrCorrupt is wrapped by every decoding and validation error.
	ErrCorrupt        = errors.New("corrupt index")
	ErrInvalidMagic   = fmt.Errorf("%w: invalid magic number", ErrCorrupt)
	ErrInvalidVersion = fmt.Errorf("%w: unsupported version", ErrCorrupt)
	ErrChecksum       = fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
)

// Checksum returns the CRC32C of data.
func Checksum(data []byte) uint32 {
	return hash.CRC32C(data)
}

// Header is stored at the beginning of the index file.
type Header struct {
	Magic       uint32
	Version     uint32
	NGramLength uint32
	Compression Compression
	_           [3]byte // Padding
}

// NewHeader returns a header for the current version.
func NewHeader(n int, c Compression) Header {
	return Header{
		Magic:       MagicNumber,
		Version:     Version,
		NGramLength: uint32(n),
		Compression: c,
	}
}

func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint32(buf[8:], h.NGramLength)
	buf[12] = byte(h.Compression)
	return buf
}

func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: buffer too small for header", ErrCorrupt)
	}
	h := &Header{}
	h.Magic = binary.LittleEndian.Uint32(buf[0:])
	if h.Magic != MagicNumber {
		return nil, ErrInvalidMagic
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:])
	if h.Version != Version {
		return nil, ErrInvalidVersion
	}
	h.NGramLength = binary.LittleEndian.Uint32(buf[8:])
	if h.NGramLength == 0 {
		return nil, fmt.Errorf("%w: zero n-gram length", ErrCorrupt)
	}
	h.Compression = Compression(buf[12])
	if !h.Compression.Valid() {
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, buf[12])
	}
	return h, nil
}

// Footer is stored in the last FooterSize bytes of the index file.
type Footer struct {
	DictOffset     uint64
	DictLength     uint64
	BlockMapOffset uint64
	BlockMapLength uint64
	UniverseOffset uint64
	UniverseLength uint64
	NGramCount     uint32
	BlockCount     uint32
	// MetaChecksum is the CRC32C of the dictionary, block map and universe.
	MetaChecksum uint32
	Magic        uint32
}

func (f *Footer) Encode() []byte {
	buf := make([]byte, FooterSize)
	binary.LittleEndian.PutUint64(buf[0:], f.DictOffset)
	binary.LittleEndian.PutUint64(buf[8:], f.DictLength)
	binary.LittleEndian.PutUint64(buf[16:], f.BlockMapOffset)
	binary.LittleEndian.PutUint64(buf[24:], f.BlockMapLength)
	binary.LittleEndian.PutUint64(buf[32:], f.UniverseOffset)
	binary.LittleEndian.PutUint64(buf[40:], f.UniverseLength)
	binary.LittleEndian.PutUint32(buf[48:], f.NGramCount)
	binary.LittleEndian.PutUint32(buf[52:], f.BlockCount)
	binary.LittleEndian.PutUint32(buf[56:], f.MetaChecksum)
	binary.LittleEndian.PutUint32(buf[60:], FooterMagicNumber)
	return buf
}

func DecodeFooter(buf []byte) (*Footer, error) {
	if len(buf) < FooterSize {
		return nil, fmt.Errorf("%w: buffer too small for footer", ErrCorrupt)
	}
	f := &Footer{}
	f.Magic = binary.LittleEndian.Uint32(buf[60:])
	if f.Magic != FooterMagicNumber {
		return nil, ErrInvalidMagic
	}
	f.DictOffset = binary.LittleEndian.Uint64(buf[0:])
	f.DictLength = binary.LittleEndian.Uint64(buf[8:])
	f.BlockMapOffset = binary.LittleEndian.Uint64(buf[16:])
	f.BlockMapLength = binary.LittleEndian.Uint64(buf[24:])
	f.UniverseOffset = binary.LittleEndian.Uint64(buf[32:])
	f.UniverseLength = binary.LittleEndian.Uint64(buf[40:])
	f.NGramCount = binary.LittleEndian.Uint32(buf[48:])
	f.BlockCount = binary.LittleEndian.Uint32(buf[52:])
	f.MetaChecksum = binary.LittleEndian.Uint32(buf[56:])
	return f, nil
}

// Validate checks that the sections are contiguous and lie between the
// header and the footer of a file of the given size.
func (f *Footer) Validate(fileSize int64) error {
	if fileSize < HeaderSize+FooterSize {
		return fmt.Errorf("%w: file too small (%d bytes)", ErrCorrupt, fileSize)
	}
	end := uint64(fileSize) - FooterSize
	switch {
	case f.DictOffset < HeaderSize:
		return fmt.Errorf("%w: dictionary offset %d inside header", ErrCorrupt, f.DictOffset)
	case f.DictOffset+f.DictLength != f.BlockMapOffset || f.DictOffset+f.DictLength < f.DictOffset:
		return fmt.Errorf("%w: dictionary bounds", ErrCorrupt)
	case f.BlockMapOffset+f.BlockMapLength != f.UniverseOffset || f.BlockMapOffset+f.BlockMapLength < f.BlockMapOffset:
		return fmt.Errorf("%w: block map bounds", ErrCorrupt)
	case f.UniverseOffset+f.UniverseLength != end || f.UniverseOffset+f.UniverseLength < f.UniverseOffset:
		return fmt.Errorf("%w: universe bounds", ErrCorrupt)
	case f.BlockMapLength != uint64(f.BlockCount)*BlockRefSize:
		return fmt.Errorf("%w: block map length %d for %d blocks", ErrCorrupt, f.BlockMapLength, f.BlockCount)
	}
	return nil
}

// MetaLength is the byte length of the dictionary, block map and universe.
func (f *Footer) MetaLength() uint64 {
	return f.DictLength + f.BlockMapLength + f.UniverseLength
}

// BlockRef locates one posting block in the file.
type BlockRef struct {
	Offset    uint64
	StoredLen uint32
	RawLen    uint32
	Checksum  uint32 // CRC32C of the stored bytes
}

// Compressed reports whether the block is stored compressed.
func (r BlockRef) Compressed() bool {
	return r.StoredLen != r.RawLen
}

// AppendBlockMap encodes refs.
func AppendBlockMap(dst []byte, refs []BlockRef) []byte {
	for _, r := range refs {
		dst = binary.LittleEndian.AppendUint64(dst, r.Offset)
		dst = binary.LittleEndian.AppendUint32(dst, r.StoredLen)
		dst = binary.LittleEndian.AppendUint32(dst, r.RawLen)
		dst = binary.LittleEndian.AppendUint32(dst, r.Checksum)
	}
	return dst
}

// DecodeBlockMap decodes count refs and checks that each block lies in
// [HeaderSize, limit) without overlapping its predecessor.
func DecodeBlockMap(buf []byte, count uint32, limit uint64) ([]BlockRef, error) {
	if uint64(len(buf)) != uint64(count)*BlockRefSize {
		return nil, fmt.Errorf("%w: block map size", ErrCorrupt)
	}
	refs := make([]BlockRef, count)
	next := uint64(HeaderSize)
	for i := range refs {
		b := buf[i*BlockRefSize:]
		r := BlockRef{
			Offset:    binary.LittleEndian.Uint64(b[0:]),
			StoredLen: binary.LittleEndian.Uint32(b[8:]),
			RawLen:    binary.LittleEndian.Uint32(b[12:]),
			Checksum:  binary.LittleEndian.Uint32(b[16:]),
		}
		if r.Offset < next || r.Offset+uint64(r.StoredLen) > limit {
			return nil, fmt.Errorf("%w: block %d out of bounds", ErrCorrupt, i)
		}
		if r.StoredLen > r.RawLen {
			return nil, fmt.Errorf("%w: block %d stored length exceeds raw length", ErrCorrupt, i)
		}
		next = r.Offset + uint64(r.StoredLen)
		refs[i] = r
	}
	return refs, nil
}
