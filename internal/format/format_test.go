package format

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader(t *testing.T) {
	h := NewHeader(3, CompressionLZ4)
	buf := h.Encode()
	require.Len(t, buf, HeaderSize)
	assert.Equal(t, "NGX1", string(buf[:4]))

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), got.NGramLength)
	assert.Equal(t, CompressionLZ4, got.Compression)

	bad := bytes.Clone(buf)
	bad[0] = 'X'
	_, err = DecodeHeader(bad)
	assert.ErrorIs(t, err, ErrInvalidMagic)
	assert.ErrorIs(t, err, ErrCorrupt)

	bad = bytes.Clone(buf)
	binary.LittleEndian.PutUint32(bad[4:], 99)
	_, err = DecodeHeader(bad)
	assert.ErrorIs(t, err, ErrInvalidVersion)

	bad = bytes.Clone(buf)
	bad[12] = 9
	_, err = DecodeHeader(bad)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = DecodeHeader(buf[:8])
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFooterValidate(t *testing.T) {
	f := Footer{
		DictOffset:     100,
		DictLength:     50,
		BlockMapOffset: 150,
		BlockMapLength: 2 * BlockRefSize,
		UniverseOffset: 190,
		UniverseLength: 10,
		NGramCount:     7,
		BlockCount:     2,
		MetaChecksum:   0xdeadbeef,
	}
	buf := f.Encode()
	require.Len(t, buf, FooterSize)

	got, err := DecodeFooter(buf)
	require.NoError(t, err)
	assert.Equal(t, f.DictOffset, got.DictOffset)
	assert.Equal(t, f.MetaChecksum, got.MetaChecksum)
	assert.Equal(t, uint64(100), got.MetaLength())

	fileSize := int64(200 + FooterSize)
	require.NoError(t, got.Validate(fileSize))
	assert.ErrorIs(t, got.Validate(fileSize+1), ErrCorrupt)

	shifted := *got
	shifted.BlockMapOffset++
	assert.ErrorIs(t, shifted.Validate(fileSize), ErrCorrupt)

	counts := *got
	counts.BlockCount = 3
	assert.ErrorIs(t, counts.Validate(fileSize), ErrCorrupt)

	inHeader := *got
	inHeader.DictOffset = 4
	assert.ErrorIs(t, inHeader.Validate(fileSize), ErrCorrupt)

	buf[63] = 0
	_, err = DecodeFooter(buf)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestBlockMap(t *testing.T) {
	refs := []BlockRef{
		{Offset: HeaderSize, StoredLen: 10, RawLen: 20, Checksum: 1},
		{Offset: HeaderSize + 10, StoredLen: 5, RawLen: 5, Checksum: 2},
	}
	buf := AppendBlockMap(nil, refs)
	require.Len(t, buf, 2*BlockRefSize)

	got, err := DecodeBlockMap(buf, 2, HeaderSize+15)
	require.NoError(t, err)
	assert.Equal(t, refs, got)
	assert.True(t, got[0].Compressed())
	assert.False(t, got[1].Compressed())

	_, err = DecodeBlockMap(buf, 2, HeaderSize+14)
	assert.ErrorIs(t, err, ErrCorrupt, "second block past limit")

	overlap := AppendBlockMap(nil, []BlockRef{refs[0], {Offset: HeaderSize + 5, StoredLen: 1, RawLen: 1}})
	_, err = DecodeBlockMap(overlap, 2, 1000)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = DecodeBlockMap(buf, 3, 1000)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestCompression(t *testing.T) {
	compressible := bytes.Repeat([]byte("roaring posting list "), 200)
	random := make([]byte, 512)
	for i := range random {
		random[i] = byte(i*7919 + i*i*31)
	}

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			for _, raw := range [][]byte{compressible, random} {
				stored, err := Compress(raw, c)
				require.NoError(t, err)
				if c == CompressionNone {
					assert.Equal(t, raw, stored)
				}
				if len(stored) != len(raw) {
					assert.Less(t, float64(len(stored)), float64(len(raw))*0.9)
				}

				ref := BlockRef{StoredLen: uint32(len(stored)), RawLen: uint32(len(raw)), Checksum: Checksum(stored)}
				out, err := Decompress(stored, ref, c)
				require.NoError(t, err)
				assert.Equal(t, raw, out)
			}
		})
	}

	stored, err := Compress(compressible, CompressionLZ4)
	require.NoError(t, err)
	require.Less(t, len(stored), len(compressible))
	ref := BlockRef{StoredLen: uint32(len(stored)), RawLen: uint32(len(compressible)), Checksum: Checksum(stored)}

	flipped := bytes.Clone(stored)
	flipped[len(flipped)/2] ^= 0xff
	_, err = Decompress(flipped, ref, CompressionLZ4)
	assert.ErrorIs(t, err, ErrChecksum)

	_, err = Decompress(stored[:len(stored)-1], ref, CompressionLZ4)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"none": CompressionNone, "LZ4": CompressionLZ4, " zstd ": CompressionZSTD} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("snappy")
	assert.Error(t, err)
}

func TestDictionary(t *testing.T) {
	blocks := []BlockRef{{RawLen: 100}, {RawLen: 40}}
	entries := []Entry{
		{NGram: "abc", Block: 0, Offset: 0, Length: 30, Cardinality: 3},
		{NGram: "abd", Block: 0, Offset: 30, Length: 70, Cardinality: 9},
		{NGram: "b", Block: 1, Offset: 0, Length: 10, Cardinality: 1},
		{NGram: "héé", Block: 1, Offset: 10, Length: 30, Cardinality: 2},
	}

	var enc DictionaryEncoder
	for _, e := range entries {
		require.NoError(t, enc.Add(e))
	}
	assert.Equal(t, uint32(4), enc.Len())
	assert.Error(t, enc.Add(Entry{NGram: "abc"}), "out of order")

	got, err := DecodeDictionary(enc.Bytes(), 4, blocks)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	_, err = DecodeDictionary(enc.Bytes(), 5, blocks)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = DecodeDictionary(enc.Bytes(), 4, blocks[:1])
	assert.ErrorIs(t, err, ErrCorrupt, "block id out of range")

	_, err = DecodeDictionary(enc.Bytes()[:10], 4, blocks)
	assert.ErrorIs(t, err, ErrCorrupt, "truncated")

	tooShort := []BlockRef{{RawLen: 99}, {RawLen: 40}}
	_, err = DecodeDictionary(enc.Bytes(), 4, tooShort)
	assert.ErrorIs(t, err, ErrCorrupt, "locator past raw block end")
}

// unsortedDictionary hand-encodes entries without the encoder's order check.
func unsortedDictionary(keys ...string) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(keys)))
	for _, k := range keys {
		buf = binary.AppendUvarint(buf, 0)
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)
		buf = binary.AppendUvarint(buf, 0) // block
		buf = binary.AppendUvarint(buf, 0) // offset
		buf = binary.AppendUvarint(buf, 1) // length
		buf = binary.AppendUvarint(buf, 1) // cardinality
	}
	return buf
}

func TestDictionary_Unsorted(t *testing.T) {
	blocks := []BlockRef{{RawLen: 10}}

	_, err := DecodeDictionary(unsortedDictionary("abc", "abd"), 2, blocks)
	require.NoError(t, err)

	_, err = DecodeDictionary(unsortedDictionary("abd", "abc"), 2, blocks)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = DecodeDictionary(unsortedDictionary("abc", "abc"), 2, blocks)
	assert.ErrorIs(t, err, ErrCorrupt, "duplicates are rejected")
}

func TestBlockWriter(t *testing.T) {
	var out bytes.Buffer
	w := NewBlockWriter(&out, HeaderSize, 10, CompressionNone)

	locate := func(list string) [2]uint32 {
		b, off, err := w.Add([]byte(list))
		require.NoError(t, err)
		return [2]uint32{b, off}
	}

	assert.Equal(t, [2]uint32{0, 0}, locate("aaaa"))
	assert.Equal(t, [2]uint32{0, 4}, locate("bbbb"))
	// 8 + 4 > 10 starts block 1.
	assert.Equal(t, [2]uint32{1, 0}, locate("cccc"))
	// Oversized list gets its own block.
	assert.Equal(t, [2]uint32{2, 0}, locate("dddddddddddddddd"))
	assert.Equal(t, [2]uint32{3, 0}, locate("ee"))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Flush())

	refs := w.Refs()
	require.Len(t, refs, 4)
	assert.Equal(t, []uint32{8, 4, 16, 2}, []uint32{refs[0].RawLen, refs[1].RawLen, refs[2].RawLen, refs[3].RawLen})
	assert.Equal(t, uint64(HeaderSize), refs[0].Offset)
	assert.Equal(t, uint64(HeaderSize+8), refs[1].Offset)
	assert.Equal(t, uint64(HeaderSize+30), w.Offset())
	assert.Equal(t, "aaaabbbbccccddddddddddddddddee", out.String())

	for _, r := range refs {
		raw := out.Bytes()[r.Offset-HeaderSize : r.Offset-HeaderSize+uint64(r.StoredLen)]
		assert.Equal(t, r.Checksum, Checksum(raw))
	}
}
