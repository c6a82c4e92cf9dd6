// Package format defines the on-disk layout of a finished n-gram index.
//
//	+------------------+  offset 0
//	| Header (16B)     |  magic, version, n-gram length, compression
//	+------------------+
//	| Posting blocks   |  each block compresses a run of serialized posting lists
//	+------------------+  Footer.DictOffset
//	| Dictionary       |  front-coded, strictly ascending n-grams with locators
//	+------------------+  Footer.BlockMapOffset
//	| Block map        |  offset, stored length, raw length, CRC32C per block
//	+------------------+  Footer.UniverseOffset
//	| Universe         |  serialized bitmap of every indexed row
//	+------------------+
//	| Footer (64B)     |  section offsets, counts, metadata CRC32C, magic
//	+------------------+
//
// All integers are little endian. Every decoding error wraps ErrCorrupt.
package format
