// Package spill writes sorted accumulator snapshots to durable storage and
// streams them back for the merge.
//
// Segment layout (little endian):
//
//	magic "NGS1" u32 | version u32 | entry count u64
//	entry*: n-gram length uvarint | n-gram | list length uvarint | roaring64 list
//	CRC32C of all entry bytes u32
//
// A Manager owns the segments of one build. At most one segment write runs in
// the background while ingestion continues; a second spill waits for it.
package spill
