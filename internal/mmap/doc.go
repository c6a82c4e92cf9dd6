// Package mmap maps immutable blob files into memory for read-only access.
//
// The local blob store serves posting-block reads straight out of the mapping,
// so a block fetch is a bounds-checked copy with no syscall on the hot path.
//
//	m, err := mmap.Open("index.ngx")
//	if err != nil { ... }
//	defer m.Close()
//
//	_ = m.Advise(mmap.AccessRandom)
//	n, err := m.ReadAt(buf, off)
//
// Unix platforms use mmap(2)/madvise(2); Windows uses CreateFileMapping and
// MapViewOfFile, where Advise is a no-op.
//
// Close is idempotent. Callers must not touch the slice returned by Bytes
// after Close returns.
package mmap
