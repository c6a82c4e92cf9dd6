// Package blobstore provides the storage abstraction for spill segments and
// finished n-gram indexes.
//
// BlobStore is the interface for reading and writing named, immutable blobs.
// Implementations must be safe for concurrent use.
//
// # Publish Contract
//
// A blob created with Create is invisible under its name until Close returns
// nil. Abort discards everything written so far. Builders rely on this to
// never expose a partially written index.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, temp file + rename on Close, mmap reads
//   - MemoryStore: in-process map, for tests
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible services
//   - bolt.Store: a single embedded bbolt file
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Remote backends should implement ReadRange with a ranged GET so the index
// loader only transfers the blocks a query touches.
package blobstore
