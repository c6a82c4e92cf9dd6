// Package bolt provides a BlobStore backed by a single embedded bbolt file.
//
// It suits small deployments and CLI use where one file should carry every
// index of a dataset. Blobs are committed in one write transaction, so a
// blob is either fully present or absent.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/colemanliyah/lance/blobstore"
	"go.etcd.io/bbolt"
)

var bucketBlobs = []byte("blobs")

var errClosed = errors.New("bolt: blob already closed")

// Store implements blobstore.BlobStore on a bbolt database.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlobs); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketBlobs, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// DB returns the underlying database.
func (s *Store) DB() *bbolt.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Open opens a blob for reading.
func (s *Store) Open(_ context.Context, name string) (blobstore.Blob, error) {
	var size int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketBlobs).Get([]byte(name))
		if data == nil {
			return blobstore.ErrNotFound
		}
		size = int64(len(data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &boltBlob{db: s.db, name: []byte(name), size: size}, nil
}

// Create buffers writes and commits them on Close.
func (s *Store) Create(_ context.Context, name string) (blobstore.WritableBlob, error) {
	return &boltWritableBlob{store: s, name: name}, nil
}

// Put writes a blob atomically.
func (s *Store) Put(_ context.Context, name string, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(name), data)
	})
}

// Delete removes a blob.
func (s *Store) Delete(_ context.Context, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlobs).Delete([]byte(name))
	})
}

// List returns the names of all blobs with the given prefix.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketBlobs).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			names = append(names, string(k))
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

// boltBlob reads ranges inside short read transactions. Bytes returned by
// bbolt are only valid within the transaction, so they are copied out.
type boltBlob struct {
	db   *bbolt.DB
	name []byte
	size int64
}

func (b *boltBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketBlobs).Get(b.name)
		if data == nil {
			return blobstore.ErrNotFound
		}
		if off < 0 || off >= int64(len(data)) {
			return io.EOF
		}
		n = copy(p, data[off:])
		return nil
	})
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *boltBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || off >= b.size {
		if off == b.size && length == 0 {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		return nil, io.EOF
	}
	buf := make([]byte, min(length, b.size-off))
	n, err := b.ReadAt(ctx, buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(buf[:n])), nil
}

func (b *boltBlob) Size() int64 {
	return b.size
}

func (b *boltBlob) Close() error {
	return nil
}

type boltWritableBlob struct {
	store *Store
	name  string
	buf   bytes.Buffer
	done  bool
}

func (w *boltWritableBlob) Write(p []byte) (int, error) {
	if w.done {
		return 0, errClosed
	}
	return w.buf.Write(p)
}

func (w *boltWritableBlob) Sync() error {
	return nil
}

func (w *boltWritableBlob) Close() error {
	if w.done {
		return errClosed
	}
	w.done = true
	return w.store.Put(context.Background(), w.name, w.buf.Bytes())
}

func (w *boltWritableBlob) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}
