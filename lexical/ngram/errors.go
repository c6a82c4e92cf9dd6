package ngram

import (
	"errors"
	"fmt"

	"github.com/colemanliyah/lance/internal/format"
)

var (
	// ErrInvalidConfig is returned by NewBuilder and Load for unusable options.
	ErrInvalidConfig = errors.New("ngram: invalid configuration")

	// ErrInputMismatch is returned when a batch's columns differ in length.
	ErrInputMismatch = errors.New("ngram: batch column length mismatch")

	// ErrCorrupt is returned when an index file fails validation.
	ErrCorrupt = format.ErrCorrupt

	// ErrClosed is returned by operations on a closed index or aborted builder.
	ErrClosed = errors.New("ngram: closed")

	// ErrNotTrained is returned by WriteIndex before Train has completed.
	ErrNotTrained = errors.New("ngram: builder not trained")

	// ErrAlreadyTrained is returned by a second call to Train.
	ErrAlreadyTrained = errors.New("ngram: builder already trained")

	// ErrAlreadyWritten is returned by a second call to WriteIndex.
	ErrAlreadyWritten = errors.New("ngram: index already written")
)

// StorageError reports a failed blob store operation.
//
// The original underlying error can be accessed via errors.Unwrap.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ngram: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Path: path, Err: err}
}

func corrupt(path string, err error) error {
	if errors.Is(err, ErrCorrupt) {
		return fmt.Errorf("ngram: %s: %w", path, err)
	}
	return fmt.Errorf("ngram: %s: %w: %w", path, ErrCorrupt, err)
}
