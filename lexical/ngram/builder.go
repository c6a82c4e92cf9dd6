package ngram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/colemanliyah/lance/blobstore"
	"github.com/colemanliyah/lance/internal/posting"
	"github.com/colemanliyah/lance/internal/spill"
)

// minRowsPerWorker keeps small batches on the calling goroutine.
const minRowsPerWorker = 256

type buildState uint8

const (
	stateNew buildState = iota
	stateTrained
	stateWritten
	stateAborted
)

// BuildStats describes the progress of a build.
type BuildStats struct {
	Batches  int64
	Rows     int64 // non-null rows indexed
	NullRows int64
	Spills   int
	NGrams   int   // distinct n-grams in the written index
	Blocks   int   // posting blocks in the written index
	Bytes    int64 // size of the written index

	// EarlySpills counts spills forced by a shared memory limit before the
	// builder's own budget was reached.
	EarlySpills int
}

// Builder constructs one index from a batch stream.
//
// A Builder is used once: Train, then WriteIndex. It is not safe for
// concurrent use.
type Builder struct {
	store blobstore.BlobStore
	opts  options
	tok   Tokenizer

	mu  sync.Mutex // guards acc while workers fold
	acc *posting.Accumulator

	// reserved is the accumulator memory held in the resource controller.
	reserved int64

	spills      *spill.Manager
	spillPrefix string
	state       buildState
	stats       BuildStats
}

// NewBuilder validates opts and returns a builder that keeps its spill
// segments and the final index in store. No I/O happens until Train.
func NewBuilder(store blobstore.BlobStore, opts ...Option) (*Builder, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil blob store", ErrInvalidConfig)
	}
	o := applyOptions(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}
	tok, err := NewTokenizer(o.n)
	if err != nil {
		return nil, err
	}

	b := &Builder{
		store: store,
		opts:  o,
		tok:   tok,
		acc:   posting.NewAccumulator(),
	}
	if limit := o.resources.MemoryLimit(); limit > 0 && o.memoryBudget > limit {
		o.logger.Warn("memory budget exceeds resource limit, clamping",
			"budget", o.memoryBudget, "limit", limit)
		b.opts.memoryBudget = limit
	}
	b.spillPrefix = path.Join(o.spillPrefix, buildID())
	b.spills = spill.NewManager(store, spill.Options{
		Prefix:     b.spillPrefix,
		ReadBuffer: o.spillReadBuffer,
		Resources:  o.resources,
		Logger:     o.logger,
		OnSpill: func(seg spill.Segment, d time.Duration, err error) {
			o.metrics.RecordSpill(seg.Entries, seg.Bytes, d, err)
		},
	})
	return b, nil
}

func buildID() string {
	return fmt.Sprintf("%x-%08x", time.Now().UnixNano(), rand.Uint32())
}

// Train consumes stream until io.EOF and returns the number of spill
// segments written. Any error aborts the build and removes its segments.
func (b *Builder) Train(ctx context.Context, stream BatchStream) (spills int, err error) {
	switch b.state {
	case stateAborted:
		return 0, ErrClosed
	case stateTrained, stateWritten:
		return 0, ErrAlreadyTrained
	}

	start := time.Now()
	defer func() {
		b.opts.metrics.RecordTrain(b.stats.Rows, spills, time.Since(start), err)
	}()

	for {
		batch, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, b.fail(ctx, fmt.Errorf("ngram: read batch %d: %w", b.stats.Batches, err))
		}
		if err := b.addBatch(ctx, batch); err != nil {
			return 0, b.fail(ctx, err)
		}
		over := b.acc.MemoryEstimate() > b.opts.memoryBudget
		if !b.reserveMemory() && !over {
			b.stats.EarlySpills++
			over = true
		}
		if over {
			if err := b.spills.SpillAsync(ctx, b.acc.DrainSorted()); err != nil {
				return 0, b.fail(ctx, storageError("spill", b.spillPrefix, err))
			}
			b.releaseMemory()
		}
	}

	if err := b.spills.Wait(); err != nil {
		return 0, b.fail(ctx, storageError("spill", b.spillPrefix, err))
	}

	b.state = stateTrained
	b.stats.Spills = len(b.spills.Segments())
	b.opts.logger.Info("train finished",
		"rows", b.stats.Rows,
		"null_rows", b.stats.NullRows,
		"batches", b.stats.Batches,
		"spills", b.stats.Spills,
		"early_spills", b.stats.EarlySpills,
		"memory_in_use", b.opts.resources.MemoryUsage(),
		"duration", time.Since(start),
	)
	return b.stats.Spills, nil
}

func (b *Builder) addBatch(ctx context.Context, batch *Batch) error {
	if batch == nil {
		return fmt.Errorf("%w: nil batch %d", ErrInputMismatch, b.stats.Batches)
	}
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("batch %d: %w", b.stats.Batches, err)
	}
	b.stats.Batches++

	rows := batch.Len()
	workers := min(b.opts.workers, rows/minRowsPerWorker)
	if workers <= 1 {
		b.tokenizeRange(batch, 0, rows, b.acc)
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	chunk := (rows + workers - 1) / workers
	for lo := 0; lo < rows; lo += chunk {
		hi := min(lo+chunk, rows)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			local := posting.NewAccumulator()
			b.tokenizeRange(batch, lo, hi, local)

			b.mu.Lock()
			b.acc.Merge(local)
			b.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// tokenizeRange adds rows [lo, hi) of batch to acc.
func (b *Builder) tokenizeRange(batch *Batch, lo, hi int, acc *posting.Accumulator) {
	var (
		tokens []string
		nulls  int64
	)
	for i := lo; i < hi; i++ {
		if batch.IsNull(i) {
			nulls++
			continue
		}
		tokens = b.tok.Append(tokens[:0], batch.Texts[i])
		if len(tokens) == 0 {
			acc.AddRow(batch.RowIDs[i])
			continue
		}
		acc.Add(batch.RowIDs[i], tokens)
	}

	b.mu.Lock()
	b.stats.NullRows += nulls
	b.stats.Rows += int64(hi-lo) - nulls
	b.mu.Unlock()
}

// reserveMemory grows the controller reservation to the accumulator's
// current estimate. It returns false when the shared limit has no room left.
func (b *Builder) reserveMemory() bool {
	growth := b.acc.MemoryEstimate() - b.reserved
	if growth <= 0 {
		return true
	}
	if !b.opts.resources.TryAcquireMemory(growth) {
		return false
	}
	b.reserved += growth
	return true
}

func (b *Builder) releaseMemory() {
	b.opts.resources.ReleaseMemory(b.reserved)
	b.reserved = 0
}

// fail aborts the build after err and returns err.
func (b *Builder) fail(ctx context.Context, err error) error {
	b.state = stateAborted
	b.acc.Reset()
	b.releaseMemory()
	// Cleanup must run even when the caller's context is gone.
	if cerr := b.spills.Cleanup(context.WithoutCancel(ctx)); cerr != nil {
		b.opts.logger.Warn("spill cleanup failed", "error", cerr)
	}
	b.opts.logger.Error("build failed", "error", err)
	return err
}

// Abort stops the build and deletes its spill segments. It is a no-op after
// a successful WriteIndex.
func (b *Builder) Abort(ctx context.Context) error {
	if b.state == stateWritten || b.state == stateAborted {
		return nil
	}
	b.state = stateAborted
	b.acc.Reset()
	b.releaseMemory()
	return b.spills.Cleanup(ctx)
}

// Stats returns build statistics.
func (b *Builder) Stats() BuildStats {
	return b.stats
}

// NGramLength returns the configured n-gram length.
func (b *Builder) NGramLength() int {
	return b.tok.N()
}
