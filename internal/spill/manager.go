package spill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/colemanliyah/lance/blobstore"
	"github.com/colemanliyah/lance/internal/posting"
	"github.com/colemanliyah/lance/resource"
)

// Manager owns the spill segments of one build.
type Manager struct {
	store      blobstore.BlobStore
	prefix     string
	rc         *resource.Controller
	logger     *slog.Logger
	readBuffer int
	onSpill    func(Segment, time.Duration, error)

	// bg runs at most one segment write at a time.
	bg *errgroup.Group

	mu       sync.Mutex
	seq      int
	names    []string  // every segment name handed out, for cleanup
	segments []Segment // completed segments in creation order
	err      error     // first background failure
}

// Options configures a Manager.
type Options struct {
	// Prefix is the blob name prefix for this build's segments.
	Prefix string
	// ReadBuffer is the per-segment read buffer used during the merge.
	ReadBuffer int
	// Resources governs the background slot and write throughput. May be nil.
	Resources *resource.Controller
	Logger    *slog.Logger
	// OnSpill is called after every segment write, successful or not.
	OnSpill func(seg Segment, elapsed time.Duration, err error)
}

// NewManager creates a manager writing segments under opts.Prefix.
func NewManager(store blobstore.BlobStore, opts Options) *Manager {
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = 64 * 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	bg := &errgroup.Group{}
	bg.SetLimit(1)

	return &Manager{
		store:      store,
		prefix:     opts.Prefix,
		rc:         opts.Resources,
		logger:     opts.Logger,
		readBuffer: opts.ReadBuffer,
		onSpill:    opts.OnSpill,
		bg:         bg,
	}
}

func (m *Manager) reserve() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	name := path.Join(m.prefix, fmt.Sprintf("seg-%06d", m.seq))
	m.names = append(m.names, name)
	return name
}

// SpillAsync writes pairs in the background. If a previous background write
// is still running it blocks until that write finishes, so at most one
// snapshot is in flight next to the live accumulator. A failure of an
// earlier write is returned here or from Wait.
func (m *Manager) SpillAsync(ctx context.Context, pairs []posting.Pair) error {
	if err := m.Err(); err != nil {
		return err
	}
	if err := m.rc.AcquireBackground(ctx); err != nil {
		return err
	}
	// The slot may have been held by our own previous write; recheck.
	if err := m.Err(); err != nil {
		m.rc.ReleaseBackground()
		return err
	}

	name := m.reserve()
	m.bg.Go(func() error {
		defer m.rc.ReleaseBackground()
		if err := m.Err(); err != nil {
			return err
		}
		_, err := m.write(ctx, name, pairs)
		return err
	})
	return nil
}

// Wait blocks until no background write is running and returns the first
// background failure, if any.
func (m *Manager) Wait() error {
	_ = m.bg.Wait()
	return m.Err()
}

// Err returns the first background failure.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Manager) write(ctx context.Context, name string, pairs []posting.Pair) (seg Segment, err error) {
	start := time.Now()
	seg = Segment{Name: name, Entries: uint64(len(pairs))}
	m.logger.Debug("spill started", "segment", name, "entries", len(pairs))

	defer func() {
		elapsed := time.Since(start)
		if err != nil {
			err = fmt.Errorf("spill %s: %w", name, err)
			m.mu.Lock()
			if m.err == nil {
				m.err = err
			}
			m.mu.Unlock()
			m.logger.Error("spill failed", "segment", name, "error", err)
		} else {
			m.mu.Lock()
			m.segments = append(m.segments, seg)
			m.mu.Unlock()
			m.logger.Info("spill finished", "segment", name, "entries", seg.Entries, "bytes", seg.Bytes, "duration", elapsed)
		}
		if m.onSpill != nil {
			m.onSpill(seg, elapsed, err)
		}
	}()

	w, err := m.store.Create(ctx, name)
	if err != nil {
		return seg, err
	}
	n, err := writeSegment(resource.NewRateLimitedWriter(ctx, w, m.rc), pairs)
	if err != nil {
		_ = w.Abort()
		return seg, err
	}
	if err := w.Close(); err != nil {
		_ = w.Abort()
		return seg, err
	}
	seg.Bytes = n
	return seg, nil
}

// Segments returns the completed segments in creation order.
func (m *Manager) Segments() []Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Segment(nil), m.segments...)
}

// Open opens a completed segment for the merge.
func (m *Manager) Open(ctx context.Context, seg Segment) (*Reader, error) {
	return OpenReader(ctx, m.store, seg.Name, m.readBuffer)
}

// Cleanup waits for any background write and deletes every segment this
// manager created. It is safe to call more than once.
func (m *Manager) Cleanup(ctx context.Context) error {
	_ = m.bg.Wait()

	m.mu.Lock()
	names := m.names
	m.names = nil
	m.segments = nil
	m.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := m.store.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}
	if len(names) > 0 {
		m.logger.Debug("spill segments removed", "count", len(names))
	}
	return errors.Join(errs...)
}
