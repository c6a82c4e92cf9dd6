package ngram

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/colemanliyah/lance/cache"
	"github.com/colemanliyah/lance/internal/format"
	"github.com/colemanliyah/lance/resource"
)

// Compression selects the codec for posting blocks.
type Compression = format.Compression

// Posting block codecs.
const (
	CompressionNone = format.CompressionNone
	CompressionLZ4  = format.CompressionLZ4
	CompressionZSTD = format.CompressionZSTD
)

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	return format.ParseCompression(s)
}

// Defaults.
const (
	DefaultNGramLength     = 3
	DefaultMemoryBudget    = 256 << 20
	DefaultBlockSize       = 64 << 10
	DefaultCompression     = CompressionLZ4
	DefaultSpillPrefix     = "_spill/"
	DefaultSpillReadBuffer = 64 << 10
	DefaultCacheSize       = 64 << 20
)

type options struct {
	n               int
	memoryBudget    int64
	blockSize       int
	compression     format.Compression
	workers         int
	spillPrefix     string
	spillReadBuffer int
	resources       *resource.Controller
	logger          *slog.Logger
	metrics         MetricsCollector

	cacheSize  int64
	blockCache cache.BlockCache
}

// Option configures a Builder or a loaded Index.
//
// Build options are ignored by Load and load options by NewBuilder.
type Option func(*options)

func defaultOptions() options {
	return options{
		n:               DefaultNGramLength,
		memoryBudget:    DefaultMemoryBudget,
		blockSize:       DefaultBlockSize,
		compression:     DefaultCompression,
		workers:         runtime.GOMAXPROCS(0),
		spillPrefix:     DefaultSpillPrefix,
		spillReadBuffer: DefaultSpillReadBuffer,
		metrics:         NoopMetricsCollector{},
		cacheSize:       DefaultCacheSize,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.metrics == nil {
		o.metrics = NoopMetricsCollector{}
	}
	return o
}

func (o *options) validate() error {
	switch {
	case o.n < 1:
		return fmt.Errorf("%w: n-gram length %d, must be >= 1", ErrInvalidConfig, o.n)
	case o.memoryBudget <= 0:
		return fmt.Errorf("%w: memory budget %d, must be > 0", ErrInvalidConfig, o.memoryBudget)
	case o.blockSize <= 0:
		return fmt.Errorf("%w: block size %d, must be > 0", ErrInvalidConfig, o.blockSize)
	case !o.compression.Valid():
		return fmt.Errorf("%w: compression %d", ErrInvalidConfig, uint8(o.compression))
	case o.workers < 1:
		return fmt.Errorf("%w: workers %d, must be >= 1", ErrInvalidConfig, o.workers)
	case o.spillReadBuffer <= 0:
		return fmt.Errorf("%w: spill read buffer %d, must be > 0", ErrInvalidConfig, o.spillReadBuffer)
	}
	return nil
}

// WithNGramLength sets the n-gram length in code points. Default 3.
func WithNGramLength(n int) Option {
	return func(o *options) { o.n = n }
}

// WithMemoryBudget sets the posting memory estimate, in bytes, above which
// the builder spills to the blob store.
func WithMemoryBudget(bytes int64) Option {
	return func(o *options) { o.memoryBudget = bytes }
}

// WithBlockSize sets the target raw size of a posting block.
func WithBlockSize(bytes int) Option {
	return func(o *options) { o.blockSize = bytes }
}

// WithCompression selects the posting block codec.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithWorkers sets the number of tokenization workers per batch.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithSpillPrefix sets the blob name prefix for spill segments. Each build
// writes under its own sub-prefix.
func WithSpillPrefix(prefix string) Option {
	return func(o *options) { o.spillPrefix = prefix }
}

// WithSpillReadBuffer sets the read buffer per spill segment during the merge.
func WithSpillReadBuffer(bytes int) Option {
	return func(o *options) { o.spillReadBuffer = bytes }
}

// WithResourceController shares background slots, IO throughput and cache
// memory with other builders and indexes.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.resources = rc }
}

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(mc MetricsCollector) Option {
	return func(o *options) { o.metrics = mc }
}

// WithCacheSize sets the capacity of the index's own block cache.
// Ignored when WithBlockCache is given.
func WithCacheSize(bytes int64) Option {
	return func(o *options) { o.cacheSize = bytes }
}

// WithBlockCache makes the index use a shared cache. The index does not
// close it.
func WithBlockCache(c cache.BlockCache) Option {
	return func(o *options) { o.blockCache = c }
}
