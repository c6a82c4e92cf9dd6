package ngram

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus; see the metrics/prometheus package.
type MetricsCollector interface {
	// RecordTrain is called once per Train call.
	// rows is the number of rows consumed, spills the segments written.
	RecordTrain(rows int64, spills int, duration time.Duration, err error)

	// RecordSpill is called after each spill segment write.
	RecordSpill(entries uint64, bytes int64, duration time.Duration, err error)

	// RecordWrite is called once per WriteIndex call.
	RecordWrite(ngrams, blocks int, bytes int64, duration time.Duration, err error)

	// RecordSearch is called after each search.
	// candidates is the size of the result.
	RecordSearch(candidates uint64, duration time.Duration, err error)

	// RecordBlockFetch is called after each posting block read from the store.
	RecordBlockFetch(bytes int, duration time.Duration, err error)

	// RecordCacheHit and RecordCacheMiss are called per block lookup.
	RecordCacheHit()
	RecordCacheMiss()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTrain(int64, int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordSpill(uint64, int64, time.Duration, error)   {}
func (NoopMetricsCollector) RecordWrite(int, int, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordSearch(uint64, time.Duration, error)         {}
func (NoopMetricsCollector) RecordBlockFetch(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordCacheHit()                                   {}
func (NoopMetricsCollector) RecordCacheMiss()                                  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	TrainCount       atomic.Int64
	TrainErrors      atomic.Int64
	TrainRows        atomic.Int64
	SpillCount       atomic.Int64
	SpillErrors      atomic.Int64
	SpillBytes       atomic.Int64
	WriteCount       atomic.Int64
	WriteErrors      atomic.Int64
	WriteBytes       atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	BlockFetches     atomic.Int64
	BlockFetchErrors atomic.Int64
	BlockFetchBytes  atomic.Int64
	CacheHits        atomic.Int64
	CacheMisses      atomic.Int64
}

// RecordTrain implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrain(rows int64, _ int, _ time.Duration, err error) {
	b.TrainCount.Add(1)
	b.TrainRows.Add(rows)
	if err != nil {
		b.TrainErrors.Add(1)
	}
}

// RecordSpill implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSpill(_ uint64, bytes int64, _ time.Duration, err error) {
	b.SpillCount.Add(1)
	if err != nil {
		b.SpillErrors.Add(1)
		return
	}
	b.SpillBytes.Add(bytes)
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(_, _ int, bytes int64, _ time.Duration, err error) {
	b.WriteCount.Add(1)
	if err != nil {
		b.WriteErrors.Add(1)
		return
	}
	b.WriteBytes.Add(bytes)
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ uint64, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordBlockFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBlockFetch(bytes int, _ time.Duration, err error) {
	b.BlockFetches.Add(1)
	if err != nil {
		b.BlockFetchErrors.Add(1)
		return
	}
	b.BlockFetchBytes.Add(int64(bytes))
}

// RecordCacheHit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheHit() { b.CacheHits.Add(1) }

// RecordCacheMiss implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheMiss() { b.CacheMisses.Add(1) }

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TrainCount:     b.TrainCount.Load(),
		TrainErrors:    b.TrainErrors.Load(),
		TrainRows:      b.TrainRows.Load(),
		SpillCount:     b.SpillCount.Load(),
		SpillErrors:    b.SpillErrors.Load(),
		SpillBytes:     b.SpillBytes.Load(),
		WriteCount:     b.WriteCount.Load(),
		WriteErrors:    b.WriteErrors.Load(),
		WriteBytes:     b.WriteBytes.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchAvgNanos: b.getAvgSearchNanos(),
		BlockFetches:   b.BlockFetches.Load(),
		CacheHits:      b.CacheHits.Load(),
		CacheMisses:    b.CacheMisses.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	TrainCount     int64
	TrainErrors    int64
	TrainRows      int64
	SpillCount     int64
	SpillErrors    int64
	SpillBytes     int64
	WriteCount     int64
	WriteErrors    int64
	WriteBytes     int64
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	BlockFetches   int64
	CacheHits      int64
	CacheMisses    int64
}
