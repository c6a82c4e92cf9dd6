// Package prometheus exports ngram build and query metrics to Prometheus.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/colemanliyah/lance/lexical/ngram"
)

// Ensure Collector implements ngram.MetricsCollector
var _ ngram.MetricsCollector = (*Collector)(nil)

// Collector implements ngram.MetricsCollector with Prometheus collectors.
type Collector struct {
	opLatency   *prometheus.HistogramVec
	opsTotal    *prometheus.CounterVec
	trainRows   prometheus.Counter
	spillBytes  prometheus.Counter
	indexBytes  prometheus.Counter
	candidates  prometheus.Histogram
	fetchBytes  prometheus.Counter
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// New creates a collector and registers it with reg. A nil reg registers
// with prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace string) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ngram_operation_latency_seconds",
			Help:      "Latency of n-gram index operations.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"op"}),
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ngram_operations_total",
			Help:      "N-gram index operations by kind and status.",
		}, []string{"op", "status"}),
		trainRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ngram_train_rows_total",
			Help:      "Rows consumed by index builds.",
		}),
		spillBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ngram_spill_bytes_total",
			Help:      "Bytes written to spill segments.",
		}),
		indexBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ngram_index_bytes_total",
			Help:      "Bytes written to published indexes.",
		}),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ngram_search_candidates",
			Help:      "Candidate rows returned per search.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ngram_block_fetch_bytes_total",
			Help:      "Posting block bytes read from the blob store.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ngram_block_cache_hits_total",
			Help:      "Posting block cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ngram_block_cache_misses_total",
			Help:      "Posting block cache misses.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.opLatency, c.opsTotal, c.trainRows, c.spillBytes, c.indexBytes,
		c.candidates, c.fetchBytes, c.cacheHits, c.cacheMisses,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	c.opLatency.WithLabelValues(op).Observe(d.Seconds())
	c.opsTotal.WithLabelValues(op, status(err)).Inc()
}

// RecordTrain implements ngram.MetricsCollector.
func (c *Collector) RecordTrain(rows int64, _ int, d time.Duration, err error) {
	c.observe("train", d, err)
	c.trainRows.Add(float64(rows))
}

// RecordSpill implements ngram.MetricsCollector.
func (c *Collector) RecordSpill(_ uint64, bytes int64, d time.Duration, err error) {
	c.observe("spill", d, err)
	if err == nil {
		c.spillBytes.Add(float64(bytes))
	}
}

// RecordWrite implements ngram.MetricsCollector.
func (c *Collector) RecordWrite(_, _ int, bytes int64, d time.Duration, err error) {
	c.observe("write", d, err)
	if err == nil {
		c.indexBytes.Add(float64(bytes))
	}
}

// RecordSearch implements ngram.MetricsCollector.
func (c *Collector) RecordSearch(candidates uint64, d time.Duration, err error) {
	c.observe("search", d, err)
	if err == nil {
		c.candidates.Observe(float64(candidates))
	}
}

// RecordBlockFetch implements ngram.MetricsCollector.
func (c *Collector) RecordBlockFetch(bytes int, d time.Duration, err error) {
	c.observe("block_fetch", d, err)
	if err == nil {
		c.fetchBytes.Add(float64(bytes))
	}
}

// RecordCacheHit implements ngram.MetricsCollector.
func (c *Collector) RecordCacheHit() { c.cacheHits.Inc() }

// RecordCacheMiss implements ngram.MetricsCollector.
func (c *Collector) RecordCacheMiss() { c.cacheMisses.Inc() }
