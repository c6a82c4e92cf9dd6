// Package cache provides byte-bounded LRU caches for immutable posting blocks.
//
// The ShardedLRUBlockCache spreads entries over 64 shards, each with its own
// mutex, so concurrent queries against one loaded index rarely contend.
// Both caches can report their bytes to a resource.Controller so several
// loaded indexes share one global memory ceiling.
//
// Cached values are handed out as-is and must be treated as read-only.
// Eviction only drops the cache's reference; a caller that already holds a
// block keeps a valid slice.
package cache
