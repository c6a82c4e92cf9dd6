// Package testutil provides testing utilities for lance.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded RNG and generators for random text corpora.
//
// # Random Corpora
//
//	rng := testutil.NewRNG(seed)
//	corpus := rng.Corpus(1000, testutil.CorpusOptions{})
//	batches := corpus.Batches(64)
//
// # Ground Truth
//
//	want := corpus.Contains("wor") // row ids whose text holds the needle
package testutil
