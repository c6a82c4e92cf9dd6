package testutil

import (
	"math/rand"
	"slices"
	"strings"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Shuffle pseudo-randomizes the order of n elements.
func (r *RNG) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Shuffle(n, swap)
}

// Words is a small vocabulary with shared prefixes, suffixes and a few
// multi-byte code points.
var Words = []string{
	"hello", "world", "goodbye", "lance", "index", "ngram", "column",
	"search", "substring", "posting", "block", "spill", "merge", "tower",
	"world-wide", "wordy", "sword", "résumé", "naïve", "日本語", "データ",
	"zebra", "zen", "a", "ab", "abc",
}

// Row is one generated row.
type Row struct {
	ID    uint64
	Text  string
	Valid bool
}

// CorpusOptions controls corpus generation.
type CorpusOptions struct {
	// MaxWords bounds the words per row. Default 8.
	MaxWords int
	// NullRate is the fraction of null rows.
	NullRate float64
	// EmptyRate is the fraction of rows with empty text.
	EmptyRate float64
	// Sparse spreads row ids over a wide range instead of 0..n-1.
	Sparse bool
}

// Corpus is a generated set of rows with unique ids.
type Corpus struct {
	Rows []Row
}

// Word returns a random vocabulary word.
func (r *RNG) Word() string {
	return Words[r.Intn(len(Words))]
}

// Text returns up to maxWords random words joined by single spaces.
func (r *RNG) Text(maxWords int) string {
	n := 1 + r.Intn(maxWords)
	words := make([]string, n)
	for i := range words {
		words[i] = r.Word()
	}
	return strings.Join(words, " ")
}

// Corpus generates n rows.
func (r *RNG) Corpus(n int, opts CorpusOptions) *Corpus {
	if opts.MaxWords <= 0 {
		opts.MaxWords = 8
	}
	c := &Corpus{Rows: make([]Row, n)}
	var next uint64
	for i := range c.Rows {
		if opts.Sparse {
			next += 1 + uint64(r.Intn(1<<20))
		} else if i > 0 {
			next++
		}
		row := Row{ID: next, Valid: true}
		switch p := r.Float64(); {
		case p < opts.NullRate:
			row.Valid = false
		case p < opts.NullRate+opts.EmptyRate:
		default:
			row.Text = r.Text(opts.MaxWords)
		}
		c.Rows[i] = row
	}
	return c
}

// Chunk splits the rows into consecutive chunks of at most size rows.
func (c *Corpus) Chunk(size int) [][]Row {
	if size <= 0 {
		size = len(c.Rows)
	}
	var out [][]Row
	for rows := c.Rows; len(rows) > 0; {
		k := min(size, len(rows))
		out = append(out, rows[:k])
		rows = rows[k:]
	}
	return out
}

// Contains returns the ids of valid rows whose text contains needle, ascending.
func (c *Corpus) Contains(needle string) []uint64 {
	var ids []uint64
	for _, row := range c.Rows {
		if row.Valid && strings.Contains(row.Text, needle) {
			ids = append(ids, row.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

// ValidIDs returns the ids of every non-null row, ascending.
func (c *Corpus) ValidIDs() []uint64 {
	var ids []uint64
	for _, row := range c.Rows {
		if row.Valid {
			ids = append(ids, row.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

// Substring returns a random substring of a random non-empty valid row, cut
// at byte offsets that keep UTF-8 intact.
func (r *RNG) Substring(c *Corpus) (string, bool) {
	var texts []string
	for _, row := range c.Rows {
		if row.Valid && row.Text != "" {
			texts = append(texts, row.Text)
		}
	}
	if len(texts) == 0 {
		return "", false
	}
	runes := []rune(texts[r.Intn(len(texts))])
	lo := r.Intn(len(runes))
	hi := lo + 1 + r.Intn(len(runes)-lo)
	return string(runes[lo:hi]), true
}
