package ngram

import (
	"fmt"
	"unicode/utf8"
)

// Tokenizer splits text into overlapping n-grams of N code points.
//
// N-grams are substrings of the input and keep its bytes as-is, so a
// substring of the text always tokenizes to a subsequence of the text's
// n-grams. Invalid UTF-8 bytes count as one code point each.
type Tokenizer struct {
	n int
}

// NewTokenizer returns a tokenizer for n-grams of length n.
func NewTokenizer(n int) (Tokenizer, error) {
	if n < 1 {
		return Tokenizer{}, fmt.Errorf("%w: n-gram length %d, must be >= 1", ErrInvalidConfig, n)
	}
	return Tokenizer{n: n}, nil
}

// N returns the n-gram length.
func (t Tokenizer) N() int { return t.n }

// Tokenize returns the n-grams of text from left to right. Text shorter than
// N yields itself as its only n-gram; empty text yields none. Duplicates are
// kept.
func (t Tokenizer) Tokenize(text string) []string {
	return t.Append(nil, text)
}

// Append appends the n-grams of text to dst.
func (t Tokenizer) Append(dst []string, text string) []string {
	if text == "" {
		return dst
	}

	// starts holds the byte offsets of the last n code points seen.
	starts := make([]int, 0, t.n)
	count := 0
	for i := 0; i < len(text); {
		_, w := utf8.DecodeRuneInString(text[i:])
		if count >= t.n {
			dst = append(dst, text[starts[0]:i])
			starts = append(starts[:0], starts[1:]...)
		}
		starts = append(starts, i)
		count++
		i += w
	}

	if count < t.n {
		return append(dst, text)
	}
	return append(dst, text[starts[0]:])
}

// RuneCount returns the length of text in code points, counting invalid
// bytes the way Tokenize does.
func RuneCount(text string) int {
	return utf8.RuneCountInString(text)
}
