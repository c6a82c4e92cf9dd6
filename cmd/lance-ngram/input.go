package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/colemanliyah/lance/lexical/ngram"
)

const maxLineBytes = 16 << 20

// expandInputs resolves glob patterns (with ** support) into a sorted,
// de-duplicated file list.
func expandInputs(patterns []string) ([]string, error) {
	var files []string
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid input pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", p)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// totalSize sums the sizes of files.
func totalSize(files []string) (int64, error) {
	var n int64
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return 0, err
		}
		n += info.Size()
	}
	return n, nil
}

// lineStream reads files as one row per line. Row ids count lines across
// all files in order, starting at zero.
type lineStream struct {
	files     []string
	batchSize int
	onRead    func(bytes int)

	cur  *os.File
	sc   *bufio.Scanner
	next uint64
}

var _ ngram.BatchStream = (*lineStream)(nil)

func newLineStream(files []string, batchSize int) *lineStream {
	return &lineStream{files: files, batchSize: batchSize}
}

func (s *lineStream) Next(ctx context.Context) (*ngram.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &ngram.Batch{
		Texts:  make([]string, 0, s.batchSize),
		RowIDs: make([]uint64, 0, s.batchSize),
	}
	for len(b.Texts) < s.batchSize {
		if s.sc == nil {
			if len(s.files) == 0 {
				break
			}
			if err := s.open(); err != nil {
				return nil, err
			}
		}
		if !s.sc.Scan() {
			if err := s.closeCurrent(); err != nil {
				return nil, err
			}
			continue
		}
		line := s.sc.Text()
		b.Texts = append(b.Texts, line)
		b.RowIDs = append(b.RowIDs, s.next)
		s.next++
		if s.onRead != nil {
			s.onRead(len(line) + 1)
		}
	}
	if len(b.Texts) == 0 {
		return nil, io.EOF
	}
	return b, nil
}

func (s *lineStream) open() error {
	f, err := os.Open(s.files[0])
	if err != nil {
		return err
	}
	s.cur = f
	s.sc = bufio.NewScanner(f)
	s.sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	return nil
}

func (s *lineStream) closeCurrent() error {
	name := s.files[0]
	err := s.sc.Err()
	s.files = s.files[1:]
	s.sc = nil
	if cerr := s.cur.Close(); err == nil {
		err = cerr
	}
	s.cur = nil
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	return nil
}

// Close releases the open file, if any.
func (s *lineStream) Close() error {
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur, s.sc = nil, nil
	return err
}
