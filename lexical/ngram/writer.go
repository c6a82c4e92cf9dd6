package ngram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/colemanliyah/lance/internal/format"
	"github.com/colemanliyah/lance/internal/merge"
	"github.com/colemanliyah/lance/internal/posting"
	"github.com/colemanliyah/lance/resource"
)

// ctxCheckInterval is how many merged entries pass between context checks.
const ctxCheckInterval = 1024

// WriteIndex merges every spill segment with the in-memory remainder and
// publishes the index at name. The index becomes visible only once it is
// completely written; on failure nothing is left at name. Spill segments are
// removed in both cases.
func (b *Builder) WriteIndex(ctx context.Context, name string) (err error) {
	switch b.state {
	case stateNew:
		return ErrNotTrained
	case stateWritten:
		return ErrAlreadyWritten
	case stateAborted:
		return ErrClosed
	}

	start := time.Now()
	defer func() {
		b.opts.metrics.RecordWrite(b.stats.NGrams, b.stats.Blocks, b.stats.Bytes, time.Since(start), err)
	}()

	sources := make([]merge.Source, 0, len(b.spills.Segments())+1)
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	for _, seg := range b.spills.Segments() {
		r, err := b.spills.Open(ctx, seg)
		if err != nil {
			return b.fail(ctx, storageError("open spill", seg.Name, err))
		}
		closers = append(closers, r)
		sources = append(sources, r)
	}
	sources = append(sources, merge.NewSliceSource(b.acc.DrainSorted()))
	defer b.releaseMemory()

	blob, err := b.store.Create(ctx, name)
	if err != nil {
		return b.fail(ctx, storageError("create", name, err))
	}

	res, err := b.writeIndex(ctx, blob, merge.New(sources...))
	if err == nil {
		err = blob.Close()
		if err != nil {
			err = storageError("publish", name, err)
		}
	}
	if err != nil {
		_ = blob.Abort()
		var se *StorageError
		if !errors.As(err, &se) && !errors.Is(err, ErrCorrupt) && ctx.Err() == nil {
			err = storageError("write", name, err)
		}
		return b.fail(ctx, err)
	}

	b.state = stateWritten
	b.stats.NGrams = int(res.ngrams)
	b.stats.Blocks = int(res.blocks)
	b.stats.Bytes = res.bytes
	b.acc.Reset()

	if cerr := b.spills.Cleanup(context.WithoutCancel(ctx)); cerr != nil {
		b.opts.logger.Warn("spill cleanup failed", "error", cerr)
	}
	b.opts.logger.Info("index written",
		"path", name,
		"ngrams", res.ngrams,
		"blocks", res.blocks,
		"bytes", res.bytes,
		"duration", time.Since(start),
	)
	return nil
}

type writeResult struct {
	ngrams uint32
	blocks uint32
	bytes  int64
}

func (b *Builder) writeIndex(ctx context.Context, dst io.Writer, m *merge.Merger) (writeResult, error) {
	bw := bufio.NewWriterSize(resource.NewRateLimitedWriter(ctx, dst, b.opts.resources), 256*1024)

	header := format.NewHeader(b.tok.N(), b.opts.compression)
	if _, err := bw.Write(header.Encode()); err != nil {
		return writeResult{}, err
	}

	blocks := format.NewBlockWriter(bw, format.HeaderSize, b.opts.blockSize, b.opts.compression)
	var dict format.DictionaryEncoder
	for i := 0; ; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return writeResult{}, err
			}
		}
		key, rows, err := m.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, merge.ErrOutOfOrder) {
				return writeResult{}, fmt.Errorf("merge: %w: %w", ErrCorrupt, err)
			}
			return writeResult{}, fmt.Errorf("merge: %w", err)
		}

		list, err := posting.Encode(rows)
		if err != nil {
			return writeResult{}, err
		}
		block, off, err := blocks.Add(list)
		if err != nil {
			return writeResult{}, err
		}
		if err := dict.Add(format.Entry{
			NGram:       key,
			Block:       block,
			Offset:      off,
			Length:      uint32(len(list)),
			Cardinality: rows.GetCardinality(),
		}); err != nil {
			return writeResult{}, err
		}
	}
	if err := blocks.Flush(); err != nil {
		return writeResult{}, err
	}

	universe, err := posting.Encode(b.acc.Rows())
	if err != nil {
		return writeResult{}, err
	}
	refs := blocks.Refs()
	dictBytes := dict.Bytes()
	blockMap := format.AppendBlockMap(nil, refs)

	meta := make([]byte, 0, len(dictBytes)+len(blockMap)+len(universe))
	meta = append(meta, dictBytes...)
	meta = append(meta, blockMap...)
	meta = append(meta, universe...)

	footer := format.Footer{
		DictOffset:     blocks.Offset(),
		DictLength:     uint64(len(dictBytes)),
		BlockMapLength: uint64(len(blockMap)),
		UniverseLength: uint64(len(universe)),
		NGramCount:     dict.Len(),
		BlockCount:     uint32(len(refs)),
		MetaChecksum:   format.Checksum(meta),
	}
	footer.BlockMapOffset = footer.DictOffset + footer.DictLength
	footer.UniverseOffset = footer.BlockMapOffset + footer.BlockMapLength

	if _, err := bw.Write(meta); err != nil {
		return writeResult{}, err
	}
	if _, err := bw.Write(footer.Encode()); err != nil {
		return writeResult{}, err
	}
	if err := bw.Flush(); err != nil {
		return writeResult{}, err
	}

	return writeResult{
		ngrams: footer.NGramCount,
		blocks: footer.BlockCount,
		bytes:  int64(footer.UniverseOffset + footer.UniverseLength + format.FooterSize),
	}, nil
}
