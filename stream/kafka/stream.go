// Package kafka exposes one Kafka topic partition as an ngram.BatchStream.
//
// The stream is bounded: it reads from the first retained offset up to the
// high-water mark observed when it was opened, then reports io.EOF. Each
// message is one row. The key holds the row id as a decimal string; an empty
// key uses the message offset. A nil value is a null row.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/colemanliyah/lance/lexical/ngram"
)

// DefaultBatchSize is the number of messages per batch.
const DefaultBatchSize = 1024

// ErrInvalidKey is returned when a message key is not a decimal row id.
var ErrInvalidKey = errors.New("kafka: invalid row id key")

// MessageReader is the subset of *kafka.Reader used by Stream.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

var _ MessageReader = (*kafka.Reader)(nil)

// Config describes the partition to read.
type Config struct {
	Brokers   []string
	Topic     string
	Partition int
	BatchSize int
	Logger    *slog.Logger
}

// Stream is a bounded BatchStream over one partition.
type Stream struct {
	reader    MessageReader
	next      int64 // offset of the next message to read
	end       int64 // high-water mark; reading stops here
	batchSize int
	logger    *slog.Logger
	rows      int64
}

var _ ngram.BatchStream = (*Stream)(nil)

// Open dials the partition leader to find the offset range and returns a
// stream over it.
func Open(ctx context.Context, cfg Config) (*Stream, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: brokers and topic are required")
	}

	conn, err := kafka.DialLeader(ctx, "tcp", cfg.Brokers[0], cfg.Topic, cfg.Partition)
	if err != nil {
		return nil, fmt.Errorf("kafka: dial leader: %w", err)
	}
	first, last, err := conn.ReadOffsets()
	_ = conn.Close()
	if err != nil {
		return nil, fmt.Errorf("kafka: read offsets: %w", err)
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   cfg.Brokers,
		Topic:     cfg.Topic,
		Partition: cfg.Partition,
		MinBytes:  1e3,
		MaxBytes:  10e6,
	})
	if err := r.SetOffset(first); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("kafka: set offset: %w", err)
	}
	return NewStream(r, first, last, cfg), nil
}

// NewStream wraps a reader positioned at offset first and stops before end.
func NewStream(r MessageReader, first, end int64, cfg Config) *Stream {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Stream{
		reader:    r,
		next:      first,
		end:       end,
		batchSize: cfg.BatchSize,
		logger:    logger.With("component", "kafka-stream", "topic", cfg.Topic, "partition", cfg.Partition),
	}
}

// Next implements ngram.BatchStream.
func (s *Stream) Next(ctx context.Context) (*ngram.Batch, error) {
	if s.next >= s.end {
		return nil, io.EOF
	}

	n := int(min(int64(s.batchSize), s.end-s.next))
	b := &ngram.Batch{
		Texts:  make([]string, 0, n),
		Valid:  make([]bool, 0, n),
		RowIDs: make([]uint64, 0, n),
	}
	for len(b.Texts) < n && s.next < s.end {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			return nil, fmt.Errorf("kafka: fetch at offset %d: %w", s.next, err)
		}
		s.next = msg.Offset + 1

		id, err := rowID(msg)
		if err != nil {
			return nil, err
		}
		b.RowIDs = append(b.RowIDs, id)
		b.Texts = append(b.Texts, string(msg.Value))
		b.Valid = append(b.Valid, msg.Value != nil)
	}

	s.rows += int64(len(b.Texts))
	s.logger.Debug("batch read", "rows", len(b.Texts), "next_offset", s.next, "end_offset", s.end)
	return b, nil
}

func rowID(msg kafka.Message) (uint64, error) {
	if len(msg.Key) == 0 {
		return uint64(msg.Offset), nil
	}
	id, err := strconv.ParseUint(string(msg.Key), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: offset %d: %q", ErrInvalidKey, msg.Offset, msg.Key)
	}
	return id, nil
}

// Rows returns the number of rows read so far.
func (s *Stream) Rows() int64 { return s.rows }

// Close closes the underlying reader.
func (s *Stream) Close() error {
	return s.reader.Close()
}
