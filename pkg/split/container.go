package split

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/beam-cloud/clipsplit/pkg/common"
	"github.com/beam-cloud/clipsplit/pkg/cursor"
	"github.com/beam-cloud/clipsplit/pkg/metrics"
	"github.com/beam-cloud/clipsplit/pkg/storage"
	"github.com/rs/zerolog"
)

type ClipSplitterOptions struct {
	Basename       string // names the sqlite3 output
	BlockData      bool
	Sink           storage.Sink
	Metrics        *metrics.Metrics
	MaxInflateSize int64
	Logger         zerolog.Logger
}

// ClipSplitter walks one container and routes its streams to a sink. It is
// not safe for concurrent use; one splitter handles one pass over one file.
type ClipSplitter struct {
	opts     ClipSplitterOptions
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	payloads *PayloadSink
	chunks   int
}

func NewClipSplitter(opts ClipSplitterOptions) *ClipSplitter {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics()
	}
	return &ClipSplitter{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		payloads: NewPayloadSink(opts.Sink, opts.MaxInflateSize, opts.Metrics, opts.Logger),
	}
}

// Files lists the outputs written so far, in extraction order.
func (cs *ClipSplitter) Files() []string {
	return cs.payloads.Written()
}

// Chunks is the number of top-level chunks visited.
func (cs *ClipSplitter) Chunks() int {
	return cs.chunks
}

// Split reads the container header and then every chunk up to the declared
// file size. Errors confined to one chunk are logged and the chunk is
// skipped; anything that leaves no length to skip to is returned.
func (cs *ClipSplitter) Split(ctx context.Context, r io.ReadSeeker) error {
	c, err := cursor.New(r)
	if err != nil {
		return err
	}

	var header common.ContainerHeader
	if err := c.ReadFixed(binary.BigEndian, &header); err != nil {
		return fmt.Errorf("error reading container header: %w", err)
	}
	if err := header.Validate(); err != nil {
		return err
	}

	end := clampLength(header.FileSize)
	cs.logger.Debug().
		Str("file_size", fmt.Sprintf("%X", header.FileSize)).
		Int64("physical_size", c.Size()).
		Msg("container header")

	for c.Pos() < end {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := cs.readChunkHeader(c, end)
		if err != nil {
			return err
		}
		cs.chunks++
		cs.metrics.RecordChunk(chunk.TypeName())

		cs.logger.Debug().
			Str("offset", fmt.Sprintf("%X", chunk.Offset)).
			Str("chunk", chunk.TypeName()).
			Str("length", fmt.Sprintf("%d = %X", chunk.Length, chunk.Length)).
			Msg("chunk")

		if err := cs.handleChunk(ctx, c, chunk); err != nil {
			if !common.IsRecoverable(err) {
				return err
			}
			cs.metrics.RecordSkippedRegion()
			cs.logger.Error().Err(err).
				Str("chunk", chunk.TypeName()).
				Str("offset", fmt.Sprintf("%X", chunk.Offset)).
				Msg("skipping rest of chunk")
		}

		// The declared length decides where the next chunk starts, however
		// much of this one the handler consumed.
		if _, err := c.Seek(chunk.End()); err != nil {
			return err
		}
	}

	return nil
}

func (cs *ClipSplitter) readChunkHeader(c *cursor.Cursor, end int64) (common.Chunk, error) {
	offset := c.Pos()
	if end-offset < common.ChunkHeaderLength {
		return common.Chunk{}, fmt.Errorf("%w: %d bytes left for a chunk header at %#x", common.ErrUnexpectedEOF, end-offset, offset)
	}

	var header common.ChunkHeader
	if err := c.ReadFixed(binary.BigEndian, &header); err != nil {
		return common.Chunk{}, fmt.Errorf("error reading chunk header at %#x: %w", offset, err)
	}

	return common.Chunk{
		ChunkHeader:  header,
		Offset:       offset,
		PayloadStart: c.Pos(),
	}, nil
}

func (cs *ClipSplitter) handleChunk(ctx context.Context, c *cursor.Cursor, chunk common.Chunk) error {
	switch chunk.Type {
	case common.ChunkTypeHeader:
		return cs.extract(ctx, c, common.HeaderFileName, clampLength(chunk.Length))
	case common.ChunkTypeSQLite:
		return cs.extract(ctx, c, cs.opts.Basename+common.SQLiteSuffix, clampLength(chunk.Length))
	case common.ChunkTypeExternal:
		return cs.readExternal(ctx, c, chunk)
	default:
		return nil
	}
}

func (cs *ClipSplitter) extract(ctx context.Context, c *cursor.Cursor, name string, n int64) error {
	data, err := c.ReadBytes(n)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", name, err)
	}
	_, err = cs.payloads.Extract(ctx, name, data)
	return err
}

// clampLength converts a declared 64-bit length into an offset-sized value.
// Lengths beyond int64 can never be satisfied and simply fail the next read.
func clampLength(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}
