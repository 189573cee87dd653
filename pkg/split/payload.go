package split

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/beam-cloud/clipsplit/pkg/metrics"
	"github.com/beam-cloud/clipsplit/pkg/storage"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zlib"
	"github.com/rs/zerolog"
)

// DefaultMaxInflateSize caps how large a single inflated payload may grow.
const DefaultMaxInflateSize int64 = 1 << 30

// PayloadSink inflates payloads when they happen to be zlib streams and
// hands the result to a storage.Sink. The container never says which
// payloads are compressed, so anything that fails to inflate is written
// verbatim.
type PayloadSink struct {
	sink           storage.Sink
	maxInflateSize int64
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	written        []string
}

func NewPayloadSink(sink storage.Sink, maxInflateSize int64, m *metrics.Metrics, logger zerolog.Logger) *PayloadSink {
	if maxInflateSize <= 0 {
		maxInflateSize = DefaultMaxInflateSize
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &PayloadSink{
		sink:           sink,
		maxInflateSize: maxInflateSize,
		metrics:        m,
		logger:         logger,
	}
}

// Extract writes raw, or its inflated form, under name and returns the
// number of bytes written.
func (p *PayloadSink) Extract(ctx context.Context, name string, raw []byte) (int64, error) {
	data, inflated := inflate(raw, p.maxInflateSize)

	if err := p.sink.Put(ctx, name, data); err != nil {
		return 0, fmt.Errorf("failed to extract %s: %w", name, err)
	}

	p.metrics.RecordPayload(int64(len(raw)), int64(len(data)), inflated)
	p.written = append(p.written, name)

	p.logger.Debug().
		Str("name", name).
		Str("raw", humanize.Bytes(uint64(len(raw)))).
		Str("written", humanize.Bytes(uint64(len(data)))).
		Bool("inflated", inflated).
		Msg("extracted payload")

	return int64(len(data)), nil
}

// Written lists the names extracted so far, in extraction order.
func (p *PayloadSink) Written() []string {
	return p.written
}

func inflate(raw []byte, limit int64) ([]byte, bool) {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return raw, false
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if err != nil || int64(len(out)) > limit {
		return raw, false
	}
	return out, true
}
