package metrics

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Metrics collects counters for one or more extraction runs
type Metrics struct {
	mu sync.RWMutex

	// Chunk metrics
	ChunksTotal  map[string]int64 // by chunk tag
	ArchivesDone int64

	// Output metrics
	FilesWritten      int64
	RawBytesTotal     int64
	WrittenBytesTotal int64

	// Inflation metrics
	InflateCountTotal  int64
	InflateFallbacks   int64
	InflatedBytesTotal int64

	// Block-data metrics
	BlocksTotal        map[string]int64 // by block kind
	UnrecognizedBlocks int64
	SkippedRegions     int64
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksTotal: make(map[string]int64),
		BlocksTotal: make(map[string]int64),
	}
}

func (m *Metrics) RecordChunk(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ChunksTotal[tag]++
}

func (m *Metrics) RecordBlock(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BlocksTotal[kind]++
}

// RecordPayload records one payload handed to a sink
func (m *Metrics) RecordPayload(rawBytes, writtenBytes int64, inflated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FilesWritten++
	m.RawBytesTotal += rawBytes
	m.WrittenBytesTotal += writtenBytes
	if inflated {
		m.InflateCountTotal++
		m.InflatedBytesTotal += writtenBytes
	} else {
		m.InflateFallbacks++
	}
}

func (m *Metrics) RecordUnrecognizedBlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UnrecognizedBlocks++
}

// RecordSkippedRegion records a region abandoned after a recoverable error
func (m *Metrics) RecordSkippedRegion() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SkippedRegions++
}

func (m *Metrics) RecordArchive() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ArchivesDone++
}

// GetPrometheusMetrics returns metrics keyed by Prometheus-style names
func (m *Metrics) GetPrometheusMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := make(map[string]interface{})

	var chunks int64
	for tag, count := range m.ChunksTotal {
		chunks += count
		metrics["clipsplit_chunks_total{tag=\""+tag+"\"}"] = count
	}
	var blocks int64
	for kind, count := range m.BlocksTotal {
		blocks += count
		metrics["clipsplit_blocks_total{kind=\""+kind+"\"}"] = count
	}

	metrics["clipsplit_chunks_total"] = chunks
	metrics["clipsplit_blocks_total"] = blocks
	metrics["clipsplit_archives_total"] = m.ArchivesDone
	metrics["clipsplit_files_written_total"] = m.FilesWritten
	metrics["clipsplit_raw_bytes_total"] = m.RawBytesTotal
	metrics["clipsplit_written_bytes_total"] = m.WrittenBytesTotal
	metrics["clipsplit_inflate_count_total"] = m.InflateCountTotal
	metrics["clipsplit_inflate_fallbacks_total"] = m.InflateFallbacks
	metrics["clipsplit_inflated_bytes_total"] = m.InflatedBytesTotal
	metrics["clipsplit_unrecognized_blocks_total"] = m.UnrecognizedBlocks
	metrics["clipsplit_skipped_regions_total"] = m.SkippedRegions

	return metrics
}

// LogSummary logs a summary of current metrics
func (m *Metrics) LogSummary(logger zerolog.Logger) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var chunks int64
	for _, count := range m.ChunksTotal {
		chunks += count
	}

	logger.Info().
		Int64("archives", m.ArchivesDone).
		Int64("chunks", chunks).
		Int64("files", m.FilesWritten).
		Str("raw", humanize.Bytes(uint64(m.RawBytesTotal))).
		Str("written", humanize.Bytes(uint64(m.WrittenBytesTotal))).
		Int64("inflated", m.InflateCountTotal).
		Int64("inflate_fallbacks", m.InflateFallbacks).
		Int64("unrecognized_blocks", m.UnrecognizedBlocks).
		Int64("skipped_regions", m.SkippedRegions).
		Msg("metrics summary")
}

// LogMetricsSummary logs m through the global logger
func LogMetricsSummary(m *Metrics) {
	m.LogSummary(log.Logger)
}
