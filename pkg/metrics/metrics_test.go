package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordPayload(t *testing.T) {
	m := NewMetrics()
	m.RecordPayload(10, 100, true)
	m.RecordPayload(7, 7, false)

	got := m.GetPrometheusMetrics()
	assert.Equal(t, int64(2), got["clipsplit_files_written_total"])
	assert.Equal(t, int64(17), got["clipsplit_raw_bytes_total"])
	assert.Equal(t, int64(107), got["clipsplit_written_bytes_total"])
	assert.Equal(t, int64(1), got["clipsplit_inflate_count_total"])
	assert.Equal(t, int64(1), got["clipsplit_inflate_fallbacks_total"])
	assert.Equal(t, int64(100), got["clipsplit_inflated_bytes_total"])
}

func TestConcurrentRecording(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordChunk("CHNKExta")
				m.RecordBlock("BlockStatus")
			}
			m.RecordArchive()
		}()
	}
	wg.Wait()

	got := m.GetPrometheusMetrics()
	assert.Equal(t, int64(800), got["clipsplit_chunks_total"])
	assert.Equal(t, int64(800), got[`clipsplit_chunks_total{tag="CHNKExta"}`])
	assert.Equal(t, int64(800), got[`clipsplit_blocks_total{kind="BlockStatus"}`])
	assert.Equal(t, int64(8), got["clipsplit_archives_total"])
}
