package split

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/beam-cloud/clipsplit/pkg/common"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

// containerBuilder assembles synthetic CLIP containers for tests.
type containerBuilder struct {
	chunks bytes.Buffer
}

func (b *containerBuilder) chunk(tag [8]byte, payload []byte) *containerBuilder {
	b.chunks.Write(tag[:])
	binary.Write(&b.chunks, binary.BigEndian, uint64(len(payload)))
	b.chunks.Write(payload)
	return b
}

// raw appends bytes that are not a chunk, e.g. a short tail.
func (b *containerBuilder) raw(p []byte) *containerBuilder {
	b.chunks.Write(p)
	return b
}

// build prefixes the chunks with a header whose size covers all of them.
func (b *containerBuilder) build() []byte {
	return b.buildWithSize(uint64(common.ContainerHeaderLength + b.chunks.Len()))
}

func (b *containerBuilder) buildWithSize(size uint64) []byte {
	var out bytes.Buffer
	out.Write(common.ClipFileMagic[:])
	binary.Write(&out, binary.BigEndian, size)
	binary.Write(&out, binary.BigEndian, uint64(0))
	out.Write(b.chunks.Bytes())
	return out.Bytes()
}

func externalPayload(assetID string, dataSize uint64, body []byte) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, uint64(0))
	var id [common.AssetIDLength]byte
	copy(id[:], assetID)
	out.Write(id[:])
	binary.Write(&out, binary.BigEndian, dataSize)
	out.Write(body)
	return out.Bytes()
}

// blockWriter assembles a block-data region.
type blockWriter struct {
	buf bytes.Buffer
}

// named writes the (length field, name length, name) opening.
func (w *blockWriter) named(name string, lengthField uint32) *blockWriter {
	binary.Write(&w.buf, binary.BigEndian, lengthField)
	binary.Write(&w.buf, binary.BigEndian, uint32(len(name)))
	w.buf.Write(utf16BE(name))
	return w
}

// nameFirst writes the (name length, name) opening.
func (w *blockWriter) nameFirst(name string) *blockWriter {
	binary.Write(&w.buf, binary.BigEndian, uint32(len(name)))
	w.buf.Write(utf16BE(name))
	return w
}

func (w *blockWriter) beginBody(index uint32, payload []byte, notEmpty bool) *blockWriter {
	binary.Write(&w.buf, binary.BigEndian, index)
	w.buf.Write(make([]byte, 12))
	if !notEmpty {
		binary.Write(&w.buf, binary.BigEndian, uint32(0))
		return w
	}
	binary.Write(&w.buf, binary.BigEndian, uint32(1))
	binary.Write(&w.buf, binary.BigEndian, uint32(len(payload)+4))
	binary.Write(&w.buf, binary.LittleEndian, uint32(len(payload)))
	w.buf.Write(payload)
	return w
}

func (w *blockWriter) begin(index uint32, payload []byte) *blockWriter {
	return w.nameFirst("BlockDataBeginChunk").beginBody(index, payload, true)
}

func (w *blockWriter) beginEmpty(index uint32) *blockWriter {
	return w.nameFirst("BlockDataBeginChunk").beginBody(index, nil, false)
}

func (w *blockWriter) end() *blockWriter {
	return w.named("BlockDataEndChunk", 0x30)
}

func (w *blockWriter) status() *blockWriter {
	w.named("BlockStatus", 0x44)
	w.buf.Write(bytes.Repeat([]byte{0xAA}, common.BlockTrailerLength))
	return w
}

func (w *blockWriter) checksum() *blockWriter {
	w.named("BlockCheckSum", 0x48)
	w.buf.Write(bytes.Repeat([]byte{0xCC}, common.BlockTrailerLength))
	return w
}

func (w *blockWriter) raw(p []byte) *blockWriter {
	w.buf.Write(p)
	return w
}

func (w *blockWriter) bytes() []byte {
	return w.buf.Bytes()
}

func utf16BE(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = binary.BigEndian.AppendUint16(out, uint16(r))
	}
	return out
}

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// writeContainer stores data as <dir>/<name> and returns the path.
func writeContainer(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func dirFiles(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	files := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		files[e.Name()] = data
	}
	return files
}
