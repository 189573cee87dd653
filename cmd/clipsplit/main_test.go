package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/beam-cloud/clipsplit/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindInputs(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.clip", "a.CLIP", "notes.txt", "nested/c.clip", "nested/deeper/d.clip"} {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	}

	inputs, err := findInputs(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "a.CLIP"),
		filepath.Join(root, "b.clip"),
		filepath.Join(root, "nested", "c.clip"),
		filepath.Join(root, "nested", "deeper", "d.clip"),
	}, inputs)

	single := filepath.Join(root, "notes.txt")
	inputs, err = findInputs(single)
	require.NoError(t, err)
	assert.Equal(t, []string{single}, inputs, "an explicit file is taken as is")

	_, err = findInputs(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("CLIPSPLIT_TEST_INT", "8")
	assert.Equal(t, 8, getEnvInt("CLIPSPLIT_TEST_INT", 1))

	t.Setenv("CLIPSPLIT_TEST_INT", "eight")
	assert.Equal(t, 1, getEnvInt("CLIPSPLIT_TEST_INT", 1))

	t.Setenv("CLIPSPLIT_TEST_INT", "-2")
	assert.Equal(t, 1, getEnvInt("CLIPSPLIT_TEST_INT", 1))

	assert.Equal(t, "fallback", getEnvString("CLIPSPLIT_TEST_UNSET", "fallback"))
}

func TestParseFlags(t *testing.T) {
	f, err := parseFlags("extract", []string{"-c", "drawing.clip", "-d", "/tmp/out", "--blockdata", "--jobs", "0", "--max-inflate-mib", "16"})
	require.NoError(t, err)
	assert.Equal(t, "drawing.clip", f.clip)
	assert.Equal(t, "/tmp/out", f.dir)
	assert.True(t, f.blockData)
	assert.Equal(t, 1, f.jobs)

	options := f.extractOptions("drawing.clip", nil)
	assert.Equal(t, int64(16<<20), options.MaxInflateSize)

	_, err = parseFlags("extract", []string{"--blockdata"})
	assert.Error(t, err)

	_, err = parseFlags("extract", []string{"-c", "drawing.clip", "--sink", "s3"})
	assert.Error(t, err)

	// list has no output flags
	_, err = parseFlags("list", []string{"-c", "drawing.clip", "-d", "/tmp/out"})
	assert.Error(t, err)
}

// writeClip stores a container holding a single CHNKHead chunk.
func writeClip(t *testing.T, path, header string) {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(common.ClipFileMagic[:])
	binary.Write(&buf, binary.BigEndian, uint64(common.ContainerHeaderLength+common.ChunkHeaderLength+len(header)))
	binary.Write(&buf, binary.BigEndian, uint64(0))
	buf.Write(common.ChunkTypeHeader[:])
	binary.Write(&buf, binary.BigEndian, uint64(len(header)))
	buf.WriteString(header)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestExtractCommandKeepsSubdirectories(t *testing.T) {
	for _, jobs := range []string{"1", "2"} {
		t.Run("jobs="+jobs, func(t *testing.T) {
			in := t.TempDir()
			out := t.TempDir()
			writeClip(t, filepath.Join(in, "a", "x.clip"), "HEADER-A")
			writeClip(t, filepath.Join(in, "b", "x.clip"), "HEADER-B")
			writeClip(t, filepath.Join(in, "top.clip"), "HEADER-TOP")

			require.NoError(t, extractCommand(context.Background(), []string{"-c", in, "-d", out, "--jobs", jobs}))

			for path, want := range map[string]string{
				filepath.Join(out, "a", "x", "header"): "HEADER-A",
				filepath.Join(out, "b", "x", "header"): "HEADER-B",
				filepath.Join(out, "top", "header"):    "HEADER-TOP",
			} {
				got, err := os.ReadFile(path)
				require.NoError(t, err)
				assert.Equal(t, want, string(got), path)
			}
		})
	}
}

func TestExtractCommandSingleFile(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	input := filepath.Join(in, "nested", "drawing.clip")
	writeClip(t, input, "HEADER")

	require.NoError(t, extractCommand(context.Background(), []string{"-c", input, "-d", out}))

	got, err := os.ReadFile(filepath.Join(out, "drawing", "header"))
	require.NoError(t, err)
	assert.Equal(t, "HEADER", string(got))
}

func TestExtractCommandRejectsCollidingOutputs(t *testing.T) {
	in := t.TempDir()
	writeClip(t, filepath.Join(in, "x.clip"), "HEADER-LOWER")
	writeClip(t, filepath.Join(in, "x.CLIP"), "HEADER-UPPER")
	if entries, err := os.ReadDir(in); err != nil || len(entries) != 2 {
		t.Skip("file system is case-insensitive")
	}

	err := extractCommand(context.Background(), []string{"-c", in})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "would both extract to")

	_, statErr := os.Stat(filepath.Join(in, "x"))
	assert.True(t, os.IsNotExist(statErr), "nothing may be written when outputs collide")
}

func TestPlanJobsS3Prefix(t *testing.T) {
	in := t.TempDir()
	writeClip(t, filepath.Join(in, "a", "x.clip"), "A")
	writeClip(t, filepath.Join(in, "b", "x.clip"), "B")

	f := &commandFlags{clip: in, sink: "s3", prefix: "exports"}
	inputs, err := findInputs(in)
	require.NoError(t, err)

	jobs, err := planJobs(f, inputs)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "exports/a/x", jobs[0].output)
	assert.Equal(t, "exports/b/x", jobs[1].output)
}
