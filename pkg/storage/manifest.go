package storage

import (
	"context"

	"github.com/beam-cloud/clipsplit/pkg/common"
	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/btree"
)

// ManifestEntry describes one stream handed to a ManifestSink.
type ManifestEntry struct {
	Name   string
	Size   int64
	Digest uint64 // xxhash64 of the stream
}

// ManifestSink records what was extracted, ordered by name. With a nil
// inner sink it extracts nothing and serves as a dry run.
type ManifestSink struct {
	inner Sink
	index *btree.BTreeG[*ManifestEntry]
}

func NewManifestSink(inner Sink) *ManifestSink {
	compare := func(a, b *ManifestEntry) bool {
		return a.Name < b.Name
	}
	return &ManifestSink{
		inner: inner,
		index: btree.NewBTreeGOptions(compare, btree.Options{NoLocks: false}),
	}
}

func (m *ManifestSink) Put(ctx context.Context, name string, data []byte) error {
	if err := common.ValidateName(name); err != nil {
		return err
	}
	if m.inner != nil {
		if err := m.inner.Put(ctx, name, data); err != nil {
			return err
		}
	}

	m.index.Set(&ManifestEntry{
		Name:   name,
		Size:   int64(len(data)),
		Digest: xxhash.Sum64(data),
	})
	return nil
}

func (m *ManifestSink) Get(name string) *ManifestEntry {
	entry, ok := m.index.Get(&ManifestEntry{Name: name})
	if !ok {
		return nil
	}
	return entry
}

// Entries returns every recorded stream in name order. A name written twice
// keeps only its latest entry, matching what a directory would hold.
func (m *ManifestSink) Entries() []ManifestEntry {
	entries := make([]ManifestEntry, 0, m.index.Len())
	m.index.Scan(func(entry *ManifestEntry) bool {
		entries = append(entries, *entry)
		return true
	})
	return entries
}

func (m *ManifestSink) Close() error {
	if m.inner != nil {
		return m.inner.Close()
	}
	return nil
}
