package common

import (
	"bytes"
	"fmt"
	"math"
	"strings"
)

// Chunk is a top-level record positioned in the container.
type Chunk struct {
	ChunkHeader
	Offset       int64 // start of the chunk header
	PayloadStart int64
}

// End is the offset of the next chunk. The declared length is authoritative.
func (c Chunk) End() int64 {
	if c.Length > uint64(math.MaxInt64-c.PayloadStart) {
		return math.MaxInt64
	}
	return c.PayloadStart + int64(c.Length)
}

// AssetName decodes the fixed-width asset id, dropping NUL padding.
func (h *ExternalHeader) AssetName() string {
	return string(bytes.TrimRight(h.AssetID[:], "\x00"))
}

// ValidateName rejects output names that could escape the output directory.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// TileName is the output name of one block-data tile.
func TileName(assetID string, index uint32) string {
	return fmt.Sprintf("%s.%04d", assetID, index)
}

// BlockPrefix is what the lookahead resolved for a block record.
// LengthField is only present when the record did not start with the
// BlockDataBeginChunk name; it is never consulted afterwards.
type BlockPrefix struct {
	NameLength     uint32
	LengthField    uint32
	HasLengthField bool
}

// BlockRecord is one record of a block-data region.
type BlockRecord interface {
	Kind() BlockKind
	Prefix() BlockPrefix
	isBlockRecord()
}

type DataBegin struct {
	BlockPrefix
	Index          uint32
	NotEmpty       bool
	DeclaredLength uint32
	PayloadLength  uint32
	Payload        []byte
}

type DataEnd struct {
	BlockPrefix
}

type Status struct {
	BlockPrefix
}

type CheckSum struct {
	BlockPrefix
}

// UnknownBlock carries a name that matched none of the known kinds.
type UnknownBlock struct {
	BlockPrefix
	Name []byte
}

func (p BlockPrefix) Prefix() BlockPrefix { return p }

func (*DataBegin) Kind() BlockKind    { return BlockDataBegin }
func (*DataEnd) Kind() BlockKind      { return BlockDataEnd }
func (*Status) Kind() BlockKind       { return BlockStatus }
func (*CheckSum) Kind() BlockKind     { return BlockCheckSum }
func (*UnknownBlock) Kind() BlockKind { return BlockUnknown }

func (*DataBegin) isBlockRecord()    {}
func (*DataEnd) isBlockRecord()      {}
func (*Status) isBlockRecord()       {}
func (*CheckSum) isBlockRecord()     {}
func (*UnknownBlock) isBlockRecord() {}
