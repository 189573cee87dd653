package common

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// Every CLIP container starts with this tag.
var ClipFileMagic = [8]byte{'C', 'S', 'F', 'C', 'H', 'U', 'N', 'K'}

// Chunk type tags.
var (
	ChunkTypeHeader   = [8]byte{'C', 'H', 'N', 'K', 'H', 'e', 'a', 'd'}
	ChunkTypeExternal = [8]byte{'C', 'H', 'N', 'K', 'E', 'x', 't', 'a'}
	ChunkTypeSQLite   = [8]byte{'C', 'H', 'N', 'K', 'S', 'Q', 'L', 'i'}
	ChunkTypeFooter   = [8]byte{'C', 'H', 'N', 'K', 'F', 'o', 'o', 't'}
)

const (
	ContainerHeaderLength = 24 // magic + file size + reserved
	ChunkHeaderLength     = 16 // type + length
	ExternalHeaderLength  = 56 // unused + asset id + data size
	AssetIDLength         = 40

	BlockPrefixLength      = 8  // two big-endian uint32 fields
	BlockBeginRecordLength = 20 // index, 12 reserved bytes, not-empty flag
	BlockTrailerLength     = 28 // status and checksum records

	HeaderFileName = "header"
	SQLiteSuffix   = ".sqlite3"
)

// ContainerHeader is the fixed header at offset zero. FileSize is the
// logical end of the container and bounds the chunk loop.
type ContainerHeader struct {
	Magic    [8]byte
	FileSize uint64
	Reserved uint64
}

func (h *ContainerHeader) Validate() error {
	if h.Magic != ClipFileMagic {
		return fmt.Errorf("%w: magic %q", ErrFileHeaderMismatch, h.Magic[:])
	}
	if h.FileSize < ContainerHeaderLength {
		return fmt.Errorf("%w: declared size %d is smaller than the header", ErrFileHeaderMismatch, h.FileSize)
	}
	return nil
}

type ChunkHeader struct {
	Type   [8]byte
	Length uint64
}

func (h ChunkHeader) TypeName() string {
	return string(h.Type[:])
}

type ExternalHeader struct {
	Unused   uint64
	AssetID  [AssetIDLength]byte
	DataSize uint64
}

// BlockBeginRecord is the fixed part following a BlockDataBeginChunk name.
type BlockBeginRecord struct {
	Index    uint32
	Reserved [12]byte
	NotEmpty uint32
}

// BlockKind identifies one of the known block-data record names.
type BlockKind int

const (
	BlockUnknown BlockKind = iota
	BlockDataBegin
	BlockDataEnd
	BlockStatus
	BlockCheckSum
)

var blockKindNames = map[BlockKind]string{
	BlockDataBegin: "BlockDataBeginChunk",
	BlockDataEnd:   "BlockDataEndChunk",
	BlockStatus:    "BlockStatus",
	BlockCheckSum:  "BlockCheckSum",
}

func (k BlockKind) String() string {
	if name, ok := blockKindNames[k]; ok {
		return name
	}
	return "unknown"
}

var utf16be = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

var encodedBlockNames = func() map[BlockKind][]byte {
	encoded := make(map[BlockKind][]byte, len(blockKindNames))
	for kind, name := range blockKindNames {
		b, err := utf16be.NewEncoder().Bytes([]byte(name))
		if err != nil {
			panic(fmt.Sprintf("encoding block name %s: %v", name, err))
		}
		encoded[kind] = b
	}
	return encoded
}()

// BlockDataBeginPrefix is the first two UTF-16BE code units of
// "BlockDataBeginChunk" read as a big-endian uint32. Seeing it in the second
// lookahead field means the record has no leading length field.
var BlockDataBeginPrefix = binary.BigEndian.Uint32(encodedBlockNames[BlockDataBegin][:4])

// EncodedBlockName returns the UTF-16BE bytes of a known block name.
func EncodedBlockName(kind BlockKind) []byte {
	return encodedBlockNames[kind]
}

// MatchBlockName maps raw name bytes onto a known kind by exact comparison.
func MatchBlockName(raw []byte) BlockKind {
	for kind, encoded := range encodedBlockNames {
		if string(raw) == string(encoded) {
			return kind
		}
	}
	return BlockUnknown
}

// DecodeBlockName renders raw UTF-16BE name bytes for logging. Invalid
// sequences are replaced rather than reported.
func DecodeBlockName(raw []byte) string {
	b, err := utf16be.NewDecoder().Bytes(raw)
	if err != nil {
		return fmt.Sprintf("%x", raw)
	}
	return string(b)
}
