package split

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/beam-cloud/clipsplit/pkg/common"
	"github.com/beam-cloud/clipsplit/pkg/cursor"
	"github.com/rs/zerolog"
)

// readBlockData walks the block-data records in [start, end). A
// BlockCheckSum record ends the region even if bytes remain; an unknown
// name ends it with ErrUnrecognizedBlockTag. A tail too short to hold a
// record prefix is padding.
func (cs *ClipSplitter) readBlockData(ctx context.Context, c *cursor.Cursor, start, end int64, assetID string) error {
	if _, err := c.Seek(start); err != nil {
		return err
	}

	for c.Pos() < end {
		if err := ctx.Err(); err != nil {
			return err
		}

		offset := c.Pos()
		if tail := end - offset; tail < common.BlockPrefixLength {
			cs.logger.Debug().
				Str("asset", assetID).
				Int64("bytes", tail).
				Str("offset", fmt.Sprintf("%X", offset)).
				Msg("ignoring block data tail")
			return nil
		}

		record, err := readBlockRecord(c, end, cs.logger)
		if err != nil {
			return fmt.Errorf("asset %s: %w", assetID, err)
		}
		cs.metrics.RecordBlock(record.Kind().String())

		switch r := record.(type) {
		case *common.DataBegin:
			if !r.NotEmpty {
				cs.logger.Debug().Uint32("index", r.Index).Msg("BlockDataBeginChunk (empty)")
				continue
			}
			cs.logger.Debug().
				Uint32("index", r.Index).
				Str("length", fmt.Sprintf("%d = %X", r.DeclaredLength, r.DeclaredLength)).
				Uint32("payload_length", r.PayloadLength).
				Msg("BlockDataBeginChunk")

			if _, err := cs.payloads.Extract(ctx, common.TileName(assetID, r.Index), r.Payload); err != nil {
				return err
			}
		case *common.DataEnd:
			cs.logger.Debug().Msg("BlockDataEndChunk")
		case *common.Status:
			cs.logger.Debug().Msg("BlockStatus")
		case *common.CheckSum:
			cs.logger.Debug().Msg("BlockCheckSum")
			return nil
		case *common.UnknownBlock:
			cs.metrics.RecordUnrecognizedBlock()
			return fmt.Errorf("asset %s: %w: %q of length %d at %#x",
				assetID, common.ErrUnrecognizedBlockTag, common.DecodeBlockName(r.Name), r.NameLength, offset)
		}
	}

	return nil
}

// readBlockPrefix resolves the two possible record openings. A record is
// either (name length, name...) or (length field, name length, name...).
// The 8-byte lookahead is peeked and the decision made before the cursor
// moves: if the second field is the start of "BlockDataBeginChunk" only
// the first 4 bytes are consumed.
func readBlockPrefix(c *cursor.Cursor, end int64) (common.BlockPrefix, error) {
	if err := checkRegion(c, end, common.BlockPrefixLength); err != nil {
		return common.BlockPrefix{}, err
	}
	test, err := c.Peek(common.BlockPrefixLength)
	if err != nil {
		return common.BlockPrefix{}, err
	}
	a := binary.BigEndian.Uint32(test[0:4])
	b := binary.BigEndian.Uint32(test[4:8])

	var prefix common.BlockPrefix
	var consumed int64
	if b == common.BlockDataBeginPrefix {
		prefix = common.BlockPrefix{NameLength: a}
		consumed = 4
	} else {
		prefix = common.BlockPrefix{NameLength: b, LengthField: a, HasLengthField: true}
		consumed = 8
	}

	if _, err := c.Skip(consumed); err != nil {
		return common.BlockPrefix{}, err
	}
	return prefix, nil
}

// readBlockRecord decodes one record, including a DataBegin payload.
// Reads never cross end; doing so yields ErrRegionOverrun.
func readBlockRecord(c *cursor.Cursor, end int64, logger zerolog.Logger) (common.BlockRecord, error) {
	prefix, err := readBlockPrefix(c, end)
	if err != nil {
		return nil, err
	}

	name, err := readRegion(c, end, int64(prefix.NameLength)*2)
	if err != nil {
		return nil, err
	}

	switch common.MatchBlockName(name) {
	case common.BlockDataBegin:
		begin, err := readDataBegin(c, end, prefix, logger)
		if err != nil {
			return nil, err
		}
		return begin, nil
	case common.BlockDataEnd:
		return &common.DataEnd{BlockPrefix: prefix}, nil
	case common.BlockStatus:
		if _, err := c.Skip(common.BlockTrailerLength); err != nil {
			return nil, err
		}
		return &common.Status{BlockPrefix: prefix}, nil
	case common.BlockCheckSum:
		if _, err := c.Skip(common.BlockTrailerLength); err != nil {
			return nil, err
		}
		return &common.CheckSum{BlockPrefix: prefix}, nil
	default:
		return &common.UnknownBlock{BlockPrefix: prefix, Name: name}, nil
	}
}

func readDataBegin(c *cursor.Cursor, end int64, prefix common.BlockPrefix, logger zerolog.Logger) (*common.DataBegin, error) {
	raw, err := readRegion(c, end, common.BlockBeginRecordLength)
	if err != nil {
		return nil, err
	}
	logger.Debug().Hex("record", raw).Msg("block begin record")

	var rec common.BlockBeginRecord
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &rec); err != nil {
		return nil, err
	}

	begin := &common.DataBegin{
		BlockPrefix: prefix,
		Index:       rec.Index,
		NotEmpty:    rec.NotEmpty != 0,
	}
	if !begin.NotEmpty {
		return begin, nil
	}

	if err := checkRegion(c, end, 8); err != nil {
		return nil, err
	}
	if begin.DeclaredLength, err = c.ReadUint32(binary.BigEndian); err != nil {
		return nil, err
	}
	// The payload length is the one little-endian field in the format.
	if begin.PayloadLength, err = c.ReadUint32(binary.LittleEndian); err != nil {
		return nil, err
	}

	if begin.Payload, err = readRegion(c, end, int64(begin.PayloadLength)); err != nil {
		return nil, err
	}
	return begin, nil
}

func checkRegion(c *cursor.Cursor, end, n int64) error {
	if n > end-c.Pos() {
		return fmt.Errorf("%w: need %d bytes at %#x, region ends at %#x", common.ErrRegionOverrun, n, c.Pos(), end)
	}
	return nil
}

func readRegion(c *cursor.Cursor, end, n int64) ([]byte, error) {
	if err := checkRegion(c, end, n); err != nil {
		return nil, err
	}
	return c.ReadBytes(n)
}
