package split

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/beam-cloud/clipsplit/pkg/common"
	"github.com/beam-cloud/clipsplit/pkg/cursor"
)

// readExternal handles a CHNKExta chunk: one named asset, either stored
// whole or, in block-data mode, split into tiles.
func (cs *ClipSplitter) readExternal(ctx context.Context, c *cursor.Cursor, chunk common.Chunk) error {
	if chunk.Length < common.ExternalHeaderLength {
		return fmt.Errorf("%w: external chunk at %#x is %d bytes, header needs %d",
			common.ErrRegionOverrun, chunk.Offset, chunk.Length, common.ExternalHeaderLength)
	}

	var header common.ExternalHeader
	if err := c.ReadFixed(binary.BigEndian, &header); err != nil {
		return fmt.Errorf("error reading external header at %#x: %w", chunk.PayloadStart, err)
	}

	assetID := header.AssetName()
	cs.logger.Debug().
		Str("asset", assetID).
		Str("data_size", fmt.Sprintf("%d = %X", header.DataSize, header.DataSize)).
		Msg("external chunk")

	if err := common.ValidateName(assetID); err != nil {
		return fmt.Errorf("external chunk at %#x: %w", chunk.Offset, err)
	}

	if cs.opts.BlockData {
		return cs.readBlockData(ctx, c, c.Pos(), chunk.End(), assetID)
	}

	if header.DataSize > uint64(chunk.End()-c.Pos()) {
		return fmt.Errorf("%w: asset %s declares %d bytes, chunk has %d left",
			common.ErrRegionOverrun, assetID, header.DataSize, chunk.End()-c.Pos())
	}
	return cs.extract(ctx, c, assetID, int64(header.DataSize))
}
