// Package cursor implements a positioned sequential reader over a seekable
// byte source. It tracks the absolute offset itself and refuses any read
// that would run past the physical end of the source before allocating.
package cursor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/beam-cloud/clipsplit/pkg/common"
)

type Cursor struct {
	r    io.ReadSeeker
	pos  int64
	size int64
}

// New wraps r. The source is rewound to offset zero.
func New(r io.ReadSeeker) (*Cursor, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("unable to determine source size: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("unable to rewind source: %w", err)
	}
	return &Cursor{r: r, size: size}, nil
}

func (c *Cursor) Pos() int64 { return c.pos }

func (c *Cursor) Size() int64 { return c.size }

// Remaining is the number of physical bytes after the current offset.
func (c *Cursor) Remaining() int64 {
	if c.pos >= c.size {
		return 0
	}
	return c.size - c.pos
}

// Seek moves to an absolute offset. Seeking past the end is allowed; the
// next read will fail with ErrTruncatedInput.
func (c *Cursor) Seek(offset int64) (int64, error) {
	if offset < 0 {
		return c.pos, fmt.Errorf("negative offset %d is invalid", offset)
	}
	pos, err := c.r.Seek(offset, io.SeekStart)
	if err != nil {
		return c.pos, fmt.Errorf("error seeking to %#x: %w", offset, err)
	}
	c.pos = pos
	return pos, nil
}

// Skip advances by n bytes without reading them.
func (c *Cursor) Skip(n int64) (int64, error) {
	return c.Seek(c.pos + n)
}

// ReadBytes consumes exactly n bytes.
func (c *Cursor) ReadBytes(n int64) ([]byte, error) {
	if err := c.require(n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(c.r, buf)
	c.pos += int64(read)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: read %d of %d bytes at %#x", common.ErrTruncatedInput, read, n, c.pos-int64(read))
		}
		return nil, fmt.Errorf("error reading %d bytes at %#x: %w", n, c.pos-int64(read), err)
	}
	return buf, nil
}

// Peek returns the next n bytes without consuming them.
func (c *Cursor) Peek(n int64) ([]byte, error) {
	start := c.pos
	buf, err := c.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	if _, err := c.Seek(start); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFixed decodes a fixed-size value (a struct of fixed-size fields or a
// pointer to one) using the given byte order.
func (c *Cursor) ReadFixed(order binary.ByteOrder, v any) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("type %T has no fixed binary size", v)
	}
	buf, err := c.ReadBytes(int64(size))
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), order, v)
}

func (c *Cursor) ReadUint32(order binary.ByteOrder) (uint32, error) {
	buf, err := c.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(buf), nil
}

func (c *Cursor) require(n int64) error {
	if n < 0 {
		return fmt.Errorf("negative read length %d is invalid", n)
	}
	if n > c.Remaining() {
		return fmt.Errorf("%w: need %d bytes at %#x, have %d", common.ErrTruncatedInput, n, c.pos, c.Remaining())
	}
	return nil
}
