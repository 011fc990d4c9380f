package rntbd

import "encoding/binary"

// wireCursor is a forward-only cursor over one frame's backing arena. Its
// readN returns a sub-slice of buf rather than a copy, which is what lets
// codec.readSlice implementations satisfy the "no allocation beyond the
// slice handle" requirement in spec.md §4.1.
type wireCursor struct {
	buf []byte
	pos int
}

func newWireCursor(buf []byte) *wireCursor {
	return &wireCursor{buf: buf}
}

func (c *wireCursor) remaining() int { return len(c.buf) - c.pos }

// readN returns the next n bytes as a sub-slice of the cursor's backing
// array, advancing the cursor. The returned slice aliases buf: callers
// that need to keep it beyond the frame's lifetime must copy it first.
func (c *wireCursor) readN(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, ErrCodecShortBuffer
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *wireCursor) readByte() (byte, error) {
	b, err := c.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *wireCursor) readUint16LE() (uint16, error) {
	b, err := c.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *wireCursor) readUint32LE() (uint32, error) {
	b, err := c.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *wireCursor) readUint64LE() (uint64, error) {
	b, err := c.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// readUintPrefix reads an n-byte (1, 2, or 4) little-endian length prefix.
func (c *wireCursor) readUintPrefix(n int) (uint32, error) {
	switch n {
	case 1:
		b, err := c.readByte()
		return uint32(b), err
	case 2:
		v, err := c.readUint16LE()
		return uint32(v), err
	case 4:
		return c.readUint32LE()
	default:
		return 0, ErrCodecMalformed
	}
}
