// Package binary implements the ESPB section-structured binary parser (spec
// §4.1). Parse is a pure decode-and-validate pass: it allocates nothing
// beyond the returned *module.Module, and every []byte field of that Module
// borrows from the input buffer rather than copying it.
package binary

import (
	"encoding/binary"
	"fmt"

	"github.com/espb-vm/espb/api"
)

// cursor is a small bounds-checked little-endian reader over a borrowed
// byte slice, the same role a hand-rolled "bytes.Reader plus panic/recover"
// decoder plays in the teacher's own binary package.
type cursor struct {
	buf []byte
	off int
}

func newCursor(buf []byte) *cursor { return &cursor{buf: buf} }

func (c *cursor) remaining() int { return len(c.buf) - c.off }

func (c *cursor) require(n int) error {
	if n < 0 || c.remaining() < n {
		return &FormatError{Err: ErrTruncated, Offset: c.off}
	}
	return nil
}

func (c *cursor) u8() (uint8, error) {
	if err := c.require(1); err != nil {
		return 0, err
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	if err := c.require(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if err := c.require(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) i32() (int32, error) {
	v, err := c.u32()
	return int32(v), err
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if err := c.require(n); err != nil {
		return nil, err
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// lenPrefixedString reads a u16 byte-length followed by that many raw
// bytes, interpreted as UTF-8 (spec §4.1 "Imports").
func (c *cursor) lenPrefixedString() (string, error) {
	n, err := c.u16()
	if err != nil {
		return "", err
	}
	b, err := c.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// scalarValue reads a type-sized scalar payload used by CONST global
// initializers and returns its little-endian bits zero-extended to uint64.
func (c *cursor) scalarValue(t uint8) (lo uint64, err error) {
	switch api.ValueSize(t) {
	case 1:
		v, e := c.u8()
		return uint64(v), e
	case 2:
		v, e := c.u16()
		return uint64(v), e
	case 4:
		v, e := c.u32()
		return uint64(v), e
	case 8:
		if err := c.require(8); err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint64(c.buf[c.off:])
		c.off += 8
		return v, nil
	default:
		return 0, fmt.Errorf("%w: scalar of unsized type %d", ErrInvalidSectionBody, t)
	}
}
