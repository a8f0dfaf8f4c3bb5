package interpreter

import (
	"fmt"

	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/execctx"
)

// codeCursor is a minimal little-endian reader over one function body's
// bytecode, local to the interpreter package (the binary package's cursor
// is unexported and scoped to the module-parsing grammar, a distinct
// concern from the execution-engine's instruction encoding).
type codeCursor struct {
	buf []byte
	off int
}

func newCodeCursor(buf []byte) *codeCursor { return &codeCursor{buf: buf} }

func (c *codeCursor) u8() (byte, error) {
	if c.off >= len(c.buf) {
		return 0, fmt.Errorf("unexpected end of code at offset %d", c.off)
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

func (c *codeCursor) u16() (uint16, error) {
	if c.off+2 > len(c.buf) {
		return 0, fmt.Errorf("unexpected end of code at offset %d", c.off)
	}
	v := uint16(c.buf[c.off]) | uint16(c.buf[c.off+1])<<8
	c.off += 2
	return v, nil
}

func (c *codeCursor) u32() (uint32, error) {
	if c.off+4 > len(c.buf) {
		return 0, fmt.Errorf("unexpected end of code at offset %d", c.off)
	}
	v := uint32(c.buf[c.off]) | uint32(c.buf[c.off+1])<<8 | uint32(c.buf[c.off+2])<<16 | uint32(c.buf[c.off+3])<<24
	c.off += 4
	return v, nil
}

func (c *codeCursor) i32() (int32, error) {
	v, err := c.u32()
	return int32(v), err
}

func (c *codeCursor) jump(relOffset int32) error {
	target := c.off + int(relOffset)
	if target < 0 || target > len(c.buf) {
		return fmt.Errorf("jump target %d out of bounds (code length %d)", target, len(c.buf))
	}
	c.off = target
	return nil
}

// constValue reads a LDC.* immediate sized by t's native width.
func (c *codeCursor) constValue(t api.ValueType) (api.Value, error) {
	switch api.ValueSize(t) {
	case 1:
		b, err := c.u8()
		return api.Value{Type: t, Lo: uint64(b)}, err
	case 2:
		v, err := c.u16()
		return api.Value{Type: t, Lo: uint64(v)}, err
	case 4:
		v, err := c.u32()
		return api.Value{Type: t, Lo: uint64(v)}, err
	case 8:
		lo, err := c.u32()
		if err != nil {
			return api.Value{}, err
		}
		hi, err := c.u32()
		if err != nil {
			return api.Value{}, err
		}
		return api.Value{Type: t, Lo: uint64(lo) | uint64(hi)<<32}, nil
	default:
		return api.Value{Type: t}, nil
	}
}

// triOperands reads the common (rd, type, ra, rb) shape shared by binary
// arithmetic and comparison opcodes.
func (c *codeCursor) triOperands() (rd uint8, t api.ValueType, ra, rb uint8, err error) {
	if rd, err = c.u8(); err != nil {
		return
	}
	if t, err = c.u8(); err != nil {
		return
	}
	if ra, err = c.u8(); err != nil {
		return
	}
	rb, err = c.u8()
	return
}

// readArgs reads a CALL-family instruction's (argc, arg regs...) tail and
// resolves each register against ctx's current frame.
func (c *codeCursor) readArgs(ctx *execctx.Context) ([]api.Value, error) {
	argc, err := c.u8()
	if err != nil {
		return nil, err
	}
	args := make([]api.Value, argc)
	for i := range args {
		r, err := c.u8()
		if err != nil {
			return nil, err
		}
		args[i] = ctx.ReadRegister(int(r))
	}
	return args, nil
}
