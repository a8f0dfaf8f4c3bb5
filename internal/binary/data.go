package binary

import (
	"fmt"

	"github.com/espb-vm/espb/internal/module"
)

// decodeData decodes the Data section (spec §4.1 "Data segments"). Active
// segments carry a memory index and an offset-expression that the parser
// skips by scanning for the terminating END/implicit-end, reproducing the
// rule "the parser skips [the initializer expression] using the rules in
// §4.2"; it does not evaluate the expression (that happens during
// instantiation, once globals exist).
func decodeData(body []byte) ([]module.DataSegment, error) {
	c := newCursor(body)
	count, err := c.u32()
	if err != nil {
		return nil, err
	}
	segs := make([]module.DataSegment, count)
	for i := range segs {
		typ, err := c.u8()
		if err != nil {
			return nil, err
		}
		var seg module.DataSegment
		switch typ {
		case 0: // active
			memIdx, err := c.u32()
			if err != nil {
				return nil, err
			}
			expr, err := scanInitExpr(c)
			if err != nil {
				return nil, err
			}
			seg.MemoryIdx = memIdx
			seg.OffsetExpr = expr
		case 1: // passive
			seg.Passive = true
		default:
			return nil, &FormatError{Err: fmt.Errorf("%w: data segment type %d", ErrInvalidSectionBody, typ), Offset: c.off}
		}
		size, err := c.u32()
		if err != nil {
			return nil, err
		}
		b, err := c.bytes(int(size))
		if err != nil {
			return nil, err
		}
		seg.Bytes = b
		segs[i] = seg
	}
	return segs, nil
}

// scanInitExpr consumes one initializer expression from c without
// evaluating it, returning the raw bytes (including the terminating END, if
// present) for later evaluation once globals are available.
func scanInitExpr(c *cursor) ([]byte, error) {
	start := c.off
	for {
		op, err := c.u8()
		if err != nil {
			return nil, err
		}
		switch op {
		case opConstI32:
			if _, err := c.bytes(4); err != nil {
				return nil, err
			}
			if c.remaining() > 0 && c.buf[c.off] == opEnd {
				c.off++
			}
			return c.buf[start:c.off], nil
		case opGetGlobal:
			if _, err := c.bytes(4); err != nil {
				return nil, err
			}
			return c.buf[start:c.off], nil
		case opLdcI32Imm:
			if _, err := c.bytes(1 + 4); err != nil {
				return nil, err
			}
			if c.remaining() > 0 && c.buf[c.off] == opEnd {
				c.off++
			}
			return c.buf[start:c.off], nil
		case opEnd:
			return c.buf[start:c.off], nil
		default:
			return nil, &FormatError{Err: fmt.Errorf("%w: opcode %#x", ErrInvalidInitExpr, op), Offset: c.off}
		}
	}
}
