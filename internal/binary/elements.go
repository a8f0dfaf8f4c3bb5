package binary

import (
	"fmt"

	"github.com/espb-vm/espb/internal/module"
)

// decodeElements decodes the Elements section (spec §4.1 "Element
// segments"). flags: 0 = active tableidx 0, 1 = passive, 2 = active with
// explicit tableidx.
func decodeElements(body []byte) ([]module.ElementSegment, error) {
	c := newCursor(body)
	count, err := c.u32()
	if err != nil {
		return nil, err
	}
	segs := make([]module.ElementSegment, count)
	for i := range segs {
		flags, err := c.u32()
		if err != nil {
			return nil, err
		}
		var seg module.ElementSegment
		switch flags {
		case 0:
			seg.TableIdx = 0
			expr, err := scanInitExpr(c)
			if err != nil {
				return nil, err
			}
			seg.OffsetExpr = expr
		case 1:
			seg.Passive = true
		case 2:
			tableIdx, err := c.u32()
			if err != nil {
				return nil, err
			}
			seg.TableIdx = tableIdx
			expr, err := scanInitExpr(c)
			if err != nil {
				return nil, err
			}
			seg.OffsetExpr = expr
		default:
			return nil, &FormatError{Err: fmt.Errorf("%w: element segment flags %d", ErrInvalidSectionBody, flags), Offset: c.off}
		}
		elemType, err := c.u8()
		if err != nil {
			return nil, err
		}
		const funcref = 0x70
		if elemType != funcref {
			return nil, &FormatError{Err: fmt.Errorf("%w: element type %d", ErrInvalidSectionBody, elemType), Offset: c.off}
		}
		n, err := c.u32()
		if err != nil {
			return nil, err
		}
		idxs := make([]uint32, n)
		for j := range idxs {
			idx, err := c.u32()
			if err != nil {
				return nil, err
			}
			idxs[j] = idx
		}
		seg.FuncIdxs = idxs
		segs[i] = seg
	}
	return segs, nil
}
