package binary

import (
	"fmt"

	"github.com/espb-vm/espb/internal/module"
)

// decodeCode decodes the Code section. Body count must equal the Functions
// section's count; each body is a u32 total-size, a u16 virtual-register
// count, then (total-size - 2) bytes of code borrowed from the input (spec
// §4.1 "Code"). A zero-size body is rejected at the first RETURN/END
// executed against it (spec §8 "zero-size function body is a trap"), not at
// parse time, since a zero-length body is syntactically well-formed here.
func decodeCode(body []byte, numFunctions int) ([]module.FunctionBody, error) {
	c := newCursor(body)
	count, err := c.u32()
	if err != nil {
		return nil, err
	}
	if int(count) != numFunctions {
		return nil, &FormatError{Err: fmt.Errorf("%w: code body count %d != function count %d", ErrInvalidSectionBody, count, numFunctions), Offset: c.off}
	}
	bodies := make([]module.FunctionBody, count)
	for i := range bodies {
		rawSize, err := c.u32()
		if err != nil {
			return nil, err
		}
		// The HOT flag (spec §3 "function bodies ... optional HOT flag") has
		// no dedicated field in the Code section layout; this port encodes
		// it as the top bit of the total-size word, a producer-side
		// convention documented as an Open Question decision in DESIGN.md.
		hot := rawSize&0x8000_0000 != 0
		totalSize := rawSize &^ 0x8000_0000
		if totalSize < 2 {
			return nil, &FormatError{Err: fmt.Errorf("%w: code body %d total size %d < 2", ErrInvalidSectionBody, i, totalSize), Offset: c.off}
		}
		numRegs, err := c.u16()
		if err != nil {
			return nil, err
		}
		codeLen := int(totalSize) - 2
		code, err := c.bytes(codeLen)
		if err != nil {
			return nil, err
		}
		bodies[i] = module.FunctionBody{NumVirtualRegs: numRegs, Code: code, Hot: hot}
	}
	return bodies, nil
}
