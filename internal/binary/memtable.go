package binary

import "github.com/espb-vm/espb/internal/module"

// decodeMemory decodes the Memory section: a single Limits header (spec
// §4.1 "Memory / Tables").
func decodeMemory(body []byte) (module.Limits, error) {
	c := newCursor(body)
	return decodeLimits(c)
}

// decodeTables decodes the Tables section. Only FUNCREF element type is
// accepted; the element type byte precedes the limits header.
func decodeTables(body []byte) (module.Limits, error) {
	c := newCursor(body)
	elemType, err := c.u8()
	if err != nil {
		return module.Limits{}, err
	}
	const funcref = 0x70
	if elemType != funcref {
		return module.Limits{}, &FormatError{Err: ErrInvalidSectionBody, Offset: c.off}
	}
	lim, err := decodeLimits(c)
	if err != nil {
		return lim, err
	}
	if !lim.HasMax {
		lim.Max = 65536
	}
	return lim, nil
}
