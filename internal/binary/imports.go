package binary

import (
	"fmt"

	"github.com/espb-vm/espb/internal/module"
)

// decodeImports decodes the Imports section (spec §4.1 "Imports").
func decodeImports(body []byte, numSignatures int) ([]module.Import, error) {
	c := newCursor(body)
	count, err := c.u32()
	if err != nil {
		return nil, err
	}
	imports := make([]module.Import, count)
	for i := range imports {
		modName, err := c.lenPrefixedString()
		if err != nil {
			return nil, err
		}
		entityName, err := c.lenPrefixedString()
		if err != nil {
			return nil, err
		}
		kind, err := c.u8()
		if err != nil {
			return nil, err
		}
		im := module.Import{ModuleName: modName, EntityName: entityName, Kind: module.ImportKind(kind)}
		switch im.Kind {
		case module.ImportKindFunc:
			sigIdx, err := c.u16()
			if err != nil {
				return nil, err
			}
			if int(sigIdx) >= numSignatures {
				return nil, &FormatError{Err: fmt.Errorf("%w: import %d signature index %d", ErrIndexOutOfRange, i, sigIdx), Offset: c.off}
			}
			flags, err := c.u8()
			if err != nil {
				return nil, err
			}
			im.SignatureIndex = sigIdx
			im.Flags = flags
			if flags&module.ImportFlagIndexed != 0 {
				symIdx, err := c.u32()
				if err != nil {
					return nil, err
				}
				im.SymbolIndex = symIdx
			}
		case module.ImportKindGlobal:
			t, err := c.u8()
			if err != nil {
				return nil, err
			}
			mut, err := c.u8()
			if err != nil {
				return nil, err
			}
			im.GlobalType = t
			im.GlobalMutable = mut != 0
		case module.ImportKindMemory, module.ImportKindTable:
			lim, err := decodeLimits(c)
			if err != nil {
				return nil, err
			}
			im.Limits = lim
		default:
			return nil, &FormatError{Err: fmt.Errorf("%w: unknown import kind %d", ErrInvalidSectionBody, kind), Offset: c.off}
		}
		imports[i] = im
	}
	return imports, nil
}

// decodeLimits decodes the standard limits header shared by Memory and
// Table sections/imports (spec §4.1 "Memory / Tables").
func decodeLimits(c *cursor) (module.Limits, error) {
	var lim module.Limits
	flags, err := c.u8()
	if err != nil {
		return lim, err
	}
	lim.HasMax = flags&0x01 != 0
	lim.Shared = flags&0x02 != 0
	initial, err := c.u32()
	if err != nil {
		return lim, err
	}
	lim.Initial = initial
	if lim.HasMax {
		max, err := c.u32()
		if err != nil {
			return lim, err
		}
		lim.Max = max
	}
	return lim, nil
}

// countImportsOfKind counts imports of a given kind, preserving order so
// indices assigned by the caller match the source order (spec: imported
// functions occupy the low end of the function-index space).
func countImportsOfKind(imports []module.Import, kind module.ImportKind) uint32 {
	var n uint32
	for _, im := range imports {
		if im.Kind == kind {
			n++
		}
	}
	return n
}
