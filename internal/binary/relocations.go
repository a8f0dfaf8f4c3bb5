package binary

import "github.com/espb-vm/espb/internal/module"

// decodeRelocations decodes the Relocations section (spec §4.1
// "Relocations"): one u8 target section shared by all entries, a u32 count,
// then that many (type, offset, symbol index, addend) records.
func decodeRelocations(body []byte) ([]module.Relocation, error) {
	c := newCursor(body)
	target, err := c.u8()
	if err != nil {
		return nil, err
	}
	count, err := c.u32()
	if err != nil {
		return nil, err
	}
	relocs := make([]module.Relocation, count)
	for i := range relocs {
		typ, err := c.u8()
		if err != nil {
			return nil, err
		}
		off, err := c.u32()
		if err != nil {
			return nil, err
		}
		sym, err := c.u32()
		if err != nil {
			return nil, err
		}
		addend, err := c.i32()
		if err != nil {
			return nil, err
		}
		relocs[i] = module.Relocation{
			TargetSection: target,
			Type:          module.RelocationType(typ),
			Offset:        off,
			SymbolIndex:   sym,
			Addend:        addend,
		}
	}
	return relocs, nil
}
