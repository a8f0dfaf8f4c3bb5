package instantiate

import (
	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
)

// allocateGlobals implements spec §4.3 step 2: compute each global's offset
// by type size and alignment, allocate a zeroed buffer of the total, and
// record the offset table. Init values are written here for every kind: CONST
// copies its scalar payload, DATA_OFFSET stores the segment offset itself as
// the global's value (the convention documented in spec §4.3 step 6 is that
// the first passive data segment is copied at memory offset 0, so the raw
// offset doubles as the memory address), and ZERO needs nothing since the
// buffer already starts zeroed.
func allocateGlobals(inst *instance.Instance, m *module.Module) {
	offsets := make([]uint32, len(m.Globals))
	var total uint32
	for i, g := range m.Globals {
		size := uint32(api.ValueSize(g.Type))
		align := size
		if align == 0 {
			align = 1
		}
		total = alignUp(total, align)
		offsets[i] = total
		total += size
	}
	buf := make([]byte, total)
	for i, g := range m.Globals {
		switch g.InitKind {
		case module.GlobalInitConst:
			writeGlobal(buf, offsets[i], g.Type, g.InitConst.Lo)
		case module.GlobalInitDataOffset:
			writeGlobal(buf, offsets[i], g.Type, uint64(g.InitData))
		}
	}
	inst.Globals = buf
	inst.GlobalOffsets = offsets
}

func alignUp(v, a uint32) uint32 {
	if a == 0 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}

func writeGlobal(buf []byte, off uint32, t api.ValueType, lo uint64) {
	switch api.ValueSize(t) {
	case 1:
		buf[off] = byte(lo)
	case 2:
		buf[off] = byte(lo)
		buf[off+1] = byte(lo >> 8)
	case 4:
		for i := 0; i < 4; i++ {
			buf[off+uint32(i)] = byte(lo >> (8 * i))
		}
	case 8:
		for i := 0; i < 8; i++ {
			buf[off+uint32(i)] = byte(lo >> (8 * i))
		}
	}
}

// allocateTable implements spec §4.3 step 3: allocate initial_size slots
// for the single supported table; if has_max is absent the maximum is
// already normalized to 65,536 by the binary decoder.
func allocateTable(inst *instance.Instance, m *module.Module) {
	if !m.HasTable {
		return
	}
	inst.Table = make([]uint32, m.Table.Initial)
}
