package instantiate

import (
	"fmt"

	"github.com/espb-vm/espb/internal/binary"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
)

// initElementSegments implements spec §4.3 step 8: for each active element
// segment, evaluate its offset expression and write its function indices
// into the table starting at that slot. Passive element segments are left
// for explicit table.init-style use and are not copied here, unlike
// data.go, which copies the first passive data segment to offset 0.
func initElementSegments(inst *instance.Instance, m *module.Module) error {
	for _, seg := range m.ElementSegments {
		if seg.Passive {
			continue
		}
		offset, err := binary.EvalInitExpr(seg.OffsetExpr, globalLookup(inst))
		if err != nil {
			return fmt.Errorf("espb/instantiate: element segment offset: %w", err)
		}
		if len(seg.FuncIdxs) == 0 {
			continue
		}
		if uint64(offset)+uint64(len(seg.FuncIdxs)) > uint64(len(inst.Table)) {
			return fmt.Errorf("espb/instantiate: element segment at offset %d (len %d) exceeds table size %d", offset, len(seg.FuncIdxs), len(inst.Table))
		}
		copy(inst.Table[offset:], seg.FuncIdxs)
	}
	return nil
}
