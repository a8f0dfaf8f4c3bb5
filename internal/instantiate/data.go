package instantiate

import (
	"fmt"

	"github.com/espb-vm/espb/internal/binary"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
)

// initDataSegments implements spec §4.3 step 6: for each active segment,
// evaluate its offset expression and memcpy its bytes into linear memory;
// the first passive segment is also copied at offset 0 (the convention
// DATA_OFFSET globals rely on), and the highest written offset becomes
// static_data_end, the boundary the embedded heap (step 7) starts above.
func initDataSegments(inst *instance.Instance, m *module.Module) error {
	var end uint32
	passiveCopied := false
	for _, seg := range m.DataSegments {
		var offset uint32
		if seg.Passive {
			if passiveCopied {
				continue
			}
			offset = 0
			passiveCopied = true
		} else {
			v, err := binary.EvalInitExpr(seg.OffsetExpr, globalLookup(inst))
			if err != nil {
				return fmt.Errorf("espb/instantiate: data segment offset: %w", err)
			}
			offset = v
		}
		if len(seg.Bytes) == 0 {
			continue
		}
		if uint64(offset)+uint64(len(seg.Bytes)) > uint64(len(inst.Memory)) {
			return fmt.Errorf("espb/instantiate: data segment at offset %d (len %d) exceeds memory size %d", offset, len(seg.Bytes), len(inst.Memory))
		}
		copy(inst.Memory[offset:], seg.Bytes)
		if written := offset + uint32(len(seg.Bytes)); written > end {
			end = written
		}
	}
	inst.StaticDataEnd = end
	return nil
}

// globalLookup adapts Instance.ReadGlobal to the binary.GlobalReader shape
// initializer expressions need to resolve GET_GLOBAL.
func globalLookup(inst *instance.Instance) func(idx uint32) (uint32, error) {
	return func(idx uint32) (uint32, error) {
		total := inst.Module.ImportedGlobalCount + uint32(len(inst.Module.Globals))
		if idx >= total {
			return 0, fmt.Errorf("espb/instantiate: initializer expression references out-of-range global %d", idx)
		}
		return uint32(inst.ReadGlobal(idx).Lo), nil
	}
}
