package instantiate

import (
	"fmt"

	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
)

// Relocation target sections (spec §4.3 "Relocation application").
const (
	relocTargetMemory  uint8 = 7
	relocTargetGlobals uint8 = 4
	relocTargetCode    uint8 = 6
)

// Relocation types that resolve against a function index rather than a data
// or global symbol; unsupported per spec §4.3 ("Function-related relocation
// types are currently ignored (warning only)").
const (
	relocTypeFuncIndex module.RelocationType = 0x03
	relocTypeFuncPtr   module.RelocationType = 0x04
)

// applyRelocations implements spec §4.3 step 5. Each entry's target symbol
// resolves as: data symbol 0 is the memory base (offset zero); any other
// symbol index names a global, whose resolved value is the imported global's
// host address for imported globals or the offset within the globals buffer
// for local globals. The resolved value plus the entry's addend is written
// as 4 little-endian bytes at Offset within the target section's backing
// buffer. Code-section relocations and function-related relocation types are
// skipped with a warning, matching the source's documented policy.
func applyRelocations(inst *instance.Instance, m *module.Module) ([]string, error) {
	var warnings []string
	for _, r := range m.Relocations {
		if r.TargetSection == relocTargetCode {
			warnings = append(warnings, fmt.Sprintf("relocation at offset %d targets the code section, which is unsupported; skipped", r.Offset))
			continue
		}
		if r.Type == relocTypeFuncIndex || r.Type == relocTypeFuncPtr {
			warnings = append(warnings, fmt.Sprintf("relocation at offset %d is a function-related type %d, which is ignored", r.Offset, r.Type))
			continue
		}

		var buf []byte
		switch r.TargetSection {
		case relocTargetMemory:
			buf = inst.Memory
		case relocTargetGlobals:
			buf = inst.Globals
		default:
			warnings = append(warnings, fmt.Sprintf("relocation at offset %d targets unknown section %d; skipped", r.Offset, r.TargetSection))
			continue
		}

		value, err := resolveRelocationSymbol(inst, r.SymbolIndex)
		if err != nil {
			return warnings, err
		}
		result := uint32(int64(value) + int64(r.Addend))

		if uint64(r.Offset)+4 > uint64(len(buf)) {
			return warnings, fmt.Errorf("espb/instantiate: relocation at offset %d exceeds target section size %d", r.Offset, len(buf))
		}
		buf[r.Offset] = byte(result)
		buf[r.Offset+1] = byte(result >> 8)
		buf[r.Offset+2] = byte(result >> 16)
		buf[r.Offset+3] = byte(result >> 24)
	}
	return warnings, nil
}

// resolveRelocationSymbol implements spec §4.3's symbol-resolution rule.
// Symbol index 0 is the distinguished "data symbol 0 = memory base" case and
// always resolves to zero (linear memory starts at offset 0 in this port).
// Every other index is treated as a global index using the same numbering as
// everywhere else in this package (imported globals first, then local): an
// imported global resolves to its host-owned storage's current value, a
// local global resolves to its offset within the globals buffer. This
// indexing choice is not pinned down by the section grammar; see DESIGN.md's
// Open Questions for the resolution rationale.
func resolveRelocationSymbol(inst *instance.Instance, symbolIndex uint32) (uint32, error) {
	if symbolIndex == 0 {
		return 0, nil
	}
	if symbolIndex >= inst.Module.ImportedGlobalCount+uint32(len(inst.Module.Globals)) {
		return 0, fmt.Errorf("espb/instantiate: relocation references out-of-range global symbol %d", symbolIndex)
	}
	if symbolIndex < inst.Module.ImportedGlobalCount {
		p := inst.ResolvedImportGlobals[symbolIndex]
		if p == nil {
			return 0, fmt.Errorf("espb/instantiate: relocation references unresolved imported global %d", symbolIndex)
		}
		return *p, nil
	}
	localIdx := symbolIndex - inst.Module.ImportedGlobalCount
	return inst.GlobalOffsets[localIdx], nil
}
