// Package indirect implements the two indirect-call resolution paths of
// spec §4.4/§4.5: ClassifyTable resolves CALL_INDIRECT's table index against
// inst.Table, while Classify resolves CALL_INDIRECT_PTR's raw register value
// into a local function, a function-pointer-map entry, or a native function
// pointer dispatched through the FFI marshaller.
package indirect

import (
	"fmt"
	"sort"

	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
)

// TaggedPointerBit is the high bit a tagged pointer value may carry (spec
// §4.5 step 2).
const TaggedPointerBit uint32 = 0x80000000

// Target is the resolved outcome of Classify.
type Target struct {
	// Kind selects which of the three fields below is meaningful.
	Kind TargetKind
	// LocalFuncIdx is set for KindLocalFunc and KindFuncPtrMap.
	LocalFuncIdx uint32
	// NativePtr is set for KindNativePtr: the raw value exactly as it
	// arrived (a tag bit, if present, is not stripped), left for the FFI
	// layer to interpret.
	NativePtr uint32
}

// TargetKind distinguishes the three classification outcomes of §4.5.
type TargetKind uint8

const (
	KindLocalFunc TargetKind = iota
	KindFuncPtrMap
	KindNativePtr
)

// Classify runs the three-path routine of spec §4.5 over raw value v, which
// arrives from whichever register held the call target. expectedSigIdx is
// always checked against the resolved function's declared signature for
// paths 1 and 2 ("signature index must match the expected type index");
// a mismatch is a link-style error surfaced as a trap at call time.
func Classify(inst *instance.Instance, v uint32, expectedSigIdx uint16) (Target, error) {
	m := inst.Module

	// Path 1: local function index.
	if v < m.FuncCount() {
		if expectedSigIdx != signatureOf(m, v) {
			return Target{}, fmt.Errorf("espb: indirect call signature mismatch: target %d has signature %d, expected %d", v, signatureOf(m, v), expectedSigIdx)
		}
		return Target{Kind: KindLocalFunc, LocalFuncIdx: v}, nil
	}

	// Path 2: function-pointer map, keyed by a data-segment offset derived
	// from v.
	offset := dataOffsetOf(inst, v)
	if idx, ok := lookupFuncPtrMap(m.FuncPtrMap, offset); ok {
		if expectedSigIdx != signatureOf(m, uint32(idx)) {
			return Target{}, fmt.Errorf("espb: indirect call signature mismatch: target %d has signature %d, expected %d", idx, signatureOf(m, uint32(idx)), expectedSigIdx)
		}
		return Target{Kind: KindFuncPtrMap, LocalFuncIdx: uint32(idx)}, nil
	}

	// Path 3: native function pointer, left for the FFI marshaller.
	return Target{Kind: KindNativePtr, NativePtr: v}, nil
}

// ClassifyTable implements spec §4.4's table-indexed CALL_INDIRECT: idx
// selects a slot in inst.Table (populated at instantiation time from the
// Tables/Elements sections), yielding the global function index to dispatch
// to. expectedSigIdx is checked against that function's declared signature,
// the same check Classify applies to its paths 1 and 2.
func ClassifyTable(inst *instance.Instance, idx uint32, expectedSigIdx uint16) (uint32, error) {
	if idx >= uint32(len(inst.Table)) {
		return 0, fmt.Errorf("espb: indirect call table index %d out of range (table size %d)", idx, len(inst.Table))
	}
	funcIdx := inst.Table[idx]
	if expectedSigIdx != signatureOf(inst.Module, funcIdx) {
		return 0, fmt.Errorf("espb: indirect call signature mismatch: target %d has signature %d, expected %d", funcIdx, signatureOf(inst.Module, funcIdx), expectedSigIdx)
	}
	return funcIdx, nil
}

func signatureOf(m *module.Module, funcIdx uint32) uint16 {
	if m.IsImportedFunc(funcIdx) {
		return m.Imports[importFuncOrdinal(m, funcIdx)].SignatureIndex
	}
	return m.LocalFuncSignatureIndex(funcIdx)
}

// importFuncOrdinal maps a global function index known to be an import back
// to its position within m.Imports, since Imports mixes all four kinds.
func importFuncOrdinal(m *module.Module, funcIdx uint32) int {
	var n uint32
	for i, im := range m.Imports {
		if im.Kind != module.ImportKindFunc {
			continue
		}
		if n == funcIdx {
			return i
		}
		n++
	}
	return -1
}

// dataOffsetOf implements spec §4.5 step 2's value-to-offset reduction: if v
// falls within the live memory range it is a tagged absolute address and the
// base is subtracted; else if the tagged-pointer high bit is set it is
// masked off; otherwise v is already a raw offset.
func dataOffsetOf(inst *instance.Instance, v uint32) uint32 {
	memSize := inst.MemorySize()
	const memoryBase = 0 // linear memory always starts at offset 0 in this port
	if v >= memoryBase && v < memoryBase+memSize {
		return v - memoryBase
	}
	if v&TaggedPointerBit != 0 {
		return v &^ TaggedPointerBit
	}
	return v
}

// lookupFuncPtrMap binary-searches table (already sorted by DataOffset by
// the parser) for an exact match, per spec §8 "binary search returns the
// entry iff an exact match exists".
func lookupFuncPtrMap(table []module.FuncPtrMapEntry, offset uint32) (uint16, bool) {
	i := sort.Search(len(table), func(i int) bool { return table[i].DataOffset >= offset })
	if i < len(table) && table[i].DataOffset == offset {
		return table[i].FuncIndex, true
	}
	return 0, false
}
