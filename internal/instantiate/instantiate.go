// Package instantiate implements the Instantiator (spec §4.3): the
// ordered, all-or-nothing sequence of steps that turns a parsed
// module.Module into a running instance.Instance.
package instantiate

import (
	"fmt"

	"github.com/espb-vm/espb/internal/execctx"
	"github.com/espb-vm/espb/internal/heap"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
	"github.com/espb-vm/espb/internal/symtab"
)

// PageSize is the 64 KiB linear-memory page size (spec §8 "memory_size_bytes
// is a multiple of 65,536").
const PageSize = 64 * 1024

// Options configures one Instantiate call (spec §6 "Configurable
// constants").
type Options struct {
	// MinMemoryBytes is the compile-time configured minimum linear memory
	// size (spec §4.3 step 1). Rounded up to a page multiple.
	MinMemoryBytes uint32
	// MemoryLimitBytes caps the effective memory size regardless of the
	// module's declared initial size (spec §3 "Instance ... size clamped to
	// a configured limit").
	MemoryLimitBytes uint32
	// HostMemory, if non-nil, is used in place of an allocated buffer when
	// the module imports memory named "env.memory" (spec §4.3 step 1).
	HostMemory []byte
	// Registry resolves FUNC/GLOBAL imports (spec §4.7).
	Registry *symtab.Registry
	// ShadowStackSize / ShadowStackIncrement configure the Execution
	// Context the start function (if any) runs in.
	ShadowStackSize      int
	ShadowStackIncrement int
}

// Result bundles the instantiated Instance with any non-fatal warnings
// accumulated along the way (spec §7 "Soft warnings").
type Result struct {
	Instance *instance.Instance
	Warnings []string
}

// Instantiate runs the nine-step sequence of spec §4.3 in order, unwinding
// everything allocated so far if any step fails.
func Instantiate(m *module.Module, opts Options) (*Result, error) {
	inst := instance.New(m)
	res := &Result{Instance: inst}

	// Step 1: linear memory.
	if err := allocateMemory(inst, m, opts); err != nil {
		return nil, &instErr{"linear memory", err}
	}

	// Step 2: globals.
	allocateGlobals(inst, m)

	// Step 3: table.
	allocateTable(inst, m)

	// Step 4: import resolution.
	if err := resolveImports(inst, m, opts.Registry); err != nil {
		return nil, &instErr{"import resolution", err}
	}

	// Step 5: relocations.
	if warnings, err := applyRelocations(inst, m); err != nil {
		return nil, &instErr{"relocations", err}
	} else {
		res.Warnings = append(res.Warnings, warnings...)
	}

	// Step 6: data segment initialization.
	if err := initDataSegments(inst, m); err != nil {
		return nil, &instErr{"data segments", err}
	}

	// Step 7: heap init, over [align_up(static_data_end, 8), memory_size).
	base := alignUp8(inst.StaticDataEnd)
	h, err := heap.New(inst.Memory, base, inst.MemorySize()-base)
	if err != nil {
		return nil, &instErr{"heap init", err}
	}
	inst.Heap = h

	// Step 8: element segment initialization.
	if err := initElementSegments(inst, m); err != nil {
		return nil, &instErr{"element segments", err}
	}

	// Step 9: start function — deferred to the caller, which has the
	// Executor/ExecutionContext wiring this package deliberately does not
	// depend on (avoids an import cycle with the engine package). See
	// RunStart.
	return res, nil
}

// RunStart invokes the module's start function, if present, via the
// Executor the caller has already wired onto inst.Exec. Called by the
// top-level espb.LoadModule after engine construction (spec §4.3 step 9).
func RunStart(inst *instance.Instance, stackSize, stackIncrement int) error {
	if !inst.Module.HasStart {
		return nil
	}
	if inst.Exec == nil {
		return fmt.Errorf("espb/instantiate: no Executor wired before running start function")
	}
	ctx := execctx.New(stackSize, stackIncrement)
	_, err := inst.Exec.Execute(inst, ctx, inst.Module.StartFunc, nil)
	return err
}

func alignUp8(v uint32) uint32 { return (v + 7) &^ 7 }

type instErr struct {
	phase string
	err   error
}

func (e *instErr) Error() string { return fmt.Sprintf("instantiation failed during %s: %v", e.phase, e.err) }
func (e *instErr) Unwrap() error { return e.err }
