package espb

import (
	"fmt"

	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/execctx"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/jit"
	"github.com/espb-vm/espb/internal/module"
)

// Instance is a loaded, linked and (if it declared one) started module,
// ready to have its exported functions called (spec §3 "Instance").
type Instance struct {
	inst   *instance.Instance
	module *module.Module
	cfg    Config
}

// Close releases every resource this Instance owns: linear memory (if not
// bound to host-owned storage), the JIT cache's executable mappings,
// callback trampolines and async wrappers (spec §3 "Instance ... destroyed
// by a single teardown call").
func (i *Instance) Close() error {
	for _, e := range i.inst.AllJITEntries() {
		_ = jit.Release(e.Code)
	}
	return i.inst.Close()
}

// ExportedFunction looks up name in the module's Exports section and
// returns a callable bound to it, or ok=false if no function export with
// that name exists.
func (i *Instance) ExportedFunction(name string) (fn func(args ...api.Value) ([]api.Value, error), ok bool) {
	exp, found := i.module.FindExport(name)
	if !found || exp.Kind != module.ImportKindFunc {
		return nil, false
	}
	funcIdx := exp.Index
	return func(args ...api.Value) ([]api.Value, error) {
		ctx := execctx.New(i.cfg.shadowStackSize, i.cfg.shadowStackIncrement)
		if i.module.IsImportedFunc(funcIdx) {
			return i.inst.ResolvedImportFuncs[funcIdx](args)
		}
		return i.inst.Exec.Execute(i.inst, ctx, funcIdx, args)
	}, true
}

// MemorySize returns the current size, in bytes, of the instance's linear
// memory.
func (i *Instance) MemorySize() uint32 { return i.inst.MemorySize() }

// ReadMemory copies length bytes starting at offset out of linear memory.
func (i *Instance) ReadMemory(offset, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > uint64(len(i.inst.Memory)) {
		return nil, fmt.Errorf("espb: read [%d,%d) exceeds memory size %d", offset, uint64(offset)+uint64(length), len(i.inst.Memory))
	}
	out := make([]byte, length)
	copy(out, i.inst.Memory[offset:offset+length])
	return out, nil
}

// WriteMemory copies data into linear memory starting at offset.
func (i *Instance) WriteMemory(offset uint32, data []byte) error {
	if uint64(offset)+uint64(len(data)) > uint64(len(i.inst.Memory)) {
		return fmt.Errorf("espb: write [%d,%d) exceeds memory size %d", offset, uint64(offset)+uint64(len(data)), len(i.inst.Memory))
	}
	copy(i.inst.Memory[offset:], data)
	return nil
}
