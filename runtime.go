// Package espb is the top-level embeddable bytecode virtual machine:
// loading, linking and executing ESPB modules (spec §1 "Overview"). It
// wires the internal binary parser, instantiator, execution engine (the
// tiered interpreter/JIT dispatcher) and the host FFI/callback layers
// behind a small surface modeled on the teacher's own Runtime/
// HostModuleBuilder split.
package espb

import (
	"sync"

	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/binary"
	"github.com/espb-vm/espb/internal/engine"
	"github.com/espb-vm/espb/internal/ffi"
	"github.com/espb-vm/espb/internal/instantiate"
	"github.com/espb-vm/espb/internal/symtab"
)

// Runtime owns the host symbol registry shared by every module it loads,
// mirroring how the teacher's own Runtime owns one Store shared by every
// instantiated module (spec §9 "Runtime-scoped, not process-global").
type Runtime struct {
	cfg Config
	mu  sync.Mutex
	reg *symtab.Registry
}

// NewRuntime constructs a Runtime with cfg applied to every module it
// subsequently loads.
func NewRuntime(cfg Config) *Runtime {
	return &Runtime{cfg: cfg, reg: symtab.NewRegistry()}
}

// NewHostModuleBuilder begins defining a named host module (spec §4.7's
// "named per-module-number symbol tables"), bound to moduleNum so an
// imported module named moduleName resolves against it.
func (r *Runtime) NewHostModuleBuilder(moduleName string, moduleNum uint32) *HostModuleBuilder {
	r.reg.BindModuleName(moduleName, moduleNum)
	return &HostModuleBuilder{reg: r.reg, moduleNum: moduleNum, table: symtab.NamedTable{}}
}

// RegisterIDFFast installs sym directly into the registry's idf_fast table
// at idx (spec §4.7's fast indexed resolution path), bypassing named-module
// lookup entirely.
func (r *Runtime) RegisterIDFFast(idx uint32, sym symtab.Symbol) { r.reg.SetIDFFast(idx, sym) }

// RegisterCustomFast installs sym into the registry's custom_fast table.
func (r *Runtime) RegisterCustomFast(idx uint32, sym symtab.Symbol) { r.reg.SetCustomFast(idx, sym) }

// LoadModule runs the full pipeline spec §1 describes end to end: parse
// (§4.1), instantiate (§4.3, including import resolution against every
// host module registered on this Runtime so far), wire the execution
// engine and FFI caller, then run the start function if one is declared.
func (r *Runtime) LoadModule(buf []byte) (*Instance, []string, error) {
	m, parseWarnings, err := binary.Parse(buf)
	if err != nil {
		return nil, nil, err
	}

	opts := instantiate.Options{
		MinMemoryBytes:       r.cfg.minMemoryBytes,
		MemoryLimitBytes:     r.cfg.memoryLimitBytes,
		Registry:             r.registry(),
		ShadowStackSize:      r.cfg.shadowStackSize,
		ShadowStackIncrement: r.cfg.shadowStackIncrement,
	}
	result, err := instantiate.Instantiate(m, opts)
	if err != nil {
		return nil, nil, &InstantiationError{Err: err, Phase: "instantiate"}
	}

	result.Instance.Exec = engine.Engine{}
	result.Instance.Native = ffi.Caller{}

	if err := instantiate.RunStart(result.Instance, r.cfg.shadowStackSize, r.cfg.shadowStackIncrement); err != nil {
		_ = result.Instance.Close()
		return nil, nil, &InstantiationError{Err: err, Phase: "start function"}
	}

	warnings := append(parseWarnings, result.Warnings...)
	return &Instance{inst: result.Instance, module: m, cfg: r.cfg}, warnings, nil
}

func (r *Runtime) registry() *symtab.Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg
}

// HostModuleBuilder accumulates named FUNC/GLOBAL symbols for one host
// module number, the ESPB analog of the teacher's HostModuleBuilder (spec
// §4.7 "named per-module-number symbol tables").
type HostModuleBuilder struct {
	reg       *symtab.Registry
	moduleNum uint32
	table     symtab.NamedTable
}

// ExportFunction registers fn under entityName, resolvable by any import
// naming this builder's module and entityName (spec §4.7's named path).
func (b *HostModuleBuilder) ExportFunction(entityName string, fn api.NativeFunc) *HostModuleBuilder {
	b.table[entityName] = symtab.Symbol{Func: fn}
	return b
}

// ExportGlobal registers a pointer to host-owned storage under entityName,
// resolvable by a GLOBAL import.
func (b *HostModuleBuilder) ExportGlobal(entityName string, storage *uint32) *HostModuleBuilder {
	b.table[entityName] = symtab.Symbol{Global: storage}
	return b
}

// Finish installs the accumulated table into the Runtime's registry. Later
// calls for the same module number replace the table entirely (spec §6
// "Last registration wins for a given module number").
func (b *HostModuleBuilder) Finish() {
	b.reg.RegisterTable(b.moduleNum, b.table)
}
