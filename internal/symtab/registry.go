// Package symtab implements the Host Symbol Registry (spec §4.7): named
// per-module-number symbol tables searched linearly, plus two fast indexed
// tables addressed directly by a symbol_index carried in an import's flags
// byte. Resolution is synchronous and side-effect-free, as required.
package symtab

import (
	"sync"

	"github.com/espb-vm/espb/api"
)

// Symbol is the address (or, in this Go port, the Go value) a resolved
// import binds to: either a function value or a pointer to a global.
type Symbol struct {
	Func   api.NativeFunc // non-nil for ImportKindFunc
	Global *uint32        // non-nil for ImportKindGlobal; points at host-owned storage
}

// NamedTable maps entity name to Symbol within one host module number.
type NamedTable map[string]Symbol

// Registry is the process-wide (or, per spec §9's recommendation to avoid
// the source's cross-instance aliasing bug, Runtime-scoped) symbol
// registry: named tables plus the two fast arrays.
type Registry struct {
	mu         sync.RWMutex
	named      map[uint32]NamedTable
	nameToNum  map[string]uint32
	idfFast    []Symbol
	customFast []Symbol
}

// NewRegistry returns an empty Registry with both fast tables empty;
// SetIDFFast and SetCustomFast grow them on demand.
func NewRegistry() *Registry {
	return &Registry{named: make(map[uint32]NamedTable), nameToNum: make(map[string]uint32)}
}

// RegisterTable registers (or replaces) the named table for moduleNum.
// "Last registration wins for a given module number" (spec §6).
func (r *Registry) RegisterTable(moduleNum uint32, table NamedTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[moduleNum] = table
}

// BindModuleName associates an import's module-name string (e.g. "env")
// with the host's numeric module number, so imports can be resolved via
// their human-readable module name while the registry itself keys named
// tables by number, per spec §4.7.
func (r *Registry) BindModuleName(name string, moduleNum uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nameToNum[name] = moduleNum
}

// ModuleNumFor returns the module number bound to name, or ok=false if
// none has been registered.
func (r *Registry) ModuleNumFor(name string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nameToNum[name]
	return n, ok
}

// ResolveNamed looks up entityName within moduleNum's named table.
func (r *Registry) ResolveNamed(moduleNum uint32, entityName string) (Symbol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.named[moduleNum]
	if !ok {
		return Symbol{}, false
	}
	sym, ok := table[entityName]
	return sym, ok
}

// SetIDFFast installs sym at index idx of the idf_fast table, growing it if
// necessary. A nil Func/Global leaves the slot disabled.
func (r *Registry) SetIDFFast(idx uint32, sym Symbol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idfFast = growAndSet(r.idfFast, idx, sym)
}

// SetCustomFast installs sym at index idx of the custom_fast table.
func (r *Registry) SetCustomFast(idx uint32, sym Symbol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customFast = growAndSet(r.customFast, idx, sym)
}

func growAndSet(table []Symbol, idx uint32, sym Symbol) []Symbol {
	if idx >= uint32(len(table)) {
		grown := make([]Symbol, idx+1)
		copy(grown, table)
		table = grown
	}
	table[idx] = sym
	return table
}

// ResolveIDFFast returns the Symbol at idf_fast[idx], or the zero Symbol
// (disabled) if idx is out of range — "A NULL slot is a disabled symbol;
// out-of-range is NULL" (spec §4.7).
func (r *Registry) ResolveIDFFast(idx uint32) Symbol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx >= uint32(len(r.idfFast)) {
		return Symbol{}
	}
	return r.idfFast[idx]
}

// ResolveCustomFast returns the Symbol at custom_fast[idx], or the zero
// Symbol if out of range.
func (r *Registry) ResolveCustomFast(idx uint32) Symbol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx >= uint32(len(r.customFast)) {
		return Symbol{}
	}
	return r.customFast[idx]
}

// Import-flag resolution scheme selectors (spec §4.7), mirrored from
// module.ImportFlag* to keep this package import-light.
const (
	FlagIndexed    = 0x10
	FlagFastCustom = 0x20
	FlagFastIDF    = 0x40
)

// Resolve dispatches an import to the correct table based on its flags
// byte: fast-IDF and fast-custom resolve by symbolIndex directly, named
// imports resolve through moduleName (translated to a module number via
// BindModuleName) and entityName.
func (r *Registry) Resolve(flags uint8, moduleName, entityName string, symbolIndex uint32) (Symbol, bool) {
	switch {
	case flags&FlagFastIDF != 0:
		sym := r.ResolveIDFFast(symbolIndex)
		return sym, sym.Func != nil || sym.Global != nil
	case flags&FlagFastCustom != 0:
		sym := r.ResolveCustomFast(symbolIndex)
		return sym, sym.Func != nil || sym.Global != nil
	default:
		num, ok := r.ModuleNumFor(moduleName)
		if !ok {
			return Symbol{}, false
		}
		return r.ResolveNamed(num, entityName)
	}
}
