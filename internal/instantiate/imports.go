package instantiate

import (
	"fmt"

	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
	"github.com/espb-vm/espb/internal/symtab"
)

// resolveImports implements spec §4.3 step 4: for every import, call the
// host symbol resolver (§4.7). Resolved FUNC/GLOBAL values are stored in the
// instance's resolved arrays, in import order restricted to that kind
// (matching module.ImportedFuncCount / ImportedGlobalCount and the index
// convention decodeImports establishes). Unresolved FUNC or GLOBAL imports
// are fatal (link error); Table/Memory imports carry no runtime symbol
// beyond the "env.memory" special case memory.go already handled.
func resolveImports(inst *instance.Instance, m *module.Module, reg *symtab.Registry) error {
	var funcIdx, globalIdx uint32
	for _, im := range m.Imports {
		switch im.Kind {
		case module.ImportKindFunc:
			sym, ok := lookup(reg, &im)
			if !ok || sym.Func == nil {
				return fmt.Errorf("espb/instantiate: unresolved function import %s.%s", im.ModuleName, im.EntityName)
			}
			inst.ResolvedImportFuncs[funcIdx] = sym.Func
			funcIdx++
		case module.ImportKindGlobal:
			sym, ok := lookup(reg, &im)
			if !ok || sym.Global == nil {
				return fmt.Errorf("espb/instantiate: unresolved global import %s.%s", im.ModuleName, im.EntityName)
			}
			inst.ResolvedImportGlobals[globalIdx] = sym.Global
			globalIdx++
		case module.ImportKindMemory:
			// Bound in allocateMemory (step 1); nothing further to resolve.
		case module.ImportKindTable:
			// ESPB supports a single table and does not define table
			// imports beyond the descriptor already recorded; no host
			// symbol to bind.
		}
	}
	return nil
}

func lookup(reg *symtab.Registry, im *module.Import) (symtab.Symbol, bool) {
	if reg == nil {
		return symtab.Symbol{}, false
	}
	return reg.Resolve(im.Flags, im.ModuleName, im.EntityName, im.SymbolIndex)
}
