package instantiate

import (
	"fmt"

	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
)

// allocateMemory implements spec §4.3 step 1: choose the effective size as
// the maximum of the module's declared initial size (in 64 KiB pages) and
// the configured minimum; if the module imports memory named "env.memory",
// bind the host-provided buffer instead of allocating.
func allocateMemory(inst *instance.Instance, m *module.Module, opts Options) error {
	for _, im := range m.Imports {
		if im.Kind == module.ImportKindMemory && im.ModuleName == "env" && im.EntityName == "memory" {
			if opts.HostMemory == nil {
				return fmt.Errorf("espb/instantiate: module imports env.memory but no host memory was supplied")
			}
			inst.Memory = opts.HostMemory
			inst.MemoryOwned = false
			return nil
		}
	}

	declaredBytes := uint64(0)
	if m.HasMemory {
		declaredBytes = uint64(m.Memory.Initial) * PageSize
	}
	minBytes := uint64(opts.MinMemoryBytes)
	size := declaredBytes
	if minBytes > size {
		size = minBytes
	}
	// Round up to a page multiple (spec §8 invariant).
	size = ((size + PageSize - 1) / PageSize) * PageSize
	if size == 0 {
		size = PageSize
	}
	if opts.MemoryLimitBytes != 0 && size > uint64(opts.MemoryLimitBytes) {
		return fmt.Errorf("espb/instantiate: requested memory %d exceeds configured limit %d", size, opts.MemoryLimitBytes)
	}
	inst.Memory = make([]byte, size)
	inst.MemoryOwned = true
	return nil
}
