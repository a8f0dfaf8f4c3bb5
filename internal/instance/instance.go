// Package instance implements the mutable runtime image of a parsed
// module.Module (spec §3 "Instance"): linear memory, globals, the function
// table, resolved imports, the embedded sub-heap, and the registries that
// the JIT tier, FFI marshaller and callback system each own a slice of.
package instance

import (
	"sync"

	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/execctx"
	"github.com/espb-vm/espb/internal/heap"
	"github.com/espb-vm/espb/internal/module"
)

// Executor re-enters the VM on a local function, the same contract spec
// §4.4 calls `execute(instance, ctx, func_idx, args, results)`. The engine
// package implements this; Instance only stores the interface so that
// lower layers (callback trampolines) can call back into the VM without an
// import cycle.
type Executor interface {
	Execute(inst *Instance, ctx *execctx.Context, funcIdx uint32, args []api.Value) ([]api.Value, error)
	// ExecuteJITOnly is the JIT-only variant of spec §4.4 step: it must
	// skip interpreter fallback and return the compile error directly.
	ExecuteJITOnly(inst *Instance, ctx *execctx.Context, funcIdx uint32, args []api.Value) ([]api.Value, error)
}

// NativeCaller performs the host-FFI side of a call: either CALL_IMPORT (a
// resolved import, by index, carrying cbmeta/immeta) or CALL_INDIRECT_PTR's
// native-function-pointer path (spec §4.5 step 3, §4.6). The ffi package
// implements this.
type NativeCaller interface {
	CallImport(inst *Instance, ctx *execctx.Context, importIdx uint32, args []api.Value) ([]api.Value, error)
	CallNativePtr(inst *Instance, ctx *execctx.Context, ptr uint32, sig module.Signature, args []api.Value) ([]api.Value, error)
}

// JITEntry is one JIT Cache record: a native-code pointer plus its size
// (spec §3 "JIT Cache").
type JITEntry struct {
	Code     []byte // the executable memory backing this entry; owned by the cache.
	Compiled func(inst *Instance, regs []byte) error
}

// CallbackClosure is the runtime analog of spec §3's Callback Closure
// Record. Per §9's recommendation, this port keeps the registry
// Instance-scoped rather than process-global, to avoid the cross-instance
// aliasing the source implicitly tolerates.
type CallbackClosure struct {
	Handle        uint32 // the synthesized NativeFuncPtrs key a module holds as its "function pointer"
	Trampoline    api.NativeFunc
	ImportIndex   uint32
	TargetFuncIdx uint32
	Signature     module.Signature
	UserData      uint64
	UserDataArgIdx int // -1 means "none"
	ExecMem       []byte
}

// AsyncWrapper wraps a resolved import whose immeta declares at least one
// async-handler OUT/INOUT argument (spec §4.6 "Async wrappers").
type AsyncWrapper struct {
	ImportIndex uint32
	Original    api.NativeFunc
	OutArgs     []AsyncOutSpec
}

// AsyncOutSpec names one OUT/INOUT argument of an AsyncWrapper and its
// declared size. It is a record only: no scratch buffer is substituted and
// nothing is copied back after the wrapped call, which writes linear memory
// directly.
type AsyncOutSpec struct {
	ArgIndex int
	Size     uint32
}

// Instance is the mutable runtime image of a Module.
type Instance struct {
	Module *module.Module

	Memory     []byte
	MemoryOwned bool // false when bound to an imported "env.memory" host buffer

	StaticDataEnd uint32

	Globals       []byte
	GlobalOffsets []uint32 // indexed by local global index (module.Globals index)

	ResolvedImportFuncs   []api.NativeFunc
	ResolvedImportGlobals []*uint32

	// NativeFuncPtrs stands in for raw native-function-pointer targets a
	// host registers for the indirect-call classification's third path
	// (spec §4.5 step 3); addressed by the same tagged-pointer value a
	// module would carry in a register.
	NativeFuncPtrs map[uint32]api.NativeFunc

	Table []uint32 // funcref table: global function indices

	Heap *heap.Heap

	// Mu serializes memory growth and closure/async-wrapper-list mutation
	// only (spec §5 "Shared-resource policy") — never acquired per-opcode.
	Mu sync.Mutex

	jitMu    sync.RWMutex
	jitCache map[uint32]*JITEntry

	cbMu      sync.Mutex
	callbacks []*CallbackClosure

	awMu   sync.Mutex
	asyncWrappers []*AsyncWrapper

	Exec   Executor
	Native NativeCaller

	closed bool
}

// New constructs an Instance bound to m, with memory/globals/table left
// zero-valued; the Instantiator (internal/instantiate) populates the rest.
func New(m *module.Module) *Instance {
	return &Instance{
		Module:                m,
		ResolvedImportFuncs:   make([]api.NativeFunc, m.ImportedFuncCount),
		ResolvedImportGlobals: make([]*uint32, m.ImportedGlobalCount),
		NativeFuncPtrs:        make(map[uint32]api.NativeFunc),
		jitCache:              make(map[uint32]*JITEntry),
	}
}

// MemorySize returns the current size of linear memory in bytes.
func (i *Instance) MemorySize() uint32 { return uint32(len(i.Memory)) }

// GetJITEntry implements the JIT Cache's lookup contract (spec §3).
func (i *Instance) GetJITEntry(funcIdx uint32) (*JITEntry, bool) {
	i.jitMu.RLock()
	defer i.jitMu.RUnlock()
	e, ok := i.jitCache[funcIdx]
	return e, ok
}

// SetJITEntry implements the JIT Cache's insert contract.
func (i *Instance) SetJITEntry(funcIdx uint32, e *JITEntry) {
	i.jitMu.Lock()
	defer i.jitMu.Unlock()
	i.jitCache[funcIdx] = e
}

// RemoveJITEntry implements the JIT Cache's remove contract; the caller is
// responsible for releasing e.Code's executable memory beforehand.
func (i *Instance) RemoveJITEntry(funcIdx uint32) {
	i.jitMu.Lock()
	defer i.jitMu.Unlock()
	delete(i.jitCache, funcIdx)
}

// AllJITEntries returns a snapshot of every cached entry, used by Close for
// teardown.
func (i *Instance) AllJITEntries() map[uint32]*JITEntry {
	i.jitMu.RLock()
	defer i.jitMu.RUnlock()
	out := make(map[uint32]*JITEntry, len(i.jitCache))
	for k, v := range i.jitCache {
		out[k] = v
	}
	return out
}

// AddCallbackClosure links a newly constructed CallbackClosure into this
// Instance's registry (spec §3 "Stored in a process-wide linked list
// guarded by a mutex" — kept Instance-scoped here per spec §9).
func (i *Instance) AddCallbackClosure(c *CallbackClosure) {
	i.cbMu.Lock()
	defer i.cbMu.Unlock()
	i.callbacks = append(i.callbacks, c)
}

// RemoveCallbackClosure unlinks c, if present.
func (i *Instance) RemoveCallbackClosure(c *CallbackClosure) {
	i.cbMu.Lock()
	defer i.cbMu.Unlock()
	for idx, e := range i.callbacks {
		if e == c {
			i.callbacks = append(i.callbacks[:idx], i.callbacks[idx+1:]...)
			return
		}
	}
}

// CallbackClosures returns a snapshot of the live closure list.
func (i *Instance) CallbackClosures() []*CallbackClosure {
	i.cbMu.Lock()
	defer i.cbMu.Unlock()
	out := make([]*CallbackClosure, len(i.callbacks))
	copy(out, i.callbacks)
	return out
}

// AddAsyncWrapper registers a new AsyncWrapper, owned by the Instance until
// Close (spec §4.6 "Wrappers are owned by the instance and freed on
// teardown").
func (i *Instance) AddAsyncWrapper(w *AsyncWrapper) {
	i.awMu.Lock()
	defer i.awMu.Unlock()
	i.asyncWrappers = append(i.asyncWrappers, w)
}

// AsyncWrappers returns a snapshot of the registered wrappers.
func (i *Instance) AsyncWrappers() []*AsyncWrapper {
	i.awMu.Lock()
	defer i.awMu.Unlock()
	out := make([]*AsyncWrapper, len(i.asyncWrappers))
	copy(out, i.asyncWrappers)
	return out
}

// Close releases every owned resource in reverse dependency order (spec §3
// "Instance ... Lifetime": created by the Instantiator, destroyed by a
// single teardown call). It is safe to call more than once.
func (i *Instance) Close() error {
	i.Mu.Lock()
	defer i.Mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true

	// Callback closures first: they hold back-pointers into this Instance
	// and must stop being callable before anything else is torn down.
	for _, c := range i.CallbackClosures() {
		i.RemoveCallbackClosure(c)
	}
	// Async FFI wrappers next.
	i.awMu.Lock()
	i.asyncWrappers = nil
	i.awMu.Unlock()

	// JIT cache entries: each entry is single-owner, freed here.
	for idx := range i.AllJITEntries() {
		i.RemoveJITEntry(idx)
	}

	i.Heap = nil
	i.Table = nil
	i.Globals = nil
	if i.MemoryOwned {
		i.Memory = nil
	}
	return nil
}

// Closed reports whether Close has already run.
func (i *Instance) Closed() bool {
	i.Mu.Lock()
	defer i.Mu.Unlock()
	return i.closed
}

// ReadGlobal implements the GET half of spec §4.4's "Global GET/SET by
// index, going through global_offsets and typed reads", uniformly across
// imported and locally defined globals.
func (i *Instance) ReadGlobal(idx uint32) api.Value {
	if idx < i.Module.ImportedGlobalCount {
		p := i.ResolvedImportGlobals[idx]
		if p == nil {
			return api.Value{}
		}
		return api.Value{Type: api.ValueTypeU32, Lo: uint64(*p)}
	}
	localIdx := idx - i.Module.ImportedGlobalCount
	g := i.Module.Globals[localIdx]
	off := i.GlobalOffsets[localIdx]
	return api.Value{Type: g.Type, Lo: readScalar(i.Globals, off, g.Type)}
}

// WriteGlobal implements the SET half.
func (i *Instance) WriteGlobal(idx uint32, v api.Value) {
	if idx < i.Module.ImportedGlobalCount {
		p := i.ResolvedImportGlobals[idx]
		if p != nil {
			*p = uint32(v.Lo)
		}
		return
	}
	localIdx := idx - i.Module.ImportedGlobalCount
	g := i.Module.Globals[localIdx]
	off := i.GlobalOffsets[localIdx]
	writeScalar(i.Globals, off, g.Type, v.Lo)
}

// GlobalsDataSize is the total size of the locally defined globals buffer,
// used for the "[0, globals_data_size)" bounds check of spec §4.4.
func (i *Instance) GlobalsDataSize() uint32 { return uint32(len(i.Globals)) }

func readScalar(buf []byte, off uint32, t api.ValueType) uint64 {
	var v uint64
	n := api.ValueSize(t)
	for k := 0; k < n; k++ {
		v |= uint64(buf[off+uint32(k)]) << (8 * k)
	}
	return v
}

func writeScalar(buf []byte, off uint32, t api.ValueType, lo uint64) {
	n := api.ValueSize(t)
	for k := 0; k < n; k++ {
		buf[off+uint32(k)] = byte(lo >> (8 * k))
	}
}
