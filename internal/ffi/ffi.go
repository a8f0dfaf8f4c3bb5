// Package ffi implements the Host FFI & Callback Metadata layer of spec
// §4.6: native call preparation (pointer translation of PTR arguments),
// immeta-driven IN/OUT/INOUT marshalling, cbmeta-driven callback-trampoline
// substitution, and async wrappers. It does no type mapping and no variadic
// promotion: arguments reach the host function as the module's own Values.
// It implements instance.NativeCaller, the interface the interpreter calls
// through for CALL_IMPORT and CALL_INDIRECT_PTR.
//
// There is no real native ABI in this port — spec §1 explicitly scopes
// "the specific libffi implementation details" and architecture-specific
// trampoline codegen out of core scope, and api.NativeFunc is the safe-
// interface boundary that stands in for them (see api/value.go). Because a
// registered host function is a Go closure running in the same address
// space as the module's linear memory, the scratch-buffer copy half of
// IN/OUT/INOUT marshalling degenerates to a bounds-checked identity: this
// package still performs the size resolution, direction bookkeeping and
// pointer-tag translation spec §4.6 describes, it just has no second
// memory space to copy into.
package ffi

import (
	"fmt"

	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/callback"
	"github.com/espb-vm/espb/internal/execctx"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
)

// Caller is the default instance.NativeCaller implementation.
type Caller struct{}

// CallImport implements spec §4.6's native call preparation for CALL_IMPORT:
// resolve the import, substitute any cbmeta callback-pointer arguments with
// a trampoline, validate immeta IN/OUT/INOUT bounds, and invoke.
func (Caller) CallImport(inst *instance.Instance, ctx *execctx.Context, importIdx uint32, args []api.Value) ([]api.Value, error) {
	if importIdx >= uint32(len(inst.ResolvedImportFuncs)) {
		return nil, fmt.Errorf("%w: import index %d out of range", instance.ErrTrapInvalidFuncIndex, importIdx)
	}
	fn := inst.ResolvedImportFuncs[importIdx]
	if fn == nil {
		return nil, fmt.Errorf("%w: import %d has no resolved function", instance.ErrTrapUnresolvedImport, importIdx)
	}

	args = prepareNativeArgs(args)

	if cbs := findCallbacks(inst, importIdx); cbs != nil {
		var err error
		args, err = substituteCallbacks(inst, importIdx, cbs, args)
		if err != nil {
			return nil, err
		}
	}

	if im := findMarshal(inst, importIdx); im != nil {
		if err := checkMarshalBounds(inst, ctx, im, args); err != nil {
			return nil, err
		}
		if hasAsyncArg(im) {
			return callAsync(inst, importIdx, im, fn, args)
		}
	}

	return fn(args)
}

// CallNativePtr implements CALL_INDIRECT_PTR (spec §4.5 step 3): the target
// is a raw native function pointer rather than a resolved import. In this
// port that "pointer" is a handle into Instance.NativeFuncPtrs (see
// internal/indirect), populated by whatever registered it (typically a
// callback trampoline handed back out to the module, or a host that
// pre-registers native callables by handle).
func (Caller) CallNativePtr(inst *instance.Instance, ctx *execctx.Context, ptr uint32, sig module.Signature, args []api.Value) ([]api.Value, error) {
	fn, ok := inst.NativeFuncPtrs[ptr]
	if !ok || fn == nil {
		return nil, fmt.Errorf("%w: native function pointer %#x does not resolve to a registered callable", instance.ErrTrapInvalidFuncIndex, ptr)
	}
	return fn(prepareNativeArgs(args))
}

// prepareNativeArgs implements the "native call preparation" pointer
// translation of spec §4.6: an argument whose value looks like an in-memory
// offset, or carries the tagged-pointer high bit, is translated to an
// absolute host-visible offset (memory_base + offset; memory_base is always
// 0 in this port, so this is the identity transform, kept here so the step
// is visible and where a future non-zero base would hook in).
func prepareNativeArgs(args []api.Value) []api.Value {
	out := make([]api.Value, len(args))
	for i, a := range args {
		if a.Type == api.ValueTypePTR {
			a.Lo = uint64(translatePointer(uint32(a.Lo)))
		}
		out[i] = a
	}
	return out
}

const taggedPointerBit uint32 = 0x80000000

func translatePointer(v uint32) uint32 {
	const memoryBase = 0
	if v&taggedPointerBit != 0 {
		return memoryBase + (v &^ taggedPointerBit)
	}
	return memoryBase + v
}

func findCallbacks(inst *instance.Instance, importIdx uint32) *module.ImportCallbacks {
	for i := range inst.Module.ImportCallbacks {
		if uint32(inst.Module.ImportCallbacks[i].ImportIndex) == importIdx {
			return &inst.Module.ImportCallbacks[i]
		}
	}
	return nil
}

func findMarshal(inst *instance.Instance, importIdx uint32) *module.ImportMarshal {
	for i := range inst.Module.ImportMarshals {
		if uint32(inst.Module.ImportMarshals[i].ImportIndex) == importIdx {
			return &inst.Module.ImportMarshals[i]
		}
	}
	return nil
}

// substituteCallbacks implements cbmeta's contract (spec §4.6 "Before every
// FFI call ... the marshaller replaces the argument at the callback slot
// with the executable address of a freshly-built or reused native
// trampoline"): for each entry, get-or-build a callback.Trampoline and
// install it as an ValueTypeInternalFuncIdx handle into
// Instance.NativeFuncPtrs, then overwrite the callback-slot argument with
// that handle. When the entry declares a user-data slot, the value the
// module passed at that slot in this very call is captured onto the
// closure (spec §4.6.1 step 3: "substitutes the stored original_user_data
// pointer" on every subsequent invocation of the trampoline).
func substituteCallbacks(inst *instance.Instance, importIdx uint32, cbs *module.ImportCallbacks, args []api.Value) ([]api.Value, error) {
	out := make([]api.Value, len(args))
	copy(out, args)
	for _, entry := range cbs.Callbacks {
		if int(entry.CallbackParamIdx) >= len(out) {
			continue // arity shorter than declared slot: skipped, no warning is produced
		}
		handle, trampoline, err := callback.GetOrBuild(inst, importIdx, entry)
		if err != nil {
			return nil, err
		}
		inst.NativeFuncPtrs[handle] = trampoline
		out[entry.CallbackParamIdx] = api.Value{Type: api.ValueTypeInternalFuncIdx, Lo: uint64(handle)}
		if entry.HasUserData() && int(entry.UserDataParamIdx) < len(out) {
			callback.SetUserData(inst, handle, out[entry.UserDataParamIdx].AsU32())
		}
	}
	return out, nil
}

// checkMarshalBounds resolves each immeta argument's effective size and
// validates the declared pointer argument's span lies within linear memory,
// the load-bearing half of IN/OUT/INOUT marshalling this port can still
// enforce without a second host address space (see package doc comment).
func checkMarshalBounds(inst *instance.Instance, ctx *execctx.Context, im *module.ImportMarshal, args []api.Value) error {
	for _, a := range im.Args {
		if int(a.ArgIndex) >= len(args) {
			continue
		}
		size := marshalSize(ctx, a, args)
		if size == 0 {
			continue
		}
		ptr := args[a.ArgIndex].AsU32()
		if uint64(ptr)+uint64(size) > uint64(len(inst.Memory)) {
			return fmt.Errorf("%w: marshalled argument %d span [%d,%d) exceeds memory size %d", instance.ErrTrapOutOfBoundsMemory, a.ArgIndex, ptr, uint64(ptr)+uint64(size), len(inst.Memory))
		}
	}
	return nil
}

func marshalSize(ctx *execctx.Context, a module.MarshalArg, args []api.Value) uint32 {
	if a.SizeKind == module.SizeConst {
		return uint32(a.SizeValue)
	}
	if int(a.SizeValue) < len(args) {
		return args[a.SizeValue].AsU32()
	}
	return 0
}

func hasAsyncArg(im *module.ImportMarshal) bool {
	for _, a := range im.Args {
		if a.HandlerIndex == module.HandlerAsync {
			return true
		}
	}
	return false
}

// callAsync implements spec §4.6's "Async wrappers": builds a new
// instance.AsyncWrapper around fn on every call (wrappers are never reused),
// registers it on inst, invokes fn, and — per this port's
// shared-address-space scoping note — the OUT copy-back is a no-op since
// the OUT pointer already names live linear memory the call observed
// directly.
func callAsync(inst *instance.Instance, importIdx uint32, im *module.ImportMarshal, fn api.NativeFunc, args []api.Value) ([]api.Value, error) {
	var outs []instance.AsyncOutSpec
	for _, a := range im.Args {
		if a.HandlerIndex != module.HandlerAsync {
			continue
		}
		if a.Direction != module.MarshalOut && a.Direction != module.MarshalInOut {
			continue
		}
		outs = append(outs, instance.AsyncOutSpec{ArgIndex: int(a.ArgIndex), Size: uint32(a.SizeValue)})
	}
	wrapper := &instance.AsyncWrapper{ImportIndex: importIdx, Original: fn, OutArgs: outs}
	inst.AddAsyncWrapper(wrapper)
	return fn(args)
}
