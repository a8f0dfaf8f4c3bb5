// Package callback implements spec §4.6.1's "Callback Trampolines": the
// mechanism by which a module's local function can be handed to a native
// host API as a function pointer, and later invoked by that host with
// native-looking arguments.
//
// A real implementation needs architecture-specific trampoline code that
// accepts a native ABI call and re-enters the VM — exactly the kind of
// "unavoidable unsafe region" spec §9 says to isolate behind a safe
// interface. This port isolates it behind api.NativeFunc the same way the
// ffi package does for ordinary FFI calls (see internal/ffi's doc comment):
// a trampoline is a Go closure registered under a synthesized handle in
// Instance.NativeFuncPtrs, so a host module written against this runtime
// invokes it exactly like any other native function value.
package callback

import (
	"fmt"
	"sync/atomic"

	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/execctx"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
)

// handleCounter synthesizes unique trampoline handles. It starts above the
// tagged-pointer bit's lower range used elsewhere (indirect.TaggedPointerBit
// = 0x80000000 marks raw native pointers) so a callback handle is never
// mistaken for a data-offset-derived value; collisions are not possible
// within a single process's uint32 handle space for any realistic module
// count.
var handleCounter uint32 = 0x40000000

func nextHandle() uint32 { return atomic.AddUint32(&handleCounter, 1) }

// GetOrBuild returns the trampoline already built for the (importIdx,
// entry.ModuleFuncIdx) pair on inst, if spec §4.6.1's "reused" path applies,
// or builds and registers a fresh one.
func GetOrBuild(inst *instance.Instance, importIdx uint32, entry module.CallbackEntry) (uint32, api.NativeFunc, error) {
	for _, c := range inst.CallbackClosures() {
		if c.ImportIndex == importIdx && c.TargetFuncIdx == uint32(entry.ModuleFuncIdx) {
			return c.Handle, c.Trampoline, nil
		}
	}
	return Build(inst, importIdx, entry)
}

// Build implements spec §4.6.1's 5-step contract:
//  1. Bind the target's signature (the "CIF equivalent").
//  2. Coerce a zero-parameter signature to arity 1 (the documented
//     "timer callback" quirk: many native timer/poll APIs always pass a
//     user-data pointer even when the module-side callback declares none).
//  3. The universal handler (the returned api.NativeFunc) reads native
//     arguments, substitutes the stored user-data value rather than
//     whatever the host passed at the user-data slot, and converts them to
//     Values with small-int promotion.
//  4. It opens a brand new execctx.Context for the reentrant call — never
//     the caller's context, since the callback may fire from an unrelated
//     call chain or even concurrently.
//  5. It invokes inst.Exec.Execute, writes results back with type-correct
//     truncation, and discards the context.
func Build(inst *instance.Instance, importIdx uint32, entry module.CallbackEntry) (uint32, api.NativeFunc, error) {
	targetIdx := uint32(entry.ModuleFuncIdx)
	if inst.Module.IsImportedFunc(targetIdx) {
		return 0, nil, fmt.Errorf("espb/callback: cbmeta target %d is an imported function, not a local one", targetIdx)
	}
	sigIdx := inst.Module.LocalFuncSignatureIndex(targetIdx)
	if int(sigIdx) >= len(inst.Module.Signatures) {
		return 0, nil, fmt.Errorf("espb/callback: cbmeta target %d has out-of-range signature index %d", targetIdx, sigIdx)
	}
	sig := inst.Module.Signatures[sigIdx]

	arity := len(sig.Params)
	if arity == 0 {
		arity = 1 // step 2: zero-param signatures still take one user-data arg.
	}

	userDataArgIdx := -1
	if entry.HasUserData() {
		userDataArgIdx = int(entry.UserDataParamIdx)
	}

	closure := &instance.CallbackClosure{
		Handle:         nextHandle(),
		ImportIndex:    importIdx,
		TargetFuncIdx:  targetIdx,
		Signature:      sig,
		UserDataArgIdx: userDataArgIdx,
	}

	trampoline := func(nativeArgs []api.Value) ([]api.Value, error) {
		args := make([]api.Value, len(sig.Params))
		for i := range args {
			if i < len(nativeArgs) && i < arity {
				args[i] = promote(nativeArgs[i], sig.Params[i])
			}
		}
		// Step 3: the stored user-data value always wins over whatever the
		// host happened to pass at that slot, since the host only ever
		// learned the pointer this trampoline itself handed back.
		if closure.UserDataArgIdx >= 0 && closure.UserDataArgIdx < len(args) {
			args[closure.UserDataArgIdx] = api.U32(uint32(closure.UserData))
		}

		// Step 4: a fresh, never-shared Context per invocation.
		ctx := execctx.New(0, 0)

		results, err := inst.Exec.Execute(inst, ctx, targetIdx, args)
		if err != nil {
			return nil, err
		}
		return truncateResults(results, sig.Results), nil
	}

	closure.Trampoline = trampoline
	inst.AddCallbackClosure(closure)
	return closure.Handle, trampoline, nil
}

// SetUserData records the user-data pointer this trampoline substitutes on
// every invocation (spec §4.6.1's "original_user_data"). The ffi package
// calls it on every import call that passes this callback together with a
// user-data argument, so the value from the most recent such call wins.
func SetUserData(inst *instance.Instance, handle uint32, userData uint32) {
	for _, c := range inst.CallbackClosures() {
		if c.Handle == handle {
			c.UserData = uint64(userData)
			return
		}
	}
}

// promote widens a native argument to the declared parameter type, covering
// the small-int promotion the universal handler performs per spec §4.6.1
// ("reads native arguments ... with small-int promotion").
func promote(v api.Value, want api.ValueType) api.Value {
	if v.Type == want {
		return v
	}
	switch want {
	case api.ValueTypeF32, api.ValueTypeF64:
		return v // caller is responsible for passing float-typed Values; no int<->float coercion here.
	default:
		return api.Value{Type: want, Lo: v.Lo}
	}
}

// truncateResults masks each result down to its declared width, matching
// the register-window truncation the interpreter and JIT both apply on
// ordinary RETURN.
func truncateResults(results []api.Value, want []api.ValueType) []api.Value {
	out := make([]api.Value, len(want))
	for i := range want {
		if i < len(results) {
			out[i] = api.Value{Type: want[i], Lo: maskToWidth(results[i].Lo, api.ValueSize(want[i])), Hi: results[i].Hi}
		} else {
			out[i] = api.Value{Type: want[i]}
		}
	}
	return out
}

func maskToWidth(v uint64, size int) uint64 {
	switch size {
	case 1:
		return v & 0xFF
	case 2:
		return v & 0xFFFF
	case 4:
		return v & 0xFFFFFFFF
	default:
		return v
	}
}
