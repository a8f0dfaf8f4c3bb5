// Package engine implements the top-level dispatch loop of spec §4.4
// ("Dispatching"): the tiering decision between the JIT cache, the amd64
// fast-path compiler, and the interpreter fallback, behind the
// instance.Executor interface every call site (interpreter CALL, callback
// trampolines, the root package's exported-function entry point) goes
// through uniformly.
package engine

import (
	"fmt"

	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/execctx"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/interpreter"
	"github.com/espb-vm/espb/internal/jit"
)

// Engine is the default instance.Executor.
type Engine struct{}

// Execute implements spec §4.4's dispatch: an imported function index is
// rejected outright (imports go through NativeCaller, never here); a
// cached JIT entry is entered directly; a COLD body always interprets; a
// HOT body attempts JIT compilation and caches a successful result so later
// calls skip recompilation. A failed compilation is not cached: the call
// interprets, and the next call attempts compilation again.
func (Engine) Execute(inst *instance.Instance, ctx *execctx.Context, funcIdx uint32, args []api.Value) ([]api.Value, error) {
	if inst.Module.IsImportedFunc(funcIdx) {
		return nil, fmt.Errorf("%w: function index %d names an import, not a callable local function", instance.ErrTrapInvalidFuncIndex, funcIdx)
	}

	if entry, ok := inst.GetJITEntry(funcIdx); ok {
		return runJITEntry(inst, ctx, funcIdx, entry, args)
	}

	body := inst.Module.LocalFuncBody(funcIdx)
	if !body.Hot {
		return interpreter.Run(inst, ctx, funcIdx, args)
	}

	entry, err := jit.TryCompile(inst, funcIdx)
	if err != nil {
		// Fallback: cache nothing, so every future call tries TryCompile
		// again and interprets on failure, matching spec §4.4's JIT-fallback
		// scenario.
		return interpreter.Run(inst, ctx, funcIdx, args)
	}
	inst.SetJITEntry(funcIdx, entry)
	return runJITEntry(inst, ctx, funcIdx, entry, args)
}

// ExecuteJITOnly implements the JIT-only variant used by conformance paths
// that want to observe compilation failure directly rather than silently
// falling back (spec §4.4's "JIT-only" entry point): it skips interpreter
// fallback entirely.
func (Engine) ExecuteJITOnly(inst *instance.Instance, ctx *execctx.Context, funcIdx uint32, args []api.Value) ([]api.Value, error) {
	if inst.Module.IsImportedFunc(funcIdx) {
		return nil, fmt.Errorf("%w: function index %d names an import, not a callable local function", instance.ErrTrapInvalidFuncIndex, funcIdx)
	}
	if entry, ok := inst.GetJITEntry(funcIdx); ok {
		return runJITEntry(inst, ctx, funcIdx, entry, args)
	}
	entry, err := jit.TryCompile(inst, funcIdx)
	if err != nil {
		return nil, err
	}
	inst.SetJITEntry(funcIdx, entry)
	return runJITEntry(inst, ctx, funcIdx, entry, args)
}

// runJITEntry opens a register window sized for the function, seeds its
// argument registers, invokes the compiled native code through entry's
// Compiled trampoline, and reads back results from v_regs[0] (spec §4.4
// step 2), the same register-window protocol the interpreter tier uses.
func runJITEntry(inst *instance.Instance, ctx *execctx.Context, funcIdx uint32, entry *instance.JITEntry, args []api.Value) ([]api.Value, error) {
	body := inst.Module.LocalFuncBody(funcIdx)
	window := execctx.WindowSize(int(body.NumVirtualRegs))
	fp := ctx.PushFrame(0, funcIdx, 0, window, false)
	for i, a := range args {
		if i >= int(body.NumVirtualRegs) {
			break
		}
		ctx.WriteRegister(i, a)
	}

	err := entry.Compiled(inst, ctx.Stack[fp:fp+window])
	var result api.Value
	if err == nil {
		result = ctx.ReadRegister(0)
	}
	ctx.PopFrame()
	if err != nil {
		return nil, err
	}
	return []api.Value{result}, nil
}
