package ffi

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/execctx"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
)

type stubExecutor struct{}

func (stubExecutor) Execute(inst *instance.Instance, ctx *execctx.Context, funcIdx uint32, args []api.Value) ([]api.Value, error) {
	return []api.Value{api.I32(1)}, nil
}

func newTestInstance(m *module.Module) *instance.Instance {
	inst := instance.New(m)
	inst.Memory = make([]byte, 256)
	inst.Exec = stubExecutor{}
	return inst
}

func TestCallImportInvokesResolvedFunc(t *testing.T) {
	m := &module.Module{ImportedFuncCount: 1}
	inst := newTestInstance(m)
	called := false
	inst.ResolvedImportFuncs[0] = func(args []api.Value) ([]api.Value, error) {
		called = true
		return []api.Value{api.I32(7)}, nil
	}
	ctx := execctx.New(0, 0)
	res, err := Caller{}.CallImport(inst, ctx, 0, nil)
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, int32(7), res[0].AsI32())
}

func TestCallImportOutOfRangeFails(t *testing.T) {
	m := &module.Module{ImportedFuncCount: 1}
	inst := newTestInstance(m)
	inst.ResolvedImportFuncs[0] = func(args []api.Value) ([]api.Value, error) { return nil, nil }
	ctx := execctx.New(0, 0)
	_, err := Caller{}.CallImport(inst, ctx, 5, nil)
	require.ErrorIs(t, err, instance.ErrTrapInvalidFuncIndex)
}

func TestCallImportUnresolvedFails(t *testing.T) {
	m := &module.Module{ImportedFuncCount: 1}
	inst := newTestInstance(m)
	ctx := execctx.New(0, 0)
	_, err := Caller{}.CallImport(inst, ctx, 0, nil)
	require.ErrorIs(t, err, instance.ErrTrapUnresolvedImport)
}

func TestCallImportTranslatesTaggedPointerArg(t *testing.T) {
	m := &module.Module{ImportedFuncCount: 1}
	inst := newTestInstance(m)
	var seen api.Value
	inst.ResolvedImportFuncs[0] = func(args []api.Value) ([]api.Value, error) {
		seen = args[0]
		return nil, nil
	}
	ctx := execctx.New(0, 0)
	_, err := Caller{}.CallImport(inst, ctx, 0, []api.Value{{Type: api.ValueTypePTR, Lo: uint64(0x80000010)}})
	require.NoError(t, err)
	require.Equal(t, uint32(0x10), seen.AsU32())
}

func TestCallImportSubstitutesCallback(t *testing.T) {
	m := &module.Module{
		ImportedFuncCount: 1,
		Signatures:        []module.Signature{{}},
		FuncSignatures:    []uint16{0},
		FuncBodies:        []module.FunctionBody{{NumVirtualRegs: 1, Code: []byte{0}}},
		ImportCallbacks: []module.ImportCallbacks{
			{ImportIndex: 0, Callbacks: []module.CallbackEntry{{CallbackParamIdx: 0, UserDataParamIdx: 0xF, ModuleFuncIdx: 0}}},
		},
	}
	inst := newTestInstance(m)
	var seen api.Value
	inst.ResolvedImportFuncs[0] = func(args []api.Value) ([]api.Value, error) {
		seen = args[0]
		return nil, nil
	}
	ctx := execctx.New(0, 0)
	_, err := Caller{}.CallImport(inst, ctx, 0, []api.Value{api.U32(0)})
	require.NoError(t, err)
	require.Equal(t, api.ValueTypeInternalFuncIdx, seen.Type)
	fn, ok := inst.NativeFuncPtrs[uint32(seen.Lo)]
	require.True(t, ok)
	require.NotNil(t, fn)
}

// capturingExecutor records the args passed to its most recent Execute
// call, letting a test observe what a callback trampoline actually handed
// to the target function.
type capturingExecutor struct {
	lastArgs []api.Value
}

func (c *capturingExecutor) Execute(inst *instance.Instance, ctx *execctx.Context, funcIdx uint32, args []api.Value) ([]api.Value, error) {
	c.lastArgs = args
	return []api.Value{api.I32(0)}, nil
}

func TestCallImportSubstitutesCallbackUserData(t *testing.T) {
	m := &module.Module{
		ImportedFuncCount: 1,
		Signatures: []module.Signature{
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
		},
		FuncSignatures: []uint16{0},
		FuncBodies:     []module.FunctionBody{{NumVirtualRegs: 1, Code: []byte{0}}},
		ImportCallbacks: []module.ImportCallbacks{
			{ImportIndex: 0, Callbacks: []module.CallbackEntry{{CallbackParamIdx: 0, UserDataParamIdx: 1, ModuleFuncIdx: 0}}},
		},
	}
	inst := newTestInstance(m)
	exec := &capturingExecutor{}
	inst.Exec = exec
	inst.ResolvedImportFuncs[0] = func(args []api.Value) ([]api.Value, error) { return nil, nil }

	ctx := execctx.New(0, 0)
	_, err := Caller{}.CallImport(inst, ctx, 0, []api.Value{api.U32(0), api.U32(0xDEADBEEF)})
	require.NoError(t, err)

	handle := inst.CallbackClosures()[0].Handle
	trampoline := inst.NativeFuncPtrs[handle]
	require.NotNil(t, trampoline)

	// Invoke the trampoline as the host would, passing an unrelated value
	// at the user-data slot: the stored original_user_data must win.
	_, err = trampoline([]api.Value{api.U32(0), api.U32(0)})
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), exec.lastArgs[1].AsU32())

	// A second call with a freshly-passed user-data value re-captures it,
	// since CallImport is invoked anew on every set_timer-style call site.
	_, err = Caller{}.CallImport(inst, ctx, 0, []api.Value{api.U32(0), api.U32(0x1234)})
	require.NoError(t, err)
	_, err = trampoline([]api.Value{api.U32(0), api.U32(0)})
	require.NoError(t, err)
	require.Equal(t, uint32(0x1234), exec.lastArgs[1].AsU32())
}

func TestCallImportMarshalBoundsRejectsOutOfRange(t *testing.T) {
	m := &module.Module{
		ImportedFuncCount: 1,
		ImportMarshals: []module.ImportMarshal{
			{ImportIndex: 0, Args: []module.MarshalArg{
				{ArgIndex: 0, Direction: module.MarshalIn, SizeKind: module.SizeConst, SizeValue: 16},
			}},
		},
	}
	inst := newTestInstance(m)
	inst.ResolvedImportFuncs[0] = func(args []api.Value) ([]api.Value, error) { return nil, nil }
	ctx := execctx.New(0, 0)
	_, err := Caller{}.CallImport(inst, ctx, 0, []api.Value{api.U32(250)})
	require.ErrorIs(t, err, instance.ErrTrapOutOfBoundsMemory)
}

func TestCallImportMarshalBoundsAllowsInRange(t *testing.T) {
	m := &module.Module{
		ImportedFuncCount: 1,
		ImportMarshals: []module.ImportMarshal{
			{ImportIndex: 0, Args: []module.MarshalArg{
				{ArgIndex: 0, Direction: module.MarshalIn, SizeKind: module.SizeConst, SizeValue: 16},
			}},
		},
	}
	inst := newTestInstance(m)
	called := false
	inst.ResolvedImportFuncs[0] = func(args []api.Value) ([]api.Value, error) { called = true; return nil, nil }
	ctx := execctx.New(0, 0)
	_, err := Caller{}.CallImport(inst, ctx, 0, []api.Value{api.U32(16)})
	require.NoError(t, err)
	require.True(t, called)
}

func TestCallImportAsyncRegistersWrapper(t *testing.T) {
	m := &module.Module{
		ImportedFuncCount: 1,
		ImportMarshals: []module.ImportMarshal{
			{ImportIndex: 0, Args: []module.MarshalArg{
				{ArgIndex: 0, Direction: module.MarshalOut, SizeKind: module.SizeConst, SizeValue: 4, HandlerIndex: module.HandlerAsync},
			}},
		},
	}
	inst := newTestInstance(m)
	inst.ResolvedImportFuncs[0] = func(args []api.Value) ([]api.Value, error) { return nil, nil }
	ctx := execctx.New(0, 0)
	_, err := Caller{}.CallImport(inst, ctx, 0, []api.Value{api.U32(8)})
	require.NoError(t, err)
	require.Len(t, inst.AsyncWrappers(), 1)
}

func TestCallNativePtrInvokesRegisteredHandle(t *testing.T) {
	m := &module.Module{}
	inst := newTestInstance(m)
	inst.NativeFuncPtrs[0x99] = func(args []api.Value) ([]api.Value, error) {
		return []api.Value{api.I32(5)}, nil
	}
	ctx := execctx.New(0, 0)
	res, err := Caller{}.CallNativePtr(inst, ctx, 0x99, module.Signature{}, nil)
	require.NoError(t, err)
	require.Equal(t, int32(5), res[0].AsI32())
}

func TestCallNativePtrUnresolvedFails(t *testing.T) {
	m := &module.Module{}
	inst := newTestInstance(m)
	ctx := execctx.New(0, 0)
	_, err := Caller{}.CallNativePtr(inst, ctx, 0x1234, module.Signature{}, nil)
	require.ErrorIs(t, err, instance.ErrTrapInvalidFuncIndex)
}
