package callback

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/execctx"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
)

type stubExecutor struct {
	fn func(funcIdx uint32, args []api.Value) ([]api.Value, error)
}

func (s *stubExecutor) Execute(inst *instance.Instance, ctx *execctx.Context, funcIdx uint32, args []api.Value) ([]api.Value, error) {
	return s.fn(funcIdx, args)
}

func newTestInstance(sig module.Signature, targetIdx uint32) *instance.Instance {
	sigs := []module.Signature{sig}
	m := &module.Module{
		Signatures:     sigs,
		FuncSignatures: []uint16{0},
		FuncBodies:     []module.FunctionBody{{NumVirtualRegs: 1, Code: []byte{0}}},
	}
	return instance.New(m)
}

func TestBuildInvokesTargetAndTruncatesResult(t *testing.T) {
	sig := module.Signature{
		Params:  []api.ValueType{api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	inst := newTestInstance(sig, 0)
	inst.Exec = &stubExecutor{fn: func(funcIdx uint32, args []api.Value) ([]api.Value, error) {
		require.Equal(t, uint32(0), funcIdx)
		return []api.Value{api.I32(args[0].AsI32() * 2)}, nil
	}}

	handle, trampoline, err := Build(inst, 5, module.CallbackEntry{CallbackParamIdx: 0, UserDataParamIdx: 0xF})
	require.NoError(t, err)
	require.NotZero(t, handle)

	res, err := trampoline([]api.Value{api.I32(21)})
	require.NoError(t, err)
	require.Equal(t, int32(42), res[0].AsI32())
}

func TestBuildCoercesZeroArityToOne(t *testing.T) {
	sig := module.Signature{} // zero params
	inst := newTestInstance(sig, 0)
	var seenArgs []api.Value
	inst.Exec = &stubExecutor{fn: func(funcIdx uint32, args []api.Value) ([]api.Value, error) {
		seenArgs = args
		return nil, nil
	}}

	_, trampoline, err := Build(inst, 0, module.CallbackEntry{CallbackParamIdx: 0, UserDataParamIdx: 0xF})
	require.NoError(t, err)
	_, err = trampoline([]api.Value{api.U32(123)})
	require.NoError(t, err)
	require.Empty(t, seenArgs) // target signature declares zero params
}

func TestBuildSubstitutesUserData(t *testing.T) {
	sig := module.Signature{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}}
	inst := newTestInstance(sig, 0)
	var seenArgs []api.Value
	inst.Exec = &stubExecutor{fn: func(funcIdx uint32, args []api.Value) ([]api.Value, error) {
		seenArgs = args
		return nil, nil
	}}

	handle, trampoline, err := Build(inst, 0, module.CallbackEntry{CallbackParamIdx: 0, UserDataParamIdx: 1})
	require.NoError(t, err)
	SetUserData(inst, handle, 777)

	_, err = trampoline([]api.Value{api.I32(1), api.I32(999)})
	require.NoError(t, err)
	require.Equal(t, uint32(777), seenArgs[1].AsU32())
}

func TestGetOrBuildReusesExistingClosure(t *testing.T) {
	sig := module.Signature{Params: []api.ValueType{api.ValueTypeI32}}
	inst := newTestInstance(sig, 0)
	inst.Exec = &stubExecutor{fn: func(funcIdx uint32, args []api.Value) ([]api.Value, error) { return nil, nil }}

	entry := module.CallbackEntry{CallbackParamIdx: 0, UserDataParamIdx: 0xF}
	h1, _, err := GetOrBuild(inst, 3, entry)
	require.NoError(t, err)
	h2, _, err := GetOrBuild(inst, 3, entry)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestBuildRejectsImportedTarget(t *testing.T) {
	m := &module.Module{ImportedFuncCount: 1, FuncBodies: []module.FunctionBody{{}}}
	inst := instance.New(m)
	_, _, err := Build(inst, 0, module.CallbackEntry{CallbackParamIdx: 0, UserDataParamIdx: 0xF})
	require.Error(t, err)
}

func TestPromoteCoercesIntegerWidth(t *testing.T) {
	v := promote(api.U32(5), api.ValueTypeI64)
	require.Equal(t, api.ValueTypeI64, v.Type)
	require.Equal(t, int64(5), v.AsI64())
}

func TestTruncateResultsMasksWidth(t *testing.T) {
	results := []api.Value{{Type: api.ValueTypeI32, Lo: 0x1FFFFFFFF}}
	out := truncateResults(results, []api.ValueType{api.ValueTypeI8})
	require.Equal(t, uint64(0xFF), out[0].Lo)
}
