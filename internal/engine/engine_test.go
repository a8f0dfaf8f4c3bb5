package engine

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/execctx"
	"github.com/espb-vm/espb/internal/heap"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/interpreter"
	"github.com/espb-vm/espb/internal/module"
)

func u32bytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func constReturnBody(v uint32, hot bool) module.FunctionBody {
	var code []byte
	code = append(code, byte(interpreter.OpLdcConst), 0, api.ValueTypeI32)
	code = append(code, u32bytes(v)...)
	code = append(code, byte(interpreter.OpReturn), 0)
	return module.FunctionBody{NumVirtualRegs: 1, Code: code, Hot: hot}
}

func newTestInstance(t *testing.T, bodies []module.FunctionBody) *instance.Instance {
	t.Helper()
	m := &module.Module{FuncBodies: bodies}
	inst := instance.New(m)
	inst.Memory = make([]byte, 128)
	h, err := heap.New(inst.Memory, 32, 96)
	require.NoError(t, err)
	inst.Heap = h
	inst.Exec = Engine{}
	return inst
}

func TestExecuteColdAlwaysInterprets(t *testing.T) {
	inst := newTestInstance(t, []module.FunctionBody{constReturnBody(7, false)})
	ctx := execctx.New(0, 0)
	res, err := Engine{}.Execute(inst, ctx, 0, nil)
	require.NoError(t, err)
	require.Equal(t, int32(7), res[0].AsI32())
	_, ok := inst.GetJITEntry(0)
	require.False(t, ok, "COLD functions must never populate the JIT cache")
}

func TestExecuteOnImportedFuncFails(t *testing.T) {
	m := &module.Module{ImportedFuncCount: 1, FuncBodies: []module.FunctionBody{constReturnBody(1, false)}}
	inst := instance.New(m)
	inst.Exec = Engine{}
	ctx := execctx.New(0, 0)
	_, err := Engine{}.Execute(inst, ctx, 0, nil)
	require.ErrorIs(t, err, instance.ErrTrapInvalidFuncIndex)
}

func TestExecuteHotCompilesAndCaches(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("JIT fast path only targets amd64")
	}
	inst := newTestInstance(t, []module.FunctionBody{constReturnBody(99, true)})
	ctx := execctx.New(0, 0)
	res, err := Engine{}.Execute(inst, ctx, 0, nil)
	require.NoError(t, err)
	require.Equal(t, int32(99), res[0].AsI32())
	_, ok := inst.GetJITEntry(0)
	require.True(t, ok, "HOT functions must populate the JIT cache on successful compilation")
}

func TestExecuteHotFallsBackOnUnsupportedOpcode(t *testing.T) {
	body := module.FunctionBody{NumVirtualRegs: 1, Code: []byte{
		byte(interpreter.OpJump), 0, 0, 0, 0,
		byte(interpreter.OpReturnVoid),
	}, Hot: true}
	inst := newTestInstance(t, []module.FunctionBody{body})
	ctx := execctx.New(0, 0)
	_, err := Engine{}.Execute(inst, ctx, 0, nil)
	require.NoError(t, err)
	_, ok := inst.GetJITEntry(0)
	require.False(t, ok, "a failed compilation must not populate the JIT cache")
}

func TestExecuteJITOnlySurfacesCompilationError(t *testing.T) {
	body := module.FunctionBody{NumVirtualRegs: 1, Code: []byte{byte(interpreter.OpNop)}, Hot: true}
	inst := newTestInstance(t, []module.FunctionBody{body})
	ctx := execctx.New(0, 0)
	_, err := Engine{}.ExecuteJITOnly(inst, ctx, 0, nil)
	require.Error(t, err)
}

func TestExecuteReusesCachedJITEntry(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("JIT fast path only targets amd64")
	}
	inst := newTestInstance(t, []module.FunctionBody{constReturnBody(5, true)})
	ctx := execctx.New(0, 0)
	_, err := Engine{}.Execute(inst, ctx, 0, nil)
	require.NoError(t, err)
	entry, _ := inst.GetJITEntry(0)

	res, err := Engine{}.Execute(inst, ctx, 0, nil)
	require.NoError(t, err)
	require.Equal(t, int32(5), res[0].AsI32())
	reentry, _ := inst.GetJITEntry(0)
	require.Same(t, entry, reentry)
}
