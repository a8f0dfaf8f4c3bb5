package jit

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/interpreter"
	"github.com/espb-vm/espb/internal/module"
)

func u32bytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func newRegWindow(n int) []byte {
	return make([]byte, n*registerStride)
}

func readRegI32(regs []byte, reg int) int32 {
	off := reg * registerStride
	lo := uint32(regs[off+8]) | uint32(regs[off+9])<<8 | uint32(regs[off+10])<<16 | uint32(regs[off+11])<<24
	return int32(lo)
}

func TestTryCompileRejectsOpcodeOutsideFastPath(t *testing.T) {
	m := &module.Module{FuncBodies: []module.FunctionBody{
		{NumVirtualRegs: 1, Code: []byte{byte(interpreter.OpNop)}},
	}}
	inst := instance.New(m)
	_, err := TryCompile(inst, 0)
	require.ErrorIs(t, err, ErrUnsupportedOpcode)
}

func TestTryCompileAndRunConstantReturn(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("fast-path JIT only targets amd64")
	}
	var code []byte
	code = append(code, byte(interpreter.OpLdcConst), 0, api.ValueTypeI32)
	code = append(code, u32bytes(42)...)
	code = append(code, byte(interpreter.OpReturn), 0)

	m := &module.Module{FuncBodies: []module.FunctionBody{{NumVirtualRegs: 1, Code: code, Hot: true}}}
	inst := instance.New(m)
	entry, err := TryCompile(inst, 0)
	require.NoError(t, err)
	require.NotNil(t, entry.Compiled)

	regs := newRegWindow(1)
	err = entry.Compiled(inst, regs)
	require.NoError(t, err)
	require.Equal(t, int32(42), readRegI32(regs, 0))
}

func TestTryCompileAndRunArithmetic(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("fast-path JIT only targets amd64")
	}
	var code []byte
	code = append(code, byte(interpreter.OpLdcConst), 0, api.ValueTypeI32)
	code = append(code, u32bytes(6)...)
	code = append(code, byte(interpreter.OpLdcConst), 1, api.ValueTypeI32)
	code = append(code, u32bytes(7)...)
	code = append(code, byte(interpreter.OpMul), 2, api.ValueTypeI32, 0, 1)
	code = append(code, byte(interpreter.OpReturn), 2)

	m := &module.Module{FuncBodies: []module.FunctionBody{{NumVirtualRegs: 3, Code: code, Hot: true}}}
	inst := instance.New(m)
	entry, err := TryCompile(inst, 0)
	require.NoError(t, err)

	regs := newRegWindow(3)
	require.NoError(t, entry.Compiled(inst, regs))
	require.Equal(t, int32(42), readRegI32(regs, 0))
}

func TestAllocExecFinalizeRelease(t *testing.T) {
	mem, err := allocExec(64)
	require.NoError(t, err)
	require.NoError(t, Finalize(mem))
	require.NoError(t, Release(mem))
}

func TestAllocExecZeroLength(t *testing.T) {
	mem, err := allocExec(0)
	require.NoError(t, err)
	require.NoError(t, Finalize(mem))
	require.NoError(t, Release(mem))
}
