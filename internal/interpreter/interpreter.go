// Package interpreter implements the typed-register interpreter tier of the
// Execution Engine (spec §4.4 "Interpreter semantics"): the fallback (and,
// for COLD functions, the only) execution path, running bytecode directly
// against a frame's register window in an execctx.Context.
package interpreter

import (
	"fmt"

	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/execctx"
	"github.com/espb-vm/espb/internal/indirect"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/module"
)

// Run interprets local function funcIdx to completion and returns its
// result, implementing spec §4.4's interpreter semantics. It is the engine
// package's interpreter tier, used for COLD functions and for HOT functions
// whose JIT compilation fails.
func Run(inst *instance.Instance, ctx *execctx.Context, funcIdx uint32, args []api.Value) ([]api.Value, error) {
	if inst.Module.IsImportedFunc(funcIdx) {
		return nil, fmt.Errorf("espb: interpreter.Run called on imported function %d", funcIdx)
	}
	body := inst.Module.LocalFuncBody(funcIdx)
	if len(body.Code) == 0 {
		return nil, fmt.Errorf("%w: function %d has a zero-size body", instance.ErrTrapZeroSizeBody, funcIdx)
	}

	window := execctx.WindowSize(int(body.NumVirtualRegs))
	callerWindow := 0
	if ctx.CurrentFrame() != nil {
		// Best-effort: the caller's window size isn't tracked explicitly: a
		// snapshot is only meaningful for indirect re-entry from the JIT, so
		// ordinary interpreter-to-interpreter calls pass snapshot=false and
		// 0 here (see CALL's use of ctx.PushFrame below).
		callerWindow = 0
	}
	fp := ctx.PushFrame(0, funcIdx, callerWindow, window, false)
	_ = fp
	for i, a := range args {
		if i >= int(body.NumVirtualRegs) {
			break
		}
		ctx.WriteRegister(i, a)
	}

	result, err := run(inst, ctx, funcIdx, body)
	frame := ctx.PopFrame()
	for i := 0; i < frame.AllocaArity; i++ {
		inst.Heap.Free(frame.Allocas[i])
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func run(inst *instance.Instance, ctx *execctx.Context, funcIdx uint32, body *module.FunctionBody) ([]api.Value, error) {
	c := newCodeCursor(body.Code)
	for {
		op, err := c.u8()
		if err != nil {
			return nil, fmt.Errorf("%w: function %d: %v", instance.ErrTrapMalformedCode, funcIdx, err)
		}
		switch Opcode(op) {
		case OpNop:
			// nothing
		case OpReturnVoid, OpEnd:
			return nil, nil
		case OpReturn:
			rd, err := c.u8()
			if err != nil {
				return nil, err
			}
			v := ctx.ReadRegister(int(rd))
			return []api.Value{v}, nil
		case OpJump:
			off, err := c.i32()
			if err != nil {
				return nil, err
			}
			if err := c.jump(off); err != nil {
				return nil, err
			}
		case OpBrIf:
			rcond, err := c.u8()
			if err != nil {
				return nil, err
			}
			off, err := c.i32()
			if err != nil {
				return nil, err
			}
			if ctx.ReadRegister(int(rcond)).AsBool() {
				if err := c.jump(off); err != nil {
					return nil, err
				}
			}
		case OpLdcConst:
			rd, err := c.u8()
			if err != nil {
				return nil, err
			}
			t, err := c.u8()
			if err != nil {
				return nil, err
			}
			v, err := c.constValue(t)
			if err != nil {
				return nil, err
			}
			ctx.WriteRegister(int(rd), v)

		case OpAdd, OpSub, OpMul, OpDiv, OpRem, OpAnd, OpOr, OpXor, OpShl, OpShr:
			if err := execBinary(ctx, c, Opcode(op)); err != nil {
				return nil, err
			}
		case OpNeg, OpNot:
			if err := execUnary(ctx, c, Opcode(op)); err != nil {
				return nil, err
			}
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			if err := execCompare(ctx, c, Opcode(op)); err != nil {
				return nil, err
			}
		case OpConvert:
			if err := execConvert(ctx, c); err != nil {
				return nil, err
			}

		case OpLoad:
			if err := execLoad(inst, ctx, c); err != nil {
				return nil, err
			}
		case OpStore:
			if err := execStore(inst, ctx, c); err != nil {
				return nil, err
			}

		case OpGetGlobal:
			rd, err := c.u8()
			if err != nil {
				return nil, err
			}
			idx, err := c.u32()
			if err != nil {
				return nil, err
			}
			ctx.WriteRegister(int(rd), inst.ReadGlobal(idx))
		case OpSetGlobal:
			idx, err := c.u32()
			if err != nil {
				return nil, err
			}
			rsrc, err := c.u8()
			if err != nil {
				return nil, err
			}
			inst.WriteGlobal(idx, ctx.ReadRegister(int(rsrc)))

		case OpCall:
			if err := execCall(inst, ctx, c); err != nil {
				return nil, err
			}
		case OpCallImport:
			if err := execCallImport(inst, ctx, c); err != nil {
				return nil, err
			}
		case OpCallIndirect:
			if err := execCallIndirect(inst, ctx, c); err != nil {
				return nil, err
			}
		case OpCallIndirectPtr:
			if err := execCallIndirectPtr(inst, ctx, c); err != nil {
				return nil, err
			}

		case OpAlloca:
			if err := execAlloca(inst, ctx, c); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("%w: function %d: unknown opcode %#x", instance.ErrTrapMalformedCode, funcIdx, op)
		}
	}
}

func execBinary(ctx *execctx.Context, c *codeCursor, op Opcode) error {
	rd, t, ra, rb, err := c.triOperands()
	if err != nil {
		return err
	}
	a := ctx.ReadRegister(int(ra))
	b := ctx.ReadRegister(int(rb))
	if a.Type != t || b.Type != t {
		return fmt.Errorf("%w: arithmetic operand type mismatch", instance.ErrTrapTypeMismatch)
	}
	v, err := applyBinary(op, t, a, b)
	if err != nil {
		return err
	}
	ctx.WriteRegister(int(rd), v)
	return nil
}

func applyBinary(op Opcode, t api.ValueType, a, b api.Value) (api.Value, error) {
	if t == api.ValueTypeF32 || t == api.ValueTypeF64 {
		return applyFloatBinary(op, t, a, b)
	}
	signed := isSigned(t)
	if signed {
		x, y := a.AsI64(), b.AsI64()
		r, err := intBinary(op, x, y)
		if err != nil {
			return api.Value{}, err
		}
		return api.Value{Type: t, Lo: maskToType(uint64(r), t)}, nil
	}
	x, y := a.AsU64(), b.AsU64()
	r, err := uintBinary(op, x, y)
	if err != nil {
		return api.Value{}, err
	}
	return api.Value{Type: t, Lo: maskToType(r, t)}, nil
}

func applyFloatBinary(op Opcode, t api.ValueType, a, b api.Value) (api.Value, error) {
	x, y := a.AsF64(), b.AsF64()
	var r float64
	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv:
		r = x / y
	default:
		return api.Value{}, fmt.Errorf("%w: unsupported float opcode", instance.ErrTrapTypeMismatch)
	}
	if t == api.ValueTypeF32 {
		return api.F32(float32(r)), nil
	}
	return api.F64(r), nil
}

func intBinary(op Opcode, x, y int64) (int64, error) {
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSub:
		return x - y, nil
	case OpMul:
		return x * y, nil
	case OpDiv:
		if y == 0 {
			return 0, instance.ErrTrapDivideByZero
		}
		return x / y, nil
	case OpRem:
		if y == 0 {
			return 0, instance.ErrTrapDivideByZero
		}
		return x % y, nil
	case OpAnd:
		return x & y, nil
	case OpOr:
		return x | y, nil
	case OpXor:
		return x ^ y, nil
	case OpShl:
		return x << uint(y&63), nil
	case OpShr:
		return x >> uint(y&63), nil
	}
	return 0, fmt.Errorf("%w: unsupported integer opcode", instance.ErrTrapTypeMismatch)
}

func uintBinary(op Opcode, x, y uint64) (uint64, error) {
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSub:
		return x - y, nil
	case OpMul:
		return x * y, nil
	case OpDiv:
		if y == 0 {
			return 0, instance.ErrTrapDivideByZero
		}
		return x / y, nil
	case OpRem:
		if y == 0 {
			return 0, instance.ErrTrapDivideByZero
		}
		return x % y, nil
	case OpAnd:
		return x & y, nil
	case OpOr:
		return x | y, nil
	case OpXor:
		return x ^ y, nil
	case OpShl:
		return x << uint(y&63), nil
	case OpShr:
		return x >> uint(y&63), nil
	}
	return 0, fmt.Errorf("%w: unsupported integer opcode", instance.ErrTrapTypeMismatch)
}

func execUnary(ctx *execctx.Context, c *codeCursor, op Opcode) error {
	rd, err := c.u8()
	if err != nil {
		return err
	}
	t, err := c.u8()
	if err != nil {
		return err
	}
	rs, err := c.u8()
	if err != nil {
		return err
	}
	v := ctx.ReadRegister(int(rs))
	if v.Type != t {
		return fmt.Errorf("%w: unary operand type mismatch", instance.ErrTrapTypeMismatch)
	}
	switch op {
	case OpNeg:
		if t == api.ValueTypeF32 {
			ctx.WriteRegister(int(rd), api.F32(-v.AsF32()))
		} else if t == api.ValueTypeF64 {
			ctx.WriteRegister(int(rd), api.F64(-v.AsF64()))
		} else {
			ctx.WriteRegister(int(rd), api.Value{Type: t, Lo: maskToType(uint64(-v.AsI64()), t)})
		}
	case OpNot:
		ctx.WriteRegister(int(rd), api.Value{Type: t, Lo: maskToType(^v.AsU64(), t)})
	}
	return nil
}

func execCompare(ctx *execctx.Context, c *codeCursor, op Opcode) error {
	rd, t, ra, rb, err := c.triOperands()
	if err != nil {
		return err
	}
	a := ctx.ReadRegister(int(ra))
	b := ctx.ReadRegister(int(rb))
	if a.Type != t || b.Type != t {
		return fmt.Errorf("%w: comparison operand type mismatch", instance.ErrTrapTypeMismatch)
	}
	var result bool
	switch {
	case t == api.ValueTypeF32 || t == api.ValueTypeF64:
		x, y := a.AsF64(), b.AsF64()
		result = floatCompare(op, x, y)
	case isSigned(t):
		result = intCompare(op, a.AsI64(), b.AsI64())
	default:
		result = uintCompare(op, a.AsU64(), b.AsU64())
	}
	ctx.WriteRegister(int(rd), api.Bool(result))
	return nil
}

func floatCompare(op Opcode, x, y float64) bool {
	switch op {
	case OpEq:
		return x == y
	case OpNe:
		return x != y
	case OpLt:
		return x < y
	case OpLe:
		return x <= y
	case OpGt:
		return x > y
	case OpGe:
		return x >= y
	}
	return false
}

func intCompare(op Opcode, x, y int64) bool {
	switch op {
	case OpEq:
		return x == y
	case OpNe:
		return x != y
	case OpLt:
		return x < y
	case OpLe:
		return x <= y
	case OpGt:
		return x > y
	case OpGe:
		return x >= y
	}
	return false
}

func uintCompare(op Opcode, x, y uint64) bool {
	switch op {
	case OpEq:
		return x == y
	case OpNe:
		return x != y
	case OpLt:
		return x < y
	case OpLe:
		return x <= y
	case OpGt:
		return x > y
	case OpGe:
		return x >= y
	}
	return false
}

func execConvert(ctx *execctx.Context, c *codeCursor) error {
	rd, err := c.u8()
	if err != nil {
		return err
	}
	dstType, err := c.u8()
	if err != nil {
		return err
	}
	rs, err := c.u8()
	if err != nil {
		return err
	}
	srcType, err := c.u8()
	if err != nil {
		return err
	}
	v := ctx.ReadRegister(int(rs))
	if v.Type != srcType {
		return fmt.Errorf("%w: conversion source type mismatch", instance.ErrTrapTypeMismatch)
	}
	ctx.WriteRegister(int(rd), convertValue(v, dstType))
	return nil
}

func convertValue(v api.Value, dst api.ValueType) api.Value {
	switch dst {
	case api.ValueTypeF32:
		if v.Type == api.ValueTypeF64 {
			return api.F32(float32(v.AsF64()))
		}
		if isSigned(v.Type) {
			return api.F32(float32(v.AsI64()))
		}
		return api.F32(float32(v.AsU64()))
	case api.ValueTypeF64:
		if v.Type == api.ValueTypeF32 {
			return api.F64(float64(v.AsF32()))
		}
		if isSigned(v.Type) {
			return api.F64(float64(v.AsI64()))
		}
		return api.F64(float64(v.AsU64()))
	default:
		var raw uint64
		if v.Type == api.ValueTypeF32 {
			raw = uint64(int64(v.AsF32()))
		} else if v.Type == api.ValueTypeF64 {
			raw = uint64(int64(v.AsF64()))
		} else {
			raw = v.AsU64()
		}
		return api.Value{Type: dst, Lo: maskToType(raw, dst)}
	}
}

func execLoad(inst *instance.Instance, ctx *execctx.Context, c *codeCursor) error {
	rd, err := c.u8()
	if err != nil {
		return err
	}
	t, err := c.u8()
	if err != nil {
		return err
	}
	raddr, err := c.u8()
	if err != nil {
		return err
	}
	offset, err := c.u32()
	if err != nil {
		return err
	}
	addr := ctx.ReadRegister(int(raddr)).AsU32() + offset
	n := api.ValueSize(t)
	if uint64(addr)+uint64(n) > uint64(len(inst.Memory)) {
		return fmt.Errorf("%w: load at %#x size %d exceeds memory size %d", instance.ErrTrapOutOfBoundsMemory, addr, n, len(inst.Memory))
	}
	var lo uint64
	for i := 0; i < n; i++ {
		lo |= uint64(inst.Memory[int(addr)+i]) << (8 * i)
	}
	ctx.WriteRegister(int(rd), api.Value{Type: t, Lo: lo})
	return nil
}

func execStore(inst *instance.Instance, ctx *execctx.Context, c *codeCursor) error {
	rsrc, err := c.u8()
	if err != nil {
		return err
	}
	t, err := c.u8()
	if err != nil {
		return err
	}
	raddr, err := c.u8()
	if err != nil {
		return err
	}
	offset, err := c.u32()
	if err != nil {
		return err
	}
	addr := ctx.ReadRegister(int(raddr)).AsU32() + offset
	n := api.ValueSize(t)
	if uint64(addr)+uint64(n) > uint64(len(inst.Memory)) {
		return fmt.Errorf("%w: store at %#x size %d exceeds memory size %d", instance.ErrTrapOutOfBoundsMemory, addr, n, len(inst.Memory))
	}
	v := ctx.ReadRegister(int(rsrc))
	for i := 0; i < n; i++ {
		inst.Memory[int(addr)+i] = byte(v.Lo >> (8 * i))
	}
	return nil
}

func execCall(inst *instance.Instance, ctx *execctx.Context, c *codeCursor) error {
	rd, err := c.u8()
	if err != nil {
		return err
	}
	funcIdx, err := c.u32()
	if err != nil {
		return err
	}
	args, err := c.readArgs(ctx)
	if err != nil {
		return err
	}
	results, err := inst.Exec.Execute(inst, ctx, funcIdx, args)
	if err != nil {
		return err
	}
	if rd != NoDest && len(results) > 0 {
		ctx.WriteRegister(int(rd), results[0])
	}
	return nil
}

func execCallImport(inst *instance.Instance, ctx *execctx.Context, c *codeCursor) error {
	rd, err := c.u8()
	if err != nil {
		return err
	}
	importIdx, err := c.u32()
	if err != nil {
		return err
	}
	args, err := c.readArgs(ctx)
	if err != nil {
		return err
	}
	results, err := inst.Native.CallImport(inst, ctx, importIdx, args)
	if err != nil {
		return err
	}
	if rd != NoDest && len(results) > 0 {
		ctx.WriteRegister(int(rd), results[0])
	}
	return nil
}

// execCallIndirect implements CALL_INDIRECT (spec §4.4): rtable names a
// register holding a table index, resolved against inst.Table to obtain the
// callee's global function index.
func execCallIndirect(inst *instance.Instance, ctx *execctx.Context, c *codeCursor) error {
	rd, err := c.u8()
	if err != nil {
		return err
	}
	rtable, err := c.u8()
	if err != nil {
		return err
	}
	sigIdx, err := c.u16()
	if err != nil {
		return err
	}
	args, err := c.readArgs(ctx)
	if err != nil {
		return err
	}
	idx := ctx.ReadRegister(int(rtable)).AsU32()
	funcIdx, err := indirect.ClassifyTable(inst, idx, sigIdx)
	if err != nil {
		return err
	}
	results, err := inst.Exec.Execute(inst, ctx, funcIdx, args)
	if err != nil {
		return err
	}
	if rd != NoDest && len(results) > 0 {
		ctx.WriteRegister(int(rd), results[0])
	}
	return nil
}

// execCallIndirectPtr implements CALL_INDIRECT_PTR (spec §4.4): rtarget
// names a register holding a raw value classified by indirect.Classify as a
// local function, a function-pointer-map entry, or a native pointer.
func execCallIndirectPtr(inst *instance.Instance, ctx *execctx.Context, c *codeCursor) error {
	rd, err := c.u8()
	if err != nil {
		return err
	}
	rtarget, err := c.u8()
	if err != nil {
		return err
	}
	sigIdx, err := c.u16()
	if err != nil {
		return err
	}
	args, err := c.readArgs(ctx)
	if err != nil {
		return err
	}
	target := ctx.ReadRegister(int(rtarget)).AsU32()
	cls, err := indirect.Classify(inst, target, sigIdx)
	if err != nil {
		return err
	}
	var results []api.Value
	switch cls.Kind {
	case indirect.KindLocalFunc, indirect.KindFuncPtrMap:
		results, err = inst.Exec.Execute(inst, ctx, cls.LocalFuncIdx, args)
	case indirect.KindNativePtr:
		sig := inst.Module.Signatures[sigIdx]
		results, err = inst.Native.CallNativePtr(inst, ctx, cls.NativePtr, sig, args)
	}
	if err != nil {
		return err
	}
	if rd != NoDest && len(results) > 0 {
		ctx.WriteRegister(int(rd), results[0])
	}
	return nil
}

func execAlloca(inst *instance.Instance, ctx *execctx.Context, c *codeCursor) error {
	rd, err := c.u8()
	if err != nil {
		return err
	}
	rsize, err := c.u8()
	if err != nil {
		return err
	}
	size := ctx.ReadRegister(int(rsize)).AsU32()
	ptr, err := inst.Heap.Alloc(size)
	if err != nil {
		return fmt.Errorf("%w: %v", instance.ErrTrapAllocaFailed, err)
	}
	if !ctx.TrackAlloca(ptr) {
		inst.Heap.Free(ptr)
		return instance.ErrTrapTooManyAllocas
	}
	ctx.WriteRegister(int(rd), api.Ptr(ptr))
	return nil
}

func isSigned(t api.ValueType) bool {
	switch t {
	case api.ValueTypeI8, api.ValueTypeI16, api.ValueTypeI32, api.ValueTypeI64:
		return true
	}
	return false
}

func maskToType(v uint64, t api.ValueType) uint64 {
	switch api.ValueSize(t) {
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
