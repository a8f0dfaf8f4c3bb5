package interpreter

import (
	"fmt"

	"github.com/espb-vm/espb/api"
)

// FastOpKind enumerates the handful of opcodes the jit package's amd64
// fast path knows how to emit machine code for.
type FastOpKind uint8

const (
	FastOpConst FastOpKind = iota
	FastOpAdd
	FastOpSub
	FastOpMul
	FastOpReturn
)

// FastOp is one decoded fast-path instruction, already stripped of its
// encoding and ready for direct codegen.
type FastOp struct {
	Kind   FastOpKind
	Rd, Ra, Rb uint8
	Imm    uint32
}

// DecodeFastPath decodes code and returns its instructions as FastOps if,
// and only if, every instruction is i32 CONST/ADD/SUB/MUL and the body ends
// with exactly one RETURN — the subset internal/jit compiles natively. Any
// other opcode, any non-i32 operand, or control flow returns an error,
// which the jit package surfaces as ErrUnsupportedOpcode so the engine
// falls back to the interpreter.
func DecodeFastPath(code []byte) ([]FastOp, error) {
	c := newCodeCursor(code)
	var ops []FastOp
	for c.off < len(c.buf) {
		op, err := c.u8()
		if err != nil {
			return nil, err
		}
		switch Opcode(op) {
		case OpLdcConst:
			rd, err := c.u8()
			if err != nil {
				return nil, err
			}
			t, err := c.u8()
			if err != nil {
				return nil, err
			}
			if t != api.ValueTypeI32 {
				return nil, fmt.Errorf("fast path only supports i32, got type %d", t)
			}
			v, err := c.u32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, FastOp{Kind: FastOpConst, Rd: rd, Imm: v})
		case OpAdd, OpSub, OpMul:
			rd, t, ra, rb, err := c.triOperands()
			if err != nil {
				return nil, err
			}
			if t != api.ValueTypeI32 {
				return nil, fmt.Errorf("fast path only supports i32, got type %d", t)
			}
			kind := FastOpAdd
			if Opcode(op) == OpSub {
				kind = FastOpSub
			} else if Opcode(op) == OpMul {
				kind = FastOpMul
			}
			ops = append(ops, FastOp{Kind: kind, Rd: rd, Ra: ra, Rb: rb})
		case OpReturn:
			rd, err := c.u8()
			if err != nil {
				return nil, err
			}
			ops = append(ops, FastOp{Kind: FastOpReturn, Rd: rd})
			if c.off != len(c.buf) {
				return nil, fmt.Errorf("fast path requires RETURN to be the final instruction")
			}
			return ops, nil
		case OpReturnVoid, OpEnd:
			return nil, fmt.Errorf("fast path requires a value-returning RETURN, not void/END")
		default:
			return nil, fmt.Errorf("opcode %#x outside fast-path subset", op)
		}
	}
	return nil, fmt.Errorf("fast path function fell off the end without a RETURN")
}
