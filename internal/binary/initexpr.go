package binary

import "fmt"

// Initializer-expression opcodes (spec §4.2).
const (
	opConstI32   = 0x01
	opGetGlobal  = 0x02
	opLdcI32Imm  = 0x18
	opEnd        = 0x0F
)

// GlobalReader resolves the i32 value of a module-defined global by index,
// used by initializer expressions that reference globals (opGetGlobal).
// Imported globals of non-i32 shape are unsupported, per spec §4.2.
type GlobalReader = globalReader

type globalReader func(idx uint32) (uint32, error)

// EvalInitExpr is the exported entry point the Instantiator (§4.3) uses to
// evaluate a data or element segment's offset expression, once globals
// exist to resolve opGetGlobal against. A global's DATA_OFFSET initializer
// is a literal offset and is not evaluated through here.
func EvalInitExpr(expr []byte, globals GlobalReader) (uint32, error) {
	return evalInitExpr(expr, globals)
}

// evalInitExpr runs the tiny stack machine described in spec §4.2 over a
// borrowed initializer-expression byte slice and returns the single
// resulting u32. After execution the evaluation stack must contain exactly
// one value; any other outcome is a format error.
func evalInitExpr(expr []byte, globals globalReader) (uint32, error) {
	c := newCursor(expr)
	var stack []uint32
	for {
		if c.remaining() == 0 {
			break
		}
		op, err := c.u8()
		if err != nil {
			return 0, err
		}
		switch op {
		case opConstI32:
			v, err := c.u32()
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
			// optional END immediately follows per spec grammar.
			if c.remaining() > 0 {
				if b := c.buf[c.off]; b == opEnd {
					c.off++
				}
			}
		case opGetGlobal:
			idx, err := c.u32()
			if err != nil {
				return 0, err
			}
			if globals == nil {
				return 0, &FormatError{Err: ErrInvalidInitExpr, Offset: c.off}
			}
			v, err := globals(idx)
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		case opLdcI32Imm:
			if _, err := c.u8(); err != nil { // rd, unused by the offset evaluator
				return 0, err
			}
			v, err := c.u32()
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
			if c.remaining() > 0 && c.buf[c.off] == opEnd {
				c.off++
			}
		case opEnd:
			// explicit END with nothing pushed this round; continue loop to
			// let remaining()==0 terminate it.
		default:
			return 0, &FormatError{Err: fmt.Errorf("%w: opcode %#x", ErrInvalidInitExpr, op), Offset: c.off}
		}
	}
	if len(stack) != 1 {
		return 0, &FormatError{Err: fmt.Errorf("%w: expression left %d values on stack", ErrInvalidInitExpr, len(stack)), Offset: c.off}
	}
	return stack[0], nil
}
