package interpreter

// Opcode is the interpreter's bytecode tag. The binary Code section grammar
// (spec §4.1) borrows bytes verbatim and leaves instruction encoding to the
// engine; this port defines a flat one-byte-opcode, byte-register encoding
// sized for the "resource-constrained 32-bit microcontroller" target spec §1
// describes, documented as an Open Question resolution in DESIGN.md.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpReturn
	OpReturnVoid
	OpJump
	OpBrIf
	OpEnd

	OpLdcConst // rd(u8) type(u8) imm(sized by type)

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpNeg
	OpNot

	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	OpConvert // rd(u8) dstType(u8) rs(u8) srcType(u8)

	OpLoad  // rd(u8) type(u8) raddr(u8) offset(u32)
	OpStore // rsrc(u8) type(u8) raddr(u8) offset(u32)

	OpGetGlobal // rd(u8) idx(u32)
	OpSetGlobal // idx(u32) rsrc(u8)

	OpCall       // rd(u8, 0xFF=void) funcIdx(u32) argc(u8) args(u8...)
	OpCallImport // rd(u8) importIdx(u32) argc(u8) args(u8...)

	// OpCallIndirect is spec §4.4's table-indexed CALL_INDIRECT: rtable
	// holds a register carrying the table index, resolved against
	// inst.Table (populated at instantiation time from the Tables/Elements
	// sections) to obtain the target's global function index, which is then
	// signature-checked against sigIdx before the call.
	OpCallIndirect // rd(u8) rtable(u8) sigIdx(u16) argc(u8) args(u8...)

	// OpCallIndirectPtr is spec §4.4's CALL_INDIRECT_PTR: rtarget holds a
	// register carrying a raw value classified by the indirect package
	// (local function index, function-pointer-map offset, or native
	// pointer) rather than a table index.
	OpCallIndirectPtr // rd(u8) rtarget(u8) sigIdx(u16) argc(u8) args(u8...)

	OpAlloca // rd(u8) rsize(u8)
)

// NoDest marks the absence of a destination register on OpCall/OpCallImport.
const NoDest uint8 = 0xFF
