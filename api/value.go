// Package api defines the value model shared by every layer of ESPB: the
// binary parser, the instantiator, the interpreter, the JIT tier and the
// host FFI layer all exchange values using the types in this package.
package api

import (
	"fmt"
	"math"
)

// ValueType tags a scalar value carried on the virtual register file, in
// module signatures, and across the FFI boundary. It is a type alias (not a
// defined type) so the raw encoded byte from the binary format can be used
// directly, the same convention the teacher runtime uses for its own
// ValueType.
type ValueType = byte

// The concrete value types a module signature, global, or register may
// carry. Values match the encoding used in the Types section (§4.1) and in
// `immeta`/`cbmeta` argument descriptors.
const (
	ValueTypeI8 ValueType = iota
	ValueTypeU8
	ValueTypeI16
	ValueTypeU16
	ValueTypeI32
	ValueTypeU32
	ValueTypeI64
	ValueTypeU64
	ValueTypeF32
	ValueTypeF64
	ValueTypePTR
	ValueTypeBOOL
	ValueTypeV128
	ValueTypeInternalFuncIdx
	ValueTypeVoid
)

// ValueTypeName returns the human-readable name of t, or "unknown" if t is
// not a recognized ValueType.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI8:
		return "i8"
	case ValueTypeU8:
		return "u8"
	case ValueTypeI16:
		return "i16"
	case ValueTypeU16:
		return "u16"
	case ValueTypeI32:
		return "i32"
	case ValueTypeU32:
		return "u32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeU64:
		return "u64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypePTR:
		return "ptr"
	case ValueTypeBOOL:
		return "bool"
	case ValueTypeV128:
		return "v128"
	case ValueTypeInternalFuncIdx:
		return "internal_func_idx"
	case ValueTypeVoid:
		return "void"
	}
	return "unknown"
}

// ValueSize returns the size in bytes of t's payload, as used for global
// offset computation (spec §4.3 step 2) and register-window sizing.
func ValueSize(t ValueType) int {
	switch t {
	case ValueTypeI8, ValueTypeU8, ValueTypeBOOL:
		return 1
	case ValueTypeI16, ValueTypeU16:
		return 2
	case ValueTypeI32, ValueTypeU32, ValueTypeF32, ValueTypePTR, ValueTypeInternalFuncIdx:
		return 4
	case ValueTypeI64, ValueTypeU64, ValueTypeF64:
		return 8
	case ValueTypeV128:
		return 16
	case ValueTypeVoid:
		return 0
	}
	return 0
}

// Value is the tagged-scalar on-stack representation described in spec §3:
// a type tag plus an 8-byte-aligned payload union wide enough for the
// largest scalar type (V128 excepted — see Hi/Lo below).
//
// Integers and pointers are stored zero- or sign-extended into Lo; floats
// are stored in their IEEE-754 bit pattern. V128 uses both Lo and Hi.
type Value struct {
	Type ValueType
	Lo   uint64
	Hi   uint64 // only meaningful when Type == ValueTypeV128
}

// String implements fmt.Stringer for debugging and trap messages.
func (v Value) String() string {
	return fmt.Sprintf("%s(%#x)", ValueTypeName(v.Type), v.Lo)
}

// I32 constructs an I32 Value.
func I32(v int32) Value { return Value{Type: ValueTypeI32, Lo: uint64(uint32(v))} }

// U32 constructs a U32 Value.
func U32(v uint32) Value { return Value{Type: ValueTypeU32, Lo: uint64(v)} }

// I64 constructs an I64 Value.
func I64(v int64) Value { return Value{Type: ValueTypeI64, Lo: uint64(v)} }

// U64 constructs a U64 Value.
func U64(v uint64) Value { return Value{Type: ValueTypeU64, Lo: v} }

// Ptr constructs a PTR Value from a linear-memory offset.
func Ptr(offset uint32) Value { return Value{Type: ValueTypePTR, Lo: uint64(offset)} }

// Bool constructs a BOOL Value.
func Bool(b bool) Value {
	if b {
		return Value{Type: ValueTypeBOOL, Lo: 1}
	}
	return Value{Type: ValueTypeBOOL, Lo: 0}
}

// AsI32 reinterprets the payload as a signed 32-bit integer regardless of
// tag, truncating if necessary. Used by arithmetic opcodes after a type
// check has already validated the tag.
func (v Value) AsI32() int32 { return int32(uint32(v.Lo)) }

// AsU32 reinterprets the payload as an unsigned 32-bit integer.
func (v Value) AsU32() uint32 { return uint32(v.Lo) }

// AsI64 reinterprets the payload as a signed 64-bit integer.
func (v Value) AsI64() int64 { return int64(v.Lo) }

// AsU64 reinterprets the payload as an unsigned 64-bit integer.
func (v Value) AsU64() uint64 { return v.Lo }

// AsBool reports whether the payload is non-zero.
func (v Value) AsBool() bool { return v.Lo != 0 }

// AsF32 reinterprets the payload's low 32 bits as an IEEE-754 single.
func (v Value) AsF32() float32 { return math.Float32frombits(uint32(v.Lo)) }

// AsF64 reinterprets the payload as an IEEE-754 double.
func (v Value) AsF64() float64 { return math.Float64frombits(v.Lo) }

// F32 constructs an F32 Value.
func F32(f float32) Value { return Value{Type: ValueTypeF32, Lo: uint64(math.Float32bits(f))} }

// F64 constructs an F64 Value.
func F64(f float64) Value { return Value{Type: ValueTypeF64, Lo: math.Float64bits(f)} }

// NativeFunc is the Go-level stand-in for a resolved host symbol or a
// synthesized callback trampoline: something callable with a packed
// argument/result Value vector. It plays the role the specification
// assigns to an actual native-ABI function pointer; the real instruction
// sequence that would invoke a C-ABI function pointer from a packed
// register file is one of the "unavoidable unsafe regions" spec §9 says to
// isolate behind a safe interface — NativeFunc is that interface boundary,
// and architecture-specific code generation for it is explicitly out of
// this repository's scope (spec §1).
type NativeFunc func(args []Value) ([]Value, error)

