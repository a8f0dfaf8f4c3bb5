package espb

import (
	"errors"
	"fmt"

	"github.com/espb-vm/espb/internal/instance"
)

// Sentinel errors for every category spec §7 requires an implementer to
// distinguish. The trap and FFI sentinels that alias the instance package's
// values match, via errors.Is, the errors the execution tiers return.
// LoadModule returns parse failures as the internal binary package's own
// errors, which do not match the format and link sentinels declared here,
// and wraps instantiation and start-function failures in an
// *InstantiationError. FormatError, LinkError, Trap and FFIError are not
// produced by LoadModule or by exported-function calls.
var (
	// Format errors.
	ErrInvalidMagic              = errors.New("espb: invalid magic")
	ErrUnsupportedVersion        = errors.New("espb: unsupported version")
	ErrTruncatedBuffer           = errors.New("espb: truncated buffer")
	ErrInvalidSectionTable       = errors.New("espb: invalid section table")
	ErrInvalidSectionBody        = errors.New("espb: invalid section body")
	ErrInvalidInitExpr           = errors.New("espb: invalid initializer expression")

	// Link errors.
	ErrIndexOutOfRange           = errors.New("espb: index out of range")
	ErrImportResolutionFailed    = errors.New("espb: import resolution failed")
	ErrImportTypeMismatch        = errors.New("espb: import type mismatch")

	// Instantiation errors.
	ErrMemoryAllocationFailed    = errors.New("espb: memory allocation failed")
	ErrInvalidSegmentOffset      = errors.New("espb: invalid data/element offset")
	ErrStartFunctionFailed       = errors.New("espb: start function failed")

	// Runtime traps. These alias the instance package's trap sentinels
	// (rather than redeclaring new error values) so that code in the
	// interpreter/jit/ffi/callback tiers — which cannot import this root
	// package without an import cycle — and code here that wraps those
	// traps in a Trap both satisfy the same errors.Is comparisons.
	ErrOutOfBoundsMemoryAccess   = instance.ErrTrapOutOfBoundsMemory
	ErrStackOverflow             = errors.New("espb: stack overflow")
	ErrStackUnderflow            = errors.New("espb: stack underflow")
	ErrInvalidOpcode             = errors.New("espb: invalid or unknown opcode")
	ErrInvalidOperand            = errors.New("espb: invalid operand")
	ErrInvalidRegisterIndex      = errors.New("espb: invalid register index")
	ErrDivisionByZero            = instance.ErrTrapDivideByZero
	ErrArithmeticOverflow        = errors.New("espb: arithmetic overflow")
	ErrUnalignedAccess           = errors.New("espb: unaligned access")
	ErrTypeMismatch              = instance.ErrTrapTypeMismatch
	ErrFeatureNotSupported       = errors.New("espb: feature not supported")
	ErrInvalidFuncIndex          = instance.ErrTrapInvalidFuncIndex
	ErrZeroSizeFunctionBody      = instance.ErrTrapZeroSizeBody
	ErrMalformedBytecode         = instance.ErrTrapMalformedCode
	ErrAllocaFailed              = instance.ErrTrapAllocaFailed
	ErrTooManyAllocas            = instance.ErrTrapTooManyAllocas

	// FFI errors.
	ErrUnresolvedImportAtCall    = instance.ErrTrapUnresolvedImport
	ErrMalformedVariadicBlob     = errors.New("espb: malformed variadic type blob")
	ErrCIFPreparationFailed      = errors.New("espb: cif preparation failed")
)

// FormatError wraps a parse-time sentinel with positional context.
type FormatError struct {
	Err    error
	Offset int
}

func (e *FormatError) Error() string { return fmt.Sprintf("%v (at offset %d)", e.Err, e.Offset) }
func (e *FormatError) Unwrap() error { return e.Err }

// LinkError wraps a link-time sentinel (bad index, unresolved import) with
// the entity that failed to resolve.
type LinkError struct {
	Err    error
	Detail string
}

func (e *LinkError) Error() string { return fmt.Sprintf("%v: %s", e.Err, e.Detail) }
func (e *LinkError) Unwrap() error { return e.Err }

// InstantiationError wraps an instantiation-phase sentinel.
type InstantiationError struct {
	Err   error
	Phase string
}

func (e *InstantiationError) Error() string { return fmt.Sprintf("instantiation failed during %s: %v", e.Phase, e.Err) }
func (e *InstantiationError) Unwrap() error { return e.Err }

// Trap wraps a runtime-trap sentinel with the function and PC at which it
// occurred, matching spec §7's propagation policy: traps unwind every frame
// of the current ExecutionContext and surface to the top-level caller.
type Trap struct {
	Err      error
	FuncIdx  uint32
	PC       int
}

func (e *Trap) Error() string {
	return fmt.Sprintf("trap in function %d at pc %d: %v", e.FuncIdx, e.PC, e.Err)
}
func (e *Trap) Unwrap() error { return e.Err }

// FFIError wraps an FFI-layer sentinel.
type FFIError struct {
	Err    error
	Detail string
}

func (e *FFIError) Error() string { return fmt.Sprintf("%v: %s", e.Err, e.Detail) }
func (e *FFIError) Unwrap() error { return e.Err }

// Warning holds one soft, non-fatal diagnostic message (spec §7: "Soft
// warnings ... are logged and skipped"). This port surfaces warnings to the
// caller instead of writing to a log, since the teacher's own core packages
// carry no logging dependency to mirror; LoadModule returns them as plain
// strings, not as Warning values.
type Warning struct {
	Message string
}

func (w Warning) String() string { return w.Message }
