package instance

import "errors"

// Runtime-trap sentinels (spec §7 "Runtime traps"). These live in the
// instance package, the common dependency of interpreter/jit/ffi/callback,
// so every execution-tier package can produce them without importing the
// root espb package (which itself depends on those tiers via engine). The
// root package's exported Err* trap variables alias these same values.
var (
	ErrTrapOutOfBoundsMemory = errors.New("espb: out of bounds memory access")
	ErrTrapTypeMismatch      = errors.New("espb: type mismatch")
	ErrTrapDivideByZero      = errors.New("espb: division by zero")
	ErrTrapZeroSizeBody      = errors.New("espb: zero-size function body")
	ErrTrapMalformedCode     = errors.New("espb: malformed bytecode")
	ErrTrapAllocaFailed      = errors.New("espb: alloca allocation failed")
	ErrTrapTooManyAllocas    = errors.New("espb: frame exceeded max alloca count")
	ErrTrapInvalidFuncIndex  = errors.New("espb: invalid function index")
	ErrTrapUnresolvedImport  = errors.New("espb: unresolved import")
)
