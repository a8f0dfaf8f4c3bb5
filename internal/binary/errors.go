package binary

import (
	"errors"
	"fmt"
)

// Sentinels specific to the decode phase. These are wrapped into the
// top-level espb.FormatError category by the caller (espb.LoadModule); the
// binary package itself stays decoupled from the public API package so it
// can be unit-tested in isolation, the same layering the teacher keeps
// between internal/wasm/binary and the top-level wazero package.
var (
	ErrTruncated        = errors.New("espb/binary: truncated buffer")
	ErrInvalidMagic     = errors.New("espb/binary: invalid magic")
	ErrUnsupportedVersion = errors.New("espb/binary: unsupported version")
	ErrInvalidSectionBody = errors.New("espb/binary: invalid section body")
	ErrInvalidInitExpr  = errors.New("espb/binary: invalid initializer expression")
	ErrIndexOutOfRange  = errors.New("espb/binary: index out of range")
)

// FormatError carries the byte offset at which decoding failed.
type FormatError struct {
	Err    error
	Offset int
}

func (e *FormatError) Error() string { return fmt.Sprintf("%v (offset %d)", e.Err, e.Offset) }
func (e *FormatError) Unwrap() error { return e.Err }
