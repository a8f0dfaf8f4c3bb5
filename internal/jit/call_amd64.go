//go:build amd64

package jit

import "unsafe"

// nativecall jumps into the machine code at addr, passing regs' backing
// array pointer in DI per this package's fixed convention, and returns the
// trap code left in AX (see call_amd64.s).
//
//go:noescape
func nativecall(addr uintptr, regs []byte) int32

func firstBytePointer(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}
