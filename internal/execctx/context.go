// Package execctx implements the per-call-chain Execution Context
// described in spec §3 and §4.4: a growable byte-array virtual stack
// ("shadow stack"), a stack/frame pointer pair, and a parallel call stack
// of RuntimeFrame records. Creation is cheap; multiple Contexts may coexist
// but never share mutable state, which is why this type carries no mutex
// of its own — callers (interpreter, JIT trampoline re-entry) each own one.
package execctx

import "github.com/espb-vm/espb/api"

// MaxAllocasPerFrame bounds the number of ALLOCA pointers tracked per
// frame, per spec §4.4 ("Maximum 16 ALLOCA allocations per frame").
const MaxAllocasPerFrame = 16

// RuntimeFrame is pushed onto the call stack for every CALL/CALL_IMPORT/
// CALL_INDIRECT and popped on RETURN. It is the sole source of truth for
// restoring the caller's register window.
type RuntimeFrame struct {
	// ReturnPC is the program counter to resume at in the caller's code.
	ReturnPC int
	// CallerFP is the frame pointer (byte offset into Stack) the caller
	// had when it made this call.
	CallerFP int
	// CallerFuncIdx is the caller's local function index, used for trap
	// diagnostics and for re-entrant indirect calls.
	CallerFuncIdx uint32
	// SavedRegWindow snapshots the caller's register window bytes so an
	// indirect call that needs its own independent window (from the JIT,
	// spec §4.4 "When a call needs its own independent window") can
	// restore the caller verbatim on return without the callee seeing it.
	SavedRegWindow []byte

	// Allocas holds pointers allocated via ALLOCA in this frame, freed on
	// frame exit (spec §4.4 "Frame-level invariants").
	Allocas    [MaxAllocasPerFrame]uint32
	AllocaArity int
}

// DefaultShadowStackSize and DefaultShadowStackIncrement are the
// configurable constants named in spec §6; Config lets a Runtime override
// them.
const (
	DefaultShadowStackSize      = 64 * 1024
	DefaultShadowStackIncrement = 16 * 1024
)

// Context is one Execution Context: a contiguous shadow_stack_buffer with a
// stack pointer (sp) and frame pointer (fp), plus the call stack of
// RuntimeFrame records.
type Context struct {
	Stack     []byte // shadow_stack_buffer
	SP        int    // byte offset to top of stack
	FP        int    // byte offset of current frame's register window
	Increment int

	Frames []RuntimeFrame
}

// New allocates a Context with the given initial size and growth
// increment. A zero size/increment falls back to the package defaults.
func New(initialSize, increment int) *Context {
	if initialSize <= 0 {
		initialSize = DefaultShadowStackSize
	}
	if increment <= 0 {
		increment = DefaultShadowStackIncrement
	}
	return &Context{Stack: make([]byte, initialSize), Increment: increment}
}

// EnsureCapacity grows Stack (by Increment-sized steps) until it has at
// least n bytes total, preserving existing contents.
func (c *Context) EnsureCapacity(n int) {
	if n <= len(c.Stack) {
		return
	}
	newSize := len(c.Stack)
	for newSize < n {
		newSize += c.Increment
	}
	grown := make([]byte, newSize)
	copy(grown, c.Stack)
	c.Stack = grown
}

// PushFrame opens a new register window of windowSize bytes above the
// current fp, saving the caller's fp/func-idx/return-pc into a new
// RuntimeFrame, and returns the new frame's fp. The caller's register
// window is snapshotted into SavedRegWindow only when snapshot is true
// (indirect calls needing an independent window; see spec §4.4).
func (c *Context) PushFrame(returnPC int, callerFuncIdx uint32, callerWindowSize, windowSize int, snapshot bool) (newFP int) {
	frame := RuntimeFrame{ReturnPC: returnPC, CallerFP: c.FP, CallerFuncIdx: callerFuncIdx}
	if snapshot && callerWindowSize > 0 {
		frame.SavedRegWindow = make([]byte, callerWindowSize)
		copy(frame.SavedRegWindow, c.Stack[c.FP:c.FP+callerWindowSize])
	}
	c.Frames = append(c.Frames, frame)

	newFP = c.SP
	c.EnsureCapacity(newFP + windowSize)
	for i := newFP; i < newFP+windowSize; i++ {
		c.Stack[i] = 0
	}
	c.FP = newFP
	c.SP = newFP + windowSize
	return newFP
}

// PopFrame restores the caller's fp/sp from the top RuntimeFrame (and its
// saved register window, if one was snapshotted), returning the popped
// frame so the caller can read ReturnPC/CallerFuncIdx.
func (c *Context) PopFrame() RuntimeFrame {
	n := len(c.Frames) - 1
	frame := c.Frames[n]
	c.Frames = c.Frames[:n]
	c.SP = c.FP
	c.FP = frame.CallerFP
	if frame.SavedRegWindow != nil {
		copy(c.Stack[c.FP:c.FP+len(frame.SavedRegWindow)], frame.SavedRegWindow)
	}
	return frame
}

// CurrentFrame returns a pointer to the top-of-stack RuntimeFrame, for
// ALLOCA tracking, or nil if there is no open frame.
func (c *Context) CurrentFrame() *RuntimeFrame {
	if len(c.Frames) == 0 {
		return nil
	}
	return &c.Frames[len(c.Frames)-1]
}

// TrackAlloca records ptr in the current frame's Allocas array for
// cleanup on frame exit. It returns false if the frame already holds
// MaxAllocasPerFrame pointers.
func (c *Context) TrackAlloca(ptr uint32) bool {
	f := c.CurrentFrame()
	if f == nil || f.AllocaArity >= MaxAllocasPerFrame {
		return false
	}
	f.Allocas[f.AllocaArity] = ptr
	f.AllocaArity++
	return true
}

// ReadRegister reads the Value stored at register index reg within the
// current frame's window. reg is not checked against the window size.
func (c *Context) ReadRegister(reg int) api.Value {
	off := c.FP + reg*registerStride
	return api.Value{
		Type: c.Stack[off],
		Lo:   getU64(c.Stack[off+8:]),
		Hi:   getU64(c.Stack[off+16:]),
	}
}

// WriteRegister writes v into register index reg within the current
// frame's window.
func (c *Context) WriteRegister(reg int, v api.Value) {
	off := c.FP + reg*registerStride
	c.Stack[off] = v.Type
	putU64(c.Stack[off+8:], v.Lo)
	putU64(c.Stack[off+16:], v.Hi)
}

// registerStride is the byte width of one register slot: a 1-byte type tag
// (padded to 8), plus Lo and Hi uint64 payloads — wide enough for V128
// (spec §3 "8-byte-aligned payload union large enough for the widest
// scalar").
const registerStride = 24

// WindowSize returns the byte size of a register window holding n
// registers.
func WindowSize(numRegs int) int { return numRegs * registerStride }

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
