// Package jit implements the amd64 fast-path JIT tier of spec §4.4: an
// on-demand compiler for HOT-tagged functions, scoped deliberately small —
// straight-line i32 constant/arithmetic/return sequences only, the same
// "architecture-specific JIT code emitter" carve-out spec §1 treats as an
// external collaborator behind a safe interface. Anything outside that
// subset fails to compile, and the engine package falls back to the
// interpreter, which is exactly the tiering contract spec §4.4 describes.
//
// Code is assembled for real using golang-asm (the teacher's own JIT
// dependency) and installed into executable memory obtained from
// golang.org/x/sys/unix, then entered through a small hand-written
// trampoline (nativecall, in call_amd64.s) using a fixed calling
// convention this package alone defines: the callee receives the frame's
// register-window base pointer in DI and returns a trap code in AX (0 =
// success).
package jit

import (
	"fmt"
	"runtime"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
	"golang.org/x/sys/unix"

	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/instance"
	"github.com/espb-vm/espb/internal/interpreter"
	"github.com/espb-vm/espb/internal/module"
)

// ErrUnsupportedOpcode is returned by TryCompile when a function body
// contains anything outside the fast-path subset; the engine package
// treats this as a normal, expected fallback signal rather than a bug.
var ErrUnsupportedOpcode = fmt.Errorf("espb/jit: function uses an opcode outside the fast-path subset")

// registerStride mirrors execctx's register slot width (type tag padded to
// 8 bytes, then Lo and Hi uint64 payloads).
const registerStride = 24

// TryCompile attempts to JIT-compile local function funcIdx. On success it
// returns an instance.JITEntry ready to install in the instance's JIT
// cache; on any unsupported construct it returns ErrUnsupportedOpcode
// (wrapped) and the caller should fall back to the interpreter.
func TryCompile(inst *instance.Instance, funcIdx uint32) (*instance.JITEntry, error) {
	if runtime.GOARCH != "amd64" {
		return nil, fmt.Errorf("%w: JIT fast path only targets amd64, running on %s", ErrUnsupportedOpcode, runtime.GOARCH)
	}
	body := inst.Module.LocalFuncBody(funcIdx)
	prog, err := compileFastPath(body)
	if err != nil {
		return nil, err
	}

	mem, err := allocExec(len(prog))
	if err != nil {
		return nil, fmt.Errorf("espb/jit: allocating executable memory: %w", err)
	}
	copy(mem, prog)
	if err := Finalize(mem); err != nil {
		_ = Release(mem)
		return nil, fmt.Errorf("espb/jit: marking executable memory RX: %w", err)
	}

	entry := &instance.JITEntry{Code: mem}
	entry.Compiled = func(inst *instance.Instance, regs []byte) error {
		code := uintptr(firstBytePointer(mem))
		trap := nativecall(code, regs)
		if trap != 0 {
			return trapFromCode(trap)
		}
		return nil
	}
	return entry, nil
}

// compileFastPath assembles body's bytecode if, and only if, it is composed
// entirely of LDC_CONST/ADD/SUB/MUL (i32) and a single terminal RETURN —
// the fast path this tier supports. Anything else is rejected so the
// caller falls back to the interpreter.
func compileFastPath(body *module.FunctionBody) ([]byte, error) {
	ops, err := interpreter.DecodeFastPath(body.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedOpcode, err)
	}

	b, err := goasm.NewBuilder("amd64", 64+16*len(ops))
	if err != nil {
		return nil, fmt.Errorf("espb/jit: creating assembler: %w", err)
	}

	emit := func(as obj.As, from, to obj.Addr) {
		p := b.NewProg()
		p.As = as
		p.From = from
		p.To = to
		b.AddInstruction(p)
	}

	regAddr := func(reg uint8) obj.Addr {
		return obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_DI, Offset: int64(reg)*registerStride + 8}
	}
	tagAddr := func(reg uint8) obj.Addr {
		return obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_DI, Offset: int64(reg) * registerStride}
	}
	constAddr := func(v int64) obj.Addr {
		return obj.Addr{Type: obj.TYPE_CONST, Offset: v}
	}
	axAddr := obj.Addr{Type: obj.TYPE_REG, Reg: x86.REG_AX}

	// storeResult writes AX into register rd's Lo field and stamps its type
	// tag I32, since every fast-path value is i32 (DecodeFastPath rejected
	// anything else).
	storeResult := func(rd uint8) {
		emit(x86.AMOVL, axAddr, regAddr(rd))
		emit(x86.AMOVB, constAddr(int64(api.ValueTypeI32)), tagAddr(rd))
	}

	for _, op := range ops {
		switch op.Kind {
		case interpreter.FastOpConst:
			emit(x86.AMOVL, constAddr(int64(op.Imm)), axAddr)
			storeResult(op.Rd)
		case interpreter.FastOpAdd:
			emit(x86.AMOVL, regAddr(op.Ra), axAddr)
			emit(x86.AADDL, regAddr(op.Rb), axAddr)
			storeResult(op.Rd)
		case interpreter.FastOpSub:
			emit(x86.AMOVL, regAddr(op.Ra), axAddr)
			emit(x86.ASUBL, regAddr(op.Rb), axAddr)
			storeResult(op.Rd)
		case interpreter.FastOpMul:
			emit(x86.AMOVL, regAddr(op.Ra), axAddr)
			emit(x86.AIMULL, regAddr(op.Rb), axAddr)
			storeResult(op.Rd)
		case interpreter.FastOpReturn:
			// spec §4.4 step 2: "results are read from v_regs[0]" — move the
			// returned register into slot 0 if it isn't already there.
			if op.Rd != 0 {
				emit(x86.AMOVL, regAddr(op.Rd), axAddr)
				storeResult(0)
			}
			emit(x86.AXORL, axAddr, axAddr) // success trap code 0
			emit(obj.ARET, obj.Addr{}, obj.Addr{})
		}
	}
	return b.Assemble(), nil
}

// allocExec maps n bytes (at least 1) read-write outside Go's GC heap, as
// the teacher's JIT cache does; Finalize later switches the mapping to
// read-execute.
func allocExec(n int) ([]byte, error) {
	if n == 0 {
		n = 1
	}
	mem, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return mem, nil
}

// Finalize makes a previously RW-mapped JIT buffer executable, called once
// codegen has finished writing into it. Split from allocExec so a future
// W^X-hardened build can delay the RX transition until after verification.
func Finalize(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
}

// Release unmaps a JIT cache entry's executable memory, called from
// instance.Instance.Close's JIT-cache teardown.
func Release(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem)
}

func trapFromCode(code int32) error {
	return fmt.Errorf("espb/jit: native fast path trapped with code %d", code)
}
