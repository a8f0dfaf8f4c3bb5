// Package heap implements the Sandbox Heap described in spec §4.3 step 7: a
// sub-allocator over the tail of an Instance's linear memory, used by
// ALLOCA and module-level malloc-style calls. It is a classic first-fit
// free-list allocator over a fixed byte range — no syscalls, no growth
// beyond the span it was given at construction, matching "heap pointers
// must always lie within linear memory; any that escape are rejected."
package heap

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory is returned when no free block satisfies a request.
var ErrOutOfMemory = errors.New("espb/heap: out of memory")

// ErrInvalidPointer is returned by Free/Realloc when given a pointer this
// Heap did not hand out.
var ErrInvalidPointer = errors.New("espb/heap: invalid pointer")

const (
	align     = 8
	blockMeta = 8 // size field (4 bytes) + free flag/magic (4 bytes), stored before the payload
	magicUsed = 0x55534544 // "USED"
	magicFree = 0x46524545 // "FREE"
)

// block is the in-place header written immediately before each allocation's
// payload, directly in the Instance's linear memory bytes.
type block struct {
	size uint32 // payload size, not including the header
	tag  uint32
}

// Heap is a single-region sub-allocator over [base, base+size) within a
// byte slice
// that is NOT owned by Heap — it is the tail of the Instance's linear
// memory buffer (spec §4.3 step 7).
type Heap struct {
	mem  []byte // the full linear memory backing store
	base uint32 // first byte address managed by this heap
	size uint32 // number of bytes managed
}

// New registers the memory span [base, base+size) with a fresh heap. The
// entire span starts as one free block.
func New(mem []byte, base, size uint32) (*Heap, error) {
	if uint64(base)+uint64(size) > uint64(len(mem)) {
		return nil, fmt.Errorf("espb/heap: span [%d,%d) exceeds memory of size %d", base, base+size, len(mem))
	}
	if size < blockMeta {
		return nil, fmt.Errorf("espb/heap: span size %d too small for any allocation", size)
	}
	h := &Heap{mem: mem, base: base, size: size}
	h.writeBlock(base, size-blockMeta, magicFree)
	return h, nil
}

func (h *Heap) writeBlock(addr, payloadSize, tag uint32) {
	b := block{size: payloadSize, tag: tag}
	putU32(h.mem[addr:], b.size)
	putU32(h.mem[addr+4:], b.tag)
}

func (h *Heap) readBlock(addr uint32) block {
	return block{size: getU32(h.mem[addr:]), tag: getU32(h.mem[addr+4:])}
}

func alignUp(v, a uint32) uint32 { return (v + a - 1) &^ (a - 1) }

// Alloc returns the address of a zeroed payload of at least size bytes,
// aligned to align bytes, drawn from the free list via first-fit.
func (h *Heap) Alloc(size uint32) (uint32, error) {
	size = alignUp(size, align)
	addr := h.base
	end := h.base + h.size
	for addr < end {
		b := h.readBlock(addr)
		total := blockMeta + b.size
		if b.tag == magicFree && b.size >= size {
			payload := addr + blockMeta
			remaining := b.size - size
			if remaining > blockMeta+align {
				// split: shrink this block, create a new free block after it.
				h.writeBlock(addr, size, magicUsed)
				newAddr := addr + blockMeta + size
				h.writeBlock(newAddr, remaining-blockMeta, magicFree)
			} else {
				h.writeBlock(addr, b.size, magicUsed)
			}
			for i := uint32(0); i < size; i++ {
				h.mem[payload+i] = 0
			}
			return payload, nil
		}
		addr += blockMeta + b.size
		if total == 0 {
			break
		}
	}
	return 0, ErrOutOfMemory
}

// Free returns a previously allocated payload to the free list and
// coalesces with an immediately following free block, if any.
func (h *Heap) Free(payload uint32) error {
	if payload < h.base+blockMeta || payload >= h.base+h.size {
		return ErrInvalidPointer
	}
	addr := payload - blockMeta
	b := h.readBlock(addr)
	if b.tag != magicUsed {
		return ErrInvalidPointer
	}
	h.writeBlock(addr, b.size, magicFree)
	h.coalesce(addr)
	return nil
}

func (h *Heap) coalesce(addr uint32) {
	b := h.readBlock(addr)
	next := addr + blockMeta + b.size
	end := h.base + h.size
	if next < end {
		nb := h.readBlock(next)
		if nb.tag == magicFree {
			h.writeBlock(addr, b.size+blockMeta+nb.size, magicFree)
		}
	}
}

// Realloc resizes a previous allocation, preserving contents up to
// min(oldSize, newSize), per the Sandbox Heap's "realloc" contract (spec
// §2 System Overview table).
func (h *Heap) Realloc(payload, newSize uint32) (uint32, error) {
	if payload == 0 {
		return h.Alloc(newSize)
	}
	addr := payload - blockMeta
	if addr < h.base || addr >= h.base+h.size {
		return 0, ErrInvalidPointer
	}
	b := h.readBlock(addr)
	if b.tag != magicUsed {
		return 0, ErrInvalidPointer
	}
	newSizeAligned := alignUp(newSize, align)
	if newSizeAligned <= b.size {
		h.writeBlock(addr, newSizeAligned, magicUsed)
		return payload, nil
	}
	newPayload, err := h.Alloc(newSize)
	if err != nil {
		return 0, err
	}
	copy(h.mem[newPayload:newPayload+b.size], h.mem[payload:payload+b.size])
	_ = h.Free(payload)
	return newPayload, nil
}

// Contains reports whether addr lies within this heap's managed span,
// enforcing "heap pointers must always lie within linear memory" (spec
// §4.3 step 7).
func (h *Heap) Contains(addr uint32) bool {
	return addr >= h.base && addr < h.base+h.size
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
