// Package pmm implements the kernel's physical frame allocator: a
// power-of-two buddy allocator over a statically sized frame arena.
package pmm

import (
	"math"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
)

// Frame describes a physical memory page index. The allocator never
// dereferences a Frame; it is pure bookkeeping over an index space, not a
// pointer, so buddy math (XOR on the index) never touches real memory.
type Frame uint64

// InvalidFrame is returned by allocators when they fail to reserve a frame.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is not the sentinel InvalidFrame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the frame's first byte.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// FrameFromAddress returns the Frame that contains the given physical
// address, rounding down to the containing page if addr is not page-aligned.
func FrameFromAddress(addr uintptr) Frame {
	return Frame(addr >> mem.PageShift)
}
