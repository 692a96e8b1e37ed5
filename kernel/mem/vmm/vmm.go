// Package vmm implements the virtual memory manager: a four-level page table
// engine plus address space handles that allocate virtual ranges, back them
// with physical frames and install the page table mappings for them.
package vmm

import (
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrNonCanonicalAddress is returned when a virtual address is neither
	// in the low (user) nor in the high (kernel) canonical half.
	ErrNonCanonicalAddress = &kernel.Error{Module: "vmm", Message: "virtual address is not in canonical form"}

	// ErrAlreadyMapped is returned when mapping a virtual page whose leaf
	// entry is already present.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}

	// ErrRejected is returned when an allocation request fails the
	// admission checks before any frame is reserved.
	ErrRejected = &kernel.Error{Module: "vmm", Message: "allocation request rejected"}

	// ErrNoVirtualSpace is returned when no free virtual range can hold
	// the requested allocation.
	ErrNoVirtualSpace = &kernel.Error{Module: "vmm", Message: "virtual address space exhausted"}
)

// FrameAllocator is the physical allocator interface the vmm consumes for
// page table pages and for frames backing virtual allocations.
type FrameAllocator interface {
	Alloc(order mem.PageOrder) (pmm.Frame, *kernel.Error)
	Free(frame pmm.Frame, order mem.PageOrder) *kernel.Error
	TotalMemory() mem.Size
	FreeMemory() mem.Size
}
