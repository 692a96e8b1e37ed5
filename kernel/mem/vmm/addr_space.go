package vmm

import (
	"sort"
	"sync"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/cpu"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
)

// Flag describes the memory permissions the monolithic layer requests when
// allocating or mapping through an address space.
type Flag uint32

const (
	// FlagRead makes the range readable.
	FlagRead Flag = 1 << iota
	// FlagWrite makes the range writable.
	FlagWrite
	// FlagExec makes the range executable.
	FlagExec
	// FlagUser makes the range reachable from unprivileged code.
	FlagUser
)

const (
	// userRangeBase is the first virtual address handed out to user
	// allocations.
	userRangeBase = uintptr(0x0000000000400000)
	// userRangeEnd is the first address past the user half's usable range.
	userRangeEnd = uintptr(0x00007ffffffff000)

	// kernelRangeBase is the first virtual address handed out to kernel
	// allocations; it is sign-extended canonical-high.
	kernelRangeBase = uintptr(0xffff800000000000)
	// kernelRangeSpan is the size of the kernel allocation window.
	kernelRangeSpan = uintptr(64 * mem.Gb)

	// maxAllocBytes caps any single virtual allocation.
	maxAllocBytes = 100 * mem.Mb

	// kernelHalfSlot is the first root table slot covering the canonical
	// high half; slots from here up are shared across address spaces.
	kernelHalfSlot = tableEntryCount / 2
)

// region is a free run of virtual pages inside an address space.
type region struct {
	base  Page
	pages uint64
}

// AddressSpace owns a root page table frame plus the free virtual-range
// structure and the page-to-frame bookkeeping for every allocation made
// through it. One lock serializes all page table walks within the space;
// cross-space operations acquire neither side.
type AddressSpace struct {
	mu sync.Mutex

	root       pmm.Frame
	kernelHalf bool
	frames     FrameAllocator

	// regions is the free virtual-range list, first-fit, kept sorted by
	// base and coalesced on free.
	regions []region

	// mappings records the backing frame of every page allocated through
	// Alloc so that Free can return frames without a reverse page table
	// walk.
	mappings map[Page]pmm.Frame
}

// kernelSpace is the kernel address space; it exists for the life of the
// kernel and donates its shared upper-half root entries to every user space.
var (
	kernelSpaceMu sync.Mutex
	kernelSpace   *AddressSpace
)

// CreateKernelAddressSpace builds the kernel address space and registers it
// as the donor of the shared kernel half. It is called once at kernel
// initialization.
func CreateKernelAddressSpace(frames FrameAllocator) (*AddressSpace, *kernel.Error) {
	space, err := newAddressSpace(frames, true)
	if err != nil {
		return nil, err
	}

	// Pre-install the root slot that covers the kernel allocation window
	// so user spaces created later share it by copying the root entry.
	rootTable, _ := tableForFrame(space.root)
	slot := (uint64(kernelRangeBase) >> pageLevelShifts[0]) & (tableEntryCount - 1)
	tableFrame, _, err := newTable(frames)
	if err != nil {
		space.frames.Free(space.root, 0)
		dropTable(space.root)
		return nil, err
	}
	rootTable[slot].SetFrame(tableFrame)
	rootTable[slot].SetFlags(FlagPresent | FlagRW)

	kernelSpaceMu.Lock()
	kernelSpace = space
	kernelSpaceMu.Unlock()

	return space, nil
}

// KernelAddressSpace returns the kernel address space, or nil before
// CreateKernelAddressSpace has run.
func KernelAddressSpace() *AddressSpace {
	kernelSpaceMu.Lock()
	defer kernelSpaceMu.Unlock()
	return kernelSpace
}

// CreateAddressSpace builds a user address space whose upper half aliases
// the kernel's shared root entries.
func CreateAddressSpace(frames FrameAllocator) (*AddressSpace, *kernel.Error) {
	space, err := newAddressSpace(frames, false)
	if err != nil {
		return nil, err
	}

	donor := KernelAddressSpace()
	if donor != nil {
		srcTable, _ := tableForFrame(donor.root)
		dstTable, _ := tableForFrame(space.root)
		copy(dstTable[kernelHalfSlot:], srcTable[kernelHalfSlot:])
	}

	return space, nil
}

func newAddressSpace(frames FrameAllocator, kernelHalf bool) (*AddressSpace, *kernel.Error) {
	root, _, err := newTable(frames)
	if err != nil {
		return nil, err
	}

	space := &AddressSpace{
		root:       root,
		kernelHalf: kernelHalf,
		frames:     frames,
		mappings:   make(map[Page]pmm.Frame),
	}

	if kernelHalf {
		space.regions = []region{{
			base:  PageFromAddress(kernelRangeBase),
			pages: uint64(kernelRangeSpan) >> mem.PageShift,
		}}
	} else {
		space.regions = []region{{
			base:  PageFromAddress(userRangeBase),
			pages: uint64(userRangeEnd-userRangeBase) >> mem.PageShift,
		}}
	}

	return space, nil
}

// Root returns the physical frame of the space's top-most page table.
func (a *AddressSpace) Root() pmm.Frame {
	return a.root
}

// CanAlloc applies the allocator admission rules to the requested size
// without reserving anything.
func (a *AddressSpace) CanAlloc(size mem.Size) bool {
	return a.admit(size) == nil
}

func (a *AddressSpace) admit(size mem.Size) *kernel.Error {
	if size == 0 {
		return ErrRejected
	}
	if size > a.frames.FreeMemory() {
		return ErrRejected
	}
	if total := a.frames.TotalMemory(); size >= (total+1)/2 {
		return ErrRejected
	}
	if size > maxAllocBytes {
		return ErrRejected
	}
	return nil
}

// Alloc reserves a virtual range large enough for size bytes, backs it with
// physical frames and maps them with the requested permissions, returning
// the base virtual address. Kernel-space allocations are implicitly writable
// and never user-accessible. If any page fails to map, every page mapped
// before the failure is unmapped and freed before the error is reported.
func (a *AddressSpace) Alloc(size mem.Size, flags Flag) (uintptr, *kernel.Error) {
	if err := a.admit(size); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pageCount := uint64(size.Pages())
	base, ok := a.reserve(pageCount)
	if !ok {
		return 0, ErrNoVirtualSpace
	}

	pteFlags := a.pteFlags(flags)
	for i := uint64(0); i < pageCount; i++ {
		page := base + Page(i)

		frame, err := a.frames.Alloc(0)
		if err == nil {
			err = Map(a.root, page, frame, pteFlags, a.frames)
			if err != nil {
				a.frames.Free(frame, 0)
			}
		}

		if err != nil {
			for j := uint64(0); j < i; j++ {
				mapped := base + Page(j)
				Unmap(a.root, mapped)
				a.frames.Free(a.mappings[mapped], 0)
				delete(a.mappings, mapped)
			}
			a.release(base, pageCount)
			return 0, err
		}

		a.mappings[page] = frame
	}

	return base.Address(), nil
}

// Free unmaps the range starting at addr and returns its backing frames to
// the physical allocator. The range is released back to the free virtual
// list and coalesced with its neighbours.
func (a *AddressSpace) Free(addr uintptr, size mem.Size) *kernel.Error {
	if addr == 0 || size == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	base := PageFromAddress(addr)
	pageCount := uint64(size.Pages())

	for i := uint64(0); i < pageCount; i++ {
		page := base + Page(i)
		frame, ok := a.mappings[page]
		if !ok {
			continue
		}

		Unmap(a.root, page)
		a.frames.Free(frame, 0)
		delete(a.mappings, page)
	}

	a.release(base, pageCount)
	return nil
}

// MapPage installs a mapping from a virtual page to a caller-owned physical
// frame. The caller keeps ownership of the frame; aliasing the same frame
// into several spaces is the caller's responsibility to refcount.
func (a *AddressSpace) MapPage(page Page, frame pmm.Frame, flags Flag) *kernel.Error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Map(a.root, page, frame, a.pteFlags(flags), a.frames)
}

// UnmapPage removes a mapping previously installed with MapPage.
func (a *AddressSpace) UnmapPage(page Page) *kernel.Error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Unmap(a.root, page)
}

// Translate returns the physical address that backs the supplied virtual
// address, or ErrInvalidMapping if it is not mapped in this space.
func (a *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Translate(a.root, virtAddr)
}

// SwitchTo installs this space's root table in the CPU's page table base
// register.
func (a *AddressSpace) SwitchTo() {
	cpu.SwitchPDT(a.root.Address())
}

// Destroy releases every frame the space still owns: the backing frames of
// its allocations, its non-shared page table pages and finally the root.
// The kernel address space cannot be destroyed.
func (a *AddressSpace) Destroy() *kernel.Error {
	if a == KernelAddressSpace() {
		return ErrRejected
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for page, frame := range a.mappings {
		Unmap(a.root, page)
		a.frames.Free(frame, 0)
		delete(a.mappings, page)
	}

	a.freeTables(a.root, 0)
	return nil
}

// freeTables tears down the page table hierarchy below the given table
// frame. Shared kernel-half entries of a user root are skipped; those tables
// belong to the kernel address space.
func (a *AddressSpace) freeTables(frame pmm.Frame, level uint8) {
	table, ok := tableForFrame(frame)
	if !ok {
		return
	}

	if level < pageLevels-1 {
		for i, pte := range table {
			if !pte.HasFlags(FlagPresent) {
				continue
			}
			if level == 0 && !a.kernelHalf && i >= kernelHalfSlot {
				continue
			}
			a.freeTables(pte.Frame(), level+1)
		}
	}

	dropTable(frame)
	a.frames.Free(frame, 0)
}

// pteFlags translates the public permission flags to page table entry flags.
// Read maps to Present, Write to RW, User to the user bit and a missing Exec
// to NX. Kernel-half spaces force RW on and the user bit off.
func (a *AddressSpace) pteFlags(flags Flag) PageTableEntryFlag {
	var pteFlags PageTableEntryFlag

	if flags&FlagWrite != 0 {
		pteFlags |= FlagRW
	}
	if flags&FlagUser != 0 {
		pteFlags |= FlagUserAccessible
	}
	if flags&FlagExec == 0 {
		pteFlags |= FlagNoExecute
	}

	if a.kernelHalf {
		pteFlags |= FlagRW
		pteFlags &^= FlagUserAccessible
	}

	return pteFlags
}

// reserve carves pageCount pages out of the first region that fits them.
func (a *AddressSpace) reserve(pageCount uint64) (Page, bool) {
	for i := range a.regions {
		r := &a.regions[i]
		if r.pages < pageCount {
			continue
		}

		base := r.base
		r.base += Page(pageCount)
		r.pages -= pageCount
		if r.pages == 0 {
			a.regions = append(a.regions[:i], a.regions[i+1:]...)
		}
		return base, true
	}
	return 0, false
}

// release returns a range to the free list, keeping it sorted by base and
// merging with adjacent regions.
func (a *AddressSpace) release(base Page, pageCount uint64) {
	idx := sort.Search(len(a.regions), func(i int) bool {
		return a.regions[i].base > base
	})

	a.regions = append(a.regions, region{})
	copy(a.regions[idx+1:], a.regions[idx:])
	a.regions[idx] = region{base: base, pages: pageCount}

	// Merge with the successor, then the predecessor.
	if idx+1 < len(a.regions) && a.regions[idx].base+Page(a.regions[idx].pages) == a.regions[idx+1].base {
		a.regions[idx].pages += a.regions[idx+1].pages
		a.regions = append(a.regions[:idx+1], a.regions[idx+2:]...)
	}
	if idx > 0 && a.regions[idx-1].base+Page(a.regions[idx-1].pages) == a.regions[idx].base {
		a.regions[idx-1].pages += a.regions[idx].pages
		a.regions = append(a.regions[:idx], a.regions[idx+1:]...)
	}
}
