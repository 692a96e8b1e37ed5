package vmm

import (
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/cpu"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
)

var (
	// flushTLBEntryFn is overridable by tests.
	flushTLBEntryFn = cpu.FlushTLBEntry
)

// Map establishes a mapping between a virtual page and a physical memory
// frame in the page table hierarchy rooted at root. Calls to Map will use the
// supplied physical frame allocator to initialize missing page tables at each
// paging level.
//
// Interior entries are created Present and writable; they also pick up the
// user bit when the leaf is user-accessible so that each interior entry stays
// at least as permissive as its children. If an interior table allocation
// fails, the partially installed chain is retained: each orphaned table costs
// one frame and is picked up and reused by a later Map of the same range.
func Map(root pmm.Frame, page Page, frame pmm.Frame, flags PageTableEntryFlag, allocFn FrameAllocator) *kernel.Error {
	var err *kernel.Error

	walkErr := walk(root, page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place, flag it as present and flush its TLB entry.
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagPresent) {
				err = ErrAlreadyMapped
				return false
			}
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		// Next table does not yet exist; allocate a physical frame for
		// it and bind a cleared table before descending.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame pmm.Frame
			newTableFrame, _, err = newTable(allocFn)
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)
		}

		if flags&FlagUserAccessible != 0 && !pte.HasFlags(FlagUserAccessible) {
			pte.SetFlags(FlagUserAccessible)
		}

		return true
	})

	if walkErr != nil {
		return walkErr
	}
	return err
}

// Unmap removes a mapping previously installed via a call to Map. The leaf
// entry is cleared; empty interior tables are not torn down.
func Unmap(root pmm.Frame, page Page) *kernel.Error {
	var err *kernel.Error

	walkErr := walk(root, page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			if !pte.HasFlags(FlagPresent) {
				err = ErrInvalidMapping
				return false
			}
			*pte = 0
			flushTLBEntryFn(page.Address())
			return true
		}

		// Next table is not present; this is an invalid mapping.
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		return true
	})

	if walkErr != nil {
		return walkErr
	}
	return err
}

// Translate returns the physical address that corresponds to the supplied
// virtual address under the page table hierarchy rooted at root, or
// ErrInvalidMapping if the virtual address is not mapped.
func Translate(root pmm.Frame, virtAddr uintptr) (uintptr, *kernel.Error) {
	var (
		err  *kernel.Error
		leaf pageTableEntry
	)

	walkErr := walk(root, virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}
		if pteLevel == pageLevels-1 {
			leaf = *pte
		}
		return true
	})

	if walkErr != nil {
		return 0, walkErr
	}
	if err != nil {
		return 0, err
	}

	return leaf.Frame().Address() + (virtAddr & uintptr(mem.PageSize-1)), nil
}
