package vmm

import (
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
)

const (
	// pageLevels is the number of page table levels (PML4, PDPT, PD, PT).
	pageLevels = 4
)

// pageLevelShifts lists the virtual address bit offset of each level's table
// index, top-most level first.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

// IsCanonical returns true if bits 47..63 of the virtual address are all
// zero (user half) or all one (kernel half). Any other value is invalid and
// rejected by the MMU.
func IsCanonical(virtAddr uintptr) bool {
	upper := uint64(virtAddr) >> 47
	return upper == 0 || upper == (1<<17)-1
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the supplied root table frame. It calls the supplied walkFn with the page
// table entry that corresponds to each page table level; the entry must be
// present (or made present by walkFn) for the walk to descend further.
func walk(root pmm.Frame, virtAddr uintptr, walkFn pageTableWalker) *kernel.Error {
	if !IsCanonical(virtAddr) {
		return ErrNonCanonicalAddress
	}

	table, ok := tableForFrame(root)
	if !ok {
		return ErrInvalidMapping
	}

	for level := uint8(0); level < pageLevels; level++ {
		entryIndex := (uint64(virtAddr) >> pageLevelShifts[level]) & (tableEntryCount - 1)
		pte := &table[entryIndex]

		if !walkFn(level, pte) {
			return nil
		}

		if level == pageLevels-1 {
			break
		}

		// walkFn accepted the entry; descend into the table it points
		// to, which must exist in the store if the entry is present.
		table, ok = tableForFrame(pte.Frame())
		if !ok {
			return ErrInvalidMapping
		}
	}

	return nil
}
