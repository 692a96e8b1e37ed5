package vmm

import (
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
)

// PageTableEntryFlag describes a flag that can be applied to a page table
// entry.
type PageTableEntryFlag uint64

const (
	// FlagPresent marks the entry as installed; clear entries fault.
	FlagPresent PageTableEntryFlag = 1 << 0

	// FlagRW makes the page writable.
	FlagRW PageTableEntryFlag = 1 << 1

	// FlagUserAccessible makes the page reachable from unprivileged code.
	FlagUserAccessible PageTableEntryFlag = 1 << 2

	// FlagHugePage marks the entry as a large page mapping.
	FlagHugePage PageTableEntryFlag = 1 << 7

	// FlagNoExecute forbids instruction fetches from the page.
	FlagNoExecute PageTableEntryFlag = 1 << 63

	// ptePhysPageMask selects bits 12..51: the page-aligned frame address
	// within a 52-bit physical address.
	ptePhysPageMask uint64 = 0x000ffffffffff000
)

// pageTableEntry describes a 64-bit page table entry. Entries encode a
// physical frame address and a set of flags; the same encoding is used at
// all four paging levels.
type pageTableEntry uint64

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// SetFlags sets the input list of flags on the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uint64(*pte) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uint64(*pte) &^ uint64(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.Frame((uint64(pte) & ptePhysPageMask) >> mem.PageShift)
}

// SetFrame updates the page table entry to point to the given physical frame.
func (pte *pageTableEntry) SetFrame(frame pmm.Frame) {
	*pte = pageTableEntry((uint64(*pte) &^ ptePhysPageMask) | uint64(frame.Address()))
}
