package vmm

import "github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address of the first byte of this Page.
func (p Page) Address() uintptr {
	return uintptr(p) << mem.PageShift
}

// PageFromAddress returns the Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. In the latter case, the input address will be rounded down to
// the page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(virtAddr >> mem.PageShift)
}
