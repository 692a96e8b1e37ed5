package vmm

import (
	"sync"
	"unsafe"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
)

// tableEntryCount is the number of 64-bit entries in one page table page.
const tableEntryCount = 512

// pageTable is the contents of one page table page at any of the four levels.
type pageTable [tableEntryCount]pageTableEntry

// tableStore holds the contents of every page table page, keyed by the
// physical frame that owns it. The frame allocator is pure bookkeeping over
// an index space, so table contents cannot live at their physical address;
// this store stands in for that memory.
var tableStore = struct {
	sync.Mutex
	tables map[pmm.Frame]*pageTable
}{tables: make(map[pmm.Frame]*pageTable)}

// tableForFrame returns the page table stored at the given frame.
func tableForFrame(frame pmm.Frame) (*pageTable, bool) {
	tableStore.Lock()
	defer tableStore.Unlock()
	table, ok := tableStore.tables[frame]
	return table, ok
}

// newTable allocates a frame for a fresh page table page, binds a zeroed
// table to it and returns both.
func newTable(allocFn FrameAllocator) (pmm.Frame, *pageTable, *kernel.Error) {
	frame, err := allocFn.Alloc(0)
	if err != nil {
		return pmm.InvalidFrame, nil, err
	}

	table := new(pageTable)
	mem.Memset(uintptr(unsafe.Pointer(table)), 0, mem.PageSize)

	tableStore.Lock()
	tableStore.tables[frame] = table
	tableStore.Unlock()

	return frame, table, nil
}

// dropTable removes the table bound to the given frame from the store.
func dropTable(frame pmm.Frame) {
	tableStore.Lock()
	delete(tableStore.tables, frame)
	tableStore.Unlock()
}
