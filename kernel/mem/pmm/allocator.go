package pmm

import (
	"log"
	"os"
	"sync"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/boot"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
)

// MaxOrder is the largest block order the allocator manages. A block of
// MaxOrder spans 2^20 frames.
const MaxOrder = mem.MaxPageOrder

// maxAllocBytes caps any single allocation regardless of how much physical
// memory is present.
const maxAllocBytes = 100 * mem.Mb

var (
	// ErrOutOfMemory is returned when no free block can satisfy an
	// allocation request.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// ErrInvalidRequest is returned when an allocation request fails the
	// admission checks before any free list is searched.
	ErrInvalidRequest = &kernel.Error{Module: "pmm", Message: "invalid allocation request"}

	// ErrNotInitialized is returned when the allocator is used before a
	// memory map has been supplied.
	ErrNotInitialized = &kernel.Error{Module: "pmm", Message: "allocator has no memory map"}
)

// freeBlock is a node in one of the per-order free lists. The allocator is
// pure bookkeeping over a frame index space; blocks are (frame, order) pairs
// and buddy math is an XOR on the frame index, never on a pointer.
type freeBlock struct {
	frame Frame
	next  *freeBlock
}

// BuddyAllocator tracks all usable physical memory and hands out contiguous,
// naturally-aligned power-of-two frame runs. One free list is kept per order;
// a single lock covers the whole free list array and the counters, held only
// across the bounded split/coalesce walks.
type BuddyAllocator struct {
	mu sync.Mutex

	freeLists [MaxOrder + 1]*freeBlock

	memoryStart Frame
	memoryEnd   Frame

	totalFrames    uint64
	freeFrames     uint64
	reservedFrames uint64

	initialized bool

	logger *log.Logger
}

// NewBuddyAllocator returns an allocator with no usable memory. Frames become
// available once SetMemoryMap consumes a boot memory map.
func NewBuddyAllocator() *BuddyAllocator {
	return &BuddyAllocator{
		logger: log.New(os.Stderr, "[pfa] ", 0),
	}
}

// SetMemoryMap consumes the boot memory map and seeds the free lists. Only
// regions marked Available contribute frames; each region is carved into the
// largest naturally-aligned power-of-two blocks that fit it.
func (a *BuddyAllocator) SetMemoryMap(entries []boot.MemoryMapEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	regionCount := 0
	for _, entry := range entries {
		if entry.Type != boot.Available {
			a.reservedFrames += entry.Length / uint64(mem.PageSize)
			continue
		}

		first := Frame((entry.Base + uint64(mem.PageSize) - 1) >> mem.PageShift)
		endFrame := entry.End() >> mem.PageShift
		if endFrame <= uint64(first) {
			continue
		}
		count := endFrame - uint64(first)

		if regionCount == 0 || first < a.memoryStart {
			a.memoryStart = first
		}
		if end := first + Frame(count); end > a.memoryEnd {
			a.memoryEnd = end
		}
		regionCount++

		a.totalFrames += count
		a.freeFrames += count
		a.seedRegion(first, count)
	}

	a.initialized = true
	a.logger.Printf("memory map set: %d regions, %d total frames", regionCount, a.totalFrames)
}

// seedRegion pushes the largest aligned blocks that cover [first, first+count).
func (a *BuddyAllocator) seedRegion(first Frame, count uint64) {
	for count > 0 {
		order := mem.PageOrder(0)
		for order < MaxOrder {
			next := order + 1
			if uint64(first)&((1<<next)-1) != 0 || (uint64(1)<<next) > count {
				break
			}
			order = next
		}

		a.push(first, order)
		first += Frame(uint64(1) << order)
		count -= uint64(1) << order
	}
}

// Alloc returns a block of exactly 2^order frames, naturally aligned on
// 2^order pages. It fails without partially allocating.
func (a *BuddyAllocator) Alloc(order mem.PageOrder) (Frame, *kernel.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return InvalidFrame, ErrNotInitialized
	}
	if err := a.admit(order); err != nil {
		return InvalidFrame, err
	}

	// Find the smallest order with a free block.
	current := order
	for current <= MaxOrder && a.freeLists[current] == nil {
		current++
	}
	if current > MaxOrder {
		a.logger.Printf("out of memory at order %d", order)
		return InvalidFrame, ErrOutOfMemory
	}

	block := a.pop(current)

	// Split down to the requested order, keeping the lower half and
	// pushing the upper buddy back each time.
	for current > order {
		current--
		a.push(block+Frame(uint64(1)<<current), current)
	}

	a.freeFrames -= uint64(1) << order
	return block, nil
}

// Free returns a previously allocated block to the allocator. It must be
// called with the same order that was used for the allocation; the allocator
// records no per-block order, so a mismatched order corrupts the free lists.
// Freeing InvalidFrame is a no-op.
func (a *BuddyAllocator) Free(frame Frame, order mem.PageOrder) *kernel.Error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return ErrNotInitialized
	}
	if !frame.Valid() {
		return nil
	}
	if order > MaxOrder {
		return ErrInvalidRequest
	}

	// The caller hands back exactly 2^order frames, however far the block
	// coalesces below.
	freed := uint64(1) << order

	// Coalesce with free buddies while possible. A buddy can merge only
	// if it sits on the free list at the same order.
	for order < MaxOrder {
		buddy := frame ^ Frame(uint64(1)<<order)
		if !a.unlink(buddy, order) {
			break
		}

		if buddy < frame {
			frame = buddy
		}
		order++
	}

	a.push(frame, order)
	a.freeFrames += freed
	return nil
}

// AllocBytes rounds size up to whole pages and allocates a block of the
// smallest order that holds it.
func (a *BuddyAllocator) AllocBytes(size mem.Size) (Frame, *kernel.Error) {
	if size == 0 {
		return InvalidFrame, ErrInvalidRequest
	}
	return a.Alloc(size.Order())
}

// FreeBytes releases a block obtained through AllocBytes with the same size.
func (a *BuddyAllocator) FreeBytes(frame Frame, size mem.Size) *kernel.Error {
	if size == 0 {
		return ErrInvalidRequest
	}
	return a.Free(frame, size.Order())
}

// admit rejects requests that could never or should never succeed, before
// any free list is searched.
func (a *BuddyAllocator) admit(order mem.PageOrder) *kernel.Error {
	if order > MaxOrder {
		return ErrInvalidRequest
	}

	requested := uint64(1) << order
	if requested > a.totalFrames {
		a.logger.Printf("rejected allocation: %d frames requested, %d present", requested, a.totalFrames)
		return ErrInvalidRequest
	}
	if requested >= (a.totalFrames+1)/2 {
		a.logger.Printf("rejected large allocation: %d frames (>= 50%% of %d total)", requested, a.totalFrames)
		return ErrInvalidRequest
	}
	if mem.Size(requested)*mem.PageSize > maxAllocBytes {
		a.logger.Printf("rejected massive allocation: %d frames", requested)
		return ErrInvalidRequest
	}

	return nil
}

// TotalFrames returns the number of frames the allocator manages.
func (a *BuddyAllocator) TotalFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalFrames
}

// FreeFrames returns the number of frames currently on the free lists.
func (a *BuddyAllocator) FreeFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeFrames
}

// UsedFrames returns the number of frames currently allocated out.
func (a *BuddyAllocator) UsedFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalFrames - a.freeFrames
}

// TotalMemory returns the managed memory in bytes.
func (a *BuddyAllocator) TotalMemory() mem.Size {
	return mem.Size(a.TotalFrames()) * mem.PageSize
}

// FreeMemory returns the free memory in bytes.
func (a *BuddyAllocator) FreeMemory() mem.Size {
	return mem.Size(a.FreeFrames()) * mem.PageSize
}

// UsedMemory returns the allocated memory in bytes.
func (a *BuddyAllocator) UsedMemory() mem.Size {
	return mem.Size(a.UsedFrames()) * mem.PageSize
}

// FreeCountByOrder returns the number of free blocks on each order's list.
func (a *BuddyAllocator) FreeCountByOrder() [MaxOrder + 1]uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var counts [MaxOrder + 1]uint64
	for order := mem.PageOrder(0); order <= MaxOrder; order++ {
		for block := a.freeLists[order]; block != nil; block = block.next {
			counts[order]++
		}
	}
	return counts
}

// SetLogOutput redirects the allocator's log output.
func (a *BuddyAllocator) SetLogOutput(logger *log.Logger) {
	a.logger = logger
}

func (a *BuddyAllocator) push(frame Frame, order mem.PageOrder) {
	a.freeLists[order] = &freeBlock{frame: frame, next: a.freeLists[order]}
}

func (a *BuddyAllocator) pop(order mem.PageOrder) Frame {
	block := a.freeLists[order]
	a.freeLists[order] = block.next
	return block.frame
}

// unlink removes the given frame from the order's free list, reporting
// whether it was present.
func (a *BuddyAllocator) unlink(frame Frame, order mem.PageOrder) bool {
	for prev := &a.freeLists[order]; *prev != nil; prev = &(*prev).next {
		if (*prev).frame == frame {
			*prev = (*prev).next
			return true
		}
	}
	return false
}
