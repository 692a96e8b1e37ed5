// Package sys is the kernel core's export surface for the monolithic layer:
// initialization, memory, tasks, IPC, driver hooks and introspection. It
// wires the subsystems together in dependency order and owns the singleton
// instances that exist for the life of the kernel.
package sys

import (
	"sync"
	"time"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/boot"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/ipc"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/vmm"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/sched"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/smp"
)

var (
	// ErrNotInitialized is returned by operations invoked before Init.
	ErrNotInitialized = &kernel.Error{Module: "sys", Message: "kernel core not initialized"}

	// ErrInvalidArgument is returned for nil capabilities and other
	// malformed inputs.
	ErrInvalidArgument = &kernel.Error{Module: "sys", Message: "invalid argument"}
)

// Config carries the boot parameters the monolithic layer hands to Init.
type Config struct {
	// MemoryMap is the boot memory map; only Available entries
	// contribute frames.
	MemoryMap []boot.MemoryMapEntry

	// TickRateHz is the periodic timer rate; zero selects the default.
	TickRateHz uint32

	// TimeSlice is the scheduler budget in ticks; zero selects the
	// default.
	TimeSlice uint32
}

// TerminalWrite is the write capability a terminal driver registers.
type TerminalWrite func(text []byte)

// TerminalRead is the read capability a terminal driver registers.
type TerminalRead func() byte

// Info is the introspection record populated by GetSystemInfo.
type Info struct {
	MemTotal    uint64 `json:"mem_total"`
	MemFree     uint64 `json:"mem_free"`
	CPUCount    uint32 `json:"cpu_count"`
	Initialized bool   `json:"initialized"`
}

var (
	mu          sync.Mutex
	initialized bool

	frames *pmm.BuddyAllocator
	kspace *vmm.AddressSpace
	system *smp.System
	tasks  *sched.Scheduler
	router *ipc.Router

	termWrite TerminalWrite
	termRead  TerminalRead
)

// kernelStacks adapts the kernel address space to the scheduler's stack
// allocator interface.
type kernelStacks struct{}

func (kernelStacks) AllocStack(size mem.Size) (uintptr, *kernel.Error) {
	return kspace.Alloc(size, vmm.FlagRead|vmm.FlagWrite)
}

func (kernelStacks) FreeStack(base uintptr, size mem.Size) *kernel.Error {
	return kspace.Free(base, size)
}

// schedTasks adapts the scheduler to the IPC router's blocking hooks.
type schedTasks struct{}

func (schedTasks) CurrentID() uint32 {
	if t := tasks.Current(); t != nil {
		return t.ID
	}
	return 0
}

func (schedTasks) BlockCurrent() {
	if tasks.Running() {
		tasks.BlockCurrent(sched.StateBlocked)
	}
}

func (schedTasks) Unblock(taskID uint32) {
	tasks.Unblock(taskID)
}

// Init brings the kernel core up in dependency order: the frame allocator
// consumes the memory map, the virtual memory manager builds the kernel
// address space on top of it, SMP discovery arms the periodic timer, the
// scheduler takes its stacks from the kernel space and IPC charges its
// message frames to the frame allocator. Calling Init twice is a no-op.
func Init(cfg Config) *kernel.Error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return nil
	}

	frames = pmm.NewBuddyAllocator()
	frames.SetMemoryMap(cfg.MemoryMap)

	var err *kernel.Error
	if kspace, err = vmm.CreateKernelAddressSpace(frames); err != nil {
		return err
	}

	system = smp.NewSystem()
	if cfg.TickRateHz != 0 {
		system.SetTickRate(cfg.TickRateHz)
	}
	if err = system.Init(); err != nil {
		return err
	}

	tasks = sched.New(system, kernelStacks{})
	if cfg.TimeSlice != 0 {
		tasks.SetTimeSlice(cfg.TimeSlice)
	}

	router = ipc.NewRouter(frames, system, schedTasks{})

	system.OnTick(tasks.Tick)

	initialized = true
	return nil
}

// Initialized reports whether Init has completed.
func Initialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return initialized
}

// StartScheduler starts the scheduler and begins periodic tick delivery.
func StartScheduler() *kernel.Error {
	if !Initialized() {
		return ErrNotInitialized
	}
	if err := tasks.Start(); err != nil {
		return err
	}
	system.StartTicker()
	return nil
}

// Shutdown stops tick delivery. The kernel keeps no persistent state, so
// nothing else needs flushing.
func Shutdown() {
	if Initialized() {
		system.StopTicker()
	}
}

// AllocPage allocates one page of kernel memory and returns its virtual
// address.
func AllocPage() (uintptr, *kernel.Error) {
	if !Initialized() {
		return 0, ErrNotInitialized
	}
	return kspace.Alloc(mem.PageSize, vmm.FlagRead|vmm.FlagWrite)
}

// FreePage releases a page obtained through AllocPage.
func FreePage(addr uintptr) *kernel.Error {
	if !Initialized() {
		return ErrNotInitialized
	}
	return kspace.Free(addr, mem.PageSize)
}

// AllocPages allocates count contiguous pages of kernel memory.
func AllocPages(count uint32) (uintptr, *kernel.Error) {
	if !Initialized() {
		return 0, ErrNotInitialized
	}
	return kspace.Alloc(mem.Size(count)*mem.PageSize, vmm.FlagRead|vmm.FlagWrite)
}

// FreePages releases a range obtained through AllocPages.
func FreePages(addr uintptr, count uint32) *kernel.Error {
	if !Initialized() {
		return ErrNotInitialized
	}
	return kspace.Free(addr, mem.Size(count)*mem.PageSize)
}

// AllocBytes allocates size bytes of kernel memory rounded up to whole
// pages.
func AllocBytes(size mem.Size) (uintptr, *kernel.Error) {
	if !Initialized() {
		return 0, ErrNotInitialized
	}
	return kspace.Alloc(size, vmm.FlagRead|vmm.FlagWrite)
}

// FreeBytes releases a range obtained through AllocBytes with the same size.
func FreeBytes(addr uintptr, size mem.Size) *kernel.Error {
	if !Initialized() {
		return ErrNotInitialized
	}
	return kspace.Free(addr, size)
}

// Map installs a mapping from a kernel virtual address to a caller-owned
// physical address with the given permissions.
func Map(virtAddr, physAddr uintptr, flags vmm.Flag) *kernel.Error {
	if !Initialized() {
		return ErrNotInitialized
	}
	return kspace.MapPage(vmm.PageFromAddress(virtAddr), pmm.FrameFromAddress(physAddr), flags)
}

// Unmap removes a mapping installed through Map.
func Unmap(virtAddr uintptr) *kernel.Error {
	if !Initialized() {
		return ErrNotInitialized
	}
	return kspace.UnmapPage(vmm.PageFromAddress(virtAddr))
}

// KernelAddressSpace returns the kernel address space handle.
func KernelAddressSpace() *vmm.AddressSpace {
	return kspace
}

// CreateTask creates a normal-priority task running fn.
func CreateTask(fn func(), name string) (uint32, *kernel.Error) {
	if !Initialized() {
		return 0, ErrNotInitialized
	}
	if fn == nil {
		return 0, ErrInvalidArgument
	}
	return tasks.Create(fn, name, sched.PriorityNormal)
}

// CreateThread creates a task on a caller-provided stack.
func CreateThread(stack uintptr, stackSize mem.Size, fn func()) (uint32, *kernel.Error) {
	if !Initialized() {
		return 0, ErrNotInitialized
	}
	if fn == nil {
		return 0, ErrInvalidArgument
	}
	return tasks.CreateThread(stack, stackSize, fn)
}

// Yield gives up the current task's remaining time slice.
func Yield() {
	if Initialized() {
		tasks.Yield()
	}
}

// SetPriority updates a task's priority.
func SetPriority(taskID uint32, priority sched.Priority) {
	if Initialized() {
		tasks.SetPriority(taskID, priority)
	}
}

// GetPriority returns a task's priority, or the PriorityLow sentinel for
// unknown ids.
func GetPriority(taskID uint32) sched.Priority {
	if !Initialized() {
		return sched.PriorityLow
	}
	return tasks.GetPriority(taskID)
}

// Scheduler returns the scheduler instance for the introspection surface.
func Scheduler() *sched.Scheduler {
	return tasks
}

// Send delivers a data payload to the destination queue without blocking; a
// nil destination targets the system queue.
func Send(dest *ipc.Queue, payload []byte) *kernel.Error {
	if !Initialized() {
		return ErrNotInitialized
	}
	if len(payload) == 0 {
		return ErrInvalidArgument
	}
	return router.Send(dest, payload, ipc.TypeData, ipc.FlagNonBlocking)
}

// Recv pops the next message from src (or the system queue if src is nil)
// into buf, waiting up to one second for one to arrive.
func Recv(src *ipc.Queue, buf []byte) (int, *kernel.Error) {
	if !Initialized() {
		return 0, ErrNotInitialized
	}
	if len(buf) == 0 {
		return 0, ErrInvalidArgument
	}
	n, _, err := router.Recv(src, buf, time.Second)
	return n, err
}

// RegisterHandler registers a named service with a handler capability and
// returns the service's queue.
func RegisterHandler(handler ipc.Handler, name string) (*ipc.Queue, *kernel.Error) {
	if !Initialized() {
		return nil, ErrNotInitialized
	}
	if handler == nil || name == "" {
		return nil, ErrInvalidArgument
	}
	return router.RegisterService(name, handler)
}

// Lookup returns the handler registered under name.
func Lookup(name string) (ipc.Handler, *kernel.Error) {
	if !Initialized() {
		return nil, ErrNotInitialized
	}
	return router.LookupService(name)
}

// Router returns the IPC router for the introspection surface.
func Router() *ipc.Router {
	return router
}

// RegisterTerminalDriver records the terminal driver's capabilities. The
// write capability is mandatory.
func RegisterTerminalDriver(write TerminalWrite, read TerminalRead) *kernel.Error {
	if write == nil {
		return ErrInvalidArgument
	}

	mu.Lock()
	termWrite = write
	termRead = read
	mu.Unlock()
	return nil
}

// GetTerminalWrite returns the registered terminal write capability.
func GetTerminalWrite() TerminalWrite {
	mu.Lock()
	defer mu.Unlock()
	return termWrite
}

// GetTerminalRead returns the registered terminal read capability.
func GetTerminalRead() TerminalRead {
	mu.Lock()
	defer mu.Unlock()
	return termRead
}

// GetSystemInfo reports the memory, CPU and initialization state of the
// kernel core.
func GetSystemInfo() Info {
	if !Initialized() {
		return Info{}
	}

	return Info{
		MemTotal:    uint64(frames.TotalMemory()),
		MemFree:     uint64(frames.FreeMemory()),
		CPUCount:    uint32(system.CPUCount()),
		Initialized: true,
	}
}

// DeliverTimerTick injects one timer tick, driving the scheduler and the
// uptime counter. The boot path delivers ticks from the periodic timer;
// this entry point exists for deterministic demos and tests.
func DeliverTimerTick() {
	if Initialized() {
		system.DeliverTick()
	}
}

// GetUptime returns the milliseconds of uptime derived from the timer tick
// counter; it is monotonically non-decreasing.
func GetUptime() uint64 {
	if !Initialized() {
		return 0
	}
	return system.UptimeMillis()
}

// reset tears the singletons down so tests can re-run Init with a different
// configuration.
func reset() {
	mu.Lock()
	defer mu.Unlock()

	if system != nil {
		system.StopTicker()
	}
	initialized = false
	frames = nil
	kspace = nil
	system = nil
	tasks = nil
	router = nil
	termWrite = nil
	termRead = nil
}
