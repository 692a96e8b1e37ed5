package smp

import (
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	hostcpu "github.com/shirou/gopsutil/v3/cpu"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/cpu"
)

// MaxCPUs bounds the CPU table.
const MaxCPUs = 64

// DefaultTickRateHz is the periodic timer rate armed on the bootstrap
// processor.
const DefaultTickRateHz = 1000

// Interrupt vectors used by the CPU control IPIs.
const (
	VectorStartup = 0x20
	VectorStop    = 0x21
	VectorWake    = 0x22

	// vectorTimerBase is the per-CPU timer vector base; CPU n ticks on
	// vectorTimerBase+n.
	vectorTimerBase = 0x80
)

var (
	// ErrNoAPIC is returned when CPUID reports no local APIC.
	ErrNoAPIC = &kernel.Error{Module: "smp", Message: "cpu reports no local apic"}

	// ErrNotInitialized is returned when the system is used before Init.
	ErrNotInitialized = &kernel.Error{Module: "smp", Message: "smp system not initialized"}
)

// CPUInfo describes one discovered logical processor.
type CPUInfo struct {
	ID        uint8
	APICID    uint8
	BSP       bool
	Active    bool
	LAPICBase uintptr
}

// System owns the CPU table, the per-CPU local APICs and the IO APIC. The
// bootstrap processor's periodic timer drives the scheduler tick through the
// registered tick handler.
type System struct {
	mu sync.Mutex

	cpus   []CPUInfo
	lapics []*localAPIC
	ioapic ioAPIC

	tickRateHz uint32
	ticks      atomic.Uint64
	onTick     func()

	ticker   *time.Ticker
	tickStop chan struct{}

	// detectCount reports the logical processor count; overridable for
	// deterministic tests. The default asks the host topology.
	detectCount func() (int, error)

	initialized bool

	logger *log.Logger
}

// NewSystem returns an uninitialized SMP system.
func NewSystem() *System {
	return &System{
		tickRateHz: DefaultTickRateHz,
		detectCount: func() (int, error) {
			return hostcpu.Counts(true)
		},
		logger: log.New(os.Stderr, "[smp] ", 0),
	}
}

// SetLogOutput redirects the system's log output.
func (s *System) SetLogOutput(logger *log.Logger) {
	s.logger = logger
}

// SetTickRate overrides the periodic timer rate. It must be called before
// Init.
func (s *System) SetTickRate(rateHz uint32) {
	s.mu.Lock()
	s.tickRateHz = rateHz
	s.mu.Unlock()
}

// SetDetectFn overrides CPU discovery; tests use it to pin the topology.
func (s *System) SetDetectFn(fn func() (int, error)) {
	s.mu.Lock()
	s.detectCount = fn
	s.mu.Unlock()
}

// OnTick registers the handler invoked on every timer tick. The scheduler
// hooks its Tick here.
func (s *System) OnTick(fn func()) {
	s.mu.Lock()
	s.onTick = fn
	s.mu.Unlock()
}

// Init discovers the CPU topology, enables the bootstrap processor's local
// APIC, masks every IO APIC redirection entry and arms the BSP's periodic
// timer.
func (s *System) Init() *kernel.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	s.logger.Print("initializing symmetric multiprocessing")

	// CPUID leaf 1: confirm APIC presence before anything else.
	_, _, _, edx := cpu.ID(1, 0)
	if edx&(1<<9) == 0 {
		return ErrNoAPIC
	}

	count, err := s.detectCount()
	if err != nil || count < 1 {
		count = 1
	}
	if count > MaxCPUs {
		count = MaxCPUs
	}

	s.cpus = make([]CPUInfo, count)
	s.lapics = make([]*localAPIC, count)
	for i := range s.cpus {
		s.cpus[i] = CPUInfo{
			ID:        uint8(i),
			APICID:    uint8(i),
			BSP:       i == 0,
			Active:    i == 0,
			LAPICBase: LocalAPICBase,
		}
		s.lapics[i] = newLocalAPIC(uint8(i))
	}

	s.lapics[0].enable()
	s.ioapic.maskAll()
	s.lapics[0].armTimer(vectorTimerBase, s.tickRateHz)

	s.initialized = true
	s.logger.Printf("smp initialized with %d cpus", count)
	return nil
}

// CPUCount returns the number of discovered logical processors.
func (s *System) CPUCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cpus)
}

// CPU returns the info record for the given CPU id.
func (s *System) CPU(id uint8) (CPUInfo, *kernel.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(id) >= len(s.cpus) {
		return CPUInfo{}, ErrBadCPU
	}
	return s.cpus[id], nil
}

// CurrentCPU returns the id of the executing CPU. The simulated kernel runs
// its dispatch loop on the bootstrap processor.
func (s *System) CurrentCPU() uint8 {
	return 0
}

// SendIPI delivers a directed inter-processor interrupt. Delivery is polled
// through the ICR delivery-status bit until it clears.
func (s *System) SendIPI(target uint8, vector uint8) *kernel.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if int(target) >= len(s.cpus) {
		return ErrBadCPU
	}

	source := s.lapics[s.CurrentCPU()]
	source.write(regICRHigh, uint32(s.cpus[target].APICID)<<24)
	source.write(regICRLow, uint32(vector)|icrFixedDelivery|icrDeliveryStatusBit)

	s.deliverLocked(target, vector)

	// Delivery completes synchronously in the simulation; clear the
	// status bit so the poll below observes it.
	source.write(regICRLow, source.read(regICRLow)&^uint32(icrDeliveryStatusBit))
	for source.read(regICRLow)&icrDeliveryStatusBit != 0 {
	}
	return nil
}

// BroadcastIPI delivers an all-excluding-self inter-processor interrupt.
func (s *System) BroadcastIPI(vector uint8) *kernel.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	self := s.CurrentCPU()
	source := s.lapics[self]
	source.write(regICRLow, uint32(vector)|icrBroadcastAllButSelf|icrDeliveryStatusBit)

	for id := range s.cpus {
		if uint8(id) == self {
			continue
		}
		s.deliverLocked(uint8(id), vector)
	}

	source.write(regICRLow, source.read(regICRLow)&^uint32(icrDeliveryStatusBit))
	for source.read(regICRLow)&icrDeliveryStatusBit != 0 {
	}
	return nil
}

// deliverLocked applies the side effect of a vector arriving at a CPU.
// Callers hold s.mu.
func (s *System) deliverLocked(target uint8, vector uint8) {
	switch vector {
	case VectorStartup, VectorWake:
		s.cpus[target].Active = true
		s.lapics[target].enable()
	case VectorStop:
		s.cpus[target].Active = false
	}
}

// StartCPU wakes a non-BSP processor with a startup IPI.
func (s *System) StartCPU(id uint8) *kernel.Error {
	if id == 0 {
		return ErrBadCPU
	}
	if err := s.SendIPI(id, VectorStartup); err != nil {
		return err
	}

	s.mu.Lock()
	active := s.cpus[id].Active
	s.mu.Unlock()
	if !active {
		return ErrBadCPU
	}

	s.logger.Printf("cpu %d started", id)
	return nil
}

// StopCPU sends the stop vector to a non-BSP processor.
func (s *System) StopCPU(id uint8) *kernel.Error {
	if id == 0 {
		return ErrBadCPU
	}
	if err := s.SendIPI(id, VectorStop); err != nil {
		return err
	}
	s.logger.Printf("cpu %d stopped", id)
	return nil
}

// CPUSleep halts the current CPU until the next interrupt.
func (s *System) CPUSleep() {
	cpu.Halt()
}

// RouteInterrupt points an IO APIC input at a CPU with the given vector.
func (s *System) RouteInterrupt(irq uint8, cpuID uint8, vector uint8) *kernel.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if int(cpuID) >= len(s.cpus) {
		return ErrBadCPU
	}
	return s.ioapic.route(irq, s.cpus[cpuID].APICID, vector)
}

// UnrouteInterrupt masks an IO APIC input again.
func (s *System) UnrouteInterrupt(irq uint8) *kernel.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	return s.ioapic.unroute(irq)
}

// InterruptMasked reports whether an IO APIC input is masked.
func (s *System) InterruptMasked(irq uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioapic.masked(irq)
}

// DeliverTick advances the tick counter and invokes the registered tick
// handler, then acknowledges the interrupt. Tests call it directly; StartTicker
// drives it from a wall-clock ticker.
func (s *System) DeliverTick() {
	s.ticks.Add(1)

	s.mu.Lock()
	handler := s.onTick
	lapic := s.lapics
	s.mu.Unlock()

	if handler != nil {
		handler()
	}
	if len(lapic) > 0 {
		lapic[0].ack()
	}
}

// StartTicker begins delivering real-time ticks at the configured rate. It
// is used by the hosted boot path; tests drive DeliverTick directly.
func (s *System) StartTicker() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil || s.tickRateHz == 0 {
		return
	}

	s.ticker = time.NewTicker(time.Second / time.Duration(s.tickRateHz))
	s.tickStop = make(chan struct{})

	go func(ticker *time.Ticker, stop chan struct{}) {
		for {
			select {
			case <-ticker.C:
				s.DeliverTick()
			case <-stop:
				return
			}
		}
	}(s.ticker, s.tickStop)
}

// StopTicker halts real-time tick delivery.
func (s *System) StopTicker() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.tickStop)
	s.ticker = nil
	s.tickStop = nil
}

// Ticks returns the number of timer ticks delivered since Init.
func (s *System) Ticks() uint64 {
	return s.ticks.Load()
}

// UptimeMillis derives the system uptime from the tick counter and the
// timer rate; it never goes backwards and does not depend on how often it
// is called.
func (s *System) UptimeMillis() uint64 {
	s.mu.Lock()
	rate := s.tickRateHz
	s.mu.Unlock()

	if rate == 0 {
		return 0
	}
	return s.ticks.Load() * 1000 / uint64(rate)
}

// MemoryBarrier orders all memory accesses around shared structures.
func (s *System) MemoryBarrier() { cpu.MemoryBarrier() }

// ReadBarrier orders loads.
func (s *System) ReadBarrier() { cpu.ReadBarrier() }

// WriteBarrier orders stores.
func (s *System) WriteBarrier() { cpu.WriteBarrier() }
