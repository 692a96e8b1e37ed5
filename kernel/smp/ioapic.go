package smp

import (
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/cpu"
)

// IO APIC MMIO layout.
const (
	IOAPICBase = 0xfec00000

	// maxRedirectionEntries is the number of redirection table entries
	// the IO APIC exposes.
	maxRedirectionEntries = 24

	// redirectionMaskBit masks an entry so the interrupt is not delivered.
	redirectionMaskBit = 1 << 16

	// redirectionLevelBit selects the trigger mode: clear for edge (the
	// default, used by route) and set for level.
	redirectionLevelBit = 1 << 15
)

var (
	// ErrBadIRQ is returned when routing an interrupt line the IO APIC
	// does not have.
	ErrBadIRQ = &kernel.Error{Module: "smp", Message: "irq outside the redirection table"}

	// ErrBadCPU is returned when a CPU id is outside the discovered set.
	ErrBadCPU = &kernel.Error{Module: "smp", Message: "unknown cpu id"}
)

// ioAPIC models the system IO APIC redirection table. Entries are 64 bits:
// the vector in the low byte, the destination APIC id in bits 56..63 of the
// full entry (kept here pre-shifted in the high word for simplicity of
// inspection) and the mask bit at bit 16.
type ioAPIC struct {
	redirection [maxRedirectionEntries]uint64
}

// maskAll masks every redirection entry; bring-up state.
func (io *ioAPIC) maskAll() {
	for i := range io.redirection {
		io.redirection[i] = redirectionMaskBit
	}
	cpu.WriteBarrier()
}

// route points an interrupt line at the given destination APIC id with the
// given vector, edge-triggered and unmasked.
func (io *ioAPIC) route(irq uint8, apicID uint8, vector uint8) *kernel.Error {
	if irq >= maxRedirectionEntries {
		return ErrBadIRQ
	}
	io.redirection[irq] = uint64(vector) | uint64(apicID)<<56
	cpu.WriteBarrier()
	return nil
}

// unroute masks an interrupt line again.
func (io *ioAPIC) unroute(irq uint8) *kernel.Error {
	if irq >= maxRedirectionEntries {
		return ErrBadIRQ
	}
	io.redirection[irq] = redirectionMaskBit
	cpu.WriteBarrier()
	return nil
}

// masked reports whether an interrupt line is masked.
func (io *ioAPIC) masked(irq uint8) bool {
	cpu.ReadBarrier()
	return io.redirection[irq]&redirectionMaskBit != 0
}

// entry returns the raw redirection entry for inspection.
func (io *ioAPIC) entry(irq uint8) uint64 {
	cpu.ReadBarrier()
	return io.redirection[irq]
}
