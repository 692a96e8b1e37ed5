// Package smp implements symmetric multiprocessing bring-up: CPU discovery,
// Local APIC and IO APIC programming, the per-CPU periodic timer that drives
// the scheduler tick, inter-processor interrupts and the memory barriers
// used around shared kernel structures.
package smp

import (
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/cpu"
)

// Local APIC MMIO layout.
const (
	LocalAPICBase = 0xfee00000
	LocalAPICSize = 0x1000

	regAPICID            = 0x0020
	regVersion           = 0x0030
	regTaskPriority      = 0x0080
	regEOI               = 0x00b0
	regSpuriousInterrupt = 0x00f0
	regESR               = 0x0280
	regICRLow            = 0x0300
	regICRHigh           = 0x0310
	regLVTTimer          = 0x0320
	regTimerInitialCount = 0x0380
	regTimerCurrentCount = 0x0390
	regTimerDivide       = 0x03e0
)

const (
	// spuriousVector is the vector programmed into the spurious interrupt
	// register at bring-up; bit 8 enables the APIC.
	spuriousVector = 0xff
	apicEnableBit  = 1 << 8

	// timerPeriodicBit selects periodic mode in the LVT timer register.
	timerPeriodicBit = 1 << 17

	// timerDivide16 selects the divide-by-16 configuration.
	timerDivide16 = 0x03

	// icrDeliveryStatusBit reads back as set while an IPI is in flight.
	icrDeliveryStatusBit = 1 << 12

	// icrFixedDelivery selects fixed delivery mode.
	icrFixedDelivery = 0x4000

	// icrBroadcastAllButSelf selects all-excluding-self shorthand.
	icrBroadcastAllButSelf = 0x8000
)

// localAPIC models one CPU's local APIC register file. Register accesses go
// through read/write which bracket each MMIO access with the fences the real
// device requires.
type localAPIC struct {
	apicID uint8
	regs   [LocalAPICSize / 4]uint32
}

func newLocalAPIC(apicID uint8) *localAPIC {
	lapic := &localAPIC{apicID: apicID}
	lapic.write(regAPICID, uint32(apicID)<<24)
	lapic.write(regVersion, 0x50014) // version 0x14, 6 LVT entries
	return lapic
}

func (l *localAPIC) read(offset uint32) uint32 {
	cpu.ReadBarrier()
	return l.regs[offset/4]
}

func (l *localAPIC) write(offset, value uint32) {
	l.regs[offset/4] = value
	cpu.WriteBarrier()
}

// enable programs the spurious interrupt vector with the enable bit, clears
// the error status register and acknowledges any pending interrupt.
func (l *localAPIC) enable() {
	l.write(regSpuriousInterrupt, spuriousVector|apicEnableBit)
	l.write(regESR, 0)
	l.write(regEOI, 0)
}

// enabled reports whether the APIC software-enable bit is set.
func (l *localAPIC) enabled() bool {
	return l.read(regSpuriousInterrupt)&apicEnableBit != 0
}

// armTimer configures the periodic timer for the requested tick rate using
// the divide-by-16 configuration.
func (l *localAPIC) armTimer(vector uint8, rateHz uint32) {
	initial := uint32(0xffffffff)
	if rateHz > 0 {
		initial = 0xffffffff / rateHz
	}

	l.write(regTimerDivide, timerDivide16)
	l.write(regTimerInitialCount, initial)
	l.write(regLVTTimer, uint32(vector)|timerPeriodicBit)
}

// stopTimer disarms the periodic timer by zeroing its initial count.
func (l *localAPIC) stopTimer() {
	l.write(regTimerInitialCount, 0)
}

// timerArmed reports whether the periodic timer is counting.
func (l *localAPIC) timerArmed() bool {
	return l.read(regTimerInitialCount) != 0 && l.read(regLVTTimer)&timerPeriodicBit != 0
}

// ack signals end-of-interrupt.
func (l *localAPIC) ack() {
	l.write(regEOI, 0)
}
