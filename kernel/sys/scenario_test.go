package sys

import (
	"io"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/boot"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/ipc"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/pmm"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem/vmm"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/sched"
)

func availableRegion(size mem.Size) []boot.MemoryMapEntry {
	return []boot.MemoryMapEntry{
		{Base: 0, Length: uint64(size), Type: boot.Available},
	}
}

var _ = Describe("Buddy allocation", func() {
	var frames *pmm.BuddyAllocator

	BeforeEach(func() {
		frames = pmm.NewBuddyAllocator()
		frames.SetLogOutput(log.New(io.Discard, "", 0))
		frames.SetMemoryMap(availableRegion(64 * mem.Mb))
	})

	It("splits blocks into adjacent buddies and coalesces them back", func() {
		p0, err := frames.Alloc(0)
		Expect(err).To(BeNil())

		p1, err := frames.Alloc(0)
		Expect(err).To(BeNil())
		Expect(p1.Address()).To(Equal(p0.Address() ^ 4096))

		Expect(frames.Free(p0, 0)).To(BeNil())
		Expect(frames.Free(p1, 0)).To(BeNil())

		Expect(frames.FreeFrames()).To(Equal(uint64(64 * mem.Mb / (4 * mem.Kb))))

		counts := frames.FreeCountByOrder()
		Expect(counts[0]).To(BeZero(), "no uncoalesced order-0 buddies may remain")
		merged := false
		for order := 1; order < len(counts); order++ {
			if counts[order] > 0 {
				merged = true
			}
		}
		Expect(merged).To(BeTrue(), "the freed pages must have merged upward")
	})
})

var _ = Describe("Allocation admission", func() {
	BeforeEach(func() {
		reset()
		Expect(Init(Config{MemoryMap: availableRegion(128 * mem.Mb)})).To(BeNil())
	})
	AfterEach(reset)

	It("rejects a 200 MiB request against 128 MiB of memory", func() {
		Expect(KernelAddressSpace().CanAlloc(200 * mem.Mb)).To(BeFalse())

		addr, err := AllocBytes(200 * mem.Mb)
		Expect(addr).To(BeZero())
		Expect(err).To(Equal(vmm.ErrRejected))
	})
})

var _ = Describe("Address space round trip", func() {
	BeforeEach(func() {
		reset()
		Expect(Init(Config{MemoryMap: availableRegion(128 * mem.Mb)})).To(BeNil())
	})
	AfterEach(reset)

	It("maps, translates and unmaps a page", func() {
		space, err := vmm.CreateAddressSpace(frames)
		Expect(err).To(BeNil())

		frame, err := frames.Alloc(0)
		Expect(err).To(BeNil())

		page := vmm.PageFromAddress(0x400000)
		Expect(space.MapPage(page, frame, vmm.FlagRead|vmm.FlagWrite)).To(BeNil())

		physAddr, err := space.Translate(0x400000)
		Expect(err).To(BeNil())
		Expect(physAddr).To(Equal(frame.Address()))

		Expect(space.UnmapPage(page)).To(BeNil())
		_, err = space.Translate(0x400000)
		Expect(err).To(Equal(vmm.ErrInvalidMapping))
	})
})

var _ = Describe("Scheduling fairness", func() {
	BeforeEach(func() {
		reset()
		Expect(Init(Config{
			MemoryMap: availableRegion(128 * mem.Mb),
			TimeSlice: 3,
		})).To(BeNil())
	})
	AfterEach(reset)

	It("runs three equal-priority tasks as AAABBBCCC over nine ticks", func() {
		for _, name := range []string{"A", "B", "C"} {
			_, err := CreateTask(func() {}, name)
			Expect(err).To(BeNil())
		}
		Expect(Scheduler().Start()).To(BeNil())

		var observed []string
		for tick := 0; tick < 9; tick++ {
			observed = append(observed, Scheduler().Current().Name)
			system.DeliverTick()
		}

		Expect(observed).To(Equal([]string{
			"A", "A", "A", "B", "B", "B", "C", "C", "C",
		}))
	})
})

var _ = Describe("IPC FIFO delivery", func() {
	BeforeEach(func() {
		reset()
		Expect(Init(Config{MemoryMap: availableRegion(128 * mem.Mb)})).To(BeNil())
	})
	AfterEach(reset)

	It("preserves send order and reports a full queue", func() {
		queue, err := Router().RegisterServiceWithCapacity("echo", func(*ipc.Message) {}, 4)
		Expect(err).To(BeNil())

		for _, payload := range []string{"m1", "m2", "m3", "m4"} {
			Expect(Send(queue, []byte(payload))).To(BeNil())
		}
		Expect(Send(queue, []byte("m5"))).To(Equal(ipc.ErrQueueFull))

		buf := make([]byte, 64)
		for _, exp := range []string{"m1", "m2", "m3", "m4"} {
			n, err := Recv(queue, buf)
			Expect(err).To(BeNil())
			Expect(string(buf[:n])).To(Equal(exp))
		}
	})
})

var _ = Describe("Broadcast fan-out", func() {
	BeforeEach(func() {
		reset()
		Expect(Init(Config{MemoryMap: availableRegion(128 * mem.Mb)})).To(BeNil())
	})
	AfterEach(reset)

	It("reaches the system queue and every service with room", func() {
		for _, name := range []string{"s1", "s2", "s3"} {
			_, err := Router().RegisterServiceWithCapacity(name, func(*ipc.Message) {}, 1)
			Expect(err).To(BeNil())
		}

		Expect(Router().Broadcast([]byte("x"), ipc.TypeSystem)).To(Equal(4))

		// The three service queues are full now; only the system queue
		// has room left.
		Expect(Router().Broadcast([]byte("x"), ipc.TypeSystem)).To(Equal(1))
	})
})

var _ = Describe("Scheduler integration with IPC", func() {
	BeforeEach(func() {
		reset()
		Expect(Init(Config{MemoryMap: availableRegion(128 * mem.Mb)})).To(BeNil())
	})
	AfterEach(reset)

	It("tracks queue membership while tasks block and unblock", func() {
		aID, err := CreateTask(func() {}, "A")
		Expect(err).To(BeNil())
		_, err = CreateTask(func() {}, "B")
		Expect(err).To(BeNil())
		Expect(Scheduler().Start()).To(BeNil())

		Scheduler().BlockCurrent(sched.StateBlocked)
		stats := Scheduler().Stats()
		Expect(stats.BlockedTasks).To(Equal(uint32(1)))

		Scheduler().Unblock(aID)
		stats = Scheduler().Stats()
		Expect(stats.BlockedTasks).To(BeZero())
	})
})
