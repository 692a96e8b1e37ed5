package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/ipc"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/sys"
)

var demoCmd = &cobra.Command{
	Use:       "demo {buddy|vmm|sched|ipc|broadcast}",
	Short:     "Boot the kernel core and run one end-to-end scenario.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"buddy", "vmm", "sched", "ipc", "broadcast"},
	RunE: func(c *cobra.Command, args []string) error {
		cfg, _ := loadConfig()
		if args[0] == "sched" {
			cfg.TimeSlice = 3
		}
		if err := sys.Init(cfg); err != nil {
			return fmt.Errorf("kernel init: %w", err)
		}
		defer sys.Shutdown()

		switch args[0] {
		case "buddy":
			return demoBuddy()
		case "vmm":
			return demoVMM()
		case "sched":
			return demoSched()
		case "ipc":
			return demoIPC()
		case "broadcast":
			return demoBroadcast()
		}
		return fmt.Errorf("unknown scenario %q", args[0])
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func demoBuddy() error {
	p0, err := sys.AllocPage()
	if err != nil {
		return err
	}
	p1, err := sys.AllocPage()
	if err != nil {
		return err
	}
	fmt.Printf("page 0 at %#x, page 1 at %#x\n", p0, p1)

	sys.FreePage(p0)
	sys.FreePage(p1)
	info := sys.GetSystemInfo()
	fmt.Printf("after free: %d bytes free of %d\n", info.MemFree, info.MemTotal)
	return nil
}

func demoVMM() error {
	space := sys.KernelAddressSpace()

	fmt.Printf("can allocate 200 MiB: %t\n", space.CanAlloc(200*mem.Mb))

	base, err := sys.AllocBytes(64 * mem.Kb)
	if err != nil {
		return err
	}
	physAddr, err := space.Translate(base)
	if err != nil {
		return err
	}
	fmt.Printf("64 KiB at virtual %#x backed by physical %#x\n", base, physAddr)

	return errOrNil(sys.FreeBytes(base, 64*mem.Kb))
}

func demoSched() error {
	for _, name := range []string{"A", "B", "C"} {
		if _, err := sys.CreateTask(func() {}, name); err != nil {
			return err
		}
	}
	if err := sys.Scheduler().Start(); err != nil {
		return err
	}

	fmt.Print("running sequence over 9 ticks: ")
	for tick := 0; tick < 9; tick++ {
		fmt.Print(sys.Scheduler().Current().Name)
		sys.DeliverTimerTick()
	}
	fmt.Println()
	return nil
}

func demoIPC() error {
	queue, err := sys.Router().RegisterServiceWithCapacity("echo", func(*ipc.Message) {}, 4)
	if err != nil {
		return err
	}

	for _, payload := range []string{"m1", "m2", "m3"} {
		if err := sys.Send(queue, []byte(payload)); err != nil {
			return err
		}
	}

	buf := make([]byte, ipc.MaxMessageSize)
	for i := 0; i < 3; i++ {
		n, err := sys.Recv(queue, buf)
		if err != nil {
			return err
		}
		fmt.Printf("received %q\n", string(buf[:n]))
	}
	return nil
}

func demoBroadcast() error {
	for _, name := range []string{"s1", "s2", "s3"} {
		if _, err := sys.Router().RegisterServiceWithCapacity(name, func(*ipc.Message) {}, 1); err != nil {
			return err
		}
	}

	fmt.Printf("first broadcast reached %d queues\n", sys.Router().Broadcast([]byte("x"), ipc.TypeSystem))
	fmt.Printf("second broadcast reached %d queues\n", sys.Router().Broadcast([]byte("x"), ipc.TypeSystem))
	return nil
}

// errOrNil keeps a nil *kernel.Error from leaking into a non-nil error
// interface.
func errOrNil(err *kernel.Error) error {
	if err != nil {
		return err
	}
	return nil
}
