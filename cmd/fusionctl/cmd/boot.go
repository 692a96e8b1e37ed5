package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/diag"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/sys"
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Boot the kernel core and serve its introspection endpoints.",
	RunE: func(c *cobra.Command, args []string) error {
		cfg, port := loadConfig()

		if err := sys.Init(cfg); err != nil {
			return fmt.Errorf("kernel init: %w", err)
		}
		if err := sys.StartScheduler(); err != nil {
			return fmt.Errorf("scheduler start: %w", err)
		}

		server := diag.NewServer(port)
		addr, err := server.Start()
		if err != nil {
			return fmt.Errorf("diag server: %w", err)
		}

		atexit.Register(func() {
			server.Stop()
			sys.Shutdown()
			info := sys.GetSystemInfo()
			fmt.Printf("halted after %d ms; %d of %d bytes free\n",
				sys.GetUptime(), info.MemFree, info.MemTotal)
		})

		info := sys.GetSystemInfo()
		fmt.Printf("kernel core up: %d MiB memory, %d cpus\n", info.MemTotal>>20, info.CPUCount)
		fmt.Printf("introspection on http://%s\n", addr)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		atexit.Exit(0)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bootCmd)
}
