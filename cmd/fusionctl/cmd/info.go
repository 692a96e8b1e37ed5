package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/sys"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Boot the kernel core and print its system information.",
	RunE: func(c *cobra.Command, args []string) error {
		cfg, _ := loadConfig()

		if err := sys.Init(cfg); err != nil {
			return fmt.Errorf("kernel init: %w", err)
		}
		defer sys.Shutdown()

		info := sys.GetSystemInfo()
		fmt.Printf("initialized: %t\n", info.Initialized)
		fmt.Printf("memory:      %d MiB total, %d MiB free\n", info.MemTotal>>20, info.MemFree>>20)
		fmt.Printf("cpus:        %d\n", info.CPUCount)
		fmt.Printf("uptime:      %d ms\n", sys.GetUptime())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
