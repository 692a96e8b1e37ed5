// Package cmd provides the command-line interface for fusionctl.
package cmd

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/boot"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/mem"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/sys"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "fusionctl",
	Short: "fusionctl boots and inspects the Fusion-OS kernel core in-process.",
	Long: `fusionctl boots the Fusion-OS kernel core against a synthetic memory ` +
		`map, serves its introspection endpoints over HTTP and runs the ` +
		`end-to-end demo scenarios.`,
}

var (
	envFile  string
	memoryMB uint64
	tickHz   uint32
	diagPort int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to a .env file with boot parameters")
	rootCmd.PersistentFlags().Uint64Var(&memoryMB, "memory-mb", 0, "simulated physical memory in MiB (overrides FUSION_MEMORY_MB)")
	rootCmd.PersistentFlags().Uint32Var(&tickHz, "tick-hz", 0, "periodic timer rate (overrides FUSION_TICK_HZ)")
	rootCmd.PersistentFlags().IntVar(&diagPort, "diag-port", -1, "introspection server port, 0 picks a free one (overrides FUSION_DIAG_PORT)")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the boot parameters: .env file first, then
// environment, then flags on top.
func loadConfig() (sys.Config, int) {
	if envFile != "" {
		godotenv.Load(envFile)
	} else {
		godotenv.Load()
	}

	memMB := envUint("FUSION_MEMORY_MB", 128)
	rate := envUint("FUSION_TICK_HZ", 0)
	port := int(envUint("FUSION_DIAG_PORT", 0))

	if memoryMB != 0 {
		memMB = memoryMB
	}
	if tickHz != 0 {
		rate = uint64(tickHz)
	}
	if diagPort >= 0 {
		port = diagPort
	}

	cfg := sys.Config{
		MemoryMap: []boot.MemoryMapEntry{
			{Base: 0, Length: memMB * uint64(mem.Mb), Type: boot.Available},
		},
		TickRateHz: uint32(rate),
	}
	return cfg, port
}

func envUint(key string, fallback uint64) uint64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}
