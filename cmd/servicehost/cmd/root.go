package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stone-age-io/servicehost/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=..."
var Version = "dev"

var (
	cfgFile string

	// exitCode is set by commands that finish a run
	exitCode int
)

// rootCmd runs the host when no subcommand is given, which is how the
// service manager starts it
var rootCmd = &cobra.Command{
	Use:           "servicehost",
	Short:         "Host a long-running workload as an OS service",
	Long:          `servicehost runs a workload as a managed OS service or foreground process and coordinates its shutdown across service manager controls, signals and the workload finishing on its own.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runHost,
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return exitCode
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.GetDefaultConfigPath(), "config file")
	rootCmd.Flags().BoolVar(&debugMode, "debug", false, "drive the service manager protocol from the console (Windows)")
}
