package cmd

import (
	"github.com/spf13/cobra"
	"github.com/stone-age-io/servicehost/internal/agent"
)

var debugMode bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the hosted workload until it is stopped",
	RunE:  runHost,
}

func init() {
	runCmd.Flags().BoolVar(&debugMode, "debug", false, "drive the service manager protocol from the console (Windows)")
	rootCmd.AddCommand(runCmd)
}

func runHost(cmd *cobra.Command, args []string) error {
	a, err := agent.New(cfgFile, Version, agent.Options{Debug: debugMode})
	if err != nil {
		return err
	}

	out, err := a.Run()
	if err != nil {
		return err
	}
	exitCode = out.ExitCode()
	return nil
}
