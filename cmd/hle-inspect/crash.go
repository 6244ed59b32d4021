package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	hleruntime "github.com/wippyai/hle-runtime"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "crash <file>",
		Short: "Decode a crash report",
		Long: `The crash command decodes a CBOR crash report written by an environment
whose [faults] crash_dir is set.

Example:
  hle-inspect crash /tmp/crashes/crash-1700000000000000000-over_release.cbor`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrash(args[0])
		},
	})
}

func runCrash(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	report, err := hleruntime.DecodeCrashReport(data)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(report)
	}
	fmt.Print(report.String())
	return nil
}
