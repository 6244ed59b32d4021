// Command hle-inspect inspects the emulator core: its class, selector and
// symbol registries and the crash reports it writes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	hleruntime "github.com/wippyai/hle-runtime"
)

var (
	configPath string
	jsonOut    bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "hle-inspect",
	Short: "Inspect the emulator core's registries and crash reports",
	Long: `hle-inspect builds an environment from a config file and lists what the
core provides to guest code: classes, selectors and exported symbols. It also
decodes the CBOR crash reports written when a guest faults.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log environment activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newEnvironment creates an environment without a CPU attached.
func newEnvironment(ctx context.Context) (*hleruntime.Environment, error) {
	cfg := hleruntime.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = hleruntime.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}

	log := zap.NewNop()
	if verbose {
		var err error
		if log, err = hleruntime.NewLogger(hleruntime.LogConfig{Level: "debug", Development: true}); err != nil {
			return nil, err
		}
	}
	return hleruntime.New(ctx, hleruntime.WithConfig(cfg), hleruntime.WithLogger(log))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
