package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wippyai/hle-runtime/errors"
)

var linkNames []string

func init() {
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "List exported symbols, or check that names link",
		Long: `The symbols command lists every symbol the core exports to guest code.
With --link it resolves the given names as a loader would and reports every
name the host does not export.

Example:
  hle-inspect symbols
  hle-inspect symbols --link objc_msgSend,objc_release,NSLog`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSymbols(cmd.Context())
		},
	}
	cmd.Flags().StringSliceVar(&linkNames, "link", nil, "Comma-separated symbol names to resolve")
	rootCmd.AddCommand(cmd)
}

type symbolInfo struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Addr      string `json:"addr,omitempty"`
	Signature string `json:"signature,omitempty"`
}

func runSymbols(ctx context.Context) error {
	env, err := newEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if len(linkNames) > 0 {
		addrs, err := env.Link(linkNames)
		for _, name := range linkNames {
			if addr, ok := addrs[name]; ok {
				fmt.Printf("0x%08x  %s\n", addr, name)
			}
		}
		if missing, ok := err.(*errors.MissingSymbolsError); ok {
			fmt.Fprintln(os.Stderr, missing.Error())
			return fmt.Errorf("%d of %d symbol(s) unresolved", len(missing.Symbols), len(linkNames))
		}
		return err
	}

	var syms []symbolInfo
	for _, s := range env.Dyld.Symbols() {
		info := symbolInfo{Name: s.Name, Kind: s.Kind.String(), Signature: s.Signature()}
		if s.Addr != 0 {
			info.Addr = fmt.Sprintf("0x%08x", s.Addr)
		}
		syms = append(syms, info)
	}
	if jsonOut {
		return printJSON(syms)
	}
	for _, s := range syms {
		fmt.Printf("%-6s %-28s %s\n", s.Kind, s.Name, s.Signature)
	}
	return nil
}
