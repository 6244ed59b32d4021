package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	hleruntime "github.com/wippyai/hle-runtime"
	"github.com/wippyai/hle-runtime/objc"
)

var classesInteractive bool

func init() {
	cmd := &cobra.Command{
		Use:   "classes",
		Short: "List registered classes and their methods",
		Long: `The classes command lists every registered class with its superclass,
instance size and the methods it implements itself.

Example:
  hle-inspect classes
  hle-inspect classes -i
  hle-inspect classes --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClasses(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&classesInteractive, "interactive", "i", false, "Browse classes in a terminal UI")
	rootCmd.AddCommand(cmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "selectors",
		Short: "List interned selectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelectors(cmd.Context())
		},
	})
}

type methodInfo struct {
	Selector string `json:"selector"`
	Class    bool   `json:"class_method,omitempty"`
	Impl     string `json:"impl"`
}

type classInfo struct {
	Name         string       `json:"name"`
	Super        string       `json:"super,omitempty"`
	Addr         string       `json:"addr"`
	InstanceSize uint32       `json:"instance_size"`
	Methods      []methodInfo `json:"methods"`
}

func describeIMP(imp objc.IMP) string {
	switch imp := imp.(type) {
	case objc.HostIMP:
		return "host " + imp.Func.Sig.String()
	case objc.GuestIMP:
		return fmt.Sprintf("guest 0x%08x", imp.Addr)
	}
	return "?"
}

func collectMethods(rt *objc.Runtime, cls *objc.Class, classSide bool) []methodInfo {
	var out []methodInfo
	for _, name := range cls.Methods() {
		imp, _ := cls.Method(rt.Selector(name))
		out = append(out, methodInfo{Selector: name, Class: classSide, Impl: describeIMP(imp)})
	}
	return out
}

func collectClasses(env *hleruntime.Environment) []classInfo {
	rt := env.ObjC
	var out []classInfo
	for _, name := range rt.Classes() {
		cls := rt.MustClass(name)
		info := classInfo{
			Name:         cls.Name,
			Addr:         cls.Addr.String(),
			InstanceSize: cls.InstanceSize,
		}
		if cls.Super != nil {
			info.Super = cls.Super.Name
		}
		info.Methods = append(collectMethods(rt, cls.Meta, true), collectMethods(rt, cls, false)...)
		out = append(out, info)
	}
	return out
}

func runClasses(ctx context.Context) error {
	env, err := newEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	classes := collectClasses(env)
	if classesInteractive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runBrowser(classes)
	}
	if jsonOut {
		return printJSON(classes)
	}

	for _, c := range classes {
		super := "(root)"
		if c.Super != "" {
			super = ": " + c.Super
		}
		fmt.Printf("%s %s  %s  %d bytes\n", c.Name, super, c.Addr, c.InstanceSize)
		for _, m := range c.Methods {
			sign := "-"
			if m.Class {
				sign = "+"
			}
			fmt.Printf("  %s%-28s %s\n", sign, m.Selector, m.Impl)
		}
	}
	return nil
}

func runSelectors(ctx context.Context) error {
	env, err := newEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	rt := env.ObjC
	type selInfo struct {
		Name string `json:"name"`
		Addr string `json:"addr"`
	}
	var sels []selInfo
	for _, name := range rt.Selectors() {
		sels = append(sels, selInfo{Name: name, Addr: fmt.Sprintf("0x%08x", uint32(rt.Selector(name)))})
	}
	if jsonOut {
		return printJSON(sels)
	}
	for _, s := range sels {
		fmt.Printf("%s  %s\n", s.Addr, s.Name)
	}
	return nil
}
