package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"modvm/internal/loader"
	"modvm/internal/types"
	"modvm/internal/values"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <address::Module>",
	Short: "Show a published module",
	Long: `Print the structs and functions of a published module. With --at, also
print the resources of that module's key structs stored under an address.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().String("at", "", "print this account's resources of the module's types")
	inspectCmd.Flags().Bool("stats", false, "print loader cache statistics")
}

var (
	sectionStyle = color.New(color.Bold)
	nameStyle    = color.New(color.FgYellow)
)

func runInspect(cmd *cobra.Command, args []string) error {
	id, err := types.ParseModuleID(args[0])
	if err != nil {
		return err
	}
	var at *types.Address
	if s, _ := cmd.Flags().GetString("at"); s != "" {
		a, err := types.ParseAddress(s)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		at = &a
	}

	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.finish()

	var m *loader.Module
	err = ws.timer.Time("load", func() error {
		var err error
		m, err = ws.vm.Loader().LoadModule(id, ws.store)
		return err
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	hash := m.Hash()
	fmt.Fprintf(out, "%s %s\n", sectionStyle.Sprint("module"), m.ID())
	fmt.Fprintf(out, "  hash  %x\n", hash[:8])
	fmt.Fprintf(out, "  size  %d bytes\n", len(m.Bytes()))
	if deps := m.Dependencies(); len(deps) > 0 {
		names := make([]string, len(deps))
		for i, d := range deps {
			names[i] = d.ID().String()
		}
		fmt.Fprintf(out, "  deps  %s\n", strings.Join(names, ", "))
	}

	printStructs(out, m)
	printFunctions(out, m)

	if at != nil {
		if err := ws.printResources(out, m, *at); err != nil {
			return err
		}
	}
	if on, _ := cmd.Flags().GetBool("stats"); on {
		st := ws.vm.Loader().Stats()
		fmt.Fprintf(out, "\n%s modules=%d scripts=%d hits=%d misses=%d\n",
			sectionStyle.Sprint("cache"), st.Modules, st.Scripts, st.Hits, st.Misses)
	}
	return nil
}

func printStructs(out io.Writer, m *loader.Module) {
	structs := m.Structs()
	if len(structs) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s\n", sectionStyle.Sprint("structs"))
	for _, st := range structs {
		fmt.Fprintf(out, "  %s has %s\n", nameStyle.Sprint(st.Name), st.Abilities)
		width := 0
		for _, f := range st.Fields {
			width = max(width, runewidth.StringWidth(string(f.Name)))
		}
		for _, f := range st.Fields {
			fmt.Fprintf(out, "    %s  %s\n", runewidth.FillRight(string(f.Name), width), m.Code().TokenString(f.Type))
		}
	}
}

func printFunctions(out io.Writer, m *loader.Module) {
	funcs := m.Functions()
	if len(funcs) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s\n", sectionStyle.Sprint("functions"))
	for _, fn := range funcs {
		var tags []string
		if fn.IsNative() {
			tags = append(tags, "native")
		}
		if fn.IsEntry {
			tags = append(tags, "entry")
		}
		suffix := ""
		if len(tags) > 0 {
			suffix = "  [" + strings.Join(tags, ", ") + "]"
		}
		fmt.Fprintf(out, "  %s%s\n", fn.Signature(), suffix)
	}
}

// printResources prints every key struct of m stored under addr.
func (ws *workspace) printResources(out io.Writer, m *loader.Module, addr types.Address) error {
	fmt.Fprintf(out, "\n%s %s\n", sectionStyle.Sprint("resources at"), addr)
	found := false
	for _, st := range m.Structs() {
		if !st.Abilities.Has(types.AbilityKey) {
			continue
		}
		tag := st.Tag()
		data, err := ws.store.GetResource(addr, tag)
		if err != nil {
			return err
		}
		if data == nil {
			continue
		}
		found = true
		layout, err := ws.vm.Loader().TypeLayout(types.StructTypeTag(tag), ws.store)
		if err != nil {
			return err
		}
		v, err := values.Decode(data, layout)
		if err != nil {
			return fmt.Errorf("resource %s: %w", tag, err)
		}
		fmt.Fprintf(out, "  %s = %s\n", nameStyle.Sprint(tag), v)
	}
	if !found {
		fmt.Fprintln(out, "  (none)")
	}
	return nil
}
