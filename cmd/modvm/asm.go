package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"modvm/internal/asm"
)

var asmCmd = &cobra.Command{
	Use:   "asm <file.masm>",
	Short: "Assemble a module or script into bytecode",
	Long:  `Assemble a .masm source into a .mv module or a .mvsc script next to the source, or into -o`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAsm,
}

func init() {
	asmCmd.Flags().StringP("output", "o", "", "output path")
}

func runAsm(cmd *cobra.Command, args []string) error {
	out, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	unit, err := assembleFile(args[0])
	if err != nil {
		return err
	}
	data, err := unit.Bytes()
	if err != nil {
		return err
	}
	if out == "" {
		out = outputName(args[0], unit)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	if !quiet(cmd) {
		what := "script"
		if unit.Module != nil {
			what = unit.Module.Self().String()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d bytes)\n", out, what, len(data))
	}
	return nil
}

func assembleFile(path string) (*asm.Unit, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	unit, err := asm.Assemble(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return unit, nil
}

// outputName swaps the source extension for .mv or .mvsc.
func outputName(src string, unit *asm.Unit) string {
	base := strings.TrimSuffix(src, filepath.Ext(src))
	if unit.Script != nil {
		return base + ".mvsc"
	}
	return base + ".mv"
}
