package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"modvm/internal/config"
	"modvm/internal/version"
	"modvm/internal/vmerr"
)

var rootCmd = &cobra.Command{
	Use:           "modvm",
	Short:         "Module VM runtime and tooling",
	Long:          `modvm assembles, publishes and runs bytecode modules against a versioned local store`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// loaded by the root pre-run hook
var cfg config.Config

var (
	traceCleanup   func()
	profileCleanup func()
)

func runCleanups() {
	if profileCleanup != nil {
		profileCleanup()
	}
	if traceCleanup != nil {
		traceCleanup()
	}
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(asmCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scriptCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(prewarmCmd)
	rootCmd.AddCommand(effectsCmd)
	rootCmd.AddCommand(versionCmd)

	// Глобальные флаги
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().Bool("timings", false, "show timing information")
	rootCmd.PersistentFlags().String("config", "", "path to modvm.toml (default: search upward from the working directory)")
	rootCmd.PersistentFlags().String("store", "", "store directory, or :memory: (overrides [storage].dir)")
	rootCmd.PersistentFlags().String("trace", "", "trace output file (- for stderr)")
	rootCmd.PersistentFlags().String("trace-level", "", "trace level (off|error|phase|detail|debug)")
	rootCmd.PersistentFlags().String("trace-mode", "", "trace storage mode (stream|ring|both)")
	rootCmd.PersistentFlags().Int("trace-ring-size", 0, "ring buffer size for --trace-mode ring")
	rootCmd.PersistentFlags().Duration("trace-heartbeat", 0, "emit a heartbeat event at this interval")
	rootCmd.PersistentFlags().String("cpu-profile", "", "write a CPU profile to this file")
	rootCmd.PersistentFlags().String("mem-profile", "", "write a heap profile to this file on exit")
	rootCmd.PersistentFlags().String("runtime-trace", "", "write a Go runtime trace to this file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := applyColorMode(cmd); err != nil {
			return err
		}
		loaded, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = loaded
		cleanup, err := setupTracing(cmd, cfg.Trace)
		if err != nil {
			return err
		}
		traceCleanup = cleanup
		profileCleanup, err = setupProfiling(cmd)
		return err
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		runCleanups()
	}

	if err := rootCmd.Execute(); err != nil {
		runCleanups()
		printError(err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	var c config.Config
	if path != "" {
		c, err = config.Load(path)
	} else {
		c, err = config.Discover(".")
	}
	if err != nil {
		return config.Config{}, err
	}
	if store, _ := cmd.Flags().GetString("store"); store != "" {
		c.Storage.Dir = store
	}
	return c, nil
}

func applyColorMode(cmd *cobra.Command) error {
	mode, err := cmd.Flags().GetString("color")
	if err != nil {
		return err
	}
	switch strings.ToLower(mode) {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto", "":
		color.NoColor = !isTerminal(os.Stdout)
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
	}
	return nil
}

// printError reports err on stderr, tagged with its status class when it
// came from the VM.
func printError(err error) {
	label := color.New(color.FgRed, color.Bold).Sprint("error:")
	var verr *vmerr.Error
	if errors.As(err, &verr) {
		fmt.Fprintf(os.Stderr, "%s [%s] %v\n", label, strings.ToLower(verr.Type().String()), err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", label, err)
}

func quiet(cmd *cobra.Command) bool {
	q, _ := cmd.Flags().GetBool("quiet")
	return q
}

// isTerminal проверяет, является ли файл терминалом
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
