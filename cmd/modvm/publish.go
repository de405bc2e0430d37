package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"modvm/internal/bytecode"
	"modvm/internal/types"
	"modvm/internal/vm"
)

var publishCmd = &cobra.Command{
	Use:   "publish <file>...",
	Short: "Publish modules into the store",
	Long: `Publish one or more modules as a single bundle. Files ending in .masm are
assembled first; anything else must be serialized module bytecode.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().String("sender", "", "publishing account (default: address of the first module)")
	addTxFlags(publishCmd)
}

// addTxFlags registers the flags every state-changing command takes.
func addTxFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dry-run", false, "execute without committing")
	cmd.Flags().String("effects", "", "write the change set to this file")
}

func readTxOptions(cmd *cobra.Command) (txOptions, error) {
	dry, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return txOptions{}, err
	}
	path, err := cmd.Flags().GetString("effects")
	if err != nil {
		return txOptions{}, err
	}
	return txOptions{dryRun: dry, effectsPath: path}, nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	opts, err := readTxOptions(cmd)
	if err != nil {
		return err
	}
	bundle := make([][]byte, 0, len(args))
	var ids []types.ModuleID
	for _, path := range args {
		data, err := readModule(path)
		if err != nil {
			return err
		}
		m, err := bytecode.DeserializeModule(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		bundle = append(bundle, data)
		ids = append(ids, m.Self())
	}

	sender := ids[0].Address
	if s, _ := cmd.Flags().GetString("sender"); s != "" {
		if sender, err = types.ParseAddress(s); err != nil {
			return fmt.Errorf("invalid --sender: %w", err)
		}
	}

	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.finish()

	res, err := ws.transact(true, func(s *vm.Session) error {
		return s.PublishModuleBundle(bundle, sender)
	}, opts)
	if err != nil {
		return err
	}
	if quiet(cmd) {
		return nil
	}
	out := cmd.OutOrStdout()
	for _, id := range ids {
		fmt.Fprintf(out, "published %s\n", id)
	}
	reportCommit(cmd, res, opts)
	return nil
}

// readModule returns module bytecode, assembling .masm sources.
func readModule(path string) ([]byte, error) {
	if filepath.Ext(path) == ".masm" {
		unit, err := assembleFile(path)
		if err != nil {
			return nil, err
		}
		if unit.Module == nil {
			return nil, fmt.Errorf("%s: is a script, not a module", path)
		}
		return unit.Bytes()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if kind, ok := bytecode.PeekKind(data); !ok || kind != bytecode.KindModule {
		return nil, fmt.Errorf("%s: not module bytecode", path)
	}
	return data, nil
}

func reportCommit(cmd *cobra.Command, res *txResult, opts txOptions) {
	out := cmd.OutOrStdout()
	switch {
	case opts.dryRun:
		fmt.Fprintf(out, "dry run: %s\n", summarizeChanges(res.changes))
	case res.changes.IsEmpty():
		fmt.Fprintln(out, "no changes")
	default:
		fmt.Fprintf(out, "committed version %d: %s\n", res.version, summarizeChanges(res.changes))
	}
	if opts.effectsPath != "" {
		fmt.Fprintf(out, "effects written to %s\n", opts.effectsPath)
	}
}
