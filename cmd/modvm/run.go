package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"modvm/internal/bytecode"
	"modvm/internal/extensions"
	"modvm/internal/gas"
	"modvm/internal/loader"
	"modvm/internal/natives"
	"modvm/internal/types"
	"modvm/internal/values"
	"modvm/internal/vm"
)

var runCmd = &cobra.Command{
	Use:   "run <address::Module> <function> [args...]",
	Short: "Call a public or entry function",
	Long: `Call a function of a published module in a fresh session and commit its
effects. Arguments are parsed against the parameter types: integers in
decimal, addresses and signers as hex, byte vectors as 0x-hex or text,
other vectors as [a, b].`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRun,
}

var scriptCmd = &cobra.Command{
	Use:   "script <file> [args...]",
	Short: "Execute a script",
	Long:  `Execute a .masm or .mvsc script in a fresh session and commit its effects`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScript,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, scriptCmd} {
		c.Flags().String("type-args", "", "comma-separated type arguments, e.g. u64,0x1::M::S")
		c.Flags().Uint64("gas", 0, "gas limit (default: [vm].gas_limit)")
		addTxFlags(c)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	id, err := types.ParseModuleID(args[0])
	if err != nil {
		return err
	}
	name, err := types.NewIdentifier(args[1])
	if err != nil {
		return err
	}
	tyArgs, opts, err := readCallFlags(cmd)
	if err != nil {
		return err
	}

	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.finish()

	m, err := ws.vm.Loader().LoadModule(id, ws.store)
	if err != nil {
		return err
	}
	fn, ok := m.Function(name)
	if !ok {
		return fmt.Errorf("%s has no function %s", id, name)
	}

	var results []values.Value
	res, err := ws.transact(false, func(s *vm.Session) error {
		vals, err := parseArgs(fn, tyArgs, args[2:], s.TypeLayout)
		if err != nil {
			return err
		}
		results, err = s.ExecuteFunction(id, name, tyArgs, vals)
		return err
	}, opts)
	if err != nil {
		return err
	}
	ws.printOutcome(cmd, fn, tyArgs, results, res, opts)
	return nil
}

func runScript(cmd *cobra.Command, args []string) error {
	data, err := readScript(args[0])
	if err != nil {
		return err
	}
	tyArgs, opts, err := readCallFlags(cmd)
	if err != nil {
		return err
	}

	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.finish()

	sc, err := ws.vm.Loader().LoadScript(data, ws.store)
	if err != nil {
		return err
	}
	var results []values.Value
	res, err := ws.transact(false, func(s *vm.Session) error {
		vals, err := parseArgs(sc.Entry(), tyArgs, args[1:], s.TypeLayout)
		if err != nil {
			return err
		}
		results, err = s.ExecuteScript(data, tyArgs, vals)
		return err
	}, opts)
	if err != nil {
		return err
	}
	ws.printOutcome(cmd, sc.Entry(), tyArgs, results, res, opts)
	return nil
}

// readCallFlags reads --type-args, --gas and the transaction flags. --gas
// overrides the configured limit for this invocation.
func readCallFlags(cmd *cobra.Command) ([]types.TypeTag, txOptions, error) {
	raw, err := cmd.Flags().GetString("type-args")
	if err != nil {
		return nil, txOptions{}, err
	}
	tyArgs, err := parseTypeArgs(raw)
	if err != nil {
		return nil, txOptions{}, fmt.Errorf("invalid --type-args: %w", err)
	}
	if cmd.Flags().Changed("gas") {
		limit, _ := cmd.Flags().GetUint64("gas")
		cfg.VM.GasLimit = limit
	}
	opts, err := readTxOptions(cmd)
	return tyArgs, opts, err
}

func readScript(path string) ([]byte, error) {
	if filepath.Ext(path) == ".masm" {
		unit, err := assembleFile(path)
		if err != nil {
			return nil, err
		}
		if unit.Script == nil {
			return nil, fmt.Errorf("%s: is a module, not a script", path)
		}
		return unit.Bytes()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if kind, ok := bytecode.PeekKind(data); !ok || kind != bytecode.KindScript {
		return nil, fmt.Errorf("%s: not script bytecode", path)
	}
	return data, nil
}

var (
	resultLabel = color.New(color.FgCyan)
	eventLabel  = color.New(color.FgMagenta)
	gasLabel    = color.New(color.Faint)
)

// printOutcome prints return values, emitted events, gas and the commit
// line.
func (ws *workspace) printOutcome(cmd *cobra.Command, fn *loader.Function, tyArgs []types.TypeTag, results []values.Value, res *txResult, opts txOptions) {
	if quiet(cmd) {
		return
	}
	out := cmd.OutOrStdout()
	if len(results) > 0 {
		tags, _ := fn.Module.TypeTags(fn.Returns, tyArgs)
		for i, v := range results {
			if i < len(tags) {
				fmt.Fprintf(out, "%s %s: %s\n", resultLabel.Sprintf("result[%d]", i), tags[i], v)
			} else {
				fmt.Fprintf(out, "%s %s\n", resultLabel.Sprintf("result[%d]", i), v)
			}
		}
	}
	if log, ok := extensions.Get[natives.EventLog](res.bag); ok {
		ws.printEvents(out, log.Events)
	}
	if meter, ok := extensions.Get[gas.Meter](res.bag); ok {
		fmt.Fprintln(out, gasLabel.Sprintf("gas used: %d", meter.GasConsumed()))
	}
	reportCommit(cmd, res, opts)
}

func (ws *workspace) printEvents(out io.Writer, events []natives.Event) {
	for _, ev := range events {
		label := eventLabel.Sprintf("event #%d", ev.Seq)
		layout, err := ws.vm.Loader().TypeLayout(ev.Type, ws.store)
		if err != nil {
			fmt.Fprintf(out, "%s %s: %x\n", label, ev.Type, ev.Data)
			continue
		}
		v, err := values.Decode(ev.Data, layout)
		if err != nil {
			fmt.Fprintf(out, "%s %s: %x\n", label, ev.Type, ev.Data)
			continue
		}
		fmt.Fprintf(out, "%s %s: %s\n", label, ev.Type, v)
	}
}
