package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"modvm/internal/bytecode"
	"modvm/internal/config"
	"modvm/internal/extensions"
	"modvm/internal/gas"
	"modvm/internal/natives"
	"modvm/internal/observ"
	"modvm/internal/storage"
	"modvm/internal/trace"
	"modvm/internal/types"
	"modvm/internal/vm"
)

// stateStore is what the CLI needs from a store; MemoryStore and DiskStore
// both provide it.
type stateStore interface {
	storage.Resolver
	Commit(cs *storage.ChangeSet) (uint64, error)
	Snapshot() *storage.Snapshot
	Version() uint64
	Modules() []types.ModuleID
}

// workspace is the store and VM one command works with.
type workspace struct {
	cmd    *cobra.Command
	store  stateStore
	vm     *vm.VM
	tracer trace.Tracer
	timer  *observ.Timer
}

func openWorkspace(cmd *cobra.Command) (*workspace, error) {
	tracer := trace.FromContext(cmd.Context())
	ws := &workspace{cmd: cmd, tracer: tracer, timer: observ.NewTimer(tracer)}

	err := ws.timer.Time("open store", func() error {
		if cfg.Storage.Dir == config.MemoryDir {
			ws.store = storage.NewMemoryStore()
			return nil
		}
		ds, err := storage.OpenDiskStore(cfg.Storage.Dir)
		if err != nil {
			return err
		}
		ws.store = ds
		return nil
	})
	if err != nil {
		return nil, err
	}

	ws.vm, err = vm.New(natives.StdEntries(cfg.StdAddress()),
		vm.WithTracer(tracer),
		vm.WithMaxCallDepth(cfg.VM.MaxCallDepth),
	)
	if err != nil {
		return nil, err
	}
	if err := ws.timer.Time("genesis", ws.ensureStdlib); err != nil {
		return nil, fmt.Errorf("publishing the standard library: %w", err)
	}
	return ws, nil
}

// ensureStdlib publishes the standard library into an empty store through a
// regular publishing session.
func (ws *workspace) ensureStdlib() error {
	bundle, err := natives.StdlibBundle(cfg.StdAddress())
	if err != nil {
		return err
	}
	first, err := bytecode.DeserializeModule(bundle[0])
	if err != nil {
		return err
	}
	if data, err := ws.store.GetModule(first.Self()); err != nil || data != nil {
		return err
	}
	_, err = ws.transact(true, func(s *vm.Session) error {
		return s.PublishModuleBundle(bundle, cfg.StdAddress())
	}, txOptions{})
	return err
}

// txOptions controls what happens to a session's effects.
type txOptions struct {
	dryRun      bool
	effectsPath string
}

// txResult is what a finished transaction hands back.
type txResult struct {
	changes *storage.ChangeSet
	bag     *extensions.Bag
	version uint64 // store version after commit, 0 on dry runs
}

// transact runs fn in a session over a fresh snapshot, then dumps and
// commits its effects as opts says. The bag carries the gas meter, the
// event log and debug output.
func (ws *workspace) transact(publish bool, fn func(*vm.Session) error, opts txOptions) (*txResult, error) {
	snap := ws.store.Snapshot()
	defer snap.Close()

	var sessOpts []vm.SessionOption
	if publish {
		permit, err := ws.vm.AcquirePublishPermit()
		if err != nil {
			return nil, err
		}
		defer permit.Release()
		sessOpts = append(sessOpts, vm.WithPublishPermit(permit))
	}

	bag := extensions.New()
	var meter gas.Meter = &gas.Unmetered{}
	if cfg.VM.GasLimit > 0 {
		meter = gas.NewLimitMeter(cfg.VM.GasLimit)
	}
	extensions.Insert(bag, meter)
	extensions.Insert(bag, natives.EventLog{})
	extensions.Insert(bag, natives.DebugOutput{W: ws.cmd.OutOrStdout()})

	s, err := ws.vm.NewSessionWithExtensions(snap, bag, sessOpts...)
	if err != nil {
		return nil, err
	}
	runErr := ws.timer.Time("execute", func() error { return fn(s) })
	cs, bag, err := s.FinishWithExtensions()
	if runErr != nil {
		return nil, runErr
	}
	if err != nil {
		return nil, err
	}

	res := &txResult{changes: cs, bag: bag}
	if opts.effectsPath != "" {
		if err := writeEffects(opts.effectsPath, cs); err != nil {
			return nil, err
		}
	}
	if opts.dryRun || cs.IsEmpty() {
		return res, nil
	}
	err = ws.timer.Time("commit", func() error {
		v, err := ws.store.Commit(cs)
		res.version = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// finish closes the VM and prints the timings table when --timings is set.
func (ws *workspace) finish() {
	if err := ws.vm.Close(); err != nil {
		fmt.Fprintf(ws.cmd.ErrOrStderr(), "vm: %v\n", err)
	}
	if on, _ := ws.cmd.Flags().GetBool("timings"); on {
		fmt.Fprint(ws.cmd.ErrOrStderr(), ws.timer.Summary())
	}
}

func writeEffects(path string, cs *storage.ChangeSet) error {
	data, err := cs.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write effects: %w", err)
	}
	return nil
}
