package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"modvm/internal/types"
	"modvm/internal/ui"
	"modvm/internal/vm"
)

var prewarmCmd = &cobra.Command{
	Use:   "prewarm [address::Module...]",
	Short: "Load modules into the cache ahead of execution",
	Long: `Verify and link the given modules and their dependencies, batch by batch in
dependency order. Without arguments every published module is loaded.`,
	RunE: runPrewarm,
}

func init() {
	prewarmCmd.Flags().Int("jobs", 0, "parallel loads per batch (default: [prewarm].jobs, then GOMAXPROCS)")
	prewarmCmd.Flags().Var(&prewarmUI, "ui", "progress UI")
}

var prewarmUI = uiAuto

func runPrewarm(cmd *cobra.Command, args []string) error {
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return err
	}
	if jobs == 0 {
		jobs = cfg.Prewarm.Jobs
	}
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.finish()

	ids := make([]types.ModuleID, 0, len(args))
	for _, a := range args {
		id, err := types.ParseModuleID(a)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		ids = ws.store.Modules()
	}

	var report *vm.PrewarmReport
	err = ws.timer.Time("prewarm", func() error {
		var err error
		if prewarmUI.interactive() && !quiet(cmd) {
			report, err = prewarmWithUI(cmd.Context(), ws, ids, jobs)
		} else {
			report, err = ws.vm.Prewarm(cmd.Context(), ws.store, ids, vm.PrewarmOptions{
				Jobs:     jobs,
				Progress: prewarmPrinter(cmd),
			})
		}
		return err
	})
	if err != nil {
		return err
	}
	return printPrewarmReport(cmd, report)
}

type prewarmOutcome struct {
	report *vm.PrewarmReport
	err    error
}

func prewarmWithUI(ctx context.Context, ws *workspace, ids []types.ModuleID, jobs int) (*vm.PrewarmReport, error) {
	events := make(chan vm.PrewarmEvent, 256)
	outcomeCh := make(chan prewarmOutcome, 1)

	go func() {
		report, err := ws.vm.Prewarm(ctx, ws.store, ids, vm.PrewarmOptions{
			Jobs:     jobs,
			Progress: func(ev vm.PrewarmEvent) { events <- ev },
		})
		outcomeCh <- prewarmOutcome{report: report, err: err}
		close(events)
	}()

	model := ui.NewProgressModel("prewarm", events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	// drain in case the UI quit early
	for range events {
	}
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.report, uiErr
	}
	return outcome.report, outcome.err
}

func prewarmPrinter(cmd *cobra.Command) func(vm.PrewarmEvent) {
	if quiet(cmd) {
		return nil
	}
	out := cmd.ErrOrStderr()
	return func(ev vm.PrewarmEvent) {
		status := color.GreenString("loaded")
		if ev.Err != nil {
			status = color.RedString("failed")
		}
		fmt.Fprintf(out, "[%d/%d] batch %d/%d %s %s\n", ev.Done, ev.Total, ev.Batch+1, ev.Batches, status, ev.Module)
	}
}

func printPrewarmReport(cmd *cobra.Command, report *vm.PrewarmReport) error {
	out := cmd.OutOrStdout()
	failed := make([]types.ModuleID, 0, len(report.Failed))
	for id := range report.Failed {
		failed = append(failed, id)
	}
	slices.SortFunc(failed, types.ModuleID.Compare)
	for _, id := range failed {
		fmt.Fprintf(out, "%s %s: %v\n", color.RedString("failed"), id, report.Failed[id])
	}
	if !quiet(cmd) {
		fmt.Fprintf(out, "prewarmed %d modules, %d failed\n", len(report.Loaded), len(failed))
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d modules failed to load", len(failed))
	}
	return nil
}
