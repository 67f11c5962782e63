package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/xref/internal/pipeline"
	"github.com/Aman-CERP/xref/internal/ui"
	"github.com/Aman-CERP/xref/internal/workspace"
)

// progressInterval is how often a running derivation is polled for display.
const progressInterval = 100 * time.Millisecond

func newIndexCmd() *cobra.Command {
	var (
		root  string
		noTUI bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Derive usages for every unit in the project",
		Long: `Load the project and derive every unit into the usage index, showing
progress. Derivation stops early, keeping what it has, if the heap reaches
pipeline.memory_limit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Ctrl+C cancels the context, which aborts the run between units.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dir, err := resolveRoot(root)
			if err != nil {
				return err
			}
			return runIndex(ctx, cmd, dir, noTUI)
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Project root (default: detected from the working directory)")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Plain progress output instead of the interactive display")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, root string, noTUI bool) error {
	start := time.Now()

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI), ui.WithProjectDir(root))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
		renderer = ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(true)))
		_ = renderer.Start(ctx)
	}
	defer func() { _ = renderer.Stop() }()

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageLoading, Message: "Loading units from " + root})

	ws, err := openWorkspace(ctx, root, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	loaded := ws.LoadStats()
	renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageLoading,
		Current: loaded.Loaded,
		Total:   loaded.Loaded + loaded.Failed,
		Message: fmt.Sprintf("Loaded %d units", loaded.Loaded),
	})
	if loaded.Failed > 0 {
		renderer.AddError(ui.ErrorEvent{
			File:   root,
			Err:    fmt.Errorf("%d units failed to load and were skipped", loaded.Failed),
			IsWarn: true,
		})
	}

	run, err := ws.IndexAll(ctx, nil)
	if err != nil {
		return err
	}

	outcome := pipeline.Outcome{Status: pipeline.StatusCompleted}
	if run != nil {
		outcome, err = watchRun(ctx, run, renderer)
		if err != nil {
			return err
		}
	}

	stats := completionStats(ws, outcome, time.Since(start))
	renderer.Complete(stats)
	if outcome.Status == pipeline.StatusFailed {
		return outcome.Err
	}
	return nil
}

// watchRun reports run progress until it finishes.
func watchRun(ctx context.Context, run *pipeline.Run, renderer ui.Renderer) (pipeline.Outcome, error) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	report := func() {
		snap := run.Snapshot()
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageDeriving,
			Current:     snap.UnitsDerived,
			Total:       snap.UnitsTotal,
			CurrentFile: snap.CurrentUnit,
		})
	}

	for {
		select {
		case <-run.Done():
			report()
			// The outcome is already final; the background context only
			// guards against a cancelled caller context racing Done.
			return run.Wait(context.Background())
		case <-ticker.C:
			report()
		case <-ctx.Done():
			// Cancellation aborts the run between units; keep waiting for it
			// so the summary reflects what was derived.
			return run.Wait(context.Background())
		}
	}
}

func completionStats(ws *workspace.Workspace, o pipeline.Outcome, elapsed time.Duration) ui.CompletionStats {
	st := ws.Status()
	return ui.CompletionStats{
		Units:      st.Units,
		Derived:    st.Index.Derived,
		Usages:     st.Index.Usages,
		Duration:   elapsed,
		Status:     string(o.Status),
		LoadFailed: st.LoadFailed,
		Err:        o.Err,
	}
}
