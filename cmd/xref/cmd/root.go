// Package cmd provides the CLI commands for xref.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/xref/internal/config"
	xerrors "github.com/Aman-CERP/xref/internal/errors"
	"github.com/Aman-CERP/xref/internal/logging"
	"github.com/Aman-CERP/xref/internal/profiling"
	"github.com/Aman-CERP/xref/internal/workspace"
	"github.com/Aman-CERP/xref/pkg/version"
)

// Profiling flags
var (
	profileOpts profiling.Options
	profile     *profiling.Session
)

// Debug logging flag
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the xref CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xref",
		Short: "Find usages of symbols across a codebase",
		Long: `xref finds every usage of a symbol across a multi-language project.

Source files are loaded once into a reference graph. The first query for a
symbol derives only the files that reference it, in the background; later
queries are answered straight from the usage index.

Run 'xref serve' to expose find_usages to an MCP client over stdio.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("xref version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.xref/logs/")
	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newUsagesCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts any requested profiles and installs the
// debug file logger when --debug is set. Otherwise only warnings and errors
// reach stderr.
func startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	var err error
	if profile, err = profiling.Start(profileOpts); err != nil {
		return err
	}

	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
		return nil
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn})))
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	err := profile.Stop()
	profile = nil

	if loggingCleanup != nil {
		slog.Info("Debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		printError(cmd.ErrOrStderr(), err)
	}
	return err
}

func printError(w io.Writer, err error) {
	if _, ok := xerrors.As(err); ok {
		_, _ = fmt.Fprint(w, xerrors.FormatForCLI(err))
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
}

// resolveRoot returns the absolute project root: flag when given, otherwise
// the nearest ancestor of the working directory that looks like a project.
func resolveRoot(flag string) (string, error) {
	if flag != "" {
		abs, err := filepath.Abs(flag)
		if err != nil {
			return "", xerrors.New(xerrors.ErrCodeInvalidPath, "invalid project root", err).WithDetail("root", flag)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return "", xerrors.New(xerrors.ErrCodeInvalidPath, "project root is not a directory", err).
				WithDetail("root", abs).
				WithSuggestion("Pass an existing directory with --root.")
		}
		return abs, nil
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		return os.Getwd()
	}
	return root, nil
}

func openWorkspace(ctx context.Context, root string, logger *slog.Logger) (*workspace.Workspace, error) {
	return workspace.Open(ctx, workspace.Options{Root: root, Logger: logger})
}
