package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/xref/internal/output"
)

func newUsagesCmd() *cobra.Command {
	var (
		root   string
		format string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "usages <symbol>",
		Short: "Find usages of a symbol",
		Long: `Find every usage of a symbol across the project.

The symbol may be a simple name (greet), a partial path (Greeter.greet)
or a fully qualified name (com.acme.Greeter.greet). Matching is by simple
name; the declaration site itself is never listed.`,
		Example: `  xref usages greet
  xref usages com.acme.Greeter.greet --format json
  xref usages Area --root ./shapes --limit 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dir, err := resolveRoot(root)
			if err != nil {
				return err
			}
			if format != "text" && format != "json" {
				return fmt.Errorf("invalid format %q (expected text or json)", format)
			}

			ws, err := openWorkspace(ctx, dir, slog.Default())
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()

			if limit <= 0 {
				limit = ws.Config().Query.MaxResults
			}

			answer, err := ws.Usages(ctx, args[0])
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if format == "json" {
				return out.JSON(output.NewUsagesJSON(answer, limit))
			}
			out.Usages(answer, limit)
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Project root (default: detected from the working directory)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum usages to print (default: query.max_results)")

	return cmd
}
