package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/xref/internal/config"
	xerrors "github.com/Aman-CERP/xref/internal/errors"
	"github.com/Aman-CERP/xref/internal/logging"
	"github.com/Aman-CERP/xref/internal/mcp"
	"github.com/Aman-CERP/xref/internal/pipeline"
	"github.com/Aman-CERP/xref/internal/workspace"
)

const serveLockName = "serve.lock"

type serveOptions struct {
	root        string
	transport   string
	metricsAddr string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server over stdio, exposing the find_usages and
index_status tools.

stdout carries only JSON-RPC messages. Logs go to ~/.xref/logs/xref.log.
Only one server may run per project.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dir, err := resolveRoot(opts.root)
			if err != nil {
				return err
			}
			opts.root = dir
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.root, "root", "", "Project root (default: detected from the working directory)")
	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport (default: server.transport)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := config.Load(opts.root)
	if err != nil {
		return err
	}
	if opts.transport == "" {
		opts.transport = cfg.Server.Transport
	}
	if opts.metricsAddr == "" {
		opts.metricsAddr = cfg.Server.MetricsAddr
	}

	logger := slog.Default()
	if !debugMode {
		// stdout belongs to the protocol, so the server logs to file only.
		l, cleanup, err := logging.Setup(logging.ServeConfig(cfg.Server.LogLevel))
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		defer cleanup()
		logger = l
	}

	lock, err := acquireServeLock(opts.root)
	if err != nil {
		logger.Error("serve_lock_failed", xerrors.LogAttrs(err)...)
		return err
	}
	defer func() { _ = lock.Unlock() }()

	ws, err := workspace.Open(ctx, workspace.Options{Root: opts.root, Config: cfg, Logger: logger})
	if err != nil {
		logger.Error("workspace_open_failed", xerrors.LogAttrs(err)...)
		return err
	}
	defer func() { _ = ws.Close() }()

	if cfg.Pipeline.EagerIndex {
		startEagerIndex(ctx, ws, logger)
	}

	srv, err := mcp.NewServer(ws, mcp.Options{MaxResults: cfg.Query.MaxResults, Logger: logger})
	if err != nil {
		return err
	}

	var ln net.Listener
	if opts.metricsAddr != "" {
		if ln, err = net.Listen("tcp", opts.metricsAddr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", opts.metricsAddr, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The MCP session ending (stdin closed) stops the metrics server too.
		defer cancel()
		return srv.Serve(gctx, opts.transport)
	})

	if ln != nil {
		logger.Info("metrics_server_started", slog.String("addr", ln.Addr().String()))
		g.Go(func() error {
			return serveMetrics(gctx, ln, ws.Metrics().Handler())
		})
	}

	logger.Info("serve_started",
		slog.String("root", opts.root),
		slog.String("transport", opts.transport),
		slog.Int("units", ws.Graph().UnitCount()))

	return g.Wait()
}

// acquireServeLock takes the per-project server lock without blocking.
func acquireServeLock(root string) (*flock.Flock, error) {
	dir := config.DataDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.New(xerrors.ErrCodeFilePermission, "failed to create data directory", err).
			WithDetail("path", dir)
	}

	path := filepath.Join(dir, serveLockName)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, xerrors.New(xerrors.ErrCodeFilePermission, "failed to acquire server lock", err).
			WithDetail("path", path)
	}
	if !ok {
		return nil, xerrors.New(xerrors.ErrCodeLockHeld, "another xref server is running for this project", nil).
			WithDetail("path", path).
			WithSuggestion("Stop the other server, or point this one at a different --root.")
	}
	return lock, nil
}

// serveMetrics serves h on ln until ctx is done.
func serveMetrics(ctx context.Context, ln net.Listener, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func startEagerIndex(ctx context.Context, ws *workspace.Workspace, logger *slog.Logger) {
	run, err := ws.IndexAll(ctx, func(o pipeline.Outcome) {
		logger.Info("eager_index_finished",
			slog.String("status", string(o.Status)),
			slog.Int("derived", o.Derived),
			slog.Int("total", o.Total))
	})
	if err != nil {
		logger.Warn("eager_index_failed", xerrors.LogAttrs(err)...)
		return
	}
	if run == nil {
		logger.Debug("eager_index_skipped")
	}
}
