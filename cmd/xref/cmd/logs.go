package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/xref/internal/logging"
)

// followInterval is how often --follow checks the log file for new lines.
const followInterval = 250 * time.Millisecond

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	logFile string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View xref server logs",
		Long: `View and tail the xref log file (~/.xref/logs/xref.log).

By default, shows the last 50 entries. Use -f to follow new entries.`,
		Example: `  xref logs
  xref logs -n 200 --level warn
  xref logs -f --filter usages_`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLogs(ctx, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only entries matching this pattern (regex)")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Path to log file")

	return cmd
}

func runLogs(ctx context.Context, w io.Writer, opts logsOptions) error {
	path, err := logging.FindLogFile(opts.logFile)
	if err != nil {
		return err
	}

	f := &logFilter{}
	if opts.level != "" {
		f.minLevel = logging.LevelFromString(opts.level)
		f.byLevel = true
	}
	if opts.filter != "" {
		if f.pattern, err = regexp.Compile(opts.filter); err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var tail []string
	r := bufio.NewReader(file)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimRight(line, "\n"); line != "" && f.keep(line) {
			tail = append(tail, line)
			if opts.lines > 0 && len(tail) > opts.lines {
				tail = tail[1:]
			}
		}
		if err != nil {
			break
		}
	}
	for _, line := range tail {
		_, _ = fmt.Fprintln(w, formatLogLine(line))
	}

	if !opts.follow {
		return nil
	}
	return followLog(ctx, w, r, f)
}

// followLog prints lines appended to r until ctx is done.
func followLog(ctx context.Context, w io.Writer, r *bufio.Reader, f *logFilter) error {
	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	var partial string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for {
			chunk, err := r.ReadString('\n')
			partial += chunk
			if err != nil {
				break
			}
			line := strings.TrimRight(partial, "\n")
			partial = ""
			if line != "" && f.keep(line) {
				_, _ = fmt.Fprintln(w, formatLogLine(line))
			}
		}
	}
}

type logFilter struct {
	byLevel  bool
	minLevel slog.Level
	pattern  *regexp.Regexp
}

// keep reports whether a raw log line passes the filter. Lines that are
// not JSON records pass any level filter.
func (f *logFilter) keep(line string) bool {
	if f.pattern != nil && !f.pattern.MatchString(line) {
		return false
	}
	if !f.byLevel {
		return true
	}
	var rec struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Level == "" {
		return true
	}
	return logging.LevelFromString(rec.Level) >= f.minLevel
}

// formatLogLine renders a JSON log record as "15:04:05 LEVEL msg k=v ...".
// Other lines are returned unchanged.
func formatLogLine(line string) string {
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return line
	}

	ts := ""
	if raw, ok := rec["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ts = t.Local().Format("15:04:05")
		}
	}
	level, _ := rec["level"].(string)
	msg, _ := rec["msg"].(string)
	delete(rec, "time")
	delete(rec, "level")
	delete(rec, "msg")

	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", ts, level, msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, rec[k])
	}
	return b.String()
}
